// Command domreplay records browser tabs into a change log and serves the
// recordings: assembled recordings, replay datasets, snapshots, live
// streams and MCP tools.
//
// Usage:
//
//	domreplay -config domreplay.yaml                 # record configured pages, serve the API
//	domreplay -record https://example.com            # record one page
//	domreplay -db data/domreplay.db -addr :8740      # serve stored recordings only
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/time/rate"

	"github.com/hazyhaar/domreplay"
	"github.com/hazyhaar/domreplay/changestore"
	"github.com/hazyhaar/domreplay/internal/browser"
	"github.com/hazyhaar/domreplay/internal/config"
	"github.com/hazyhaar/domreplay/internal/ingest"
	"github.com/hazyhaar/domreplay/internal/pagestream"
	"github.com/hazyhaar/domreplay/internal/server"
	"github.com/hazyhaar/domreplay/internal/sink"
	"github.com/hazyhaar/domreplay/internal/watcher"
	"github.com/hazyhaar/domreplay/mirror"
	"github.com/hazyhaar/domreplay/recorder"
	"github.com/hazyhaar/domreplay/shield"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to domreplay.yaml config file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	addr := flag.String("addr", "", "HTTP listen address (overrides server.addr)")
	dbPath := flag.String("db", "", "path to the SQLite change log (overrides store.path)")
	recordURL := flag.String("record", "", "record a single URL in addition to the configured pages")
	browserOn := flag.Bool("browser", false, "start the browser even with no page to record")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}
	if *recordURL != "" {
		cfg.Pages = append(cfg.Pages, config.PageConfig{TabID: len(cfg.Pages) + 1, URL: *recordURL})
	}

	if err := run(ctx, logger, cfg, *browserOn || len(cfg.Pages) > 0); err != nil {
		logger.Error("domreplay: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, withBrowser bool) error {
	store, err := changestore.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer store.Close()
	go store.FlushEvery(ctx, cfg.Store.FlushInterval)

	broker := pagestream.New(store, pagestream.WithLogger(logger))
	pipe := ingest.New(store, broker, logger)

	sinks, err := buildSinks(cfg.Sinks, pipe, logger)
	if err != nil {
		return err
	}
	uploads := sink.NewRouter(logger, sinks...)
	defer uploads.Close()

	svc := domreplay.New(store, pipe, broker,
		domreplay.WithLogger(logger),
		domreplay.WithLiveRate(cfg.Server.LiveRate, cfg.Server.LiveBurst))
	services := []server.Registrar{svc}

	if withBrowser {
		w := watcher.New(watcherConfig(cfg, logger), uploads, pipe, broker, svc)
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Close()
		for _, p := range cfg.Pages {
			if _, err := w.Record(ctx, p.TabID, p.URL); err != nil {
				logger.Error("domreplay: record page", "url", p.URL, "tab", p.TabID, "error", err)
			}
		}
		services = append(services, w)
	}

	srv := server.New(server.Config{
		Addr:    cfg.Server.Addr,
		Limits:  shield.DefaultLimits(),
		MCP:     cfg.Server.MCP,
		Version: version,
		Logger:  logger,
	}, services...)
	return srv.Run(ctx)
}

// buildSinks maps the configured sinks. "local" ingests in-process.
func buildSinks(cfgs []config.SinkConfig, pipe *ingest.Pipeline, logger *slog.Logger) ([]sink.Sink, error) {
	var out []sink.Sink
	for _, sc := range cfgs {
		switch sc.Type {
		case "local":
			out = append(out, sink.NewCallback(pipe.Upload))
		case "stdout":
			out = append(out, sink.NewStdout(os.Stdout))
		case "webhook":
			out = append(out, sink.NewWebhook(sc.URL, sink.WithWebhookLogger(logger)))
		default:
			return nil, fmt.Errorf("domreplay: unknown sink type %q", sc.Type)
		}
	}
	return out, nil
}

func watcherConfig(cfg *config.Config, logger *slog.Logger) watcher.Config {
	return watcher.Config{
		Browser: browser.Config{
			RemoteURL:        cfg.Browser.Remote,
			MemoryLimit:      cfg.Browser.MemoryLimit,
			RecycleInterval:  cfg.Browser.RecycleInterval,
			ResourceBlocking: cfg.Browser.ResourceBlocking,
			Stealth:          browser.ParseStealth(cfg.Browser.Stealth),
			XvfbDisplay:      cfg.Browser.XvfbDisplay,
		},
		Recorder: recorder.Config{
			FlushDebounce:   cfg.Recorder.FlushDebounce,
			MaxBuffer:       cfg.Recorder.MaxBuffer,
			ForceFlushAfter: cfg.Recorder.ForceFlushAfter,
			CheckInterval:   cfg.Recorder.CheckInterval,
			InputPollRate:   rate.Limit(cfg.Recorder.InputPollRate),
		},
		Mirror: mirror.Config{
			ShowInteractions: cfg.Mirror.ShowInteractions,
			ViewportWidth:    cfg.Mirror.ViewportWidth,
			ViewportHeight:   cfg.Mirror.ViewportHeight,
			DeviceScale:      cfg.Mirror.DeviceScale,
		},
		Logger: logger,
	}
}
