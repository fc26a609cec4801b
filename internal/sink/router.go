package sink

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hazyhaar/domreplay/change"
)

// Router fans an upload out to several sinks. A failing sink does not stop
// the others; the joined errors are returned so the recorder retries.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

func (r *Router) Upload(ctx context.Context, up change.Upload) error {
	var errs []error
	for _, s := range r.sinks {
		if err := s.Upload(ctx, up); err != nil {
			r.logger.Warn("sink: upload failed", "tab", up.TabID, "frame", up.FrameID,
				"records", up.Records.Len(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Router) Close() error {
	var errs []error
	for _, s := range r.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
