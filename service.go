// Package domreplay exposes recorded tabs: assembled recordings, replay
// datasets, reconstructed snapshots and live change streams, over HTTP and
// as MCP tools.
package domreplay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/time/rate"

	"github.com/hazyhaar/domreplay/change"
	"github.com/hazyhaar/domreplay/changestore"
	"github.com/hazyhaar/domreplay/internal/ingest"
	"github.com/hazyhaar/domreplay/internal/pagestream"
	"github.com/hazyhaar/domreplay/replay"
)

var (
	// ErrNotFound is returned for a document or paint a tab does not have.
	ErrNotFound = errors.New("domreplay: not found")
	// ErrFormat is returned for an unknown snapshot format.
	ErrFormat = errors.New("domreplay: unknown snapshot format")
)

// Snapshot formats.
const (
	FormatHTML     = "html"
	FormatMarkdown = "markdown"
)

// Service answers queries about recorded tabs.
type Service struct {
	store  *changestore.Store
	ingest *ingest.Pipeline
	broker *pagestream.Broker
	logger *slog.Logger

	md        *converter.Converter
	sanitizer *bluemonday.Policy
	liveRate  rate.Limit
	liveBurst int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithLiveRate bounds the websocket messages per second sent to one live
// client. Batches arriving faster are coalesced.
func WithLiveRate(perSecond float64, burst int) Option {
	return func(s *Service) {
		s.liveRate = rate.Limit(perSecond)
		s.liveBurst = burst
	}
}

// New creates a Service over store. Uploads go through in; live streams are
// served from broker. Either may be nil, which disables the matching routes.
func New(store *changestore.Store, in *ingest.Pipeline, broker *pagestream.Broker, opts ...Option) *Service {
	s := &Service{
		store:  store,
		ingest: in,
		broker: broker,
		logger: slog.Default(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		sanitizer: bluemonday.UGCPolicy(),
		liveRate:  30,
		liveBurst: 10,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Recording assembles the recording of tab.
func (s *Service) Recording(ctx context.Context, tab int, latest bool) (*change.DomRecording, error) {
	rec, err := s.store.Recording(ctx, tab, latest)
	if err != nil {
		return nil, fmt.Errorf("domreplay: recording of tab %d: %w", tab, err)
	}
	return rec, nil
}

// Summary describes a recording without its changes.
type Summary struct {
	TabID          int                     `json:"tabId"`
	Documents      []change.DocumentRecord `json:"documents"`
	Paints         int                     `json:"paints"`
	Changes        int                     `json:"changes"`
	FirstTimestamp int64                   `json:"firstTimestamp,omitempty"`
	LastTimestamp  int64                   `json:"lastTimestamp,omitempty"`
}

// Summary counts the documents and paints of tab.
func (s *Service) Summary(ctx context.Context, tab int) (Summary, error) {
	rec, err := s.Recording(ctx, tab, false)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{TabID: tab, Documents: rec.Documents, Paints: len(rec.PaintEvents)}
	if sum.Documents == nil {
		sum.Documents = []change.DocumentRecord{}
	}
	for _, p := range rec.PaintEvents {
		sum.Changes += len(p.ChangeEvents)
	}
	if n := len(rec.PaintEvents); n > 0 {
		sum.FirstTimestamp = rec.PaintEvents[0].Timestamp
		sum.LastTimestamp = rec.PaintEvents[n-1].Timestamp
	}
	return sum, nil
}

// Dataset returns the replay dataset of the doc-th main-frame document of
// tab.
func (s *Service) Dataset(ctx context.Context, tab, doc int) (replay.Dataset, error) {
	rec, err := s.Recording(ctx, tab, false)
	if err != nil {
		return replay.Dataset{}, err
	}
	docs := rec.MainDocuments()
	if doc < 0 || doc >= len(docs) {
		return replay.Dataset{}, fmt.Errorf("%w: tab %d has no document %d", ErrNotFound, tab, doc)
	}
	return replay.BuildDataset(rec, docs[doc]), nil
}

// PaintIndex returns the index of the last paint of tab at or before ts,
// or -1 when ts precedes the recording.
func (s *Service) PaintIndex(ctx context.Context, tab int, ts int64) (int, error) {
	rec, err := s.Recording(ctx, tab, false)
	if err != nil {
		return -1, err
	}
	return paintAt(rec, ts), nil
}

func paintAt(rec *change.DomRecording, ts int64) int {
	return sort.Search(len(rec.PaintEvents), func(i int) bool {
		return rec.PaintEvents[i].Timestamp > ts
	}) - 1
}

// SnapshotResult is the reconstructed main frame at one paint.
type SnapshotResult struct {
	TabID      int    `json:"tabId"`
	PaintIndex int    `json:"paintIndex"`
	URL        string `json:"url"`
	Format     string `json:"format"`
	Content    string `json:"content"`
}

// Snapshot rebuilds the main frame of tab as it was right after paint
// (the last paint when paint is nil). HTML output is sanitized; markdown
// is converted from the unsanitized document.
func (s *Service) Snapshot(ctx context.Context, tab int, paint *int, format string) (SnapshotResult, error) {
	if format == "" {
		format = FormatHTML
	}
	if format != FormatHTML && format != FormatMarkdown {
		return SnapshotResult{}, fmt.Errorf("%w: %q", ErrFormat, format)
	}
	rec, err := s.Recording(ctx, tab, false)
	if err != nil {
		return SnapshotResult{}, err
	}
	idx := len(rec.PaintEvents) - 1
	if paint != nil {
		idx = *paint
	}
	html, doc, err := replay.Snapshot(rec, idx)
	if errors.Is(err, replay.ErrNoDocument) {
		return SnapshotResult{}, fmt.Errorf("%w: tab %d: %w", ErrNotFound, tab, err)
	}
	if err != nil {
		return SnapshotResult{}, err
	}

	res := SnapshotResult{TabID: tab, PaintIndex: min(idx, len(rec.PaintEvents)-1), URL: doc.URL, Format: format}
	switch format {
	case FormatMarkdown:
		md, err := s.md.ConvertString(html, converter.WithDomain(doc.URL))
		if err != nil {
			return SnapshotResult{}, fmt.Errorf("domreplay: markdown: %w", err)
		}
		res.Content = md
	default:
		res.Content = s.sanitizer.Sanitize(html)
	}
	return res, nil
}
