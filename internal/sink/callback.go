package sink

import (
	"context"

	"github.com/hazyhaar/domreplay/change"
)

// UploadFunc handles one upload in-process.
type UploadFunc func(ctx context.Context, up change.Upload) error

// Callback hands uploads to a function in the same binary, without
// serialisation. It is how a recorder feeds the local ingest pipeline.
type Callback struct {
	fn UploadFunc
}

// NewCallback creates a Callback sink. A nil fn drops uploads.
func NewCallback(fn UploadFunc) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Upload(ctx context.Context, up change.Upload) error {
	if c.fn == nil {
		return nil
	}
	return c.fn(ctx, up)
}

func (c *Callback) Close() error { return nil }
