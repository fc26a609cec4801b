// Package sink delivers recorder uploads to their destinations: the local
// ingest pipeline, a remote domreplay server, or a JSON-lines stream.
//
// Every sink satisfies recorder.Uploader. A failed delivery is returned to
// the recorder, which keeps the envelope and resends it on the next flush.
package sink

import (
	"context"

	"github.com/hazyhaar/domreplay/change"
)

// Sink is an upload destination.
type Sink interface {
	Upload(ctx context.Context, up change.Upload) error
	Close() error
}
