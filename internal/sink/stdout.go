package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/domreplay/change"
)

// Stdout writes one JSON upload envelope per line.
type Stdout struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStdout creates a Stdout sink writing to w, or os.Stdout when w is nil.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{enc: json.NewEncoder(w)}
}

func (s *Stdout) Upload(_ context.Context, up change.Upload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(&up)
}

func (s *Stdout) Close() error { return nil }
