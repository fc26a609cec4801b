package pagestream

import (
	"context"
	"fmt"
	"sync"

	"github.com/hazyhaar/domreplay/change"
)

// Subscription is one follower of a tab. It implements mirror.LiveSource.
type Subscription struct {
	ID    string
	TabID int

	broker *Broker
	out    chan []change.FlatRecord

	mu     sync.Mutex
	queue  [][]change.FlatRecord
	ended  bool
	wake   chan struct{}
	done   chan struct{}
	closed sync.Once
}

// Changes delivers record batches in publication order. It is closed when
// the tab closes or the subscription is closed.
func (s *Subscription) Changes() <-chan []change.FlatRecord { return s.out }

// FlushDomChanges asks the tab's recorder to upload what it buffers.
func (s *Subscription) FlushDomChanges(ctx context.Context) error {
	if err := s.broker.flush(ctx, s.TabID); err != nil {
		return fmt.Errorf("pagestream: flush tab %d: %w", s.TabID, err)
	}
	return nil
}

// Frames returns the main frame ids and child frame paths of the tab.
func (s *Subscription) Frames(ctx context.Context) (change.FrameSet, map[int]string, error) {
	if s.broker.frames == nil {
		return change.NewFrameSet(), map[int]string{}, nil
	}
	mainIDs, err := s.broker.frames.MainFrameIDs(ctx, s.TabID)
	if err != nil {
		return nil, nil, err
	}
	paths, err := s.broker.frames.DomNodePaths(ctx, s.TabID)
	if err != nil {
		return nil, nil, err
	}
	return mainIDs, paths, nil
}

// Close stops the subscription. Undelivered records are dropped.
func (s *Subscription) Close() {
	s.broker.unsubscribe(s)
	s.closed.Do(func() { close(s.done) })
}

func (s *Subscription) push(recs []change.FlatRecord) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, recs)
	s.mu.Unlock()
	s.signal()
}

// end closes Changes after the queue drains.
func (s *Subscription) end() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		batches := s.queue
		s.queue = nil
		ended := s.ended
		s.mu.Unlock()

		for _, recs := range batches {
			select {
			case s.out <- recs:
			case <-s.done:
				return
			}
		}
		if len(batches) > 0 {
			continue
		}
		if ended {
			return
		}
		select {
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}
