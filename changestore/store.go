// Package changestore persists recorded DOM changes in SQLite and assembles
// them into replayable recordings.
//
// Inserts land in a pending buffer and are committed by Flush (or a
// FlushEvery writer). Reads merge committed and pending rows, so a recording
// is complete even between flushes.
package changestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/domreplay/change"
	"github.com/hazyhaar/domreplay/dbopen"
)

// Store is the change log database handle.
type Store struct {
	DB     *sql.DB
	Logger *slog.Logger

	mu      sync.Mutex
	pending []change.FlatRecord
	// countByTimestamp counts rows per timestamp, the occurrence used to
	// order equal-timestamp rows when pending and committed rows merge.
	countByTimestamp map[int64]int
}

// Open opens (or creates) the change log database at path and applies the
// schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return newStore(db), nil
}

// New wraps an open database and applies the schema.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("changestore: apply schema: %w", err)
	}
	return newStore(db), nil
}

func newStore(db *sql.DB) *Store {
	return &Store{DB: db, Logger: slog.Default(), countByTimestamp: make(map[int64]int)}
}

// Close commits pending rows and closes the database.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		s.Logger.Warn("changestore: flush on close", "error", err)
	}
	return s.DB.Close()
}

// Insert queues one change for persistence and returns the row.
func (s *Store) Insert(tabID, frameID, documentNavigationID, commandID int, c change.ChangeRecord) change.FlatRecord {
	rec := change.Flatten(tabID, frameID, documentNavigationID, commandID, c)
	s.mu.Lock()
	s.countByTimestamp[rec.Timestamp]++
	s.pending = append(s.pending, rec)
	s.mu.Unlock()
	return rec
}

// Pending returns the number of rows waiting for Flush.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Flush commits pending rows in one transaction. Rows already stored under
// the same (tab, frame, navigation, timestamp, eventIndex) key are skipped.
// On failure the rows stay pending.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	rows := s.pending
	s.pending = nil
	s.mu.Unlock()
	if len(rows) == 0 {
		return nil
	}

	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO dom_changes (tab_id, frame_id, document_navigation_id, event_index, action,
			                         node_id, node_type, tag_name, previous_sibling_id, parent_node_id,
			                         text_content, attributes, attribute_namespaces, properties,
			                         namespace_uri, command_id, timestamp)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT DO NOTHING`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			attrs, err := jsonColumn(r.Attributes)
			if err != nil {
				return err
			}
			ns, err := jsonColumn(r.AttributeNamespaces)
			if err != nil {
				return err
			}
			props, err := jsonColumn(r.Properties)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx,
				r.TabID, r.FrameID, r.DocumentNavigationID, r.EventIndex, int(r.Action),
				r.NodeID, r.NodeType, r.TagName, r.PreviousSiblingID, r.ParentNodeID,
				r.TextContent, attrs, ns, props,
				r.NamespaceURI, r.CommandID, r.Timestamp,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.mu.Lock()
		s.pending = append(rows, s.pending...)
		s.mu.Unlock()
		return fmt.Errorf("changestore: flush: %w", err)
	}
	return nil
}

// FlushEvery flushes at interval until ctx is done, then flushes once more.
func (s *Store) FlushEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := s.Flush(fctx); err != nil {
				s.Logger.Error("changestore: final flush", "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				s.Logger.Error("changestore: flush", "error", err, "pending", s.Pending())
			}
		}
	}
}

// jsonColumn encodes a map column; empty maps are stored as NULL.
func jsonColumn[M ~map[K]V, K comparable, V any](m M) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("changestore: encode column: %w", err)
	}
	return string(b), nil
}
