package changestore

import (
	"context"
	"fmt"

	"github.com/hazyhaar/domreplay/change"
)

// UpsertFrame registers a frame of a tab. domNodePath is the frame element's
// path in its parent frame ("" for main frames).
func (s *Store) UpsertFrame(ctx context.Context, tabID, frameID int, isMain bool, domNodePath string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO frames (tab_id, frame_id, is_main, dom_node_path) VALUES (?,?,?,?)
		ON CONFLICT (tab_id, frame_id) DO UPDATE SET is_main = excluded.is_main, dom_node_path = excluded.dom_node_path`,
		tabID, frameID, boolInt(isMain), domNodePath)
	if err != nil {
		return fmt.Errorf("changestore: upsert frame: %w", err)
	}
	return nil
}

// EnsureFrame registers a frame seen in an upload if it is unknown. The first
// frame of a tab is taken as its main frame.
func (s *Store) EnsureFrame(ctx context.Context, tabID, frameID int) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO frames (tab_id, frame_id, is_main, dom_node_path)
		SELECT ?, ?, NOT EXISTS (SELECT 1 FROM frames WHERE tab_id = ? AND is_main = 1), '' WHERE true
		ON CONFLICT (tab_id, frame_id) DO NOTHING`,
		tabID, frameID, tabID)
	if err != nil {
		return fmt.Errorf("changestore: ensure frame: %w", err)
	}
	return nil
}

// MainFrameIDs returns the main frames of a tab.
func (s *Store) MainFrameIDs(ctx context.Context, tabID int) (change.FrameSet, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT frame_id FROM frames WHERE tab_id = ? AND is_main = 1`, tabID)
	if err != nil {
		return nil, fmt.Errorf("changestore: main frames: %w", err)
	}
	defer rows.Close()
	set := change.NewFrameSet()
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("changestore: main frames: %w", err)
		}
		set[id] = struct{}{}
	}
	return set, rows.Err()
}

// DomNodePaths returns the dom node path of every child frame of a tab.
func (s *Store) DomNodePaths(ctx context.Context, tabID int) (map[int]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT frame_id, dom_node_path FROM frames WHERE tab_id = ? AND is_main = 0 AND dom_node_path != ''`, tabID)
	if err != nil {
		return nil, fmt.Errorf("changestore: dom node paths: %w", err)
	}
	defer rows.Close()
	out := make(map[int]string)
	for rows.Next() {
		var id int
		var path string
		if err := rows.Scan(&id, &path); err != nil {
			return nil, fmt.Errorf("changestore: dom node paths: %w", err)
		}
		out[id] = path
	}
	return out, rows.Err()
}

// Recording assembles the recording of a tab from the change log and the
// frame registry.
func (s *Store) Recording(ctx context.Context, tabID int, onlyLatestNavigation bool) (*change.DomRecording, error) {
	records, err := s.TabChanges(ctx, tabID)
	if err != nil {
		return nil, err
	}
	mainFrames, err := s.MainFrameIDs(ctx, tabID)
	if err != nil {
		return nil, err
	}
	paths, err := s.DomNodePaths(ctx, tabID)
	if err != nil {
		return nil, err
	}
	return ToDomRecording(records, mainFrames, paths, onlyLatestNavigation), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
