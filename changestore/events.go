package changestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/domreplay/change"
	"github.com/hazyhaar/domreplay/dbopen"
)

// Page event kinds.
const (
	KindMouse  = "mouse"
	KindFocus  = "focus"
	KindScroll = "scroll"
	KindLoad   = "load"
)

// PageEvent is one stored interaction or load event. Data holds the wire
// tuple.
type PageEvent struct {
	TabID     int             `json:"tabId"`
	FrameID   int             `json:"frameId"`
	CommandID int             `json:"commandId"`
	Kind      string          `json:"kind"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// InsertPageEvents stores the mouse, focus, scroll and load buffers of an
// upload. Identical events are stored once.
func (s *Store) InsertPageEvents(ctx context.Context, tabID, frameID, commandID int, b change.UploadBatch) error {
	type row struct {
		kind string
		ts   int64
		v    any
	}
	var rows []row
	for _, e := range b.MouseEvents {
		rows = append(rows, row{KindMouse, e.Timestamp, e})
	}
	for _, e := range b.FocusEvents {
		rows = append(rows, row{KindFocus, e.Timestamp, e})
	}
	for _, e := range b.ScrollEvents {
		rows = append(rows, row{KindScroll, e.Timestamp, e})
	}
	for _, e := range b.LoadEvents {
		rows = append(rows, row{KindLoad, e.Timestamp, e})
	}
	if len(rows) == 0 {
		return nil
	}

	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO page_events (tab_id, frame_id, command_id, kind, timestamp, data)
			VALUES (?,?,?,?,?,?)
			ON CONFLICT DO NOTHING`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			data, err := json.Marshal(r.v)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, tabID, frameID, commandID, r.kind, r.ts, string(data)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("changestore: insert page events: %w", err)
	}
	return nil
}

// PageEvents returns the events of one kind ("" for all) recorded in a tab
// up to and including untilTimestamp (0 for no bound), oldest first.
func (s *Store) PageEvents(ctx context.Context, tabID int, kind string, untilTimestamp int64) ([]PageEvent, error) {
	q := `SELECT tab_id, frame_id, command_id, kind, timestamp, data FROM page_events WHERE tab_id = ?`
	args := []any{tabID}
	if kind != "" {
		q += ` AND kind = ?`
		args = append(args, kind)
	}
	if untilTimestamp > 0 {
		q += ` AND timestamp <= ?`
		args = append(args, untilTimestamp)
	}
	q += ` ORDER BY timestamp, rowid`

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("changestore: page events: %w", err)
	}
	defer rows.Close()

	var out []PageEvent
	for rows.Next() {
		var e PageEvent
		var data string
		if err := rows.Scan(&e.TabID, &e.FrameID, &e.CommandID, &e.Kind, &e.Timestamp, &data); err != nil {
			return nil, fmt.Errorf("changestore: page events: %w", err)
		}
		e.Data = json.RawMessage(data)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Interactions is the latest pointer, focus and scroll state of a tab at
// some point in time. Nil fields had no event yet.
type Interactions struct {
	Mouse  *change.MouseEvent
	Focus  *change.FocusEvent
	Scroll *change.ScrollEvent
}

// LatestInteractions returns the last mouse, focus and scroll events
// recorded in a tab up to untilTimestamp.
func (s *Store) LatestInteractions(ctx context.Context, tabID int, untilTimestamp int64) (Interactions, error) {
	var out Interactions
	events, err := s.PageEvents(ctx, tabID, "", untilTimestamp)
	if err != nil {
		return out, err
	}
	for _, e := range events {
		switch e.Kind {
		case KindMouse:
			var m change.MouseEvent
			if err := json.Unmarshal(e.Data, &m); err != nil {
				return out, fmt.Errorf("changestore: %w", err)
			}
			m.FrameID = e.FrameID
			out.Mouse = &m
		case KindFocus:
			var f change.FocusEvent
			if err := json.Unmarshal(e.Data, &f); err != nil {
				return out, fmt.Errorf("changestore: %w", err)
			}
			f.FrameID = e.FrameID
			out.Focus = &f
		case KindScroll:
			var sc change.ScrollEvent
			if err := json.Unmarshal(e.Data, &sc); err != nil {
				return out, fmt.Errorf("changestore: %w", err)
			}
			sc.FrameID = e.FrameID
			out.Scroll = &sc
		}
	}
	return out, nil
}
