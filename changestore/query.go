package changestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/hazyhaar/domreplay/change"
)

const selectColumns = `
	SELECT tab_id, frame_id, document_navigation_id, event_index, action,
	       node_id, node_type, tag_name, previous_sibling_id, parent_node_id,
	       text_content, attributes, attribute_namespaces, properties,
	       namespace_uri, command_id, timestamp
	FROM dom_changes`

// All returns every change, committed and pending, ordered by timestamp then
// event index. It also recounts the per-timestamp occurrences.
func (s *Store) All(ctx context.Context) ([]change.FlatRecord, error) {
	committed, err := s.query(ctx, selectColumns+` ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("changestore: all: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[int64]int)
	out := merge(committed, s.pending, func(change.FlatRecord) bool { return true }, counts)
	s.countByTimestamp = counts
	return out, nil
}

// FrameChanges returns the changes of one frame recorded after
// sinceCommandID.
func (s *Store) FrameChanges(ctx context.Context, frameID, sinceCommandID int) ([]change.FlatRecord, error) {
	committed, err := s.query(ctx, selectColumns+` WHERE frame_id = ? AND command_id > ? ORDER BY rowid`,
		frameID, sinceCommandID)
	if err != nil {
		return nil, fmt.Errorf("changestore: frame changes: %w", err)
	}
	return s.mergePending(committed, func(r change.FlatRecord) bool {
		return r.FrameID == frameID && r.CommandID > sinceCommandID
	}), nil
}

// ChangesSinceNavigation returns the changes of navigationID and every later
// navigation.
func (s *Store) ChangesSinceNavigation(ctx context.Context, navigationID int) ([]change.FlatRecord, error) {
	committed, err := s.query(ctx, selectColumns+` WHERE document_navigation_id >= ? ORDER BY rowid`, navigationID)
	if err != nil {
		return nil, fmt.Errorf("changestore: changes since navigation: %w", err)
	}
	return s.mergePending(committed, func(r change.FlatRecord) bool {
		return r.DocumentNavigationID >= navigationID
	}), nil
}

// TabChanges returns every change recorded in one tab.
func (s *Store) TabChanges(ctx context.Context, tabID int) ([]change.FlatRecord, error) {
	committed, err := s.query(ctx, selectColumns+` WHERE tab_id = ? ORDER BY rowid`, tabID)
	if err != nil {
		return nil, fmt.Errorf("changestore: tab changes: %w", err)
	}
	return s.mergePending(committed, func(r change.FlatRecord) bool { return r.TabID == tabID }), nil
}

// Occurrences returns how many changes carry timestamp ts.
func (s *Store) Occurrences(ts int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countByTimestamp[ts]
}

func (s *Store) mergePending(committed []change.FlatRecord, keep func(change.FlatRecord) bool) []change.FlatRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return merge(committed, s.pending, keep, make(map[int64]int))
}

// merge appends the pending rows missing from committed and sorts by
// (timestamp, eventIndex, occurrence). The occurrence of a row is its rank
// among rows of the same timestamp in storage order.
func merge(committed, pending []change.FlatRecord, keep func(change.FlatRecord) bool, counts map[int64]int) []change.FlatRecord {
	type ranked struct {
		rec change.FlatRecord
		occ int
	}
	seen := make(map[change.Key]struct{}, len(committed))
	all := make([]ranked, 0, len(committed)+len(pending))
	for _, r := range committed {
		seen[r.Key()] = struct{}{}
		all = append(all, ranked{r, counts[r.Timestamp]})
		counts[r.Timestamp]++
	}
	for _, r := range pending {
		if !keep(r) {
			continue
		}
		if _, dup := seen[r.Key()]; dup {
			continue
		}
		seen[r.Key()] = struct{}{}
		all = append(all, ranked{r, counts[r.Timestamp]})
		counts[r.Timestamp]++
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.rec.Timestamp != b.rec.Timestamp {
			return a.rec.Timestamp < b.rec.Timestamp
		}
		if a.rec.EventIndex != b.rec.EventIndex {
			return a.rec.EventIndex < b.rec.EventIndex
		}
		return a.occ < b.occ
	})
	out := make([]change.FlatRecord, len(all))
	for i, r := range all {
		out[i] = r.rec
	}
	return out
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]change.FlatRecord, error) {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []change.FlatRecord
	for rows.Next() {
		var (
			r                change.FlatRecord
			action           int
			attrs, ns, props sql.NullString
		)
		if err := rows.Scan(&r.TabID, &r.FrameID, &r.DocumentNavigationID, &r.EventIndex, &action,
			&r.NodeID, &r.NodeType, &r.TagName, &r.PreviousSiblingID, &r.ParentNodeID,
			&r.TextContent, &attrs, &ns, &props,
			&r.NamespaceURI, &r.CommandID, &r.Timestamp); err != nil {
			return nil, err
		}
		r.Action = change.Action(action)
		if err := decodeColumn(attrs, &r.Attributes); err != nil {
			return nil, err
		}
		if err := decodeColumn(ns, &r.AttributeNamespaces); err != nil {
			return nil, err
		}
		if err := decodeColumn(props, &r.Properties); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func decodeColumn(col sql.NullString, dst any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(col.String), dst); err != nil {
		return fmt.Errorf("decode column: %w", err)
	}
	return nil
}
