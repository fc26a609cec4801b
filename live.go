package domreplay

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/hazyhaar/domreplay/change"
)

const liveWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
}

// handleLive streams the changes of a tab over a websocket, one JSON array
// of flat records per message. With ?since=TS the changes already stored
// after TS are sent first.
func (s *Service) handleLive(w http.ResponseWriter, r *http.Request) {
	tab, ok := pathInt(w, r, "tab")
	if !ok {
		return
	}
	since := int64(-1)
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		since = n
	}

	// Subscribe before reading the backlog so nothing falls in between.
	sub, err := s.broker.Subscribe(tab)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("domreplay: websocket upgrade", "tab", tab, "error", err)
		return
	}
	defer conn.Close()
	logger := s.logger.With("tab", tab, "subscriber", sub.ID)
	logger.Info("domreplay: live client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug("domreplay: live client read", "error", err)
				}
				return
			}
		}
	}()

	var sent map[change.Key]struct{}
	if since >= 0 {
		backlog, err := s.store.TabChanges(ctx, tab)
		if err != nil {
			logger.Warn("domreplay: live backlog", "error", err)
			return
		}
		sent = make(map[change.Key]struct{})
		var out []change.FlatRecord
		for _, rec := range backlog {
			if rec.Timestamp > since {
				out = append(out, rec)
				sent[rec.Key()] = struct{}{}
			}
		}
		if len(out) > 0 {
			if err := writeBatch(conn, out); err != nil {
				return
			}
		}
	}

	lim := rate.NewLimiter(s.liveRate, s.liveBurst)
	changes := sub.Changes()
	for {
		var batch []change.FlatRecord
		select {
		case <-ctx.Done():
			return
		case b, ok := <-changes:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "tab closed"),
					time.Now().Add(time.Second))
				return
			}
			batch = b
		}
		if err := lim.Wait(ctx); err != nil {
			return
		}
		closed := false
	drain:
		for {
			select {
			case more, ok := <-changes:
				if !ok {
					closed = true
					break drain
				}
				batch = append(batch, more...)
			default:
				break drain
			}
		}
		batch = unsent(batch, sent)
		if len(batch) > 0 {
			if err := writeBatch(conn, batch); err != nil {
				logger.Debug("domreplay: live write", "error", err)
				return
			}
		}
		if closed {
			return
		}
	}
}

// unsent drops the records already delivered from the backlog.
func unsent(batch []change.FlatRecord, sent map[change.Key]struct{}) []change.FlatRecord {
	if len(sent) == 0 {
		return batch
	}
	out := batch[:0:0]
	for _, r := range batch {
		if _, dup := sent[r.Key()]; !dup {
			out = append(out, r)
		}
	}
	return out
}

func writeBatch(conn *websocket.Conn, batch []change.FlatRecord) error {
	conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	return conn.WriteJSON(batch)
}
