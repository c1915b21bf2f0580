package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/clawinfra/applytrack/internal/actions"
	"github.com/clawinfra/applytrack/internal/offline"
)

const (
	streamBuffer       = 64
	streamWriteTimeout = 5 * time.Second
)

// StreamMessage is one frame on the /api/ws stream.
type StreamMessage struct {
	Type       string              `json:"type"` // "queue", "deadLetter"
	Actions    []actions.Action    `json:"actions,omitempty"`
	Status     *offline.Status     `json:"status,omitempty"`
	DeadLetter *actions.DeadLetter `json:"deadLetter,omitempty"`
}

// handleStream upgrades to a WebSocket and pushes a queue frame on every
// change plus a deadLetter frame for every action that exhausted its retries.
// The first frame is the current queue. Incoming frames are ignored.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream ended")

	ctx := conn.CloseRead(r.Context())
	s.logger.Info("ws stream connected", "remote", r.RemoteAddr)

	out := make(chan StreamMessage, streamBuffer)
	push := func(m StreamMessage) {
		select {
		case out <- m:
		default:
			s.logger.Warn("ws stream backlog full, dropping frame", "type", m.Type)
		}
	}

	unsubChange := s.queue.OnChange(func(list []actions.Action) {
		st := s.queue.Status()
		push(StreamMessage{Type: "queue", Actions: list, Status: &st})
	})
	defer unsubChange()

	unsubDead := s.queue.OnDeadLetter(func(dl actions.DeadLetter) {
		push(StreamMessage{Type: "deadLetter", DeadLetter: &dl})
	})
	defer unsubDead()

	st := s.queue.Status()
	push(StreamMessage{Type: "queue", Actions: s.queue.Snapshot(), Status: &st})

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("ws stream ended", "error", ctx.Err())
			return
		case m := <-out:
			if err := s.wsWrite(ctx, conn, m); err != nil {
				s.logger.Debug("ws write failed", "error", err)
				return
			}
		}
	}
}

func (s *Server) wsWrite(ctx context.Context, conn *websocket.Conn, m StreamMessage) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, m)
}
