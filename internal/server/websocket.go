package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/ChamsBouzaiene/agentd/internal/engine/protocol"
	"github.com/ChamsBouzaiene/agentd/internal/session"
)

const writeWait = 10 * time.Second

// Control frames sent outside the engine event stream.
const (
	frameRejected  = "rejected"
	frameCancelled = "cancelled"
)

// wsFrame is the envelope of every message sent to a WebSocket client.
type wsFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// wsConn serializes writes to one connection and doubles as the event sink
// of the turn running on it.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeFrame(event string, data any) error {
	payload, err := json.Marshal(wsFrame{Event: event, Data: data})
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Send implements protocol.Sink.
func (c *wsConn) Send(ctx context.Context, e protocol.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := protocol.MarshalEvent(e)
	if err != nil {
		return err
	}
	return c.writeFrame(string(e.GetType()), jsoniter.RawMessage(data))
}

// handleWebSocket serves an interactive connection bound to one session.
// At most one turn runs at a time; cancel_request aborts it.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !session.ValidID(id) {
		writeError(w, http.StatusBadRequest, session.ErrInvalidID)
		return
	}
	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer raw.Close()
	raw.SetReadLimit(maxBodyBytes)

	conn := &wsConn{conn: raw}
	log := s.logger.With("session", id)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	ctx, cancelAll := context.WithCancel(r.Context())
	var (
		mu      sync.Mutex
		running context.CancelFunc
		wg      sync.WaitGroup
	)
	defer func() {
		cancelAll()
		wg.Wait()
		log.Info("websocket closed")
	}()

	reject := func(msg string) {
		if err := conn.writeFrame(frameRejected, map[string]string{"error": msg}); err != nil {
			log.Debug("failed to send rejection", "error", err)
		}
	}

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket read ended", "error", err)
			}
			return
		}

		cmd, err := protocol.DecodeCommand(data)
		if err != nil {
			reject(err.Error())
			continue
		}

		switch c := cmd.(type) {
		case protocol.CancelRequestCommand:
			mu.Lock()
			if running != nil {
				running()
			}
			mu.Unlock()

		case protocol.UserMessageCommand:
			mu.Lock()
			busy := running != nil
			mu.Unlock()
			if busy {
				reject("a turn is already running")
				continue
			}

			t, err := s.prepareTurn(id, TurnRequest{
				Content:     c.Message,
				PersonaID:   c.PersonaID,
				MaxSteps:    c.MaxSteps,
				RepeatLimit: c.RepeatLimit,
			})
			if err != nil {
				if !errors.Is(err, errBadRequest) {
					log.Error("failed to start turn", "error", err)
				}
				reject(err.Error())
				continue
			}

			turnCtx, cancel := context.WithCancel(ctx)
			mu.Lock()
			running = cancel
			mu.Unlock()

			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.runTurn(turnCtx, t, conn)
				if err != nil && turnCtx.Err() != nil && ctx.Err() == nil {
					_ = conn.writeFrame(frameCancelled, map[string]string{"invocation_id": t.invocation.ID})
				}
				mu.Lock()
				running = nil
				mu.Unlock()
				cancel()
			}()
		}
	}
}
