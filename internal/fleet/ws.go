package fleet

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

const (
	wsSendBuffer   = 64
	wsWriteTimeout = 5 * time.Second
)

// Message types sent on the event stream.
const (
	msgSnapshot      = "snapshot"
	msgStatusChanged = "status_changed"
	msgError         = "error"
)

// wsMessage is one frame of the live event stream.
type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type wsClient struct {
	send chan []byte
}

// hub fans encoded events out to connected stream clients. Slow clients
// lose messages rather than stall the poller.
type hub struct {
	logger *zap.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

func newHub(logger *zap.Logger) *hub {
	return &hub{logger: logger, clients: make(map[*wsClient]struct{})}
}

func (h *hub) add() (*wsClient, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	c := &wsClient{send: make(chan []byte, wsSendBuffer)}
	h.clients[c] = struct{}{}
	return c, true
}

func (h *hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) broadcast(typ string, data any) {
	b, err := json.Marshal(wsMessage{Type: typ, Data: data})
	if err != nil {
		h.logger.Warn("failed to encode stream message", zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			h.logger.Debug("dropping stream message for slow client", zap.String("type", typ))
		}
	}
}

// close disconnects every client and refuses new ones.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// handleStream upgrades to a WebSocket and streams status and error events.
// The first frame is a snapshot of every known status.
//
//	@Summary		Live event stream
//	@Description	WebSocket stream of status_changed and error events.
//	@Tags			fleet
//	@Success		101
//	@Router			/fleet/ws [get]
func (m *Module) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: m.cfg.WSOriginPatterns,
	})
	if err != nil {
		m.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	c, ok := m.hub.add()
	if !ok {
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer m.hub.remove(c)

	ctx := conn.CloseRead(r.Context())

	snapshot, err := json.Marshal(wsMessage{Type: msgSnapshot, Data: m.monitor.GetAllStatuses()})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "encode snapshot")
		return
	}
	if err := writeFrame(ctx, conn, snapshot); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if err := writeFrame(ctx, conn, msg); err != nil {
				m.logger.Debug("stream write failed", zap.Error(err))
				return
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, msg)
}
