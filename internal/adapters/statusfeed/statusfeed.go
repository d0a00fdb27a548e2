package statusfeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/larriantoniy/device_gateway/internal/domain"
	"github.com/larriantoniy/device_gateway/internal/ports"
	"github.com/larriantoniy/device_gateway/internal/storage"
)

const (
	TypeConnectionUpdate = "connection.update"
	TypeConnected        = "connection.open"
	TypeAlert            = "connection.alert"

	writeWait  = 10 * time.Second
	sendBuffer = 64
)

// Event то, что улетает подписчикам /ws/status
type Event struct {
	DeviceID string                  `json:"deviceId"`
	Type     string                  `json:"type"`
	Update   *ports.ConnectionUpdate `json:"update,omitempty"`
	Profile  *domain.Profile         `json:"profile,omitempty"`
	Reason   string                  `json:"reason,omitempty"`
	Error    string                  `json:"error,omitempty"`
	At       time.Time               `json:"at"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub раздаёт события соединений всем websocket-подписчикам.
// Медленный подписчик отключается, остальных он не тормозит.
type Hub struct {
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:     log.With("component", "statusfeed"),
		clients: make(map[*client]struct{}),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("subscriber connected", "remote", conn.RemoteAddr().String())

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop входящее не нужно, читаем только чтобы заметить закрытие
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.remove(c)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) Broadcast(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("marshal status event", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Warn("subscriber too slow, dropped")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close отключает всех подписчиков
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// Hooks колбэки шлюза, которые транслируют события в ленту.
// next вызывается после трансляции, если задан.
func (h *Hub) Hooks(next storage.Hooks) storage.Hooks {
	return storage.Hooks{
		OnStateChange: func(ctx context.Context, deviceID string, update ports.ConnectionUpdate) error {
			u := update
			h.Broadcast(Event{DeviceID: deviceID, Type: TypeConnectionUpdate, Update: &u})
			if next.OnStateChange != nil {
				return next.OnStateChange(ctx, deviceID, update)
			}
			return nil
		},
		OnConnected: func(ctx context.Context, deviceID string, profile domain.Profile) error {
			p := profile
			h.Broadcast(Event{DeviceID: deviceID, Type: TypeConnected, Profile: &p})
			if next.OnConnected != nil {
				return next.OnConnected(ctx, deviceID, profile)
			}
			return nil
		},
		OnAlert: func(ctx context.Context, deviceID string, verdict domain.Verdict, cause error) {
			ev := Event{DeviceID: deviceID, Type: TypeAlert, Reason: verdict.Reason.String()}
			if cause != nil {
				ev.Error = cause.Error()
			}
			h.Broadcast(ev)
			if next.OnAlert != nil {
				next.OnAlert(ctx, deviceID, verdict, cause)
			}
		},
	}
}
