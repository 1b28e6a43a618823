package realtime

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haggle/backend/internal/metrics"
)

const (
	pongWait   = 60 * time.Second // time allowed to read the next pong
	pingPeriod = 30 * time.Second // must be < pongWait
	writeWait  = 10 * time.Second
	maxMsgSize = 4 * 1024 // clients send nothing but pongs and closes
)

// StreamHandler upgrades negotiation stream requests to WebSocket and pipes
// fan-out deltas to the client. All writes to one connection go through its
// writePump goroutine; readPump exists only to service pongs and detect
// disconnects.
type StreamHandler struct {
	fanout   *Fanout
	upgrader websocket.Upgrader
}

// NewStreamHandler builds the handler. allowedOrigins is a comma-separated
// allowlist; empty allows every origin, which is only acceptable outside
// production.
func NewStreamHandler(fanout *Fanout, allowedOrigins string) *StreamHandler {
	return &StreamHandler{
		fanout: fanout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     buildCheckOrigin(allowedOrigins),
		},
	}
}

func buildCheckOrigin(allowedOrigins string) func(r *http.Request) bool {
	if allowedOrigins == "" {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]bool)
	for _, origin := range strings.Split(allowedOrigins, ",") {
		allowed[strings.TrimSpace(origin)] = true
	}
	return func(r *http.Request) bool {
		return allowed[r.Header.Get("Origin")]
	}
}

// ServeNegotiation subscribes the connection to one negotiation's deltas
// until either side disconnects.
func (h *StreamHandler) ServeNegotiation(w http.ResponseWriter, r *http.Request, negotiationID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sub := h.fanout.Subscribe(negotiationID)
	metrics.RealtimeSubscribers.Inc()

	c := &streamConn{
		conn: conn,
		sub:  sub,
		done: make(chan struct{}),
	}
	closeOnce := func() {
		c.once.Do(func() {
			close(c.done)
			h.fanout.Unsubscribe(negotiationID, sub)
			conn.Close()
			metrics.RealtimeSubscribers.Dec()
		})
	}

	go c.writePump(closeOnce)
	go c.readPump(closeOnce)
}

type streamConn struct {
	conn *websocket.Conn
	sub  chan []byte
	done chan struct{}
	once sync.Once
}

// writePump owns every write on the connection: deltas, pings, the close
// frame.
func (c *streamConn) writePump(closeConn func()) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		closeConn()
	}()

	for {
		select {
		case data, ok := <-c.sub:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump owns every read. Incoming frames are discarded; it exists for pong
// handling and disconnect detection.
func (c *streamConn) readPump(closeConn func()) {
	defer closeConn()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
