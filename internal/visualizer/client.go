package visualizer

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/nodewell/robotd/internal/observer"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	outputBuffer   = 256
)

// client adapts one WebSocket connection into an observer.Sink. It never
// blocks on a slow reader: a full output channel drops the event rather
// than stall the session goroutine publishing it.
type client struct {
	conn   *websocket.Conn
	output chan []byte
}

func newClient(conn *websocket.Conn) *client {
	return &client{conn: conn, output: make(chan []byte, outputBuffer)}
}

// Notify implements observer.Sink.
func (c *client) Notify(e observer.Event) {
	payload, err := marshalEvent(e)
	if err != nil {
		return
	}
	select {
	case c.output <- payload:
	default:
	}
}

// readPump drains the connection for control frames (pong, close) and
// never expects application input; the feed is one-way.
func (c *client) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
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

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.output:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
