package notifications

import (
	"context"
	"errors"
	"sync"
	"time"

	"swarg/internal/observability"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 65536

	sendBufferSize = 256
)

var (
	// ErrSessionClosed is returned when pushing to a session that already left.
	ErrSessionClosed = errors.New("session closed")
	// ErrBufferFull is returned when a slow session cannot take more frames.
	ErrBufferFull = errors.New("session send buffer full")
)

// WSHub is implemented by hubs that own clients.
type WSHub interface {
	UnregisterClient(c *Client)
	Name() string
}

// Client is one live websocket session of a user. Frames are queued on Send
// and written by a single WritePump, so a session sees frames in push order.
type Client struct {
	Hub WSHub

	// The websocket connection. Nil in tests that only inspect Send.
	Conn *websocket.Conn

	// Buffered channel of outbound frames.
	Send chan []byte

	// Callback for handling incoming frames
	IncomingHandler func(*Client, []byte)

	// OnActivity runs on every inbound frame.
	OnActivity func(userID uint)

	id     string
	userID uint

	closeMu sync.RWMutex
	closed  bool
}

// NewClient creates a new Client instance
func NewClient(hub WSHub, conn *websocket.Conn, userID uint) *Client {
	return &Client{
		Hub:    hub,
		Conn:   conn,
		Send:   make(chan []byte, sendBufferSize),
		id:     uuid.NewString(),
		userID: userID,
	}
}

// ID identifies the session.
func (c *Client) ID() string { return c.id }

// UserID is the authenticated owner of the session.
func (c *Client) UserID() uint { return c.userID }

// close stops accepting frames and lets the write pump drain and exit.
func (c *Client) close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// ReadPump pumps frames from the websocket connection to IncomingHandler.
func (c *Client) ReadPump() {
	log := observability.NewWSLogger(c.Hub.Name())
	defer func() {
		c.Hub.UnregisterClient(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { _ = c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.LogError(context.Background(), c.userID, c.id, err, "read")
			}
			break
		}

		if c.OnActivity != nil {
			c.OnActivity(c.userID)
		}
		if c.IncomingHandler != nil {
			c.IncomingHandler(c, message)
		}
	}
}

// WritePump pumps frames from Send to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues a frame without blocking. A full buffer drops the frame;
// the recipient recovers it from history on its next fetch.
func (c *Client) TrySend(message []byte) error {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed {
		observability.WebSocketBackpressureDrops.WithLabelValues(c.Hub.Name(), "closed").Inc()
		return ErrSessionClosed
	}

	select {
	case c.Send <- message:
		return nil
	default:
		observability.WebSocketBackpressureDrops.WithLabelValues(c.Hub.Name(), "full").Inc()
		return ErrBufferFull
	}
}
