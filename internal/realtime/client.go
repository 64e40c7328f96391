package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/classlinker-chat/internal/models"
)

// connState is the gateway-side state of one connection.
type connState int

const (
	stateConnected connState = iota
	stateJoined
	stateClosed
)

// Client is one websocket connection. Inbound events are handled one at a
// time on the read goroutine, which alone owns state and room.
type Client struct {
	id       string
	conn     *websocket.Conn
	identity models.Identity
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	logger   *zap.Logger
	opts     Options

	state connState
	room  string

	// closeCode is sent in the close frame when the server ends the connection.
	closeCode int
	closeText string
}

func newClient(conn *websocket.Conn, identity models.Identity, opts Options, logger *zap.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:        id,
		conn:      conn,
		identity:  identity,
		send:      make(chan []byte, opts.SendBuffer),
		done:      make(chan struct{}),
		logger:    logger.With(zap.String("conn_id", id), zap.String("user_id", identity.UserID), zap.String("role", string(identity.Role))),
		opts:      opts,
		state:     stateConnected,
		closeCode: websocket.CloseNormalClosure,
	}
}

// ID returns the connection ID.
func (c *Client) ID() string { return c.id }

// UserID returns the authenticated user behind the connection.
func (c *Client) UserID() string { return c.identity.UserID }

// Enqueue hands a frame to the write goroutine. A client whose buffer is full
// is disconnected instead of silently losing frames.
func (c *Client) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		c.logger.Warn("send buffer full, closing slow connection")
		c.shutdown(websocket.ClosePolicyViolation, "slow consumer")
		if c.opts.OnSlowConsumer != nil {
			c.opts.OnSlowConsumer()
		}
		return false
	}
}

// shutdown asks the write goroutine to send a close frame and end the connection.
func (c *Client) shutdown(code int, text string) {
	c.once.Do(func() {
		c.closeCode = code
		c.closeText = text
		close(c.done)
	})
}

// readPump handles inbound frames in order. onPong runs on this goroutine after
// each keepalive pong.
func (c *Client) readPump(handle func(*Client, []byte), onPong func(*Client)) {
	c.conn.SetReadLimit(c.opts.MaxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait)); err != nil {
			return err
		}
		if onPong != nil {
			onPong(c)
		}
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		handle(c, frame)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.done:
			c.drain()
			msg := websocket.FormatCloseMessage(c.closeCode, c.closeText)
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait))
			return
		}
	}
}

// drain flushes frames queued before a normal close, such as a final error.
func (c *Client) drain() {
	if c.closeCode != websocket.CloseNormalClosure {
		return
	}
	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}
