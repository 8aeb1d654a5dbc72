package server

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/msalah0e/valence/internal/interact"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4 * 1024

	sendBufferSize = 32
)

// inbound is a pointer message from the browser, in layout coordinates.
type inbound struct {
	Type string        `json:"type"`
	Kind interact.Kind `json:"kind"`
	ID   string        `json:"id"`
	X    float64       `json:"x"`
	Y    float64       `json:"y"`
}

// Client is one websocket connection.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	ctrl   *interact.Controller
	logger *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
	// gesture is the handle of the last gesture this client started. The
	// controller ignores it once that gesture has ended or been dropped.
	gesture interact.Gesture
}

func newClient(hub *Hub, conn *websocket.Conn, ctrl *interact.Controller, logger *zap.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		ctrl:   ctrl,
		logger: logger.With(zap.String("client", id)),
		done:   make(chan struct{}),
	}
}

// close tells the write pump to stop. The send channel is never closed, so
// late sends are harmless.
func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// start registers the client, queues the greeting and launches the pumps.
func (c *Client) start(greeting ...[]byte) {
	for _, msg := range greeting {
		c.send <- msg
	}
	if !c.hub.add(c) {
		c.conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
		// A gesture owned by a vanished client must not leave a node pinned.
		c.ctrl.Cancel(c.gesture)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.handle(bytes.TrimSpace(message))
	}
}

func (c *Client) handle(message []byte) {
	var in inbound
	if err := json.Unmarshal(message, &in); err != nil {
		c.reply(errorMessage("malformed message"))
		return
	}

	var err error
	switch in.Type {
	case "down":
		var g interact.Gesture
		g, err = c.ctrl.PointerDown(interact.Target{Kind: in.Kind, ID: in.ID}, in.X, in.Y)
		if err == nil {
			c.gesture = g
		}
	case "move":
		err = c.ctrl.PointerMove(c.gesture, in.X, in.Y)
		if err != nil && !c.ctrl.Holds(c.gesture) {
			c.gesture = 0
		}
	case "up":
		err = c.ctrl.PointerUp(c.gesture, in.X, in.Y)
		c.gesture = 0
	case "cancel":
		c.ctrl.Cancel(c.gesture)
		c.gesture = 0
	default:
		c.reply(errorMessage("unknown message type " + in.Type))
		return
	}
	if err != nil {
		c.logger.Debug("gesture rejected", zap.String("type", in.Type), zap.Error(err))
		c.reply(errorMessage(err.Error()))
	}
}

// reply sends to this client only, dropping the message if its buffer is full.
func (c *Client) reply(msg []byte) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
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
