package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboard clients connect cross-origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one websocket connection. Subscription flags are owned by
// the hub goroutine and must not be touched from the pumps.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan ServerMessage
	logger *logrus.Entry

	allBlocks bool
	statsFeed bool
}

// ServeWS upgrades an HTTP request into a hub-managed websocket
// connection.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warnf("Websocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan ServerMessage, sendBufferSize),
		logger: hub.logger,
	}

	hub.register <- client
	go client.writePump()
	go client.readPump()
}

// readPump parses inbound frames and forwards valid commands to the
// hub. A malformed message gets a structured error reply and the
// connection stays open.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debugf("Websocket closed unexpectedly: %v", err)
			}
			return
		}

		command, err := ParseCommand(data)
		if err != nil {
			// The hub is the only writer to the send channel, so even
			// error replies are routed through it.
			command = invalidCommand{Reason: err.Error()}
		}
		c.hub.commands <- clientCommand{client: c, command: command}
	}
}

// writePump drains the send channel onto the wire and keeps the
// connection alive with pings. A closed send channel means the hub
// dropped this client.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
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
