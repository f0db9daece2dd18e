package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
	eventTimeout   = 10 * time.Second
)

// Client pumps frames between a websocket connection and its session.
type Client struct {
	conn    *websocket.Conn
	cs      *ChatServer
	session *Session
	log     zerolog.Logger
}

func NewClient(s *Session, conn *websocket.Conn, cs *ChatServer) *Client {
	return &Client{
		conn:    conn,
		cs:      cs,
		session: s,
		log:     s.log,
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case msg := <-c.session.send:
			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Error().Err(err).Str("event", msg.Event).Msg("failed to serialize message")
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.session.stop:
			c.sendMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug().Msg("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("ws: read")
			}
			return
		}

		c.handle(raw)
	}
}

// handle decodes and dispatches a single client frame. Every request gets a
// response correlated by its id.
func (c *Client) handle(raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Debug().Err(err).Msg("error parsing message")
		c.session.queueMessage(ErrInvalidMessage(0))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	var (
		data any
		err  error
	)
	switch msg.Event {
	case EventJoinRoom:
		var p RoomPayload
		if err = msg.decode(&p); err == nil {
			data, err = c.cs.Join(ctx, c.session, p.RoomId)
		}
	case EventLeaveRoom:
		var p RoomPayload
		if err = msg.decode(&p); err == nil {
			err = c.cs.Leave(ctx, c.session, p.RoomId)
		}
	case EventSendMessage:
		var p SendMessagePayload
		if err = msg.decode(&p); err == nil {
			data, err = c.cs.Send(ctx, c.session, p.RoomId, p.Text)
		}
	case EventAuth:
		err = validationErr("already authenticated")
	default:
		c.session.queueMessage(ErrUnknownEvent(msg.Id, msg.Event))
		return
	}

	if err != nil {
		c.log.Debug().Err(err).Str("event", msg.Event).Msg("request failed")
		c.session.queueMessage(ErrResponse(msg.Id, err))
		return
	}

	c.session.queueMessage(NoErrOK(msg.Id, data))
}

func (c *Client) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	if err := c.cs.Disconnect(ctx, c.session); err != nil {
		c.log.Warn().Err(err).Msg("disconnect failed")
	}
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("write message")
		}
		return false
	}

	return true
}
