package server

import (
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/dgnsrekt/wordcast/internal/protocol"
	"github.com/dgnsrekt/wordcast/internal/session"
	"github.com/dgnsrekt/wordcast/tts"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 256
)

// conn is one listener's websocket. readPump feeds the session, the session
// feeds send, and writePump drains send onto the socket.
type conn struct {
	ws       *websocket.Conn
	sess     *session.Session
	logger   *log.Logger
	onReject func(code string)

	send     chan any
	done     chan struct{}
	doneOnce sync.Once
}

func newConn(ws *websocket.Conn, logger *log.Logger) *conn {
	return &conn{
		ws:     ws,
		logger: logger,
		send:   make(chan any, sendBuffer),
		done:   make(chan struct{}),
	}
}

// Send implements session.Sink.
func (c *conn) Send(event any) error {
	select {
	case <-c.done:
		return tts.ErrChannelClosed
	default:
	}
	select {
	case c.send <- event:
		return nil
	case <-c.done:
		return tts.ErrChannelClosed
	}
}

// shutdown stops both pumps. Safe to call more than once.
func (c *conn) shutdown() {
	c.doneOnce.Do(func() {
		close(c.done)
		// Unblock a pending read.
		_ = c.ws.SetReadDeadline(time.Now())
	})
}

func (c *conn) readPump() {
	defer c.shutdown()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("Read error", "err", err)
			} else {
				c.logger.Debug("Connection closed", "err", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			c.reject(protocol.ErrInvalidMessage)
			continue
		}
		c.handle(data)
	}
}

func (c *conn) handle(data []byte) {
	msg, err := protocol.DecodeClient(data)
	if err != nil {
		c.reject(err)
		return
	}

	switch {
	case msg.SetText != nil:
		_, err = c.sess.SetText(*msg.SetText)
	case msg.RequestWindow != nil:
		err = c.sess.RequestWindow(*msg.RequestWindow)
	case msg.PlayingIndex != nil:
		err = c.sess.SetPlaying(*msg.PlayingIndex)
	}
	if err != nil {
		c.reject(err)
	}
}

// reject answers a failed request with an error event.
func (c *conn) reject(err error) {
	code := protocol.ErrorCode(err)
	c.logger.Debug("Request rejected", "code", code, "err", err)
	if c.onReject != nil {
		c.onReject(code)
	}
	if sendErr := c.Send(protocol.NewError(err)); sendErr != nil && !errors.Is(sendErr, tts.ErrChannelClosed) {
		c.logger.Warn("Failed to queue error event", "err", sendErr)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case event := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(event); err != nil {
				c.logger.Debug("Write error", "err", err)
				c.shutdown()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("Ping error", "err", err)
				c.shutdown()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
