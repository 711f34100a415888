// Package client is the listener side of the streaming channel: a websocket
// client that feeds delivered units into a playback.Scheduler, and the
// synchronous fallback used when no channel can be established.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/dgnsrekt/wordcast/internal/protocol"
	"github.com/dgnsrekt/wordcast/tts"
)

const (
	writeWait   = 10 * time.Second
	eventBuffer = 256
)

// Client is one streaming channel to the server. It implements
// tts.WindowRequester.
type Client struct {
	ws     *websocket.Conn
	logger *log.Logger

	writeMu sync.Mutex
	events  chan any
	done    chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// DialOptions configures Dial.
type DialOptions struct {
	MaxTries int // connection attempts, defaults to 3
	Logger   *log.Logger
	Header   http.Header
}

// Dial connects to the server's websocket endpoint. base may be an http(s)
// or ws(s) URL; "/ws" is appended when the path is empty.
func Dial(ctx context.Context, base string, opts DialOptions) (*Client, error) {
	if opts.MaxTries <= 0 {
		opts.MaxTries = 3
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithPrefix("client")

	url, err := WebSocketURL(base)
	if err != nil {
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	ws, err := backoff.Retry(ctx, func() (*websocket.Conn, error) {
		ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, opts.Header)
		if err != nil {
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return nil, backoff.Permanent(fmt.Errorf("dial %s: %s", url, resp.Status))
			}
			logger.Debug("Dial failed", "url", url, "err", err)
			return nil, err
		}
		return ws, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(opts.MaxTries)))
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", url, err)
	}

	c := &Client{
		ws:     ws,
		logger: logger,
		events: make(chan any, eventBuffer),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	logger.Debug("Connected", "url", url)
	return c, nil
}

// WebSocketURL derives the websocket endpoint from a server address.
func WebSocketURL(base string) (string, error) {
	switch {
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "ws://"), strings.HasPrefix(base, "wss://"):
	default:
		if base == "" {
			return "", errors.New("empty server address")
		}
		base = "ws://" + base
	}

	scheme := strings.Index(base, "://") + 3
	if !strings.Contains(base[scheme:], "/") {
		base += "/ws"
	}
	return base, nil
}

// Events returns decoded server events (*protocol.TextReady,
// *protocol.UnitReady and so on). The channel closes when the connection
// ends; Err then reports why.
func (c *Client) Events() <-chan any { return c.events }

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SetText sends the full text for this session.
func (c *Client) SetText(text string) error {
	return c.write(protocol.SetText(text))
}

// RequestWindow implements tts.WindowRequester.
func (c *Client) RequestWindow(w int) error {
	return c.write(protocol.RequestWindow(w))
}

// ReportPlaying tells the server which unit is playing.
func (c *Client) ReportPlaying(index int) error {
	return c.write(protocol.PlayingIndex(index))
}

// Close closes the connection politely.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *Client) write(msg protocol.ClientMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("%w: %v", tts.ErrChannelClosed, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, websocket.ErrCloseSent) {
				c.mu.Lock()
				c.err = err
				c.mu.Unlock()
			}
			c.logger.Debug("Connection ended", "err", err)
			return
		}

		ev, err := protocol.DecodeServer(data)
		if err != nil {
			c.logger.Warn("Ignoring malformed event", "err", err)
			continue
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}
