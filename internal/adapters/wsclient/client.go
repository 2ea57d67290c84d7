// Package wsclient is the peer's connection to the signaling relay.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Duet/internal/core"
)

var ErrClosed = errors.New("signaling client closed")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 32
)

// Dialer opens relay connections to one signaling URL.
type Dialer struct {
	URL    string
	Header http.Header
	// WS defaults to websocket.DefaultDialer.
	WS *websocket.Dialer
}

func (d *Dialer) Dial(ctx context.Context) (core.SignalClient, error) {
	c, err := Dial(ctx, d.URL, d.WS, d.Header)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Client is one relay connection with its read and write pumps.
type Client struct {
	conn     *websocket.Conn
	log      zerolog.Logger
	incoming chan core.Message
	outgoing chan core.Frame
	done     chan struct{}
	once     sync.Once
}

func Dial(ctx context.Context, rawURL string, dialer *websocket.Dialer, header http.Header) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid signal url: %w", err)
	}
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", u.Host, err)
	}

	c := &Client{
		conn:     conn,
		log:      log.With().Str("module", "wsclient").Str("host", u.Host).Logger(),
		incoming: make(chan core.Message, sendBuffer),
		outgoing: make(chan core.Frame, sendBuffer),
		done:     make(chan struct{}),
	}
	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()
	c.log.Info().Msg("connected to relay")
	return c, nil
}

func (c *Client) readPump() {
	defer func() {
		close(c.incoming)
		c.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn().Err(err).Msg("relay connection lost")
			}
			return
		}
		var msg core.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn().Err(err).Msg("undecodable relay frame dropped")
			continue
		}
		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.drain()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// drain flushes frames queued before Close, such as a final leave.
func (c *Client) drain() {
	for {
		select {
		case frame := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) Send(msg core.Message) error {
	frame, err := msg.Encode()
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- frame:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Messages is closed when the connection drops or Close is called.
func (c *Client) Messages() <-chan core.Message { return c.incoming }

func (c *Client) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
