// Package client talks to an interview server from the candidate side.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sjawhar/interview-room/internal/logging"
	"github.com/sjawhar/interview-room/internal/protocol"
)

var ErrClosed = errors.New("client closed")

const (
	handshakeTimeout = 15 * time.Second
	writeWait        = 10 * time.Second
	inboundBuffer    = 64
)

// Conn is a websocket session connection. Inbound messages are delivered
// in order on Messages until the connection drops.
type Conn struct {
	ws  *websocket.Conn
	log *zap.Logger

	writeMu sync.Mutex
	inbound chan protocol.Envelope
	done    chan struct{}
	once    sync.Once

	mu  sync.Mutex
	err error
}

// Dial connects to the /ws endpoint of the server at serverURL.
func Dial(ctx context.Context, serverURL string, logger *zap.Logger) (*Conn, error) {
	wsURL, err := WebsocketURL(serverURL)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	c := &Conn{
		ws:      ws,
		log:     logging.OrNop(logger).Named("client"),
		inbound: make(chan protocol.Envelope, inboundBuffer),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// WebsocketURL maps an http(s) base URL to its ws(s) session endpoint.
func WebsocketURL(serverURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(serverURL))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

func (c *Conn) Messages() <-chan protocol.Envelope {
	return c.inbound
}

// Err reports why the connection stopped, once Messages is closed.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) StartSession(req protocol.StartSession) error {
	return c.send(protocol.TypeStartSession, req)
}

func (c *Conn) SendMessage(sessionID, text string) error {
	return c.send(protocol.TypeUserMessage, protocol.UserMessage{SessionID: sessionID, Message: text})
}

func (c *Conn) Pause(sessionID string) error {
	return c.send(protocol.TypePauseSession, protocol.SessionRef{SessionID: sessionID})
}

func (c *Conn) Resume(sessionID string) error {
	return c.send(protocol.TypeResumeSession, protocol.SessionRef{SessionID: sessionID})
}

func (c *Conn) EndSession(sessionID string) error {
	return c.send(protocol.TypeEndSession, protocol.SessionRef{SessionID: sessionID})
}

// AttachSession takes over a session whose previous connection dropped.
func (c *Conn) AttachSession(sessionID string) error {
	return c.send(protocol.TypeAttachSession, protocol.SessionRef{SessionID: sessionID})
}

func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
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

func (c *Conn) send(msgType string, payload any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	frame, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send %s: %w", msgType, err)
	}
	return nil
}

func (c *Conn) readLoop() {
	defer close(c.inbound)
	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.mu.Lock()
				c.err = err
				c.mu.Unlock()
				c.log.Warn("connection lost", zap.Error(err))
			}
			return
		}

		env, err := protocol.Decode(frame)
		if err != nil {
			c.log.Warn("dropping malformed server frame", zap.Error(err))
			continue
		}
		select {
		case c.inbound <- env:
		case <-c.done:
			return
		}
	}
}
