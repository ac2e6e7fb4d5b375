package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sjawhar/interview-room/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 64
)

var errConnClosed = errors.New("connection closed")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn is one client connection. Outbound frames go through a single
// writer goroutine so replies keep the order they were sent in.
type wsConn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
	log  *zap.Logger
}

func newWSConn(ws *websocket.Conn, log *zap.Logger) *wsConn {
	id := uuid.NewString()
	return &wsConn{
		id:   id,
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
		log:  log.With(zap.String("conn_id", id)),
	}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(msgType string, payload any) error {
	frame, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return errConnClosed
	}
}

func (c *wsConn) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug("ws write failed", zap.Error(err))
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.flush()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// flush writes frames queued before the connection was closed.
func (c *wsConn) flush() {
	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

// readPump hands frames to the handler one at a time, which keeps each
// connection's requests in arrival order.
func (c *wsConn) readPump(ctx context.Context, sessions SessionHandler) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("ws read failed", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if err := sessions.Handle(ctx, c, frame); err != nil {
			c.log.Debug("reply failed", zap.Error(err))
			return
		}
	}
}

func registerWSRoute(mux *http.ServeMux, hub *Hub, sessions SessionHandler, log *zap.Logger) {
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("ws upgrade failed", zap.Error(err))
			return
		}

		c := newWSConn(ws, log)
		hub.Register(c)
		c.log.Info("client connected", zap.String("remote", r.RemoteAddr))

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-c.done:
				cancel()
			case <-ctx.Done():
			}
		}()

		go c.writePump()
		c.readPump(ctx, sessions)

		cancel()
		c.close()
		hub.Unregister(c)
		sessions.Disconnected(c.id)
		c.log.Info("client disconnected")
	})
}
