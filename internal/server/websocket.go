package server

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcoot/creditshop-go/internal/protocol"
)

// wsConn carries one frame per websocket message
type wsConn struct {
	conn    *websocket.Conn
	maxSize int

	writeMu sync.Mutex
}

func newWSConn(conn *websocket.Conn, maxSize int) *wsConn {
	if maxSize <= 0 {
		maxSize = protocol.DefaultMaxFrameSize
	}
	// Messages past the soft limit are answered as oversized; past the hard
	// limit gorilla drops the connection.
	conn.SetReadLimit(int64(maxSize) * 4)
	return &wsConn{conn: conn, maxSize: maxSize}
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived,
		) {
			return nil, io.EOF
		}
		return nil, err
	}
	if len(data) > c.maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", protocol.ErrFrameTooLarge, len(data), c.maxSize)
	}
	return data, nil
}

func (c *wsConn) WriteFrame(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// WebSocketHandler upgrades the request and serves a session over it
func (s *Server) WebSocketHandler() http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 4 * 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.isClosing() {
			http.Error(w, "server shutting down", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the HTTP error
			s.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
			return
		}
		_ = s.ServeConn(newWSConn(conn, s.cfg.MaxFrameSize), "ws")
	})
}
