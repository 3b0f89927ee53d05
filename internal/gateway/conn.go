package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const writeTimeout = 5 * time.Second

// Conn is one client socket as the gateway sees it. Connections are keyed by
// a server-generated id; nothing client-supplied ever identifies a socket.
type Conn interface {
	ID() string
	Send(ctx context.Context, msg any) error
}

type wsConn struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSConn(c *websocket.Conn) *wsConn {
	return &wsConn{id: uuid.NewString(), conn: c}
}

func (w *wsConn) ID() string { return w.id }

// Send serializes one JSON frame. wsjson writes are not safe for concurrent
// use, so a per-connection mutex orders them.
func (w *wsConn) Send(ctx context.Context, msg any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, w.conn, msg)
}
