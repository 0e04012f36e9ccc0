// Package concurrent_websocket wraps a gorilla websocket connection with
// per-direction locks so the status push routine and the read loop can use
// the same connection from different goroutines.
package concurrent_websocket

import (
	"net"
	"sync"

	"github.com/gorilla/websocket"
)

type ConcurrentWebSocket struct {
	rlock sync.Mutex
	wlock sync.Mutex
	conn  *websocket.Conn
}

func NewConcurrentWebSocket(conn *websocket.Conn) *ConcurrentWebSocket {
	return &ConcurrentWebSocket{
		conn: conn,
	}
}

// WriteJSON writes the JSON encoding of v as a message.
func (w *ConcurrentWebSocket) WriteJSON(v interface{}) error {
	w.wlock.Lock()
	defer w.wlock.Unlock()

	return w.conn.WriteJSON(v)
}

// WriteMessage writes a message of the given type.
func (w *ConcurrentWebSocket) WriteMessage(messageType int, data []byte) error {
	w.wlock.Lock()
	defer w.wlock.Unlock()

	return w.conn.WriteMessage(messageType, data)
}

// ReadMessage reads the next message from the connection into a buffer.
func (w *ConcurrentWebSocket) ReadMessage() (messageType int, p []byte, err error) {
	w.rlock.Lock()
	defer w.rlock.Unlock()

	return w.conn.ReadMessage()
}

// Close closes the websocket.
func (w *ConcurrentWebSocket) Close() error {
	w.wlock.Lock()
	defer w.wlock.Unlock()

	return w.conn.Close()
}

// RemoteAddr returns the remote network address.
func (w *ConcurrentWebSocket) RemoteAddr() net.Addr {
	return w.conn.RemoteAddr()
}
