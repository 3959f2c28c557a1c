package infra

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	HandshakeTimeout: 3 * time.Second,
}

var (
	writeWait    = 10 * time.Second
	pongWait     = 30 * time.Second
	pingInterval = pongWait * 9 / 10
)

// WSConn a websocket connection safe for one writer goroutine plus the heartbeat
type WSConn struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn, done: make(chan struct{})}
}

// WriteJSON send v as a text frame
func (wc *WSConn) WriteJSON(v interface{}) error {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	wc.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return wc.conn.WriteJSON(v)
}

// Done closed once the peer is gone
func (wc *WSConn) Done() <-chan struct{} {
	return wc.done
}

// Close .
func (wc *WSConn) Close() error {
	var err error
	wc.closeOnce.Do(func() {
		close(wc.done)
		err = wc.conn.Close()
	})
	return err
}

// WithHeartbeat upgrade the request and run handler with heartbeat probe until it returns
func WithHeartbeat(handler func(echo.Context, *WSConn) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			// the upgrader already replied
			return nil
		}

		wc := newWSConn(conn)
		defer wc.Close()
		go heartbeatRoutine(wc)
		go readRoutine(wc)
		return handler(c, wc)
	}
}

func heartbeatRoutine(wc *WSConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			wc.mu.Lock()
			err := wc.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			wc.mu.Unlock()
			if err != nil {
				wc.Close()
				return
			}
		case <-wc.done:
			return
		}
	}
}

// readRoutine drains client frames so pongs and close frames get processed
func readRoutine(wc *WSConn) {
	defer wc.Close()
	wc.conn.SetReadDeadline(time.Now().Add(pongWait))
	wc.conn.SetPongHandler(func(string) error {
		return wc.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := wc.conn.ReadMessage(); err != nil {
			return
		}
	}
}
