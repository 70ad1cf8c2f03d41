package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocketFramer frames envelopes as websocket text messages.
type WebSocketFramer struct {
	conn *websocket.Conn
	once sync.Once
}

// NewWebSocketFramer wraps an established websocket connection.
func NewWebSocketFramer(conn *websocket.Conn) *WebSocketFramer {
	return &WebSocketFramer{conn: conn}
}

func (w *WebSocketFramer) ReadFrame() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	return data, err
}

func (w *WebSocketFramer) WriteFrame(data []byte) error {
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WebSocketFramer) Close() error {
	var err error
	w.once.Do(func() {
		_ = w.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = w.conn.Close()
	})
	return err
}

// DialWebSocket connects to a host websocket endpoint such as
// "ws://localhost:8000/ws".
func DialWebSocket(ctx context.Context, url string, logger *slog.Logger) (*Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	if logger != nil {
		logger.Info("connected", "url", url)
	}
	return NewConn(NewWebSocketFramer(conn), logger), nil
}
