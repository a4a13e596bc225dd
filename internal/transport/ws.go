// Package transport implements the client's relay connection over
// gorilla websockets.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"liverelay/internal/ports"
)

// Dialer opens websocket transports to the relay.
type Dialer struct{}

func NewDialer() *Dialer {
	return &Dialer{}
}

func (d *Dialer) Dial(ctx context.Context, url string) (ports.Transport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (t *wsTransport) WriteJSON(v any) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteJSON(v)
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, payload, err := t.conn.ReadMessage()
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return nil, &ports.CloseError{Code: closeErr.Code, Reason: closeErr.Text}
		}
		return nil, err
	}
	return payload, nil
}

// Close performs a clean websocket close so the relay sees code 1000.
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.conn.WriteControl(websocket.CloseMessage, message, closeDeadline())
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

func closeDeadline() time.Time {
	return time.Now().Add(time.Second)
}
