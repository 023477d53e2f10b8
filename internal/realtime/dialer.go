package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"nhooyr.io/websocket"
)

// maxFrameSize bounds inbound frames.
const maxFrameSize = 1 << 20

// DialParams identifies one channel: who is connecting and to which conversation.
type DialParams struct {
	Token          string
	ConversationID string
	UserID         string
}

// Dialer opens a channel. Dial must honour ctx cancellation.
type Dialer interface {
	Dial(ctx context.Context, p DialParams) (Conn, error)
}

// Conn is an open channel carrying text frames.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, frame []byte) error
	Close() error
}

// WebSocketDialer dials the real-time endpoint over WebSocket.
type WebSocketDialer struct {
	URL        string
	HTTPClient *http.Client
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, p DialParams) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parse realtime url: %w", err)
	}
	q := u.Query()
	q.Set("conversationId", p.ConversationID)
	q.Set("userId", p.UserID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.Token)

	c, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	c.SetReadLimit(maxFrameSize)
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	typ, data, err := w.c.Read(ctx)
	if err != nil {
		return nil, err
	}
	if typ != websocket.MessageText {
		return nil, fmt.Errorf("%w: binary frame", ErrMalformed)
	}
	return data, nil
}

func (w *wsConn) Write(ctx context.Context, frame []byte) error {
	return w.c.Write(ctx, websocket.MessageText, frame)
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "")
}
