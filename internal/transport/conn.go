// Package transport manages the websocket connections to the venue.
package transport

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
)

// Conn is one established websocket connection.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, frame []byte) error
	Close() error
}

// Dialer establishes a websocket connection to the endpoint.
type Dialer func(ctx context.Context, endpoint string, header http.Header) (Conn, error)

// DefaultDialer dials with coder/websocket.
func DefaultDialer(ctx context.Context, endpoint string, header http.Header) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(wsReadLimit)
	return &wsConn{conn: conn}, nil
}

const wsReadLimit = 2 * 1024 * 1024

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsConn) Write(ctx context.Context, frame []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, frame)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "shutdown")
}
