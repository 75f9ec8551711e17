package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// Client wraps a websocket connection with a write lock: broadcasts and
// pong replies come from different goroutines and gorilla connections do
// not allow concurrent writers.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewClient(conn *websocket.Conn) *Client {
	return &Client{conn: conn}
}

func (c *Client) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

// WriteText sends a raw text frame (control replies like "pong").
func (c *Client) WriteText(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

// ReadText blocks for the next text frame from the client.
func (c *Client) ReadText() (string, error) {
	_, data, err := c.conn.ReadMessage()
	return string(data), err
}

func (c *Client) Close() error {
	return c.conn.Close()
}
