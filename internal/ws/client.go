package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one live websocket connection bound to an authenticated user.
// Writes are serialized per connection.
type Client struct {
	conn        *websocket.Conn
	mu          sync.Mutex
	UserID      string
	ConnID      string
	ConnectedAt time.Time
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, userID string) *Client {
	return &Client{
		conn:        conn,
		UserID:      userID,
		ConnID:      newConnID(),
		ConnectedAt: time.Now(),
	}
}

// Send writes one event frame to the connection.
func (c *Client) Send(event string, data any) error {
	return c.write(OutFrame{Event: event, Data: data})
}

// Ack writes the structured result for an acknowledged event.
func (c *Client) Ack(ackID string, result Result) error {
	if ackID == "" {
		return nil
	}
	return c.write(OutFrame{Event: EventAck, AckID: ackID, Data: result})
}

func (c *Client) write(frame OutFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
