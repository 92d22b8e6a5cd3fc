package natsbus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

type Client struct {
	conn *nats.Conn
}

// NewClient connects in-process to an embedded server.
func NewClient(s *Server) (*Client, error) {
	conn, err := nats.Connect("", nats.InProcessServer(s.server), nats.Name("vibe"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Client{conn: conn}, nil
}

// NewClientFromURL connects over TCP, used by the watch command.
func NewClientFromURL(url string) (*Client, error) {
	conn, err := nats.Connect(url, nats.Name("vibe-watch"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return c.conn.Publish(subject, data)
}

// Subscribe delivers raw payloads of subject to handler and returns a
// function that removes the subscription.
func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) (func() error, error) {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub.Unsubscribe, nil
}

func (c *Client) Flush() error {
	return c.conn.Flush()
}

func (c *Client) Close() {
	c.conn.Close()
}
