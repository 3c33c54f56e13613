// Package broker wraps github.com/rabbitmq/amqp091-go with the
// lifecycle shape spec §9's redesign notes ask for: an explicit,
// process-owned connection object instead of a module-level singleton,
// torn down on shutdown, with one channel per goroutine (spec §5's AMQP
// channel-safety note).
package broker

import (
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Connection owns a single AMQP connection and hands out channels. It is
// safe for concurrent use; each call to Channel opens a fresh
// *amqp.Channel since amqp091-go channels are not safe to share across
// goroutines.
type Connection struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
}

// Dial opens the underlying AMQP connection.
func Dial(url string) (*Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("broker: dial: %w", err)
	}
	return &Connection{url: url, conn: conn}, nil
}

// Channel opens a new channel on the connection, reconnecting first if
// the underlying connection has gone away.
func (c *Connection) Channel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.IsClosed() {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			return nil, fmt.Errorf("broker: reconnect: %w", err)
		}
		c.conn = conn
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("broker: open channel: %w", err)
	}
	return ch, nil
}

// Close tears down the connection. Safe to call once during process
// shutdown.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
