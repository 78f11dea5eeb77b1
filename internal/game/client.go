package game

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Client is one live connection's record. It is owned by the Store's
// client arena; every other registry refers to it by ID only, so a
// vanished connection can never leave a dangling transport handle.
type Client struct {
	ID uuid.UUID

	// Name is the display name from the most recent lobby create/join.
	Name string

	mu     sync.Mutex
	out    chan any
	closed bool
	log    *logrus.Logger
}

// NewClient builds a client record with a fresh identity.
func NewClient(log *logrus.Logger) *Client {
	if log == nil {
		log = logrus.New()
	}
	return &Client{
		ID:  uuid.New(),
		out: make(chan any, 32),
		log: log,
	}
}

// Out exposes the outbound queue for the connection's write pump.
func (c *Client) Out() <-chan any {
	return c.out
}

// Send enqueues a message non-blockingly. Messages to a closed or
// saturated queue are dropped; a slow recipient must never stall
// delivery to anyone else.
func (c *Client) Send(msg any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.out <- msg:
	default:
		c.log.Warnf("client %s: outbound queue full, dropping message", c.ID)
	}
}

// CloseOut closes the outbound queue, stopping the write pump. Safe to
// call more than once.
func (c *Client) CloseOut() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
}
