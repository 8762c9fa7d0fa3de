package business

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Connection is one registered client transport. A user has at most one.
type Connection struct {
	userID       string
	transport    Transport
	createdAt    time.Time
	writeTimeout time.Duration

	writeMu  sync.Mutex
	lastSeen atomic.Int64 // unix nanos of the last inbound frame

	closeOnce sync.Once
	closeErr  error

	hb *heartbeat
}

func newConnection(userID string, transport Transport, writeTimeout time.Duration) *Connection {
	now := time.Now()
	conn := &Connection{
		userID:       userID,
		transport:    transport,
		createdAt:    now,
		writeTimeout: writeTimeout,
	}
	conn.lastSeen.Store(now.UnixNano())
	return conn
}

func (c *Connection) UserID() string {
	return c.userID
}

// LastSeen is when the client last sent anything.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

func (c *Connection) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// write serialises frames onto the transport. Only one write is in flight
// per connection and each is bounded by the write timeout.
func (c *Connection) write(ctx context.Context, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	return c.transport.Send(ctx, frame)
}

// detach stops the heartbeat without waiting for it. Safe under a shard lock.
func (c *Connection) detach() {
	if c.hb != nil {
		c.hb.stop()
	}
}

func (c *Connection) close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.transport.Close()
	})
	return c.closeErr
}
