package business

import (
	"sync"
	"sync/atomic"

	"github.com/gillverbasiglo/genie-api-sub000/internal"
)

// poolShardCount is the number of shards for the connection pool.
const poolShardCount = 32

type poolShard struct {
	mu          sync.RWMutex
	connections map[string]*Connection
}

// connectionPool is the presence registry: a user is online exactly when
// the pool holds a connection for them. Every mutation for one user happens
// under that user's shard lock, including stopping the displaced heartbeat.
type connectionPool struct {
	shards      [poolShardCount]*poolShard
	maxSize     int32
	currentSize atomic.Int32
}

func newConnectionPool(maxSize int32) *connectionPool {
	pool := &connectionPool{maxSize: maxSize}

	const minShardCapacity = 64
	shardCapacity := max(int(maxSize)/poolShardCount, minShardCapacity)

	for i := range poolShardCount {
		pool.shards[i] = &poolShard{
			connections: make(map[string]*Connection, shardCapacity),
		}
	}

	return pool
}

func (p *connectionPool) getShard(userID string) *poolShard {
	return p.shards[internal.ShardForKey(userID, poolShardCount)]
}

// replace registers conn and returns the connection it displaced, if any.
// The displaced connection's heartbeat is already stopped on return.
// Replacing never counts against capacity.
func (p *connectionPool) replace(conn *Connection) (*Connection, error) {
	shard := p.getShard(conn.userID)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	prev, exists := shard.connections[conn.userID]
	if !exists && p.maxSize > 0 && p.currentSize.Load() >= p.maxSize {
		return nil, ErrConnectionPoolFull
	}

	shard.connections[conn.userID] = conn
	if !exists {
		p.currentSize.Add(1)
		return nil, nil
	}

	prev.detach()
	return prev, nil
}

func (p *connectionPool) get(userID string) (*Connection, bool) {
	shard := p.getShard(userID)

	shard.mu.RLock()
	conn, exists := shard.connections[userID]
	shard.mu.RUnlock()
	return conn, exists
}

// remove unregisters whatever connection userID has.
func (p *connectionPool) remove(userID string) *Connection {
	shard := p.getShard(userID)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	conn, exists := shard.connections[userID]
	if !exists {
		return nil
	}
	delete(shard.connections, userID)
	p.currentSize.Add(-1)
	conn.detach()
	return conn
}

// removeIf unregisters conn only while it is still the registered
// connection for its user, so a stale connection never evicts its successor.
func (p *connectionPool) removeIf(conn *Connection) bool {
	shard := p.getShard(conn.userID)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if shard.connections[conn.userID] != conn {
		return false
	}
	delete(shard.connections, conn.userID)
	p.currentSize.Add(-1)
	conn.detach()
	return true
}

func (p *connectionPool) size() int32 {
	return p.currentSize.Load()
}

// forEach snapshots every shard and calls fn without holding any lock.
func (p *connectionPool) forEach(fn func(*Connection)) {
	var allConns []*Connection

	for i := range poolShardCount {
		shard := p.shards[i]
		shard.mu.RLock()
		for _, conn := range shard.connections {
			allConns = append(allConns, conn)
		}
		shard.mu.RUnlock()
	}

	for _, conn := range allConns {
		fn(conn)
	}
}

func (p *connectionPool) userIDs() []string {
	ids := make([]string, 0, p.size())
	p.forEach(func(conn *Connection) {
		ids = append(ids, conn.userID)
	})
	return ids
}
