package business

import (
	"context"
	"sync/atomic"
	"time"
)

type heartbeatState int32

const (
	heartbeatRunning heartbeatState = iota
	heartbeatStopped
)

const (
	reasonHeartbeatSendFailed = "heartbeat send failed"
	reasonHeartbeatAckTimeout = "heartbeat not acknowledged"
)

//nolint:gochecknoglobals // constant frame
var heartbeatFrame = []byte(`{"type":"heartbeat"}`)

// heartbeat keeps one connection honest. Every interval it writes a
// heartbeat frame; a failed write, or a missing ack when ackTimeout > 0,
// hands the connection to onFailure and stops. It never retries.
type heartbeat struct {
	conn       *Connection
	interval   time.Duration
	ackTimeout time.Duration
	onFailure  func(ctx context.Context, conn *Connection, reason string)

	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
}

func startHeartbeat(
	ctx context.Context,
	conn *Connection,
	interval time.Duration,
	ackTimeout time.Duration,
	onFailure func(ctx context.Context, conn *Connection, reason string),
) *heartbeat {
	hbCtx, cancel := context.WithCancel(ctx)
	hb := &heartbeat{
		conn:       conn,
		interval:   interval,
		ackTimeout: ackTimeout,
		onFailure:  onFailure,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	hb.state.Store(int32(heartbeatRunning))

	go hb.run(hbCtx)
	return hb
}

func (hb *heartbeat) run(ctx context.Context) {
	defer close(hb.done)
	defer hb.state.Store(int32(heartbeatStopped))

	ticker := time.NewTicker(hb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		sentAt := time.Now()
		if err := hb.conn.write(ctx, heartbeatFrame); err != nil {
			if ctx.Err() != nil {
				return
			}
			hb.onFailure(ctx, hb.conn, reasonHeartbeatSendFailed)
			return
		}

		if hb.ackTimeout <= 0 {
			continue
		}
		if !hb.awaitAck(ctx, sentAt) {
			if ctx.Err() != nil {
				return
			}
			hb.onFailure(ctx, hb.conn, reasonHeartbeatAckTimeout)
			return
		}
	}
}

// awaitAck reports whether the client sent anything after sentAt.
func (hb *heartbeat) awaitAck(ctx context.Context, sentAt time.Time) bool {
	timer := time.NewTimer(hb.ackTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}
	return !hb.conn.LastSeen().Before(sentAt)
}

func (hb *heartbeat) stop() {
	hb.cancel()
}

func (hb *heartbeat) wait() {
	<-hb.done
}

func (hb *heartbeat) running() bool {
	return heartbeatState(hb.state.Load()) == heartbeatRunning
}
