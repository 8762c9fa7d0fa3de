// Package business holds the realtime core of the gateway: the connection
// manager and presence registry, the heartbeat supervisor, the message
// router and the handlers behind it.
//
// Every user has at most one registered connection. Connect replaces any
// previous one (its transport is closed and its heartbeat stopped), and the
// registry entry, the heartbeat and presence always change together under the
// user's shard lock. A failed write or heartbeat tears down only the
// connection it was made on.
//
// Background tasks:
//   - Metrics reporting: every 10 seconds
//   - Health monitoring: every 60 seconds
//   - Presence mirror refresh: every heartbeat interval
package business

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/config"
	"github.com/gillverbasiglo/genie-api-sub000/internal"
	"github.com/gillverbasiglo/genie-api-sub000/internal/telemetry"
	"github.com/pitabwire/frame/cache"
	"github.com/pitabwire/util"
)

const (
	metricsReportInterval = 10 * time.Second
	healthCheckInterval   = 60 * time.Second
	shutdownTimeout       = 30 * time.Second
	presenceUpdateTimeout = 3 * time.Second

	defaultHeartbeatInterval = 30 * time.Second

	utilizationThreshold   = 80
	utilizationScaleFactor = 100

	reasonReplaced       = "replaced by a new connection"
	reasonSendFailed     = "send failed"
	reasonClientClosed   = "connection closed"
	reasonServerShutdown = "server shutdown"
)

// Settings tunes a connection manager.
type Settings struct {
	MaxConnections      int
	HeartbeatInterval   time.Duration
	HeartbeatAckTimeout time.Duration
	WriteTimeout        time.Duration
	PresenceTTL         time.Duration
}

// SettingsFromConfig maps the gateway configuration onto manager settings.
func SettingsFromConfig(cfg *config.GatewayConfig) Settings {
	return Settings{
		MaxConnections:      cfg.MaxConnections,
		HeartbeatInterval:   cfg.HeartbeatInterval(),
		HeartbeatAckTimeout: cfg.HeartbeatAckTimeout(),
		WriteTimeout:        cfg.WriteTimeout(),
		PresenceTTL:         cfg.PresenceTTL(),
	}
}

// PresenceRecord is what other processes see for a connected user.
type PresenceRecord struct {
	UserID      string `json:"user_id"`
	GatewayID   string `json:"gateway_id"`
	ConnectedAt int64  `json:"connected_at"` // Unix timestamp
}

type connectionManager struct {
	connPool *connectionPool

	// presence mirrors the pool into the shared cache. Best effort, never read
	// back for local decisions.
	presence cache.Cache[string, PresenceRecord]

	gatewayID string
	settings  Settings

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup

	totalConns        atomic.Uint64
	failedConns       atomic.Uint64
	replacedConns     atomic.Uint64
	disconnectedConns atomic.Uint64
}

// NewConnectionManager builds the manager and starts its background tasks.
// rawCache may be nil, in which case presence is kept local only.
func NewConnectionManager(ctx context.Context, settings Settings, rawCache cache.RawCache) ConnectionManager {
	return newConnectionManager(ctx, settings, rawCache)
}

func newConnectionManager(ctx context.Context, settings Settings, rawCache cache.RawCache) *connectionManager {
	if settings.HeartbeatInterval <= 0 {
		settings.HeartbeatInterval = defaultHeartbeatInterval
	}
	if settings.PresenceTTL <= 0 {
		settings.PresenceTTL = 3 * settings.HeartbeatInterval
	}

	maxSize := settings.MaxConnections
	if maxSize > math.MaxInt32 {
		maxSize = math.MaxInt32
	}

	cm := &connectionManager{
		//nolint:gosec // clamped above
		connPool:   newConnectionPool(int32(maxSize)),
		gatewayID:  fmt.Sprintf("gateway-%d", time.Now().UnixNano()),
		settings:   settings,
		shutdownCh: make(chan struct{}),
	}

	if rawCache != nil {
		cm.presence = cache.NewGenericCache[string, PresenceRecord](rawCache, func(s string) string {
			return s
		})
	}

	cm.startBackgroundTasks(ctx)
	return cm
}

func (cm *connectionManager) startBackgroundTasks(ctx context.Context) {
	cm.wg.Add(1)
	go cm.every(ctx, metricsReportInterval, cm.publishMetrics)

	cm.wg.Add(1)
	go cm.every(ctx, healthCheckInterval, cm.performHealthCheck)

	if cm.presence != nil {
		cm.wg.Add(1)
		go cm.every(ctx, cm.settings.HeartbeatInterval, cm.refreshPresence)
	}
}

func (cm *connectionManager) every(ctx context.Context, interval time.Duration, task func(ctx context.Context)) {
	defer cm.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-cm.shutdownCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			task(ctx)
		}
	}
}

func (cm *connectionManager) Connect(ctx context.Context, transport Transport, userID string) (*Connection, error) {
	if userID == "" || transport == nil {
		cm.failedConns.Add(1)
		telemetry.ConnectionsFailed.Add(ctx, 1)
		return nil, ErrInvalidInput
	}

	select {
	case <-cm.shutdownCh:
		return nil, ErrShuttingDown
	default:
	}

	cm.totalConns.Add(1)
	telemetry.ConnectionsTotal.Add(ctx, 1)

	ctx, span := telemetry.ConnectionTracer.Start(ctx, "Connect")
	var err error
	defer func() { telemetry.ConnectionTracer.End(ctx, span, err) }()

	conn := newConnection(userID, transport, cm.settings.WriteTimeout)
	// The heartbeat outlives the request that opened the connection.
	conn.hb = startHeartbeat(
		context.WithoutCancel(ctx),
		conn,
		cm.settings.HeartbeatInterval,
		cm.settings.HeartbeatAckTimeout,
		cm.onHeartbeatFailure,
	)

	var prev *Connection
	prev, err = cm.register(ctx, conn)
	if err != nil {
		return nil, err
	}

	cm.mirrorOnline(ctx, conn)

	util.Log(ctx).WithFields(map[string]any{
		"user_id":    userID,
		"gateway_id": cm.gatewayID,
		"pool_size":  cm.connPool.size(),
		"replaced":   prev != nil,
	}).Debug("User connected to gateway")

	return conn, nil
}

// register puts conn into the pool in place of any previous connection.
// A Shutdown that began before conn landed in the pool may have missed it,
// so conn is torn down again once shutdown is seen.
func (cm *connectionManager) register(ctx context.Context, conn *Connection) (*Connection, error) {
	prev, err := cm.connPool.replace(conn)
	if err != nil {
		conn.hb.stop()
		conn.hb.wait()
		cm.failedConns.Add(1)
		telemetry.ConnectionsFailed.Add(ctx, 1)
		return nil, err
	}

	if prev != nil {
		cm.replacedConns.Add(1)
		telemetry.ConnectionsReplaced.Add(ctx, 1)
		cm.closeConnection(ctx, prev, reasonReplaced, true)
	} else {
		telemetry.ConnectionsActive.Add(ctx, 1)
	}

	select {
	case <-cm.shutdownCh:
		cm.disconnectConn(ctx, conn, reasonServerShutdown, true)
		return nil, ErrShuttingDown
	default:
	}

	return prev, nil
}

// Disconnect removes whatever connection userID has. Calling it for a user
// that is not connected does nothing.
func (cm *connectionManager) Disconnect(ctx context.Context, userID string, reason string) {
	conn := cm.connPool.remove(userID)
	if conn == nil {
		return
	}
	cm.afterRemoval(ctx, conn)
	cm.closeConnection(ctx, conn, reason, true)
}

// disconnectConn removes conn only while it is still the user's registered
// connection. The transport is closed either way.
func (cm *connectionManager) disconnectConn(ctx context.Context, conn *Connection, reason string, waitHeartbeat bool) {
	if cm.connPool.removeIf(conn) {
		cm.afterRemoval(ctx, conn)
	}
	cm.closeConnection(ctx, conn, reason, waitHeartbeat)
}

func (cm *connectionManager) onHeartbeatFailure(ctx context.Context, conn *Connection, reason string) {
	telemetry.HeartbeatFailures.Add(ctx, 1)
	util.Log(ctx).WithFields(map[string]any{
		"user_id":    conn.userID,
		"error_type": "heartbeat.failed",
		"reason":     reason,
	}).Debug("Heartbeat failed, dropping connection")

	// Running on the heartbeat goroutine itself; it must not wait on itself.
	cm.disconnectConn(ctx, conn, reason, false)
}

func (cm *connectionManager) afterRemoval(ctx context.Context, conn *Connection) {
	cm.disconnectedConns.Add(1)
	telemetry.ConnectionsDisconnected.Add(ctx, 1)
	telemetry.ConnectionsActive.Add(ctx, -1)

	if !cm.IsOnline(conn.userID) {
		cm.clearPresence(ctx, conn.userID)
	}
}

func (cm *connectionManager) closeConnection(ctx context.Context, conn *Connection, reason string, waitHeartbeat bool) {
	if err := conn.close(); err != nil {
		util.Log(ctx).WithError(err).WithFields(map[string]any{
			"user_id":    conn.userID,
			"error_type": "transport.close.error",
		}).Debug("Closing transport failed")
	}

	if waitHeartbeat && conn.hb != nil {
		conn.hb.wait()
	}

	util.Log(ctx).WithFields(map[string]any{
		"user_id":  conn.userID,
		"reason":   reason,
		"duration": time.Since(conn.createdAt).String(),
	}).Debug("User disconnected from gateway")
}

// Send writes one frame to userID. It reports false with a nil error when
// the user has no connection. A failed write disconnects that connection
// before returning ErrSendFailed.
func (cm *connectionManager) Send(ctx context.Context, userID string, msgType MessageType, payload any) (bool, error) {
	conn, ok := cm.connPool.get(userID)
	if !ok {
		return false, nil
	}

	frame, err := EncodeFrame(msgType, payload)
	if err != nil {
		return false, err
	}

	if err = conn.write(ctx, frame); err != nil {
		telemetry.MessagesSendFailed.Add(ctx, 1)
		util.Log(ctx).WithError(err).WithFields(map[string]any{
			"user_id":      userID,
			"message_type": msgType,
			"error_type":   "outbound.send.error",
		}).Warn("Outbound send failed")

		cm.disconnectConn(ctx, conn, reasonSendFailed, true)
		return false, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	telemetry.MessagesDelivered.Add(ctx, 1)
	return true, nil
}

func (cm *connectionManager) IsOnline(userID string) bool {
	_, ok := cm.connPool.get(userID)
	return ok
}

func (cm *connectionManager) ListOnline() []string {
	return cm.connPool.userIDs()
}

func (cm *connectionManager) Serve(
	ctx context.Context,
	transport Transport,
	userID string,
	dispatcher Dispatcher,
) error {
	conn, err := cm.Connect(ctx, transport, userID)
	if err != nil {
		_ = transport.Close()
		return err
	}
	defer cm.disconnectConn(context.WithoutCancel(ctx), conn, reasonClientClosed, true)

	for {
		frame, recvErr := transport.Receive()
		if recvErr != nil {
			return recvErr
		}
		conn.touch()

		msg, decodeErr := DecodeInbound(frame)
		if decodeErr != nil {
			telemetry.MessagesDropped.Add(ctx, 1)
			util.Log(ctx).WithError(decodeErr).WithFields(map[string]any{
				"user_id":    userID,
				"error_type": "inbound.decode.error",
			}).Debug("Dropping undecodable frame")
			continue
		}

		if msg.Type == TypeHeartbeatAck {
			continue
		}

		dispatcher.Dispatch(ctx, msg, userID)
	}
}

func (cm *connectionManager) ActiveConnections() int {
	return int(cm.connPool.size())
}

func (cm *connectionManager) Capacity() int {
	return int(cm.connPool.maxSize)
}

func (cm *connectionManager) mirrorOnline(ctx context.Context, conn *Connection) {
	if cm.presence == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, presenceUpdateTimeout)
	defer cancel()

	record := PresenceRecord{
		UserID:      conn.userID,
		GatewayID:   cm.gatewayID,
		ConnectedAt: conn.createdAt.Unix(),
	}
	if err := cm.presence.Set(ctx, internal.PresenceKey(conn.userID), record, cm.settings.PresenceTTL); err != nil {
		util.Log(ctx).WithError(err).WithField("user_id", conn.userID).Debug("Failed to mirror presence")
	}
}

func (cm *connectionManager) mirrorOffline(ctx context.Context, userID string) {
	if cm.presence == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, presenceUpdateTimeout)
	defer cancel()

	if err := cm.presence.Delete(ctx, internal.PresenceKey(userID)); err != nil {
		util.Log(ctx).WithError(err).WithField("user_id", userID).Debug("Failed to clear mirrored presence")
	}
}

// clearPresence drops the mirrored entry for userID. A successor that
// registered while the entry was being deleted is mirrored again, so the
// cache is only briefly wrong.
func (cm *connectionManager) clearPresence(ctx context.Context, userID string) {
	cm.mirrorOffline(ctx, userID)

	if successor, ok := cm.connPool.get(userID); ok {
		cm.mirrorOnline(ctx, successor)
	}
}

// refreshPresence extends the TTL of every mirrored entry this gateway owns.
func (cm *connectionManager) refreshPresence(ctx context.Context) {
	cm.connPool.forEach(func(conn *Connection) {
		cm.mirrorOnline(ctx, conn)
	})
}

func (cm *connectionManager) utilization() float64 {
	if cm.connPool.maxSize <= 0 {
		return 0
	}
	return float64(cm.connPool.size()) / float64(cm.connPool.maxSize) * utilizationScaleFactor
}

func (cm *connectionManager) publishMetrics(ctx context.Context) {
	util.Log(ctx).WithFields(map[string]any{
		"metric_type":              "connection_stats",
		"gateway_id":               cm.gatewayID,
		"connections_active":       cm.connPool.size(),
		"connections_total":        cm.totalConns.Load(),
		"connections_failed":       cm.failedConns.Load(),
		"connections_replaced":     cm.replacedConns.Load(),
		"connections_disconnected": cm.disconnectedConns.Load(),
		"pool_utilization":         cm.utilization(),
	}).Debug("connection metrics")
}

func (cm *connectionManager) performHealthCheck(ctx context.Context) {
	utilization := cm.utilization()
	if utilization > utilizationThreshold {
		util.Log(ctx).WithFields(map[string]any{
			"pool_size":   cm.connPool.size(),
			"max_size":    cm.connPool.maxSize,
			"utilization": fmt.Sprintf("%.2f%%", utilization),
		}).Warn("connection pool utilization high")
	}
}

// Shutdown refuses new connections, disconnects every live one and waits for
// the background tasks. Safe to call more than once.
func (cm *connectionManager) Shutdown(ctx context.Context) error {
	cm.shutdownOnce.Do(func() {
		util.Log(ctx).Info("Shutting down connection manager")
		close(cm.shutdownCh)

		cm.connPool.forEach(func(conn *Connection) {
			cm.disconnectConn(ctx, conn, reasonServerShutdown, true)
		})

		done := make(chan struct{})
		go func() {
			cm.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			util.Log(ctx).Info("connection manager shutdown complete")
		case <-ctx.Done():
			util.Log(ctx).Warn("connection manager shutdown interrupted")
		case <-time.After(shutdownTimeout):
			util.Log(ctx).Warn("connection manager shutdown timed out")
		}
	})

	return nil
}
