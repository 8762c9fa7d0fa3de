package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/service/business"
	"github.com/gillverbasiglo/genie-api-sub000/internal"
	"github.com/gorilla/websocket"
	"github.com/pitabwire/util"
)

const (
	closeGracePeriod = time.Second
	maxNotifyBody    = 64 << 10
)

// UserDirectory answers whether an identity may open a connection.
type UserDirectory interface {
	UserExists(ctx context.Context, userID string) (bool, error)
}

// NotificationPusher queues an offline push tagged with its notification kind.
type NotificationPusher interface {
	SendNotificationPush(ctx context.Context, userID, kind, title, body string) error
}

// GatewayServer exposes the connection manager over HTTP: the client
// websocket and the internal notification endpoint used by other services.
type GatewayServer struct {
	cm         business.ConnectionManager
	dispatcher business.Dispatcher
	users      UserDirectory
	notifier   NotificationPusher

	upgrader      websocket.Upgrader
	maxFrameBytes int64
}

// NewGatewayServer creates the HTTP surface for websocket upgrades and notify calls.
func NewGatewayServer(
	cm business.ConnectionManager,
	dispatcher business.Dispatcher,
	users UserDirectory,
	notifier NotificationPusher,
	maxFrameBytes int,
) *GatewayServer {
	return &GatewayServer{
		cm:         cm,
		dispatcher: dispatcher,
		users:      users,
		notifier:   notifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Native clients send no Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		maxFrameBytes: int64(maxFrameBytes),
	}
}

// Register mounts the gateway routes on mux.
func (gs *GatewayServer) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/{user_id}", gs.ServeWebSocket)
	mux.HandleFunc("POST /internal/notify/{user_id}", gs.Notify)
}

// authorize resolves the path identity. Validated bearer claims, when
// present, must name the same user.
func (gs *GatewayServer) authorize(r *http.Request) (string, int, error) {
	ctx := r.Context()
	userID := r.PathValue("user_id")
	if userID == "" {
		return "", http.StatusBadRequest, errors.New("user id is required")
	}

	subject, hasClaims, err := internal.AuthSubject(ctx)
	if err != nil {
		return "", http.StatusUnauthorized, err
	}
	if hasClaims && subject != userID {
		return "", http.StatusForbidden, errors.New("token subject does not match user")
	}

	exists, err := gs.users.UserExists(ctx, userID)
	if err != nil {
		return "", http.StatusInternalServerError, err
	}
	if !exists {
		return "", http.StatusNotFound, errors.New("user not found")
	}
	return userID, http.StatusOK, nil
}

// ServeWebSocket upgrades the request and serves the connection until the
// client goes away.
func (gs *GatewayServer) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, code, err := gs.authorize(r)
	if err != nil {
		util.Log(ctx).WithError(err).WithFields(map[string]any{
			"user_id": r.PathValue("user_id"),
			"status":  code,
		}).Debug("Rejected websocket connection")
		http.Error(w, http.StatusText(code), code)
		return
	}

	conn, err := gs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.Log(ctx).WithError(err).WithField("user_id", userID).Debug("Websocket upgrade failed")
		return
	}
	if gs.maxFrameBytes > 0 {
		conn.SetReadLimit(gs.maxFrameBytes)
	}

	util.Log(ctx).WithField("user_id", userID).Info("New websocket connection")

	err = gs.cm.Serve(ctx, newWSTransport(conn), userID, gs.dispatcher)
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		util.Log(ctx).WithError(err).WithField("user_id", userID).Debug("Websocket connection ended")
	}
}

type PushContent struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// NotifyRequest carries a server-originated event for one user. Push is
// used only when the user has no live connection.
type NotifyRequest struct {
	Type    business.MessageType `json:"type"`
	Payload json.RawMessage      `json:"payload,omitempty"`
	Push    *PushContent         `json:"push,omitempty"`
}

type NotifyResponse struct {
	Delivered bool `json:"delivered"`
	Pushed    bool `json:"pushed"`
}

// Notify delivers a notification frame to a user, falling back to an
// offline push. Only authenticated callers are served.
func (gs *GatewayServer) Notify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, hasClaims, err := internal.AuthSubject(ctx); err != nil || !hasClaims {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	userID := r.PathValue("user_id")
	if userID == "" {
		http.Error(w, "user id is required", http.StatusBadRequest)
		return
	}

	var req NotifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxNotifyBody)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !business.IsNotificationType(req.Type) {
		http.Error(w, "unsupported notification type", http.StatusBadRequest)
		return
	}

	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}

	// Send skips encoding for offline users, so validate here.
	if _, err := business.EncodeFrame(req.Type, payload); err != nil {
		http.Error(w, "payload must be a JSON object", http.StatusBadRequest)
		return
	}

	var resp NotifyResponse
	delivered, err := gs.cm.Send(ctx, userID, req.Type, payload)
	if err != nil && !errors.Is(err, business.ErrSendFailed) {
		util.Log(ctx).WithError(err).WithField("user_id", userID).Error("Notification send failed")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	resp.Delivered = delivered

	if !delivered && req.Push != nil {
		if err = gs.notifier.SendNotificationPush(ctx, userID, string(req.Type), req.Push.Title, req.Push.Body); err != nil {
			util.Log(ctx).WithError(err).WithField("user_id", userID).Warn("Offline push for notification failed")
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
			return
		}
		resp.Pushed = true
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// wsTransport adapts a gorilla websocket to business.Transport. Writes are
// serialised by the connection manager.
type wsTransport struct {
	conn *websocket.Conn
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) Receive() ([]byte, error) {
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (t *wsTransport) Send(ctx context.Context, frame []byte) error {
	deadline, _ := ctx.Deadline()
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

func (t *wsTransport) Close() error {
	_ = t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGracePeriod),
	)
	return t.conn.Close()
}
