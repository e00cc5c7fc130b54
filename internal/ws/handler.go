package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/remote-agent-terminal/dashboard/internal/auth"
	"github.com/remote-agent-terminal/dashboard/internal/model"
	"github.com/remote-agent-terminal/dashboard/internal/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Sent text is not limited by
	// the router, so this is generous.
	maxMessageSize = 1 << 20

	// DefaultAuthTimeout bounds the wait for the first auth frame.
	DefaultAuthTimeout = 10 * time.Second
)

var errUnknownType = errors.New("unknown message type")

// Joiner hands a new viewer its initial view and registers it.
type Joiner interface {
	Join(ctx context.Context, viewer session.Emitter, register func())
}

// Dispatcher runs viewer commands.
type Dispatcher interface {
	Approve(ctx context.Context, cmd model.ApprovalCommand) model.CommandResult
	SendText(ctx context.Context, cmd model.SendTextCommand) model.CommandResult
}

// Config holds configuration for the WebSocket handler.
type Config struct {
	// AuthTimeout bounds the wait for an auth frame when the upgrade request
	// carried no token header.
	AuthTimeout time.Duration

	// AllowedOrigins restricts browser origins. Empty allows any origin.
	AllowedOrigins []string
}

// Handler upgrades viewer connections, authenticates them and routes their
// commands.
type Handler struct {
	hub         *Hub
	joiner      Joiner
	dispatcher  Dispatcher
	gate        *auth.Gate
	logger      *zap.Logger
	authTimeout time.Duration
	upgrader    websocket.Upgrader
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *Hub, joiner Joiner, dispatcher Dispatcher, gate *auth.Gate, logger *zap.Logger, config Config) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.AuthTimeout <= 0 {
		config.AuthTimeout = DefaultAuthTimeout
	}
	return &Handler{
		hub:         hub,
		joiner:      joiner,
		dispatcher:  dispatcher,
		gate:        gate,
		logger:      logger,
		authTimeout: config.AuthTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(config.AllowedOrigins),
		},
	}
}

// originChecker allows requests without an Origin header (non-browser
// clients) and, when origins are configured, only those origins.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// HandleConnection authenticates and upgrades a viewer connection.
//
// A token in the upgrade headers is checked before upgrading and a bad one is
// answered with 401 or 403. Without one, the first frame must be an auth
// frame arriving within the auth timeout; otherwise the viewer gets an error
// frame and a policy-violation close. No session event is sent before
// authentication succeeds.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	preAuthed := false
	if token := auth.TokenFromRequest(r); token != "" {
		if err := h.gate.Check(token); err != nil {
			h.logger.Warn("rejected websocket upgrade", zap.String("remote", r.RemoteAddr), zap.Error(err))
			http.Error(w, err.Error(), auth.StatusCode(err))
			return nil
		}
		preAuthed = true
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	if !preAuthed {
		if err := h.authenticate(conn); err != nil {
			h.logger.Warn("rejected websocket auth", zap.String("remote", r.RemoteAddr), zap.Error(err))
			h.reject(conn, err)
			return nil
		}
	}

	client := NewClient(conn, h.logger)
	client.logger.Info("viewer connected", zap.String("remote", r.RemoteAddr))

	// The write pump drains the initial view while Join is still queueing it.
	go h.writePump(client)
	h.joiner.Join(r.Context(), client, func() {
		h.hub.Register(client)
	})
	go h.readPump(client)

	return nil
}

// authenticate reads the first frame and checks it is a valid auth frame.
func (h *Handler) authenticate(conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(h.authTimeout))

	_, data, err := conn.ReadMessage()
	if err != nil {
		return auth.ErrMissingToken
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != MessageTypeAuth {
		return auth.ErrMissingToken
	}
	return h.gate.Check(msg.Token)
}

// reject sends an error frame and closes with a policy violation.
func (h *Handler) reject(conn *websocket.Conn, cause error) {
	defer conn.Close()

	deadline := time.Now().Add(writeWait)
	conn.SetWriteDeadline(deadline)
	if data, err := json.Marshal(errorMessage(cause)); err == nil {
		conn.WriteMessage(websocket.TextMessage, data)
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, cause.Error()), deadline)
}

// handleMessage processes incoming messages from clients. Results go back to
// the sender only.
func (h *Handler) handleMessage(ctx context.Context, client *Client, msg *Message) {
	switch msg.Type {
	case MessageTypeApprove:
		h.handleApprove(ctx, client, msg)
	case MessageTypeSend:
		h.handleSend(ctx, client, msg)
	case MessageTypePing:
		client.SendMessage(&Message{Type: MessageTypePong})
	case MessageTypeAuth:
		// Already authenticated.
	default:
		client.SendMessage(errorMessage(errUnknownType))
	}
}

func (h *Handler) handleApprove(ctx context.Context, client *Client, msg *Message) {
	var result model.CommandResult
	if err := model.AssertSafeAction(msg.Action); err != nil {
		result = model.CommandResult{Success: false, Error: err.Error()}
	} else {
		action, _ := msg.Action.(string)
		result = h.dispatcher.Approve(ctx, model.ApprovalCommand{Name: msg.Name, Action: action})
	}

	reply := resultMessage(MessageTypeApprovalResult, msg.Name, result)
	if result.Success {
		reply.Action = msg.Action
	}
	client.SendMessage(reply)
}

func (h *Handler) handleSend(ctx context.Context, client *Client, msg *Message) {
	result := h.dispatcher.SendText(ctx, model.SendTextCommand{Name: msg.Name, Text: msg.Text})

	client.SendMessage(resultMessage(MessageTypeSendResult, msg.Name, result))
}

// readPump reads commands until the connection fails. Commands from one
// viewer run one at a time, in arrival order.
func (h *Handler) readPump(client *Client) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		h.hub.Unregister(client)
		client.Conn().Close()
		client.logger.Info("viewer disconnected")
	}()

	client.Conn().SetReadLimit(maxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				client.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(errorMessage(errors.New("malformed message")))
			continue
		}

		h.handleMessage(ctx, client, &msg)
	}
}

// writePump pumps queued frames to the WebSocket connection.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Each frame is a complete JSON document.
			if err := client.Conn().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
