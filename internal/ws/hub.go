package ws

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/remote-agent-terminal/dashboard/internal/model"
)

// MessageType represents the type of WebSocket message.
type MessageType string

const (
	// Client -> Server message types
	MessageTypeAuth    MessageType = "auth"
	MessageTypeApprove MessageType = "approve"
	MessageTypeSend    MessageType = "send"
	MessageTypePing    MessageType = "ping"

	// Server -> Client message types
	MessageTypeAdd            MessageType = "add"
	MessageTypeRemove         MessageType = "remove"
	MessageTypeUpdate         MessageType = "update"
	MessageTypeApprovalResult MessageType = "approval-result"
	MessageTypeSendResult     MessageType = "send-result"
	MessageTypePong           MessageType = "pong"
	MessageTypeError          MessageType = "error"
)

// sendBufferSize is the number of frames queued per client before it is
// considered too slow and dropped.
const sendBufferSize = 256

// Message represents a WebSocket message. Update and result frames have
// their own types because some of their fields are always present.
type Message struct {
	Type    MessageType    `json:"type"`
	Token   string         `json:"token,omitempty"`
	Name    string         `json:"name,omitempty"`
	Action  any            `json:"action,omitempty"`
	Text    string         `json:"text,omitempty"`
	Session *model.Session `json:"session,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// UpdateMessage carries a full pane snapshot.
type UpdateMessage struct {
	Type    MessageType         `json:"type"`
	Name    string              `json:"name"`
	Content string              `json:"content"`
	Status  model.SessionStatus `json:"status"`
	Details string              `json:"details"`
	Width   int                 `json:"width"`
	Height  int                 `json:"height"`
}

// ResultMessage answers an approve or send command. Name and success are
// always present; action is set on a successful approval, error on failure.
type ResultMessage struct {
	Type    MessageType `json:"type"`
	Name    string      `json:"name"`
	Success bool        `json:"success"`
	Action  any         `json:"action,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func resultMessage(typ MessageType, name string, result model.CommandResult) *ResultMessage {
	reply := &ResultMessage{Type: typ, Name: name, Success: result.Success}
	if !result.Success {
		reply.Error = result.Error
	}
	return reply
}

func addMessage(s model.Session) *Message {
	return &Message{Type: MessageTypeAdd, Session: &s}
}

func removeMessage(name string) *Message {
	return &Message{Type: MessageTypeRemove, Name: name}
}

func updateMessage(snap model.Snapshot) *UpdateMessage {
	return &UpdateMessage{
		Type:    MessageTypeUpdate,
		Name:    snap.Name,
		Content: snap.Content,
		Status:  snap.Status,
		Details: snap.Details,
		Width:   snap.Width,
		Height:  snap.Height,
	}
}

func errorMessage(err error) *Message {
	return &Message{Type: MessageTypeError, Error: err.Error()}
}

// Client represents a WebSocket client connection.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger
	mu     sync.Mutex
	closed bool
}

// NewClient creates a new WebSocket client with a fresh connection ID.
func NewClient(conn *websocket.Conn, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.New().String()
	return &Client{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: logger.With(zap.String("conn", id)),
	}
}

// ID returns the connection ID.
func (c *Client) ID() string {
	return c.id
}

// Send queues a frame. It reports false when the client is closed or its
// buffer is full; a full client is closed.
func (c *Client) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("send buffer full, dropping client")
		c.closeLocked()
		return false
	}
}

// SendMessage marshals v and queues it.
func (c *Client) SendMessage(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("marshal frame", zap.Error(err))
		return false
	}
	return c.Send(data)
}

// EmitAdd queues an add frame for this client only.
func (c *Client) EmitAdd(s model.Session) {
	c.SendMessage(addMessage(s))
}

// EmitRemove queues a remove frame for this client only.
func (c *Client) EmitRemove(name string) {
	c.SendMessage(removeMessage(name))
}

// EmitUpdate queues an update frame for this client only.
func (c *Client) EmitUpdate(snap model.Snapshot) {
	c.SendMessage(updateMessage(snap))
}

// Close closes the client's send channel; the write pump then closes the
// connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the send channel for the client.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// Hub is the set of authenticated clients that receive session events.
type Hub struct {
	clients map[*Client]struct{}
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = struct{}{}
}

// Unregister removes a client from the hub and closes it.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()

	client.Close()
}

// Broadcast sends data to every registered client. The set is copied first,
// so clients may register or leave while a broadcast is in progress. A client
// that cannot take the frame is dropped; the others still receive it.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if !client.Send(data) {
			h.logger.Debug("dropping client", zap.String("conn", client.ID()))
			h.Unregister(client)
		}
	}
}

// BroadcastMessage marshals v and sends it to every registered client.
func (h *Hub) BroadcastMessage(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// EmitAdd broadcasts an add frame.
func (h *Hub) EmitAdd(s model.Session) {
	h.emit(addMessage(s))
}

// EmitRemove broadcasts a remove frame.
func (h *Hub) EmitRemove(name string) {
	h.emit(removeMessage(name))
}

// EmitUpdate broadcasts an update frame.
func (h *Hub) EmitUpdate(snap model.Snapshot) {
	h.emit(updateMessage(snap))
}

func (h *Hub) emit(v any) {
	if err := h.BroadcastMessage(v); err != nil {
		h.logger.Error("marshal broadcast frame", zap.Error(err))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close closes all client connections.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}
