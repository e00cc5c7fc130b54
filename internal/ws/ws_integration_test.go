package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remote-agent-terminal/dashboard/internal/auth"
	"github.com/remote-agent-terminal/dashboard/internal/model"
	"github.com/remote-agent-terminal/dashboard/internal/session"
	"github.com/remote-agent-terminal/dashboard/internal/status"
)

const testToken = "s3cret"

type stubInventory struct {
	mu    sync.Mutex
	names []string
}

func (s *stubInventory) set(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = names
}

func (s *stubInventory) ListSessions(_ context.Context) ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Session, 0, len(s.names))
	for _, n := range s.names {
		out = append(out, model.Session{Name: n, CreatedAt: time.Unix(1700000000, 0).UTC(), Width: 100, Height: 30})
	}
	return out, nil
}

type stubCapturer struct{}

func (stubCapturer) CapturePane(_ context.Context, name string) (string, error) {
	return "\x1b[32m" + name + "$\x1b[0m", nil
}

type stubProber struct{}

func (stubProber) Probe(_ context.Context, _ string, _ string) status.Result {
	return status.Result{Status: model.SessionStatusWaitingApproval, Details: "Bash(ls)"}
}

type recordingDispatcher struct {
	mu        sync.Mutex
	approvals []model.ApprovalCommand
	sends     []model.SendTextCommand
}

func (d *recordingDispatcher) Approve(_ context.Context, cmd model.ApprovalCommand) model.CommandResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := cmd.Validate(); err != nil {
		return model.CommandResult{Error: err.Error()}
	}
	d.approvals = append(d.approvals, cmd)
	return model.CommandResult{Success: true}
}

func (d *recordingDispatcher) SendText(_ context.Context, cmd model.SendTextCommand) model.CommandResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := cmd.Validate(); err != nil {
		return model.CommandResult{Error: err.Error()}
	}
	d.sends = append(d.sends, cmd)
	return model.CommandResult{Success: true}
}

type testServer struct {
	server     *httptest.Server
	hub        *Hub
	reconciler *session.Reconciler
	inventory  *stubInventory
	dispatcher *recordingDispatcher
}

func setupTestServer(t *testing.T, names ...string) *testServer {
	t.Helper()

	hub := NewHub(nil)
	inv := &stubInventory{names: names}
	reconciler := session.NewReconciler(inv, stubCapturer{}, stubProber{}, hub, nil, session.Config{})
	reconciler.Tick(context.Background())

	dispatcher := &recordingDispatcher{}
	handler := NewHandler(hub, reconciler, dispatcher, auth.NewGate(testToken), nil, Config{AuthTimeout: 200 * time.Millisecond})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := handler.HandleConnection(w, r); err != nil {
			t.Logf("handle connection: %v", err)
		}
	}))
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})

	return &testServer{server: server, hub: hub, reconciler: reconciler, inventory: inv, dispatcher: dispatcher}
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.server.URL, "http")
}

func (ts *testServer) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(ts.url(), header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func writeFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// frameKey reduces a frame to "type name" for ordering assertions.
func frameKey(frame map[string]any) string {
	name, _ := frame["name"].(string)
	if s, ok := frame["session"].(map[string]any); ok {
		name, _ = s["name"].(string)
	}
	return frame["type"].(string) + " " + name
}

func TestHandshakeRejectsBadHeaderToken(t *testing.T) {
	ts := setupTestServer(t, "A")

	header := http.Header{}
	header.Set(auth.HeaderToken, "wrong")
	_, resp, err := websocket.DefaultDialer.Dial(ts.url(), header)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, ts.hub.ClientCount())
}

func TestHandshakeIgnoresQueryToken(t *testing.T) {
	ts := setupTestServer(t, "A")

	conn, _, err := websocket.DefaultDialer.Dial(ts.url()+"/?token="+testToken, nil)
	require.NoError(t, err)
	defer conn.Close()

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
}

func TestHandshakeWithoutAuthIsClosed(t *testing.T) {
	ts := setupTestServer(t, "A", "B")
	conn := ts.dial(t, nil)

	// No auth frame is sent; the deadline expires.
	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, auth.ErrMissingToken.Error(), frame["error"])

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	assert.Equal(t, 0, ts.hub.ClientCount())
}

func TestHandshakeWrongAuthFrame(t *testing.T) {
	ts := setupTestServer(t, "A")
	conn := ts.dial(t, nil)

	writeFrame(t, conn, map[string]any{"type": "auth", "token": "nope"})
	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, auth.ErrInvalidToken.Error(), frame["error"])

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestAuthFrameReceivesSnapshot(t *testing.T) {
	ts := setupTestServer(t, "A", "B")
	conn := ts.dial(t, nil)

	writeFrame(t, conn, map[string]any{"type": "auth", "token": testToken})

	var keys []string
	var frames []map[string]any
	for i := 0; i < 4; i++ {
		f := readFrame(t, conn)
		frames = append(frames, f)
		keys = append(keys, frameKey(f))
	}
	assert.Equal(t, []string{"add A", "update A", "add B", "update B"}, keys)

	update := frames[1]
	assert.Equal(t, "\x1b[32mA$\x1b[0m", update["content"])
	assert.Equal(t, "waiting-approval", update["status"])
	assert.Equal(t, "Bash(ls)", update["details"])
	assert.Equal(t, float64(100), update["width"])
	assert.Equal(t, float64(30), update["height"])

	added := frames[0]["session"].(map[string]any)
	assert.Equal(t, "A", added["name"])
	assert.Equal(t, "2023-11-14T22:13:20Z", added["createdAt"])
}

func TestHeaderAuthReceivesSnapshotThenBroadcasts(t *testing.T) {
	ts := setupTestServer(t, "A")

	header := http.Header{}
	header.Set("Authorization", "Bearer "+testToken)
	conn := ts.dial(t, header)

	assert.Equal(t, "add A", frameKey(readFrame(t, conn)))
	assert.Equal(t, "update A", frameKey(readFrame(t, conn)))

	require.Eventually(t, func() bool { return ts.hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	ts.inventory.set("C")
	ts.reconciler.Tick(context.Background())

	assert.Equal(t, "add C", frameKey(readFrame(t, conn)))
	assert.Equal(t, "remove A", frameKey(readFrame(t, conn)))
	assert.Equal(t, "update C", frameKey(readFrame(t, conn)))
}

func authedConn(t *testing.T, ts *testServer, sessions int) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set(auth.HeaderToken, testToken)
	conn := ts.dial(t, header)
	for i := 0; i < sessions*2; i++ {
		readFrame(t, conn)
	}
	return conn
}

func TestApproveRoundTrip(t *testing.T) {
	ts := setupTestServer(t, "A")
	conn := authedConn(t, ts, 1)

	writeFrame(t, conn, map[string]any{"type": "approve", "name": "A", "action": "deny"})
	frame := readFrame(t, conn)
	assert.Equal(t, "approval-result", frame["type"])
	assert.Equal(t, "A", frame["name"])
	assert.Equal(t, true, frame["success"])
	assert.Equal(t, "deny", frame["action"])

	ts.dispatcher.mu.Lock()
	defer ts.dispatcher.mu.Unlock()
	assert.Equal(t, []model.ApprovalCommand{{Name: "A", Action: "deny"}}, ts.dispatcher.approvals)
}

func TestApproveRejectsBadAction(t *testing.T) {
	ts := setupTestServer(t, "A")
	conn := authedConn(t, ts, 1)

	for _, action := range []any{"approved", nil, 1} {
		writeFrame(t, conn, map[string]any{"type": "approve", "name": "A", "action": action})
		frame := readFrame(t, conn)
		assert.Equal(t, "approval-result", frame["type"])
		assert.Equal(t, false, frame["success"])
		assert.Equal(t, model.ErrInvalidAction.Error(), frame["error"])
		assert.NotContains(t, frame, "action")
	}

	ts.dispatcher.mu.Lock()
	defer ts.dispatcher.mu.Unlock()
	assert.Empty(t, ts.dispatcher.approvals)
}

func TestSendRoundTrip(t *testing.T) {
	ts := setupTestServer(t, "A")
	conn := authedConn(t, ts, 1)

	writeFrame(t, conn, map[string]any{"type": "send", "name": "A", "text": "git status"})
	frame := readFrame(t, conn)
	assert.Equal(t, "send-result", frame["type"])
	assert.Equal(t, true, frame["success"])
	assert.NotContains(t, frame, "error")

	writeFrame(t, conn, map[string]any{"type": "send", "name": "a b", "text": "x"})
	frame = readFrame(t, conn)
	assert.Equal(t, false, frame["success"])
	assert.Equal(t, model.ErrInvalidSessionName.Error(), frame["error"])
}

func TestResultFramesAlwaysCarryName(t *testing.T) {
	ts := setupTestServer(t)
	conn := authedConn(t, ts, 0)

	for typ, resultType := range map[string]string{"send": "send-result", "approve": "approval-result"} {
		writeFrame(t, conn, map[string]any{"type": typ, "action": "approve", "text": "ls"})
		frame := readFrame(t, conn)
		assert.Equal(t, resultType, frame["type"])
		require.Contains(t, frame, "name", "%s result", typ)
		assert.Equal(t, "", frame["name"])
		assert.Equal(t, false, frame["success"])
		assert.Equal(t, model.ErrInvalidSessionName.Error(), frame["error"])
	}
}

func TestResultsGoOnlyToSender(t *testing.T) {
	ts := setupTestServer(t)
	sender := authedConn(t, ts, 0)
	other := authedConn(t, ts, 0)

	writeFrame(t, sender, map[string]any{"type": "send", "name": "A", "text": "ls"})
	assert.Equal(t, "send-result", readFrame(t, sender)["type"])

	other.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, _, err := other.ReadMessage()
	require.Error(t, err)
	var netErr interface{ Timeout() bool }
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestPingAndUnknownType(t *testing.T) {
	ts := setupTestServer(t)
	conn := authedConn(t, ts, 0)

	writeFrame(t, conn, map[string]any{"type": "ping"})
	assert.Equal(t, "pong", readFrame(t, conn)["type"])

	writeFrame(t, conn, map[string]any{"type": "resize"})
	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, errUnknownType.Error(), frame["error"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, "error", readFrame(t, conn)["type"])
}

func TestDisconnectUnregisters(t *testing.T) {
	ts := setupTestServer(t, "A")
	conn := authedConn(t, ts, 1)
	require.Eventually(t, func() bool { return ts.hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return ts.hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	// The table is unaffected by viewers leaving.
	assert.Equal(t, 1, ts.reconciler.Count())
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://dash.example"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://dash.example")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))

	req.Header.Set("Origin", "https://anything")
	assert.True(t, originChecker(nil)(req))
}
