package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"example.com/openrobot-bhv/internal/agent"
	"example.com/openrobot-bhv/internal/db"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAgent struct {
	mu       sync.Mutex
	trees    []string
	current  *agent.RunRecord
	commands []agent.Command
	full     bool
}

func (a *fakeAgent) TreeNames() []string { return a.trees }

func (a *fakeAgent) CurrentRun() (agent.RunRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return agent.RunRecord{}, false
	}
	return *a.current, true
}

func (a *fakeAgent) Enqueue(cmd agent.Command) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.full {
		return agent.ErrQueueFull
	}
	a.commands = append(a.commands, cmd)
	return nil
}

func (a *fakeAgent) sent() []agent.Command {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]agent.Command(nil), a.commands...)
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeAgent, *db.DB, *Hub) {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	hub := NewHub()
	a := &fakeAgent{trees: []string{"demo", "patrol"}}
	ts := httptest.NewServer(NewServer("", a, store, hub).Handler())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
		store.Close()
	})
	return ts, a, store, hub
}

func doJSON(t *testing.T, method, url, body string, out interface{}) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestServer_Health(t *testing.T) {
	t.Parallel()
	ts, _, _, _ := newTestServer(t)

	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/healthz", "", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, doJSON(t, http.MethodPost, ts.URL+"/healthz", "", nil))
}

func TestServer_Trees(t *testing.T) {
	t.Parallel()
	ts, a, _, _ := newTestServer(t)

	var list map[string][]string
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/api/trees", "", &list))
	assert.Equal(t, []string{"demo", "patrol"}, list["trees"])

	var queued map[string]string
	require.Equal(t, http.StatusAccepted, doJSON(t, http.MethodPost, ts.URL+"/api/trees/patrol/run", "", &queued))
	assert.Equal(t, agent.CommandRunTree, queued["command"])
	sent := a.sent()
	require.Len(t, sent, 1)
	var data agent.RunTreeData
	require.NoError(t, json.Unmarshal(sent[0].Data, &data))
	assert.Equal(t, "patrol", data.Tree)

	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodPost, ts.URL+"/api/trees/missing/run", "", nil))
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodPost, ts.URL+"/api/trees/demo/explode", "", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, doJSON(t, http.MethodGet, ts.URL+"/api/trees/demo/run", "", nil))

	a.mu.Lock()
	a.full = true
	a.mu.Unlock()
	assert.Equal(t, http.StatusServiceUnavailable, doJSON(t, http.MethodPost, ts.URL+"/api/trees/demo/run", "", nil))
}

func TestServer_StopAndFacts(t *testing.T) {
	t.Parallel()
	ts, a, _, _ := newTestServer(t)

	require.Equal(t, http.StatusAccepted, doJSON(t, http.MethodPost, ts.URL+"/api/stop", "", nil))
	require.Equal(t, http.StatusAccepted, doJSON(t, http.MethodPost, ts.URL+"/api/facts", `{"key":"estop","value":true}`, nil))
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, ts.URL+"/api/facts", `{"value":true}`, nil))
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, ts.URL+"/api/facts", `{`, nil))

	sent := a.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, agent.CommandStop, sent[0].Type)
	assert.Equal(t, agent.CommandSetFact, sent[1].Type)
	var fact agent.SetFactData
	require.NoError(t, json.Unmarshal(sent[1].Data, &fact))
	assert.Equal(t, "estop", fact.Key)
	assert.Equal(t, true, fact.Value)
}

func TestServer_Runs(t *testing.T) {
	t.Parallel()
	ts, a, store, _ := newTestServer(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.InsertRun(ctx, db.Run{ID: "r1", Tree: "demo", Status: "FAILURE", StartedAt: now, FinishedAt: now},
		[]db.Event{{Kind: "start", Node: "Sequence", Child: "Sleep", Total: 5}}))
	require.NoError(t, store.InsertRun(ctx, db.Run{ID: "r2", Tree: "patrol", Status: "SUCCESS", StartedAt: now.Add(time.Second), FinishedAt: now.Add(time.Second)}, nil))

	var runs []db.Run
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/api/runs", "", &runs))
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].ID)

	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/api/runs?tree=demo&limit=5", "", &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "r1", runs[0].ID)
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodGet, ts.URL+"/api/runs?limit=abc", "", nil))

	var detail runDetail
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/api/runs/r1", "", &detail))
	assert.Equal(t, "demo", detail.Run.Tree)
	require.Len(t, detail.Events, 1)
	assert.Equal(t, "Sleep", detail.Events[0].Child)

	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, ts.URL+"/api/runs/nope", "", nil))
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, ts.URL+"/api/runs/current", "", nil))

	a.mu.Lock()
	a.current = &agent.RunRecord{ID: "live", Tree: "patrol", Status: agent.RunStatusRunning}
	a.mu.Unlock()
	var rec agent.RunRecord
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/api/runs/current", "", &rec))
	assert.Equal(t, "live", rec.ID)
}

// waitSubscribers blocks until the hub has n subscribers.
func waitSubscribers(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Subscribers() == n }, 5*time.Second, 5*time.Millisecond)
}

func TestHub_SSE(t *testing.T) {
	t.Parallel()
	ts, _, _, hub := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	waitSubscribers(t, hub, 1)
	hub.Broadcast([]byte(`{"type":"finished"}`))

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: {\"type\":\"finished\"}\n", line)
}

func TestHub_WebSocket(t *testing.T) {
	t.Parallel()
	ts, _, _, hub := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	waitSubscribers(t, hub, 1)
	hub.Broadcast([]byte(`{"type":"event"}`))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	typ, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, typ)
	assert.JSONEq(t, `{"type":"event"}`, string(msg))

	ws.Close()
	waitSubscribers(t, hub, 0)
}

func TestHub_Close(t *testing.T) {
	t.Parallel()
	hub := NewHub()
	s := hub.Subscribe()
	hub.Close()

	_, open := <-s
	assert.False(t, open)

	// closed hubs neither block nor deliver
	hub.Broadcast([]byte("x"))
	_, open = <-hub.Subscribe()
	assert.False(t, open)
	hub.Unsubscribe(s)
	hub.Close()
}
