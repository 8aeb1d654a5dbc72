package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msalah0e/valence/internal/graph"
	"github.com/msalah0e/valence/internal/interact"
	"github.com/msalah0e/valence/internal/layout"
	"github.com/msalah0e/valence/internal/session"
	"github.com/msalah0e/valence/internal/storage"
	"github.com/msalah0e/valence/internal/valence"
)

// heldBackend serves one snapshot, holding each load until release is closed.
type heldBackend struct {
	snap    graph.Snapshot
	started chan struct{}
	release chan struct{}
}

func (b *heldBackend) Name() string { return "held" }

func (b *heldBackend) Load(ctx context.Context, user string) (*graph.Snapshot, error) {
	b.started <- struct{}{}
	<-b.release
	snap := b.snap
	return &snap, nil
}

func (b *heldBackend) Save(ctx context.Context, user string, snap graph.Snapshot) error {
	return nil
}

type fixture struct {
	store   *graph.Store
	sim     *layout.Simulation
	srv     *Server
	metrics *Metrics
	http    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithBackend(t, nil)
}

// newFixtureWithBackend attaches a restorer when backend is non-nil.
func newFixtureWithBackend(t *testing.T, backend storage.Backend) *fixture {
	t.Helper()
	store := graph.New()
	sim := layout.New(layout.DefaultParams())
	stop := layout.Follow(sim, store)
	t.Cleanup(stop)

	var restorer *session.Restorer
	if backend != nil {
		restorer = session.NewRestorer(backend, store, "tester", nil)
	}

	metrics := NewMetrics()
	srv := New(Deps{
		Store:      store,
		Sim:        sim,
		Controller: interact.New(store, sim),
		Restorer:   restorer,
		Metrics:    metrics,
		User:       "tester",
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { srv.Run(ctx); close(done) }()

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		cancel()
		<-done
		hs.Close()
	})
	return &fixture{store: store, sim: sim, srv: srv, metrics: metrics, http: hs}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.http.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestIndexAndHealth(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "<canvas")

	status, body = f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, status)
	var health map[string]any
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "tester", health["user"])
	assert.EqualValues(t, 1, health["nodes"])
}

func TestNodeAndLinkEndpoints(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodPost, "/api/nodes", `{"id":"a","name":"Ana","role":"peer"}`)
	require.Equal(t, http.StatusCreated, status, string(body))

	status, _ = f.do(t, http.MethodPost, "/api/nodes", `{"id":"a","name":"Ana","role":"peer"}`)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = f.do(t, http.MethodPost, "/api/nodes", `{"name":"Bo","role":"wizard"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = f.do(t, http.MethodPost, "/api/nodes", `{"name":"Bo","role":"mentor"}`)
	require.Equal(t, http.StatusCreated, status)
	var created graph.Node
	require.NoError(t, json.Unmarshal(body, &created))
	assert.NotEmpty(t, created.ID, "id generated when omitted")

	status, _ = f.do(t, http.MethodPost, "/api/links", `{"source":"me","target":"a","type":"collaboration"}`)
	require.Equal(t, http.StatusCreated, status)
	status, _ = f.do(t, http.MethodPost, "/api/links", `{"source":"me","target":"ghost","type":"collaboration"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodDelete, "/api/nodes/me", "")
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = f.do(t, http.MethodDelete, "/api/nodes/nobody", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = f.do(t, http.MethodDelete, "/api/links/me-a", "")
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = f.do(t, http.MethodDelete, "/api/nodes/a", "")
	assert.Equal(t, http.StatusNoContent, status)
	assert.Len(t, f.store.Nodes(), 2)
}

func TestValenceEndpoints(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.AddNode(graph.Node{ID: "a", Role: graph.RolePeer}))
	require.NoError(t, f.store.AddLink(graph.Link{Source: graph.MeID, Target: "a", Type: graph.LinkCollaboration}))

	status, body := f.do(t, http.MethodGet, "/api/valence/me-a", "")
	require.Equal(t, http.StatusOK, status)
	var got valenceResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Nil(t, got.Valence)
	assert.Equal(t, valence.DefaultColor, got.Color)

	status, body = f.do(t, http.MethodPut, "/api/valence/me-a",
		`{"trust":9,"communication":3,"support":3,"respect":3,"alignment":3}`)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &got))
	require.NotNil(t, got.Valence)
	assert.Equal(t, 5, got.Valence.Trust, "scores are clamped")
	assert.Equal(t, "strong-positive", got.Bucket)
	assert.Equal(t, valence.ColorStrongPositive, got.Color)

	status, _ = f.do(t, http.MethodPut, "/api/valence/me-zed", `{"trust":1}`)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = f.do(t, http.MethodGet, "/api/valence/me-zed", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, body = f.do(t, http.MethodGet, "/api/color/nothing-here", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), string(valence.DefaultColor))
}

func TestSessionEndpoints(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.AddNode(graph.Node{ID: "a", Name: "Ana", Role: graph.RolePeer}))

	status, exported := f.do(t, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, status)

	status, _ = f.do(t, http.MethodDelete, "/api/session", "")
	require.Equal(t, http.StatusNoContent, status)
	assert.Len(t, f.store.Nodes(), 1)

	status, _ = f.do(t, http.MethodPut, "/api/session", string(exported))
	require.Equal(t, http.StatusOK, status)
	_, err := f.store.Node("a")
	assert.NoError(t, err)

	status, _ = f.do(t, http.MethodPut, "/api/session", `{"nodes":[]}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodPost, "/api/session/restore", "")
	assert.Equal(t, http.StatusNotImplemented, status)
}

func TestImportWinsOverSlowerRestore(t *testing.T) {
	saved := graph.New()
	require.NoError(t, saved.AddNode(graph.Node{ID: "stale", Role: graph.RolePeer}))
	backend := &heldBackend{snap: saved.Snapshot(), started: make(chan struct{}, 1), release: make(chan struct{})}
	f := newFixtureWithBackend(t, backend)

	restored := make(chan int, 1)
	go func() {
		resp, err := http.Post(f.http.URL+"/api/session/restore", "application/json", nil)
		if err != nil {
			restored <- 0
			return
		}
		resp.Body.Close()
		restored <- resp.StatusCode
	}()
	<-backend.started

	imported := graph.New()
	require.NoError(t, imported.AddNode(graph.Node{ID: "imported", Role: graph.RolePeer}))
	data, err := imported.ExportJSON()
	require.NoError(t, err)
	status, body := f.do(t, http.MethodPut, "/api/session", string(data))
	require.Equal(t, http.StatusOK, status, string(body))

	close(backend.release)
	assert.Equal(t, http.StatusConflict, <-restored)

	_, err = f.store.Node("imported")
	assert.NoError(t, err)
	_, err = f.store.Node("stale")
	assert.ErrorIs(t, err, graph.ErrUnknownNode)
}

func TestLayoutStopAndReheat(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.AddNode(graph.Node{ID: "a", Role: graph.RolePeer}))
	require.Equal(t, layout.Running, f.sim.State())

	status, body := f.do(t, http.MethodPost, "/api/layout/stop", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"settled"`)
	_, ticked := f.sim.Tick()
	assert.False(t, ticked)

	status, body = f.do(t, http.MethodPost, "/api/layout/reheat", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"running"`)
	assert.GreaterOrEqual(t, f.sim.Alpha(), f.sim.Params().ReheatAlpha)
}

func TestSelectionAndLayout(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodPut, "/api/selection", `{"selectedNodeId":"me"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"selectedNodeId":"me"`)
	assert.Equal(t, graph.MeID, f.store.Selection().NodeID)

	status, _ = f.do(t, http.MethodPut, "/api/selection", `{"selectedNodeId":"me","selectedLinkId":"me-a"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = f.do(t, http.MethodGet, "/api/layout", "")
	require.Equal(t, http.StatusOK, status)
	var frame layout.Frame
	require.NoError(t, json.Unmarshal(body, &frame))
	require.Len(t, frame.Nodes, 1)
	assert.Equal(t, graph.MeID, frame.Nodes[0].ID)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.srv.BroadcastFrame(f.sim.Frame())
	f.do(t, http.MethodGet, "/healthz", "")

	status, body := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "valence_layout_ticks_total 1")
	assert.Contains(t, string(body), `valence_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}

// ─── Websocket ───

type wsMessage struct {
	Type      string          `json:"type"`
	Frame     *layout.Frame   `json:"frame"`
	Selection graph.Selection `json:"selection"`
	Nodes     []graph.Node    `json:"nodes"`
	Error     string          `json:"error"`
}

func dial(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// next reads until a message of the given type arrives.
func next(t *testing.T, conn *websocket.Conn, typ string) wsMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg wsMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == typ {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func waitClients(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, s.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebsocketGreeting(t *testing.T) {
	f := newFixture(t)
	conn := dial(t, f)

	g := next(t, conn, "graph")
	require.Len(t, g.Nodes, 1)
	assert.Equal(t, graph.MeID, g.Nodes[0].ID)
	fr := next(t, conn, "frame")
	require.NotNil(t, fr.Frame)
	assert.Len(t, fr.Frame.Nodes, 1)
}

func TestWebsocketClickSelects(t *testing.T) {
	f := newFixture(t)
	conn := dial(t, f)
	next(t, conn, "frame")
	waitClients(t, f.srv, 1)

	send(t, conn, map[string]any{"type": "down", "kind": "node", "id": "me", "x": 0, "y": 0})
	send(t, conn, map[string]any{"type": "up", "x": 0, "y": 0})

	msg := next(t, conn, "selection")
	assert.Equal(t, graph.MeID, msg.Selection.NodeID)
}

func TestWebsocketRejectsStrayMove(t *testing.T) {
	f := newFixture(t)
	conn := dial(t, f)
	next(t, conn, "frame")

	send(t, conn, map[string]any{"type": "move", "x": 5, "y": 5})
	msg := next(t, conn, "error")
	assert.Contains(t, msg.Error, "no active gesture")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	msg = next(t, conn, "error")
	assert.Equal(t, "malformed message", msg.Error)
}

func TestBroadcastReachesClients(t *testing.T) {
	f := newFixture(t)
	a, b := dial(t, f), dial(t, f)
	next(t, a, "frame")
	next(t, b, "frame")
	waitClients(t, f.srv, 2)

	require.NoError(t, f.store.AddNode(graph.Node{ID: "x", Name: "Xi", Role: graph.RolePeer}))
	for _, conn := range []*websocket.Conn{a, b} {
		msg := next(t, conn, "graph")
		assert.Len(t, msg.Nodes, 2)
	}
}

func TestDisconnectCancelsDrag(t *testing.T) {
	f := newFixture(t)
	f.srv.ctrl.SetThreshold(1)
	conn := dial(t, f)
	next(t, conn, "frame")
	waitClients(t, f.srv, 1)

	send(t, conn, map[string]any{"type": "down", "kind": "node", "id": "me", "x": 0, "y": 0})
	send(t, conn, map[string]any{"type": "move", "x": 40, "y": 40})

	deadline := time.Now().Add(2 * time.Second)
	for !f.srv.ctrl.Dragging() {
		if time.Now().After(deadline) {
			t.Fatal("drag never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()
	waitClients(t, f.srv, 0)
	deadline = time.Now().Add(2 * time.Second)
	for f.srv.ctrl.Dragging() {
		if time.Now().After(deadline) {
			t.Fatal("drag still active after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStaleGestureCannotCancelAnotherClient(t *testing.T) {
	f := newFixture(t)
	f.srv.ctrl.SetThreshold(1)
	require.NoError(t, f.store.AddNode(graph.Node{ID: "x", Role: graph.RolePeer}))
	require.NoError(t, f.store.AddNode(graph.Node{ID: "y", Role: graph.RolePeer}))

	a, b := dial(t, f), dial(t, f)
	next(t, a, "frame")
	next(t, b, "frame")
	waitClients(t, f.srv, 2)

	send(t, a, map[string]any{"type": "down", "kind": "node", "id": "x", "x": 0, "y": 0})
	deadline := time.Now().Add(2 * time.Second)
	for !f.srv.ctrl.Holds(1) {
		if time.Now().After(deadline) {
			t.Fatal("press never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, f.store.RemoveNode("x"))
	send(t, a, map[string]any{"type": "move", "x": 40, "y": 40})
	msg := next(t, a, "error")
	assert.Contains(t, msg.Error, "cannot be dragged")

	send(t, b, map[string]any{"type": "down", "kind": "node", "id": "y", "x": 0, "y": 0})
	send(t, b, map[string]any{"type": "move", "x": 40, "y": 40})
	deadline = time.Now().Add(2 * time.Second)
	for !f.srv.ctrl.Dragging() {
		if time.Now().After(deadline) {
			t.Fatal("second drag never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	send(t, a, map[string]any{"type": "cancel"})
	a.Close()
	waitClients(t, f.srv, 1)
	for i := 0; i < 20; i++ {
		require.True(t, f.srv.ctrl.Dragging(), "drag of the remaining client was ended")
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPublishWaitsForRoom(t *testing.T) {
	h := NewHub(nil, nil)
	for i := 0; i < cap(h.broadcast); i++ {
		h.Broadcast([]byte("frame"))
	}
	h.Broadcast([]byte("frame"))

	published := make(chan struct{})
	go func() {
		h.Publish([]byte(`{"type":"graph"}`))
		close(published)
	}()
	select {
	case <-published:
		t.Fatal("graph update dropped while the queue was full")
	case <-time.After(30 * time.Millisecond):
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { h.Run(ctx); close(done) }()
	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("graph update never queued")
	}

	cancel()
	<-done
	h.Publish([]byte(`{"type":"selection"}`))
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		graph.ErrDuplicateID:     http.StatusConflict,
		graph.ErrUnknownLink:     http.StatusNotFound,
		graph.ErrProtectedNode:   http.StatusForbidden,
		graph.ErrInvalidSnapshot: http.StatusBadRequest,
		io.EOF:                   http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(err), err.Error())
	}
}

func TestGraphMessageColors(t *testing.T) {
	s := graph.New()
	require.NoError(t, s.AddNode(graph.Node{ID: "a", Role: graph.RolePeer}))
	require.NoError(t, s.AddLink(graph.Link{Source: graph.MeID, Target: "a", Type: graph.LinkAdvisory}))
	require.NoError(t, s.UpdateValence("me-a", valence.Valence{Trust: -5, Communication: -5, Support: -5, Respect: -5, Alignment: -5}))

	var msg struct {
		Colors map[string]string `json:"colors"`
	}
	require.NoError(t, json.NewDecoder(bytes.NewReader(graphMessage(s.Snapshot()))).Decode(&msg))
	assert.Equal(t, string(valence.ColorStrongNegative), msg.Colors["me-a"])
}
