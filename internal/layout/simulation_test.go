package layout

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msalah0e/valence/internal/graph"
)

func ptr(f float64) *float64 { return &f }

func triangle() ([]graph.Node, []graph.Link) {
	nodes := []graph.Node{
		{ID: graph.MeID, Name: "Me", Role: graph.RoleSelf, Fx: ptr(0), Fy: ptr(0)},
		{ID: "a", Name: "A", Role: graph.RolePeer},
		{ID: "b", Name: "B", Role: graph.RoleManager},
	}
	links := []graph.Link{
		{Source: graph.MeID, Target: "a", Type: graph.LinkCollaboration},
		{Source: graph.MeID, Target: "b", Type: graph.LinkReporting},
	}
	return nodes, links
}

func dist(f Frame, a, b string) float64 {
	var pa, pb Position
	for _, p := range f.Nodes {
		switch p.ID {
		case a:
			pa = p
		case b:
			pb = p
		}
	}
	return math.Hypot(pa.X-pb.X, pa.Y-pb.Y)
}

func TestEmptySimulationIsCold(t *testing.T) {
	sim := New(DefaultParams())
	sim.Reseed(nil, nil)

	assert.Equal(t, Cold, sim.State())
	_, ok := sim.Tick()
	assert.False(t, ok)
}

func TestReseedStartsHot(t *testing.T) {
	sim := New(DefaultParams())
	nodes, links := triangle()
	sim.Reseed(nodes, links)

	assert.Equal(t, Running, sim.State())
	assert.Equal(t, 1.0, sim.Alpha())

	f, ok := sim.Tick()
	require.True(t, ok)
	assert.Len(t, f.Nodes, 3)
	assert.Len(t, f.Links, 2)
	assert.Equal(t, "me-a", f.Links[0].Key)
}

func TestSettles(t *testing.T) {
	sim := New(DefaultParams())
	nodes, links := triangle()
	sim.Reseed(nodes, links)

	f, ticks := sim.RunUntilSettled(1000)
	assert.True(t, f.Settled)
	assert.Equal(t, Settled, sim.State())
	assert.InDelta(t, 300, ticks, 5)

	// Linked nodes sit near the link distance; the unlinked pair repels.
	assert.InDelta(t, 100, dist(f, graph.MeID, "a"), 60)
	assert.Greater(t, dist(f, "a", "b"), dist(f, graph.MeID, "a"))

	_, ok := sim.Tick()
	assert.False(t, ok, "settled simulation does not tick")
}

func TestPinnedNodeIsExact(t *testing.T) {
	sim := New(DefaultParams())
	nodes, links := triangle()
	nodes = append(nodes, graph.Node{ID: "c", Role: graph.RoleMentor, Fx: ptr(10), Fy: ptr(10)})
	links = append(links, graph.Link{Source: "a", Target: "c", Type: graph.LinkAdvisory})
	sim.Reseed(nodes, links)

	for i := 0; i < 50; i++ {
		_, ok := sim.Tick()
		require.True(t, ok)
		x, y, _ := sim.Position("c")
		require.Equal(t, 10.0, x)
		require.Equal(t, 10.0, y)
		mx, my, _ := sim.Position(graph.MeID)
		require.Equal(t, 0.0, mx)
		require.Equal(t, 0.0, my)
	}
}

func TestDragPinAndRelease(t *testing.T) {
	sim := New(DefaultParams())
	nodes, links := triangle()
	sim.Reseed(nodes, links)
	sim.RunUntilSettled(1000)

	require.NoError(t, sim.Pin("a", 250, -40))
	sim.SetAlphaTarget(0.3)
	assert.Equal(t, Running, sim.State())

	for i := 0; i < 400; i++ {
		_, ok := sim.Tick()
		require.True(t, ok, "positive alpha target keeps the simulation running")
	}
	x, y, _ := sim.Position("a")
	assert.Equal(t, 250.0, x)
	assert.Equal(t, -40.0, y)

	require.NoError(t, sim.Unpin("a"))
	sim.SetAlphaTarget(0)
	sim.Tick()
	x, _, _ = sim.Position("a")
	assert.NotEqual(t, 250.0, x, "released node moves again")

	_, ticks := sim.RunUntilSettled(2000)
	assert.Less(t, ticks, 2000)
	assert.Equal(t, Settled, sim.State())
}

func TestPinUnknownNode(t *testing.T) {
	sim := New(DefaultParams())
	require.ErrorIs(t, sim.Pin("ghost", 0, 0), ErrUnknownNode)
	require.ErrorIs(t, sim.Unpin("ghost"), ErrUnknownNode)
}

func TestCoincidentNodesSeparate(t *testing.T) {
	sim := New(DefaultParams())
	sim.Reseed([]graph.Node{
		{ID: "a", Role: graph.RolePeer, X: 5, Y: 5},
		{ID: "b", Role: graph.RolePeer, X: 5, Y: 5},
	}, nil)

	f, _ := sim.RunUntilSettled(1000)
	for _, p := range f.Nodes {
		require.False(t, math.IsNaN(p.X) || math.IsNaN(p.Y), "position went NaN")
	}
	assert.Greater(t, dist(f, "a", "b"), 1.0)
}

func TestReseedKeepsSurvivors(t *testing.T) {
	sim := New(DefaultParams())
	nodes, links := triangle()
	sim.Reseed(nodes, links)
	sim.RunUntilSettled(1000)
	ax, ay, _ := sim.Position("a")

	nodes = append(nodes, graph.Node{ID: "d", Role: graph.RoleDirectReport})
	sim.Reseed(nodes, links)

	x, y, _ := sim.Position("a")
	assert.Equal(t, ax, x)
	assert.Equal(t, ay, y)
	assert.Equal(t, Running, sim.State())
	assert.InDelta(t, DefaultParams().ReheatAlpha, sim.Alpha(), 1e-9)

	dx, dy, ok := sim.Position("d")
	require.True(t, ok)
	assert.False(t, dx == 0 && dy == 0, "new node placed off origin")
}

func TestReseedSkipsDanglingLinks(t *testing.T) {
	sim := New(DefaultParams())
	nodes, _ := triangle()
	sim.Reseed(nodes, []graph.Link{{Source: graph.MeID, Target: "gone", Type: graph.LinkAdvisory}})

	f, ok := sim.Tick()
	require.True(t, ok)
	assert.Empty(t, f.Links)
}

func TestResetDropsState(t *testing.T) {
	sim := New(DefaultParams())
	nodes, links := triangle()
	sim.Reseed(nodes, links)
	sim.RunUntilSettled(1000)
	require.NoError(t, sim.Pin("a", 1, 1))

	sim.Reset(nodes, links)
	assert.Equal(t, 1.0, sim.Alpha())
	sim.Tick()
	x, y, _ := sim.Position("a")
	assert.False(t, x == 1 && y == 1, "drag pin discarded on reset")
}

func TestStop(t *testing.T) {
	sim := New(DefaultParams())
	nodes, links := triangle()
	sim.Reseed(nodes, links)
	sim.Stop()

	assert.Equal(t, Settled, sim.State())
	_, ok := sim.Tick()
	assert.False(t, ok)

	sim.Reheat()
	assert.Equal(t, Running, sim.State())
}

func TestFollowReseedsOnShapeChange(t *testing.T) {
	store := graph.New()
	sim := New(DefaultParams())
	stop := Follow(sim, store)
	defer stop()

	sim.RunUntilSettled(1000)
	require.NoError(t, store.AddNode(graph.Node{ID: "a", Role: graph.RolePeer}))
	assert.Equal(t, Running, sim.State())
	_, _, ok := sim.Position("a")
	assert.True(t, ok)

	sim.RunUntilSettled(1000)
	store.SelectNode("a")
	assert.Equal(t, Settled, sim.State(), "selection does not reheat")
}

func TestRunnerPersistsOnSettle(t *testing.T) {
	store := graph.New()
	require.NoError(t, store.AddNode(graph.Node{ID: "a", Role: graph.RolePeer}))
	require.NoError(t, store.AddLink(graph.Link{Source: graph.MeID, Target: "a", Type: graph.LinkAdvisory}))

	params := DefaultParams()
	params.AlphaDecay = 0.2
	sim := New(params)
	stop := Follow(sim, store)
	defer stop()

	r := NewRunner(sim, time.Millisecond, nil)
	Persist(r, store)

	var (
		mu     sync.Mutex
		frames int
	)
	settled := make(chan struct{}, 1)
	r.OnFrame(func(Frame) {
		mu.Lock()
		frames++
		mu.Unlock()
	})
	r.OnSettle(func(Frame) {
		select {
		case settled <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case <-settled:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not settle")
	}

	n, err := store.Node("a")
	require.NoError(t, err)
	assert.False(t, n.X == 0 && n.Y == 0, "settled position written back")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}

	mu.Lock()
	before := frames
	mu.Unlock()
	assert.Positive(t, before)

	require.NoError(t, store.AddNode(graph.Node{ID: "b", Role: graph.RolePeer}))
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, before, frames, "no frames after cancellation")
	mu.Unlock()
}
