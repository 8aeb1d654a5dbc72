// Package layout owns the force-directed simulation that positions nodes on
// the relationship map.
//
// Each tick accumulates three forces into node velocities (pairwise many-body
// repulsion, link springs and a weak pull towards the origin), snaps pinned
// nodes to their pin, integrates the free nodes with velocity damping and
// decays the temperature (alpha). Once alpha falls below AlphaMin the
// simulation settles and stops producing frames until it is re-energized by a
// structural change or a drag.
//
// Forces are summed in node insertion order. The result is deterministic for
// a given input and seed, but only the equilibrium is meaningful; exact
// coordinates are not part of any contract.
package layout

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/msalah0e/valence/internal/graph"
)

// State is the simulation lifecycle state.
type State int

const (
	Cold State = iota
	Running
	Settled
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Settled:
		return "settled"
	default:
		return "cold"
	}
}

// ErrUnknownNode is returned when pinning a node the simulation does not hold.
var ErrUnknownNode = errors.New("node not in simulation")

// Params tunes the forces and the cooling schedule.
type Params struct {
	ChargeStrength float64 `toml:"charge_strength"`
	LinkDistance   float64 `toml:"link_distance"`
	CenterStrength float64 `toml:"center_strength"`
	VelocityDecay  float64 `toml:"velocity_decay"`
	AlphaMin       float64 `toml:"alpha_min"`
	AlphaDecay     float64 `toml:"alpha_decay"`
	ReheatAlpha    float64 `toml:"reheat_alpha"`
	DistanceMin    float64 `toml:"distance_min"`
	Seed           int64   `toml:"seed"`
}

// DefaultParams mirrors the reference scale: charge -400, springs of 100
// units and roughly 300 ticks from a cold start to settled.
func DefaultParams() Params {
	return Params{
		ChargeStrength: -400,
		LinkDistance:   100,
		CenterStrength: 0.1,
		VelocityDecay:  0.4,
		AlphaMin:       0.001,
		AlphaDecay:     1 - math.Pow(0.001, 1.0/300),
		ReheatAlpha:    0.3,
		DistanceMin:    1,
		Seed:           1,
	}
}

type simNode struct {
	id     string
	x, y   float64
	vx, vy float64
	pinned bool
	fx, fy float64
}

type simLink struct {
	source, target int
	strength       float64
	bias           float64
}

// Position is a node coordinate in a frame.
type Position struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// Segment is a link with its endpoints resolved to coordinates.
type Segment struct {
	Key    string  `json:"key"`
	Source string  `json:"source"`
	Target string  `json:"target"`
	X1     float64 `json:"x1"`
	Y1     float64 `json:"y1"`
	X2     float64 `json:"x2"`
	Y2     float64 `json:"y2"`
}

// Frame is the full layout after one tick. It is a copy the consumer may keep.
type Frame struct {
	Tick    uint64     `json:"tick"`
	Alpha   float64    `json:"alpha"`
	Settled bool       `json:"settled"`
	Nodes   []Position `json:"nodes"`
	Links   []Segment  `json:"links"`
}

// Simulation is the force-directed layout engine. It keeps its own arena of
// nodes indexed by id and never aliases the store's structs. All methods are
// safe for concurrent use; a tick never overlaps a re-seed or a pin change.
type Simulation struct {
	mu          sync.Mutex
	params      Params
	nodes       []simNode
	index       map[string]int
	links       []simLink
	alpha       float64
	alphaTarget float64
	state       State
	ticks       uint64
	rng         *rand.Rand
	wake        chan struct{}
}

// New creates a cold simulation.
func New(params Params) *Simulation {
	return &Simulation{
		params: params,
		index:  make(map[string]int),
		rng:    rand.New(rand.NewSource(params.Seed)),
		wake:   make(chan struct{}, 1),
	}
}

// Params returns the simulation parameters.
func (s *Simulation) Params() Params {
	return s.params
}

// Wake is signalled whenever the simulation is re-energized.
func (s *Simulation) Wake() <-chan struct{} {
	return s.wake
}

func (s *Simulation) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Reseed replaces the node and link sets. Nodes that survive keep their
// position, velocity and pin; new nodes start at their stored coordinates, or
// on a spiral around the origin when they have none. Store pins apply to new
// nodes. Links with a missing endpoint are skipped.
func (s *Simulation) Reseed(nodes []graph.Node, links []graph.Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seedLocked(nodes, links, true)
}

// Reset discards all simulation state and seeds from scratch, as after a
// session load.
func (s *Simulation) Reset(nodes []graph.Node, links []graph.Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = nil
	s.index = make(map[string]int)
	s.alpha = 0
	s.alphaTarget = 0
	s.state = Cold
	s.seedLocked(nodes, links, false)
}

func (s *Simulation) seedLocked(nodes []graph.Node, links []graph.Link, keep bool) {
	prev, prevIndex := s.nodes, s.index

	s.nodes = make([]simNode, 0, len(nodes))
	s.index = make(map[string]int, len(nodes))
	for i, n := range nodes {
		sn := simNode{id: n.ID, x: n.X, y: n.Y}
		if j, ok := prevIndex[n.ID]; ok && keep {
			sn = prev[j]
		} else {
			if n.Pinned() {
				sn.pinned = true
				sn.fx, sn.fy = *n.Fx, *n.Fy
				sn.x, sn.y = sn.fx, sn.fy
			} else if n.X == 0 && n.Y == 0 {
				sn.x, sn.y = spiral(i)
			}
		}
		s.index[n.ID] = len(s.nodes)
		s.nodes = append(s.nodes, sn)
	}

	s.links = s.links[:0]
	degree := make([]int, len(s.nodes))
	for _, l := range links {
		si, ok1 := s.index[l.Source]
		ti, ok2 := s.index[l.Target]
		if !ok1 || !ok2 {
			continue
		}
		degree[si]++
		degree[ti]++
		s.links = append(s.links, simLink{source: si, target: ti})
	}
	for i := range s.links {
		l := &s.links[i]
		ds, dt := float64(degree[l.source]), float64(degree[l.target])
		l.strength = 1 / math.Min(ds, dt)
		l.bias = ds / (ds + dt)
	}

	if len(s.nodes) == 0 {
		s.state = Cold
		s.alpha = 0
		return
	}
	if s.state == Cold {
		s.alpha = 1
	} else {
		s.alpha = math.Max(s.alpha, s.params.ReheatAlpha)
	}
	s.state = Running
	s.signal()
}

const (
	initialRadius = 10
	spiralAngle   = math.Pi * 0.7639320225 // π(3-√5)
)

func spiral(i int) (float64, float64) {
	r := initialRadius * math.Sqrt(0.5+float64(i))
	a := float64(i) * spiralAngle
	return r * math.Cos(a), r * math.Sin(a)
}

// Reheat raises alpha to at least ReheatAlpha and resumes ticking.
func (s *Simulation) Reheat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reheatLocked()
}

func (s *Simulation) reheatLocked() {
	if len(s.nodes) == 0 {
		return
	}
	s.alpha = math.Max(s.alpha, s.params.ReheatAlpha)
	s.state = Running
	s.signal()
}

// SetAlphaTarget sets the temperature alpha decays towards. A positive target
// keeps the simulation running, as during a drag.
func (s *Simulation) SetAlphaTarget(target float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alphaTarget = target
	if target > 0 && len(s.nodes) > 0 && s.state != Running {
		s.state = Running
		s.signal()
	}
}

// Pin fixes a node at (x, y) until Unpin. The node still exerts forces.
func (s *Simulation) Pin(id string, x, y float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	n := &s.nodes[i]
	n.pinned = true
	n.fx, n.fy = x, y
	return nil
}

// Unpin releases a node back to free motion. Alpha is left to decay naturally.
func (s *Simulation) Unpin(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	n := &s.nodes[i]
	n.pinned = false
	return nil
}

// Position returns the current coordinate of a node.
func (s *Simulation) Position(id string) (float64, float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return 0, 0, false
	}
	return s.nodes[i].x, s.nodes[i].y, true
}

// Stop halts ticking until the simulation is re-energized.
func (s *Simulation) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alphaTarget = 0
	if s.state == Running {
		s.state = Settled
	}
}

// State returns the lifecycle state.
func (s *Simulation) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Alpha returns the current temperature.
func (s *Simulation) Alpha() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alpha
}

// Tick advances one step and returns the resulting frame. It returns false
// without doing anything unless the simulation is running.
func (s *Simulation) Tick() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running {
		return Frame{}, false
	}

	s.applyCharge()
	s.applyLinks()
	s.applyCenter()
	s.integrate()

	s.ticks++
	s.alpha += (s.alphaTarget - s.alpha) * s.params.AlphaDecay
	if s.alpha < s.params.AlphaMin && s.alphaTarget < s.params.AlphaMin {
		s.state = Settled
	}
	return s.frameLocked(), true
}

// RunUntilSettled ticks synchronously until the simulation settles or
// maxTicks is reached, returning the last frame and the number of ticks.
func (s *Simulation) RunUntilSettled(maxTicks int) (Frame, int) {
	var last Frame
	n := 0
	for n < maxTicks {
		f, ok := s.Tick()
		if !ok {
			break
		}
		last = f
		n++
	}
	if n == 0 {
		s.mu.Lock()
		last = s.frameLocked()
		s.mu.Unlock()
	}
	return last, n
}

// Frame returns the current layout without ticking.
func (s *Simulation) Frame() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameLocked()
}

func (s *Simulation) jiggle() float64 {
	return (s.rng.Float64() - 0.5) * 1e-6
}

func (s *Simulation) applyCharge() {
	strength := s.params.ChargeStrength * s.alpha
	dmin2 := s.params.DistanceMin * s.params.DistanceMin
	for i := range s.nodes {
		a := &s.nodes[i]
		for j := i + 1; j < len(s.nodes); j++ {
			b := &s.nodes[j]
			dx, dy := b.x-a.x, b.y-a.y
			if dx == 0 {
				dx = s.jiggle()
			}
			if dy == 0 {
				dy = s.jiggle()
			}
			l := dx*dx + dy*dy
			if l < dmin2 {
				l = math.Sqrt(dmin2 * l)
			}
			w := strength / l
			a.vx += dx * w
			a.vy += dy * w
			b.vx -= dx * w
			b.vy -= dy * w
		}
	}
}

func (s *Simulation) applyLinks() {
	for _, l := range s.links {
		src, tgt := &s.nodes[l.source], &s.nodes[l.target]
		dx := tgt.x + tgt.vx - src.x - src.vx
		dy := tgt.y + tgt.vy - src.y - src.vy
		if dx == 0 {
			dx = s.jiggle()
		}
		if dy == 0 {
			dy = s.jiggle()
		}
		d := math.Sqrt(dx*dx + dy*dy)
		k := (d - s.params.LinkDistance) / d * s.alpha * l.strength
		dx, dy = dx*k, dy*k
		tgt.vx -= dx * l.bias
		tgt.vy -= dy * l.bias
		src.vx += dx * (1 - l.bias)
		src.vy += dy * (1 - l.bias)
	}
}

func (s *Simulation) applyCenter() {
	k := s.params.CenterStrength * s.alpha
	for i := range s.nodes {
		n := &s.nodes[i]
		if n.pinned {
			continue
		}
		n.vx -= n.x * k
		n.vy -= n.y * k
	}
}

func (s *Simulation) integrate() {
	friction := 1 - s.params.VelocityDecay
	for i := range s.nodes {
		n := &s.nodes[i]
		if n.pinned {
			n.x, n.y = n.fx, n.fy
			n.vx, n.vy = 0, 0
			continue
		}
		n.vx *= friction
		n.vy *= friction
		n.x += n.vx
		n.y += n.vy
		if !finite(n.x) || !finite(n.y) {
			n.x, n.y = spiral(i)
			n.vx, n.vy = 0, 0
		}
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (s *Simulation) frameLocked() Frame {
	f := Frame{
		Tick:    s.ticks,
		Alpha:   s.alpha,
		Settled: s.state != Running,
		Nodes:   make([]Position, len(s.nodes)),
		Links:   make([]Segment, len(s.links)),
	}
	for i, n := range s.nodes {
		f.Nodes[i] = Position{ID: n.id, X: n.x, Y: n.y}
	}
	for i, l := range s.links {
		src, tgt := s.nodes[l.source], s.nodes[l.target]
		f.Links[i] = Segment{
			Key:    graph.LinkKey(src.id, tgt.id),
			Source: src.id,
			Target: tgt.id,
			X1:     src.x,
			Y1:     src.y,
			X2:     tgt.x,
			Y2:     tgt.y,
		}
	}
	return f
}

// Positions converts a frame into store positions.
func (f Frame) Positions() []graph.Position {
	out := make([]graph.Position, len(f.Nodes))
	for i, p := range f.Nodes {
		out[i] = graph.Position{ID: p.ID, X: p.X, Y: p.Y}
	}
	return out
}
