// Package interact turns pointer input into selection changes and drags on
// the live layout.
package interact

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/msalah0e/valence/internal/graph"
	"github.com/msalah0e/valence/internal/layout"
)

// DefaultThreshold is how far the pointer must travel, in layout units,
// before a press becomes a drag instead of a click.
const DefaultThreshold = 3.0

var (
	ErrGestureActive = errors.New("another gesture is active")
	ErrNoGesture     = errors.New("no active gesture")
	ErrNotDraggable  = errors.New("target cannot be dragged")
)

// Kind is what a pointer landed on.
type Kind string

const (
	KindNone Kind = ""
	KindNode Kind = "node"
	KindLink Kind = "link"
)

// Target identifies the element under the pointer. For links ID is the link
// key.
type Target struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

type phase int

const (
	idle phase = iota
	pressed
	dragging
)

// Gesture identifies one press-to-release interaction. Only the holder of the
// current gesture can move, release or cancel it. The zero Gesture is never
// issued.
type Gesture uint64

// Controller owns the single active gesture. It is safe for concurrent use;
// input from several clients is serialized and only one gesture may be in
// flight at a time.
type Controller struct {
	store     *graph.Store
	sim       *layout.Simulation
	threshold float64

	mu      sync.Mutex
	phase   phase
	current Gesture
	issued  Gesture
	target  Target
	startX  float64
	startY  float64
}

// New creates a controller with the default click threshold.
func New(store *graph.Store, sim *layout.Simulation) *Controller {
	return &Controller{store: store, sim: sim, threshold: DefaultThreshold}
}

// SetThreshold changes the click/drag threshold. Non-positive values are ignored.
func (c *Controller) SetThreshold(t float64) {
	if t <= 0 {
		return
	}
	c.mu.Lock()
	c.threshold = t
	c.mu.Unlock()
}

// Dragging reports whether a drag is in progress.
func (c *Controller) Dragging() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == dragging
}

// Holds reports whether g is the gesture in progress.
func (c *Controller) Holds(g Gesture) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heldLocked(g)
}

func (c *Controller) heldLocked(g Gesture) bool {
	return g != 0 && c.phase != idle && g == c.current
}

// PointerDown starts a gesture and returns its handle. Nothing is pinned
// until the pointer moves past the threshold.
func (c *Controller) PointerDown(t Target, x, y float64) (Gesture, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != idle {
		return 0, ErrGestureActive
	}
	c.issued++
	c.current = c.issued
	c.phase = pressed
	c.target = t
	c.startX, c.startY = x, y
	return c.current, nil
}

// PointerMove promotes a press on a node to a drag once it passes the
// threshold, then keeps the node pinned under the pointer. If the node can no
// longer be dragged the gesture is dropped.
func (c *Controller) PointerMove(g Gesture, x, y float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.heldLocked(g) {
		return ErrNoGesture
	}

	if c.phase == pressed {
		if math.Hypot(x-c.startX, y-c.startY) <= c.threshold {
			return nil
		}
		if c.target.Kind != KindNode {
			return nil
		}
		if err := c.startDragLocked(c.target.ID); err != nil {
			c.resetLocked()
			return err
		}
	}
	return c.sim.Pin(c.target.ID, x, y)
}

// PointerUp ends the gesture. A drag releases the node; a click selects the
// target.
func (c *Controller) PointerUp(g Gesture, x, y float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.heldLocked(g) {
		return ErrNoGesture
	}

	if c.phase == dragging {
		id := c.target.ID
		c.resetLocked()
		return c.endDrag(id)
	}

	t := c.target
	moved := math.Hypot(x-c.startX, y-c.startY) > c.threshold
	c.resetLocked()
	if moved {
		return nil
	}
	switch t.Kind {
	case KindNode:
		c.store.SelectNode(t.ID)
	case KindLink:
		c.store.SelectLink(t.ID)
	}
	return nil
}

// Cancel abandons gesture g, releasing any dragged node. It does nothing if g
// is no longer in progress.
func (c *Controller) Cancel(g Gesture) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.heldLocked(g) {
		return
	}
	if c.phase == dragging {
		_ = c.endDrag(c.target.ID)
	}
	c.resetLocked()
}

func (c *Controller) startDragLocked(id string) error {
	x, y, ok := c.sim.Position(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotDraggable, id)
	}
	if err := c.sim.Pin(id, x, y); err != nil {
		return err
	}
	c.sim.Reheat()
	c.sim.SetAlphaTarget(c.sim.Params().ReheatAlpha)
	c.phase = dragging
	return nil
}

// endDrag releases the node and lets alpha decay from wherever it is. A node
// pinned in the store, such as "me", returns to its pin.
func (c *Controller) endDrag(id string) error {
	c.sim.SetAlphaTarget(0)
	var err error
	if n, lookupErr := c.store.Node(id); lookupErr == nil && n.Pinned() {
		err = c.sim.Pin(id, *n.Fx, *n.Fy)
	} else {
		err = c.sim.Unpin(id)
	}
	if err != nil && !errors.Is(err, layout.ErrUnknownNode) {
		return err
	}
	return nil
}

func (c *Controller) resetLocked() {
	c.phase = idle
	c.current = 0
	c.target = Target{}
}
