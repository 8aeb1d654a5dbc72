package graph

// EventKind names a store mutation.
type EventKind string

const (
	NodeAdded        EventKind = "node_added"
	NodeRemoved      EventKind = "node_removed"
	LinkAdded        EventKind = "link_added"
	LinkRemoved      EventKind = "link_removed"
	ValenceUpdated   EventKind = "valence_updated"
	SelectionChanged EventKind = "selection_changed"
	PositionsUpdated EventKind = "positions_updated"
	SessionLoaded    EventKind = "session_loaded"
	SessionCleared   EventKind = "session_cleared"
)

// Event is delivered to subscribers after every mutation, outside the store lock.
// Seq increases with every mutation, so consumers can discard events that
// arrive out of order.
type Event struct {
	Seq       uint64
	Kind      EventKind
	Subject   string
	Snapshot  Snapshot
	Selection Selection
}

// ShapeChanged reports whether the node or link collection changed, which
// requires the layout to be re-seeded.
func (e Event) ShapeChanged() bool {
	switch e.Kind {
	case NodeAdded, NodeRemoved, LinkAdded, LinkRemoved, SessionLoaded, SessionCleared:
		return true
	}
	return false
}

// Persistent reports whether the event changed snapshot content.
func (e Event) Persistent() bool {
	return e.Kind != SelectionChanged
}

// Subscribe registers fn for every subsequent mutation and returns a function
// that removes it. Subscribers run synchronously on the mutating goroutine and
// must not block.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) eventLocked(kind EventKind, subject string) Event {
	s.seq++
	return Event{
		Seq:       s.seq,
		Kind:      kind,
		Subject:   subject,
		Snapshot:  s.snapshotLocked(),
		Selection: s.selection,
	}
}

func (s *Store) emit(ev Event) {
	s.subMu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for i := 0; i < s.nextSub; i++ {
		if fn, ok := s.subs[i]; ok {
			fns = append(fns, fn)
		}
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
