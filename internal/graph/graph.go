package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/msalah0e/valence/internal/valence"
)

// MeID is the identity of the fixed center node.
const MeID = "me"

// Role classifies a person relative to the map owner.
type Role string

const (
	RoleDirectReport Role = "Direct Report"
	RoleManager      Role = "Manager"
	RolePeer         Role = "Peer"
	RoleStakeholder  Role = "Stakeholder"
	RoleMentor       Role = "Mentor"
	RoleSelf         Role = "Self"
)

// Roles lists every valid role.
var Roles = []Role{RoleDirectReport, RoleManager, RolePeer, RoleStakeholder, RoleMentor, RoleSelf}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole matches a role case-insensitively, also accepting "direct-report".
func ParseRole(s string) (Role, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", " ")
	for _, r := range Roles {
		if strings.ToLower(string(r)) == norm {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// LinkType classifies a relationship edge.
type LinkType string

const (
	LinkReporting     LinkType = "Reporting"
	LinkCollaboration LinkType = "Collaboration"
	LinkAdvisory      LinkType = "Advisory"
)

// LinkTypes lists every valid link type.
var LinkTypes = []LinkType{LinkReporting, LinkCollaboration, LinkAdvisory}

// Valid reports whether t is a known link type.
func (t LinkType) Valid() bool {
	for _, known := range LinkTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseLinkType matches a link type case-insensitively.
func ParseLinkType(s string) (LinkType, error) {
	for _, t := range LinkTypes {
		if strings.EqualFold(string(t), strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown link type %q", s)
}

// Node is a person on the map. Fx/Fy pin the node when set.
type Node struct {
	ID   string   `json:"id" yaml:"id" validate:"required,max=128"`
	Name string   `json:"name" yaml:"name" validate:"max=100"`
	Role Role     `json:"role" yaml:"role" validate:"required,role"`
	X    float64  `json:"x" yaml:"x"`
	Y    float64  `json:"y" yaml:"y"`
	Fx   *float64 `json:"fx,omitempty" yaml:"fx,omitempty"`
	Fy   *float64 `json:"fy,omitempty" yaml:"fy,omitempty"`
}

// Pinned reports whether both pin coordinates are set.
func (n Node) Pinned() bool {
	return n.Fx != nil && n.Fy != nil
}

func (n Node) clone() Node {
	if n.Fx != nil {
		fx := *n.Fx
		n.Fx = &fx
	}
	if n.Fy != nil {
		fy := *n.Fy
		n.Fy = &fy
	}
	return n
}

// Link is a directed relationship between two node ids.
type Link struct {
	Source string   `json:"source" yaml:"source" validate:"required"`
	Target string   `json:"target" yaml:"target" validate:"required"`
	Type   LinkType `json:"type" yaml:"type" validate:"required,linktype"`
}

// Key is the identity used for valence lookup and selection.
func (l Link) Key() string {
	return LinkKey(l.Source, l.Target)
}

// UnmarshalJSON accepts endpoints either as plain ids or as embedded node
// objects carrying an "id", which older browser exports produced after the
// layout library had resolved them. Only the id is kept.
func (l *Link) UnmarshalJSON(data []byte) error {
	var raw struct {
		Source json.RawMessage `json:"source"`
		Target json.RawMessage `json:"target"`
		Type   LinkType        `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	src, err := endpointID(raw.Source)
	if err != nil {
		return fmt.Errorf("link source: %w", err)
	}
	dst, err := endpointID(raw.Target)
	if err != nil {
		return fmt.Errorf("link target: %w", err)
	}
	*l = Link{Source: src, Target: dst, Type: raw.Type}
	return nil
}

func endpointID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("endpoint must be an id or a node object")
	}
	return obj.ID, nil
}

// LinkKey builds the "{source}-{target}" key.
func LinkKey(source, target string) string {
	return source + "-" + target
}

// Position is a resolved node coordinate copied back from the layout engine.
type Position struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// Selection holds at most one of a selected node or a selected link.
type Selection struct {
	NodeID string `json:"selectedNodeId,omitempty"`
	LinkID string `json:"selectedLinkId,omitempty"`
}

var (
	ErrDuplicateID     = errors.New("duplicate node id")
	ErrDuplicateLink   = errors.New("duplicate link")
	ErrUnknownEndpoint = errors.New("unknown link endpoint")
	ErrUnknownNode     = errors.New("unknown node")
	ErrUnknownLink     = errors.New("unknown link")
	ErrInvalidNode     = errors.New("invalid node")
	ErrInvalidLink     = errors.New("invalid link")
	ErrInvalidSnapshot = errors.New("invalid snapshot")
	ErrProtectedNode   = errors.New("node cannot be removed")
)

// Store is the single source of truth for nodes, links, valence and selection.
// It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	nodes     []Node
	index     map[string]int
	links     []Link
	valence   map[string]valence.Valence
	selection Selection
	seq       uint64

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

func meNode() Node {
	x, y := 0.0, 0.0
	return Node{ID: MeID, Name: "Me", Role: RoleSelf, Fx: &x, Fy: &y}
}

// New creates a store holding only the pinned "me" node.
func New() *Store {
	s := &Store{subs: make(map[int]func(Event))}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.nodes = []Node{meNode()}
	s.links = make([]Link, 0)
	s.valence = make(map[string]valence.Valence)
	s.selection = Selection{}
	s.reindex()
}

func (s *Store) reindex() {
	s.index = make(map[string]int, len(s.nodes))
	for i, n := range s.nodes {
		s.index[n.ID] = i
	}
}

// ─── Mutations ───

// AddNode appends a node. The id must be unique.
func (s *Store) AddNode(n Node) error {
	n.ID = strings.TrimSpace(n.ID)
	n.Name = SanitizeName(n.Name)
	if n.ID == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidNode)
	}
	if !n.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidNode, n.Role)
	}

	s.mu.Lock()
	if _, exists := s.index[n.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateID, n.ID)
	}
	if n.Role == RoleSelf {
		s.mu.Unlock()
		return fmt.Errorf("%w: only %q may have role %s", ErrInvalidNode, MeID, RoleSelf)
	}
	s.nodes = append(s.nodes, n.clone())
	s.index[n.ID] = len(s.nodes) - 1
	ev := s.eventLocked(NodeAdded, n.ID)
	s.mu.Unlock()

	s.emit(ev)
	return nil
}

// AddLink appends a link. Both endpoints must already exist.
func (s *Store) AddLink(l Link) error {
	if !l.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidLink, l.Type)
	}
	if l.Source == l.Target {
		return fmt.Errorf("%w: %s links to itself", ErrInvalidLink, l.Source)
	}

	s.mu.Lock()
	for _, id := range []string{l.Source, l.Target} {
		if _, ok := s.index[id]; !ok {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrUnknownEndpoint, id)
		}
	}
	key := l.Key()
	for _, existing := range s.links {
		if existing.Key() == key {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrDuplicateLink, key)
		}
	}
	s.links = append(s.links, l)
	ev := s.eventLocked(LinkAdded, key)
	s.mu.Unlock()

	s.emit(ev)
	return nil
}

// UpdateValence upserts the valence of a link. Scores are always clamped to
// [-5, 5] before storage.
func (s *Store) UpdateValence(key string, v valence.Valence) error {
	s.mu.Lock()
	if s.linkIndexLocked(key) < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownLink, key)
	}
	s.valence[key] = v.Normalize()
	ev := s.eventLocked(ValenceUpdated, key)
	s.mu.Unlock()

	s.emit(ev)
	return nil
}

// RemoveNode deletes a node with its links, their valence and any selection
// pointing at them. The "me" node is protected.
func (s *Store) RemoveNode(id string) error {
	if id == MeID {
		return fmt.Errorf("%w: %s", ErrProtectedNode, id)
	}

	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	s.nodes = append(s.nodes[:i], s.nodes[i+1:]...)
	s.reindex()

	filtered := make([]Link, 0, len(s.links))
	for _, l := range s.links {
		if l.Source == id || l.Target == id {
			s.dropLinkStateLocked(l.Key())
			continue
		}
		filtered = append(filtered, l)
	}
	s.links = filtered
	if s.selection.NodeID == id {
		s.selection.NodeID = ""
	}
	ev := s.eventLocked(NodeRemoved, id)
	s.mu.Unlock()

	s.emit(ev)
	return nil
}

// RemoveLink deletes a link and cascades to its valence and selection.
func (s *Store) RemoveLink(key string) error {
	s.mu.Lock()
	i := s.linkIndexLocked(key)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownLink, key)
	}
	s.links = append(s.links[:i], s.links[i+1:]...)
	s.dropLinkStateLocked(key)
	ev := s.eventLocked(LinkRemoved, key)
	s.mu.Unlock()

	s.emit(ev)
	return nil
}

func (s *Store) dropLinkStateLocked(key string) {
	delete(s.valence, key)
	if s.selection.LinkID == key {
		s.selection.LinkID = ""
	}
}

// SelectNode selects a node and clears any selected link. An empty id clears
// the node selection.
func (s *Store) SelectNode(id string) {
	s.mu.Lock()
	s.selection = Selection{NodeID: id}
	ev := s.eventLocked(SelectionChanged, id)
	s.mu.Unlock()
	s.emit(ev)
}

// SelectLink selects a link and clears any selected node. An empty key clears
// the link selection.
func (s *Store) SelectLink(key string) {
	s.mu.Lock()
	s.selection = Selection{LinkID: key}
	ev := s.eventLocked(SelectionChanged, key)
	s.mu.Unlock()
	s.emit(ev)
}

// SetPositions copies layout coordinates back into the store. Unknown ids are
// ignored; pins are left untouched.
func (s *Store) SetPositions(positions []Position) {
	if len(positions) == 0 {
		return
	}
	s.mu.Lock()
	for _, p := range positions {
		if i, ok := s.index[p.ID]; ok {
			s.nodes[i].X = p.X
			s.nodes[i].Y = p.Y
		}
	}
	ev := s.eventLocked(PositionsUpdated, "")
	s.mu.Unlock()
	s.emit(ev)
}

// ClearSession resets to the initial single "me" node.
func (s *Store) ClearSession() {
	s.mu.Lock()
	s.reset()
	ev := s.eventLocked(SessionCleared, "")
	s.mu.Unlock()
	s.emit(ev)
}

// ─── Query ───

// Nodes returns a copy of the node collection in insertion order.
func (s *Store) Nodes() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Node, len(s.nodes))
	for i, n := range s.nodes {
		out[i] = n.clone()
	}
	return out
}

// Links returns a copy of the link collection in insertion order.
func (s *Store) Links() []Link {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Link(nil), s.links...)
}

// Node returns a node by id.
func (s *Store) Node(id string) (Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return Node{}, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	return s.nodes[i].clone(), nil
}

// HasLink reports whether a link with the given key exists.
func (s *Store) HasLink(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.linkIndexLocked(key) >= 0
}

// Valence returns the valence for a link key, or nil if never assessed.
func (s *Store) Valence(key string) *valence.Valence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.valence[key]
	if !ok {
		return nil
	}
	return &v
}

// ValenceMap returns a copy of the valence mapping.
func (s *Store) ValenceMap() map[string]valence.Valence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyValence(s.valence)
}

// Selection returns the current selection.
func (s *Store) Selection() Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selection
}

// Stats holds summary counts.
type Stats struct {
	Nodes    int
	Links    int
	Assessed int
}

// GetStats returns summary counts.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Nodes: len(s.nodes), Links: len(s.links), Assessed: len(s.valence)}
}

func (s *Store) linkIndexLocked(key string) int {
	for i, l := range s.links {
		if l.Key() == key {
			return i
		}
	}
	return -1
}

func copyValence(m map[string]valence.Valence) map[string]valence.Valence {
	out := make(map[string]valence.Valence, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SanitizeName trims a display label, strips markup characters and bounds it
// to 100 runes.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.NewReplacer("<", "", ">", "", `"`, "", "'", "").Replace(name)
	r := []rune(name)
	if len(r) > 100 {
		r = r[:100]
	}
	return string(r)
}
