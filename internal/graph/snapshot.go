package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/msalah0e/valence/internal/valence"
)

// SnapshotVersion is the schema tag written on export.
const SnapshotVersion = "1"

// Snapshot is the full serializable state used for persistence, export and
// import. Link endpoints are always plain node ids.
type Snapshot struct {
	Version    string                     `json:"version" yaml:"version"`
	Nodes      []Node                     `json:"nodes" yaml:"nodes" validate:"required,min=1,dive"`
	Links      []Link                     `json:"links" yaml:"links" validate:"dive"`
	Valence    map[string]valence.Valence `json:"valence" yaml:"valence"`
	UpdatedAt  string                     `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
	ExportDate string                     `json:"exportDate,omitempty" yaml:"exportDate,omitempty"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func snapshotValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			return jsonName(fld.Tag.Get("json"))
		})
		_ = v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
			return Role(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("linktype", func(fl validator.FieldLevel) bool {
			return LinkType(fl.Field().String()).Valid()
		})
		validate = v
	})
	return validate
}

func jsonName(tag string) string {
	name := strings.SplitN(tag, ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

// Validate checks the snapshot shape and its referential integrity. The
// returned error wraps ErrInvalidSnapshot.
func (snap *Snapshot) Validate() error {
	if err := snapshotValidator().Struct(snap); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q", ErrInvalidSnapshot, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	ids := make(map[string]bool, len(snap.Nodes))
	selfCount := 0
	for _, n := range snap.Nodes {
		if ids[n.ID] {
			return fmt.Errorf("%w: %v: %s", ErrInvalidSnapshot, ErrDuplicateID, n.ID)
		}
		ids[n.ID] = true
		if n.Role == RoleSelf {
			selfCount++
			if n.ID != MeID {
				return fmt.Errorf("%w: node %s has role %s", ErrInvalidSnapshot, n.ID, RoleSelf)
			}
		}
		if !finite(n.X) || !finite(n.Y) || (n.Fx != nil && !finite(*n.Fx)) || (n.Fy != nil && !finite(*n.Fy)) {
			return fmt.Errorf("%w: node %s has a non-finite coordinate", ErrInvalidSnapshot, n.ID)
		}
	}
	if !ids[MeID] || selfCount != 1 {
		return fmt.Errorf("%w: exactly one %q node with role %s is required", ErrInvalidSnapshot, MeID, RoleSelf)
	}

	keys := make(map[string]bool, len(snap.Links))
	for _, l := range snap.Links {
		if !ids[l.Source] || !ids[l.Target] {
			return fmt.Errorf("%w: %v: %s", ErrInvalidSnapshot, ErrUnknownEndpoint, l.Key())
		}
		if keys[l.Key()] {
			return fmt.Errorf("%w: %v: %s", ErrInvalidSnapshot, ErrDuplicateLink, l.Key())
		}
		keys[l.Key()] = true
	}
	for key := range snap.Valence {
		if !keys[key] {
			return fmt.Errorf("%w: valence for unknown link %s", ErrInvalidSnapshot, key)
		}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// ParseSnapshot decodes a JSON snapshot. Decoding errors wrap ErrInvalidSnapshot.
func ParseSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	return snap, nil
}

// LoadSession atomically replaces nodes, links and valence from a snapshot.
// Nothing is applied if validation fails. A missing valence mapping is
// treated as empty and a missing version as the current one. Names and notes
// are stored exactly as given; only out-of-range scores are clamped.
func (s *Store) LoadSession(snap Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}

	nodes := make([]Node, len(snap.Nodes))
	for i, n := range snap.Nodes {
		nodes[i] = n.clone()
	}
	links := append(make([]Link, 0, len(snap.Links)), snap.Links...)
	vmap := make(map[string]valence.Valence, len(snap.Valence))
	for k, v := range snap.Valence {
		vmap[k] = v.ClampScores()
	}

	s.mu.Lock()
	s.nodes = nodes
	s.links = links
	s.valence = vmap
	s.selection = Selection{}
	s.reindex()
	ev := s.eventLocked(SessionLoaded, "")
	s.mu.Unlock()

	s.emit(ev)
	return nil
}

// Snapshot captures the current state for persistence.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	nodes := make([]Node, len(s.nodes))
	for i, n := range s.nodes {
		nodes[i] = n.clone()
	}
	return Snapshot{
		Version:   SnapshotVersion,
		Nodes:     nodes,
		Links:     append(make([]Link, 0, len(s.links)), s.links...),
		Valence:   copyValence(s.valence),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// ExportJSON returns the snapshot as pretty-printed JSON stamped with an
// export date.
func (s *Store) ExportJSON() ([]byte, error) {
	snap := s.Snapshot()
	snap.ExportDate = time.Now().UTC().Format(time.RFC3339)
	return json.MarshalIndent(snap, "", "  ")
}
