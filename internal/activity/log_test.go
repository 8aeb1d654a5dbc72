package activity

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/msalah0e/valence/internal/graph"
	"github.com/msalah0e/valence/internal/valence"
)

func TestAppendAndRead(t *testing.T) {
	l := Open(filepath.Join(t.TempDir(), "activity.jsonl"))

	base := time.Now().Add(-time.Hour)
	for i, action := range []string{"node_added", "link_added", "valence_updated"} {
		if err := l.Append(Entry{Timestamp: base.Add(time.Duration(i) * time.Minute), Action: action}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	entries, err := l.Read(2)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Action != "valence_updated" {
		t.Errorf("expected newest first, got %q", entries[0].Action)
	}
}

func TestReadMissing(t *testing.T) {
	l := Open(filepath.Join(t.TempDir(), "none.jsonl"))
	entries, err := l.Read(10)
	if err != nil || entries != nil {
		t.Errorf("expected empty result, got %v, %v", entries, err)
	}
	if err := l.Clear(); err != nil {
		t.Errorf("Clear on missing log should succeed: %v", err)
	}
}

func TestSearch(t *testing.T) {
	l := Open(filepath.Join(t.TempDir(), "activity.jsonl"))
	l.Append(Entry{Action: "node_added", Subject: "Alice"})
	l.Append(Entry{Action: "node_added", Subject: "bob"})

	got, err := l.Search("ALICE", 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(got) != 1 || got[0].Subject != "Alice" {
		t.Errorf("unexpected search result %+v", got)
	}
}

func TestRecord(t *testing.T) {
	l := Open(filepath.Join(t.TempDir(), "activity.jsonl"))
	store := graph.New()
	stop := l.Record(store, "u1", func(err error) { t.Errorf("append failed: %v", err) })

	store.AddNode(graph.Node{ID: "a", Role: graph.RolePeer})
	store.AddLink(graph.Link{Source: graph.MeID, Target: "a", Type: graph.LinkAdvisory})
	store.UpdateValence("me-a", valence.Valence{Trust: 5, Support: 5})
	store.SetPositions([]graph.Position{{ID: "a", X: 1, Y: 1}})
	stop()
	store.ClearSession()

	entries, err := l.Read(0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d: %+v", len(entries), entries)
	}
	for _, e := range entries {
		if e.User != "u1" {
			t.Errorf("expected user u1, got %q", e.User)
		}
		if e.Action == string(graph.ValenceUpdated) && e.Details != "avg 2.0" {
			t.Errorf("expected valence details 'avg 2.0', got %q", e.Details)
		}
	}
}
