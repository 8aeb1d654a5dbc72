package activity

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/msalah0e/valence/internal/graph"
)

// Entry represents a single activity log entry.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	User      string    `json:"user,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Details   string    `json:"details,omitempty"`
}

// DefaultPath is the log location under the valence config directory.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "valence", "activity.jsonl")
}

// Log is an append-only JSONL file of session changes.
type Log struct {
	path string
	mu   sync.Mutex
}

// Open returns the log at path. The file is created on first append.
func Open(path string) *Log {
	return &Log{path: path}
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

// Append writes an entry, stamping it with the current time if unset.
func (l *Log) Append(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s\n", data)
	return err
}

// Read returns the last count entries, newest first. Zero means all.
func (l *Log) Read(count int) ([]Entry, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		if json.Unmarshal(sc.Bytes(), &e) == nil {
			entries = append(entries, e)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if count > 0 && len(entries) > count {
		entries = entries[:count]
	}
	return entries, nil
}

// Search finds entries whose action, subject or details contain query,
// ignoring case.
func (l *Log) Search(query string, count int) ([]Entry, error) {
	all, err := l.Read(0)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var results []Entry
	for _, e := range all {
		hay := strings.ToLower(e.Action + "\x00" + e.Subject + "\x00" + e.Details)
		if strings.Contains(hay, q) {
			results = append(results, e)
			if count > 0 && len(results) >= count {
				break
			}
		}
	}
	return results, nil
}

// Clear removes all log entries.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Record subscribes the log to store mutations for user. Layout position
// updates are not recorded. Append errors go to onError, which may be nil.
func (l *Log) Record(store *graph.Store, user string, onError func(error)) func() {
	return store.Subscribe(func(ev graph.Event) {
		if ev.Kind == graph.PositionsUpdated {
			return
		}
		err := l.Append(Entry{Action: string(ev.Kind), User: user, Subject: ev.Subject, Details: details(ev)})
		if err != nil && onError != nil {
			onError(err)
		}
	})
}

func details(ev graph.Event) string {
	switch ev.Kind {
	case graph.ValenceUpdated:
		if v, ok := ev.Snapshot.Valence[ev.Subject]; ok {
			return fmt.Sprintf("avg %.1f", v.Average())
		}
	case graph.SessionLoaded:
		return fmt.Sprintf("%d nodes, %d links", len(ev.Snapshot.Nodes), len(ev.Snapshot.Links))
	}
	return ""
}
