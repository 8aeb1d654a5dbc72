//go:build e2e

package main

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

var valenceBin string

func TestMain(m *testing.M) {
	tmp, err := os.MkdirTemp("", "valence-e2e-*")
	if err != nil {
		panic("failed to create temp dir: " + err.Error())
	}
	defer os.RemoveAll(tmp)

	valenceBin = filepath.Join(tmp, "valence")
	build := exec.Command("go", "build", "-ldflags", "-X github.com/msalah0e/valence/cmd.version=1.5.0-test", "-o", valenceBin, ".")
	build.Stderr = os.Stderr
	if err := build.Run(); err != nil {
		panic("failed to build valence: " + err.Error())
	}

	os.Exit(m.Run())
}

// runValence executes the binary with home as an isolated HOME directory.
// Calls sharing a home share the saved session.
func runValence(t *testing.T, home string, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()
	cmd := exec.Command(valenceBin, args...)
	cmd.Dir = home
	cmd.Env = append(os.Environ(),
		"HOME="+home,
		"XDG_CONFIG_HOME="+filepath.Join(home, ".config"),
		"NO_COLOR=1",
		"VALENCE_USER=e2e",
		"VALENCE_BACKEND=file",
	)

	var outBuf, errBuf strings.Builder
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	exitCode = 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			t.Fatalf("failed to run valence %v: %v", args, err)
		}
	}
	return outBuf.String(), errBuf.String(), exitCode
}

func mustRun(t *testing.T, home string, args ...string) string {
	t.Helper()
	out, errOut, code := runValence(t, home, args...)
	if code != 0 {
		t.Fatalf("valence %v: exit %d\nstdout: %s\nstderr: %s", args, code, out, errOut)
	}
	return out
}

// --- Core CLI ---

func TestE2E_Version(t *testing.T) {
	out := mustRun(t, t.TempDir(), "--version")
	if !strings.Contains(out, "1.5.0") {
		t.Errorf("expected version output to contain '1.5.0', got %q", out)
	}
}

func TestE2E_Help(t *testing.T) {
	out := mustRun(t, t.TempDir(), "--help")
	for _, sub := range []string{"node", "link", "valence", "session", "layout", "serve"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help to list %q", sub)
		}
	}
}

func TestE2E_FreshSessionHasMe(t *testing.T) {
	out := mustRun(t, t.TempDir(), "node", "list", "--json")
	var nodes []map[string]any
	if err := json.Unmarshal([]byte(out), &nodes); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if len(nodes) != 1 || nodes[0]["id"] != "me" {
		t.Errorf("expected only the me node, got %v", nodes)
	}
}

// --- Map editing ---

func TestE2E_BuildAndScoreMap(t *testing.T) {
	home := t.TempDir()
	mustRun(t, home, "node", "add", "Fox Mulder", "--role", "peer", "--id", "fox")
	mustRun(t, home, "node", "add", "Walter Skinner", "--role", "manager", "--id", "skinner")
	mustRun(t, home, "link", "add", "me", "fox", "--type", "collaboration")
	mustRun(t, home, "link", "add", "skinner", "me", "--type", "reporting")
	mustRun(t, home, "valence", "set", "me-fox", "--trust", "9", "--respect", "4", "--notes", "<b>solid</b>")

	out := mustRun(t, home, "link", "list", "--json")
	var links []struct {
		Key     string   `json:"key"`
		Average *float64 `json:"average"`
		Color   string   `json:"color"`
	}
	if err := json.Unmarshal([]byte(out), &links); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %d", len(links))
	}
	if links[0].Average == nil || *links[0].Average != 1.8 {
		t.Errorf("expected average 1.8 after clamping trust to 5, got %v", links[0].Average)
	}
	if links[0].Color != "#4ade80" {
		t.Errorf("expected positive color, got %s", links[0].Color)
	}
	if links[1].Average != nil || links[1].Color != "#999999" {
		t.Errorf("unrated link should be neutral, got %+v", links[1])
	}

	out = mustRun(t, home, "valence", "show", "me", "fox")
	if !strings.Contains(out, "solid") || strings.Contains(out, "<b>") {
		t.Errorf("notes should be sanitized, got %q", out)
	}
}

func TestE2E_RemoveCascades(t *testing.T) {
	home := t.TempDir()
	mustRun(t, home, "node", "add", "Dana", "--id", "dana")
	mustRun(t, home, "link", "add", "me", "dana")
	mustRun(t, home, "valence", "set", "me-dana", "--trust", "2")

	out := mustRun(t, home, "node", "rm", "dana")
	if !strings.Contains(out, "1 link") {
		t.Errorf("expected cascade message, got %q", out)
	}
	out = mustRun(t, home, "link", "list", "--json")
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("expected no links, got %s", out)
	}
}

func TestE2E_Errors(t *testing.T) {
	home := t.TempDir()
	cases := [][]string{
		{"node", "rm", "me"},
		{"node", "add", "X", "--role", "wizard"},
		{"link", "add", "me", "ghost"},
		{"valence", "set", "me-ghost", "--trust", "1"},
	}
	for _, args := range cases {
		if _, _, code := runValence(t, home, args...); code == 0 {
			t.Errorf("valence %v: expected failure", args)
		}
	}
	mustRun(t, home, "node", "add", "Dup", "--id", "dup")
	if _, _, code := runValence(t, home, "node", "add", "Dup", "--id", "dup"); code == 0 {
		t.Error("duplicate id accepted")
	}
}

// --- Session ---

func TestE2E_ExportImportYAML(t *testing.T) {
	home := t.TempDir()
	mustRun(t, home, "node", "add", "Scully", "--id", "scully", "--role", "mentor")
	mustRun(t, home, "link", "add", "scully", "me", "--type", "advisory")

	file := filepath.Join(home, "map.yaml")
	mustRun(t, home, "session", "export", "--format", "yaml", "--output", file)
	mustRun(t, home, "session", "clear", "--force")

	out := mustRun(t, home, "node", "list", "--json")
	if strings.Contains(out, "scully") {
		t.Fatal("clear did not reset the map")
	}

	mustRun(t, home, "session", "import", file)
	out = mustRun(t, home, "node", "list", "--json")
	if !strings.Contains(out, "scully") {
		t.Errorf("import did not restore scully: %s", out)
	}
}

func TestE2E_ImportRejectsInvalid(t *testing.T) {
	home := t.TempDir()
	bad := filepath.Join(home, "bad.json")
	os.WriteFile(bad, []byte(`{"nodes":[{"id":"x","role":"Peer"}]}`), 0o644)
	if _, _, code := runValence(t, home, "session", "import", bad); code == 0 {
		t.Error("snapshot without me accepted")
	}
}

func TestE2E_LayoutSavesPositions(t *testing.T) {
	home := t.TempDir()
	mustRun(t, home, "node", "add", "A", "--id", "a")
	mustRun(t, home, "node", "add", "B", "--id", "b")
	mustRun(t, home, "link", "add", "me", "a")
	mustRun(t, home, "link", "add", "me", "b")

	out := mustRun(t, home, "layout", "--json")
	var frame struct {
		Settled bool `json:"settled"`
		Nodes   []struct {
			ID string  `json:"id"`
			X  float64 `json:"x"`
			Y  float64 `json:"y"`
		} `json:"nodes"`
	}
	if err := json.Unmarshal([]byte(out), &frame); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if !frame.Settled || len(frame.Nodes) != 3 {
		t.Fatalf("unexpected frame: %+v", frame)
	}

	out = mustRun(t, home, "node", "list", "--json")
	var nodes []struct {
		ID string  `json:"id"`
		X  float64 `json:"x"`
		Y  float64 `json:"y"`
	}
	json.Unmarshal([]byte(out), &nodes)
	moved := false
	for _, n := range nodes {
		if n.X != 0 || n.Y != 0 {
			moved = true
		}
	}
	if !moved {
		t.Error("positions were not saved")
	}
}

// --- Activity ---

func TestE2E_ActivityLog(t *testing.T) {
	home := t.TempDir()
	mustRun(t, home, "node", "add", "Logged", "--id", "logged")

	out := mustRun(t, home, "log")
	if !strings.Contains(out, "node_added") {
		t.Errorf("expected node_added in log, got %q", out)
	}
	out = mustRun(t, home, "log", "search", "logged")
	if !strings.Contains(out, "1 results") {
		t.Errorf("expected one search hit, got %q", out)
	}
	mustRun(t, home, "log", "clear")
	out = mustRun(t, home, "log")
	if !strings.Contains(out, "No activity") {
		t.Errorf("expected empty log, got %q", out)
	}
}

func TestE2E_ConfigPath(t *testing.T) {
	home := t.TempDir()
	out := mustRun(t, home, "config", "path")
	want := filepath.Join(home, ".config", "valence", "config.toml")
	if strings.TrimSpace(out) != want {
		t.Errorf("config path = %q, want %q", strings.TrimSpace(out), want)
	}
}

func TestE2E_Completion(t *testing.T) {
	for _, shell := range []string{"bash", "zsh", "fish"} {
		out := mustRun(t, t.TempDir(), "completion", shell)
		if !strings.Contains(out, "valence") {
			t.Errorf("%s completion does not mention valence", shell)
		}
	}
}
