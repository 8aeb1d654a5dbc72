package hooks

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/msalah0e/valence/internal/config"
)

// Phases a hook can be attached to.
const (
	PostSave = "post_save"
	PostLoad = "post_load"
)

// Event describes what triggered a hook. Its fields are passed to the script
// as VALENCE_* environment variables.
type Event struct {
	Phase   string
	User    string
	Backend string
	Nodes   int
	Links   int
}

// Runner executes configured hook scripts with sh -c.
type Runner struct {
	cfg    config.HooksConfig
	stdout io.Writer
	stderr io.Writer
}

// New creates a runner for the configured scripts.
func New(cfg config.HooksConfig) *Runner {
	return &Runner{cfg: cfg, stdout: os.Stdout, stderr: os.Stderr}
}

// SetOutput redirects script output.
func (r *Runner) SetOutput(stdout, stderr io.Writer) {
	r.stdout, r.stderr = stdout, stderr
}

// Configured reports whether a script exists for phase.
func (r *Runner) Configured(phase string) bool {
	return r.script(phase) != ""
}

// Run executes the hook script for ev.Phase, if configured.
func (r *Runner) Run(ctx context.Context, ev Event) error {
	script := r.script(ev.Phase)
	if script == "" {
		return nil
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	cmd.Env = append(os.Environ(),
		"VALENCE_PHASE="+ev.Phase,
		"VALENCE_USER="+ev.User,
		"VALENCE_BACKEND="+ev.Backend,
		"VALENCE_NODES="+strconv.Itoa(ev.Nodes),
		"VALENCE_LINKS="+strconv.Itoa(ev.Links),
	)
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr
	return cmd.Run()
}

func (r *Runner) script(phase string) string {
	switch phase {
	case PostSave:
		return r.cfg.PostSave
	case PostLoad:
		return r.cfg.PostLoad
	default:
		return ""
	}
}
