package runner

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/relaywire/fabric/pkg/core"
	"github.com/relaywire/fabric/pkg/security"
	"github.com/relaywire/fabric/pkg/storage"
)

// Option configures a Runner at construction time.
type Option func(*Runner)

// WithLauncher sets the command template; the literal substring "{id}"
// is replaced with the job id before the result is split on whitespace
// into argv.
func WithLauncher(template string) Option {
	return func(r *Runner) { r.launcher = template }
}

// WithWorkingDir sets the child's working directory. Empty means
// inherit the daemon's.
func WithWorkingDir(dir string) Option {
	return func(r *Runner) { r.cwd = dir }
}

// WithEnv appends KEY=VALUE pairs to the child's environment, on top of
// the daemon's own environment.
func WithEnv(env []string) Option {
	return func(r *Runner) { r.env = env }
}

// WithMaxOutputBuffer caps captured stdout/stderr per stream, in bytes.
func WithMaxOutputBuffer(n int) Option {
	return func(r *Runner) { r.maxOutput = n }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// SetOnDone wires the done callback after construction, so the owning
// Scheduler can close over itself without a construction-order cycle.
func (r *Runner) SetOnDone(fn func(core.JobDone)) { r.onDone = fn }

// WithOnDone registers a callback fired after a job's final state has
// been written to storage. The Worker scheduler uses this to fulfill a
// run-manual waiter.
func WithOnDone(fn func(core.JobDone)) Option {
	return func(r *Runner) { r.onDone = fn }
}

// Runner spawns the child process for a claimed job.
type Runner struct {
	store     *storage.Store
	launcher  string
	cwd       string
	env       []string
	maxOutput int
	onDone    func(core.JobDone)
	log       *slog.Logger
}

// New builds a Runner backed by store.
func New(store *storage.Store, opts ...Option) *Runner {
	r := &Runner{
		store:     store,
		maxOutput: security.MaxOutputBuffer,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the job at id for target: transitions it to running,
// spawns the launcher, captures output, and writes the final done state.
// It matches targetqueue.RunFunc's signature and blocks until the child
// has exited (or failed to spawn).
func (r *Runner) Run(ctx context.Context, id uint64, target string) {
	if _, err := r.store.MarkRunning(ctx, id); err != nil {
		r.log.Error("mark running failed", "id", id, "error", err)
		r.finish(ctx, id, target, storage.JobResult{
			Result: core.ResultFail,
			Stderr: "storage error: " + err.Error(),
		})
		return
	}

	argv := strings.Fields(strings.ReplaceAll(r.launcher, "{id}", strconv.FormatUint(id, 10)))
	if len(argv) == 0 {
		r.finish(ctx, id, target, storage.JobResult{
			Result: core.ResultFail,
			Stderr: "empty launcher command",
		})
		return
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if r.cwd != "" {
		cmd.Dir = r.cwd
	}
	if len(r.env) > 0 {
		cmd.Env = append(cmd.Environ(), r.env...)
	}

	var killOnce sync.Once
	killOnExceed := func() {
		killOnce.Do(func() {
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		})
	}
	stdout := newCappedWriter(r.maxOutput, killOnExceed)
	stderr := newCappedWriter(r.maxOutput, killOnExceed)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		r.finish(ctx, id, target, storage.JobResult{
			Result: core.ResultFail,
			Stderr: "spawn error: " + err.Error(),
		})
		return
	}

	waitErr := cmd.Wait()

	if stdout.Exceeded() || stderr.Exceeded() {
		r.finish(ctx, id, target, storage.JobResult{
			Result: core.ResultFail,
			Stdout: security.ClampOutput(stdout.Bytes(), r.maxOutput),
			Stderr: "output buffer exceeded",
		})
		return
	}

	code, sig := exitInfo(waitErr)
	result := core.ResultOK
	if code != 0 {
		result = core.ResultFail
	}

	var returnCode *int
	if sig == "" {
		c := code
		returnCode = &c
	}

	r.finish(ctx, id, target, storage.JobResult{
		Result:     result,
		ReturnCode: returnCode,
		Sig:        sig,
		Stdout:     security.ClampOutput(stdout.Bytes(), r.maxOutput),
		Stderr:     security.ClampOutput(stderr.Bytes(), r.maxOutput),
	})
}

func (r *Runner) finish(ctx context.Context, id uint64, target string, res storage.JobResult) {
	if err := r.store.MarkDone(ctx, id, res); err != nil {
		r.log.Error("mark done failed", "id", id, "error", err)
	}
	if r.onDone != nil {
		r.onDone(core.JobDone{
			ID:     id,
			Target: target,
			Result: res.Result,
			Code:   res.ReturnCode,
			Signal: res.Sig,
			Stdout: res.Stdout,
			Stderr: res.Stderr,
		})
	}
}

// exitInfo extracts the exit code and, if the process died from a
// signal, the signal's name. A nil err means the child exited 0.
func exitInfo(err error) (code int, signal string) {
	if err == nil {
		return 0, ""
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1, ""
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -1, ws.Signal().String()
	}
	return exitErr.ExitCode(), ""
}
