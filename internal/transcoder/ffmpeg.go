package transcoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/virex/internal/config"
	"github.com/therealutkarshpriyadarshi/virex/internal/logging"
	"github.com/therealutkarshpriyadarshi/virex/internal/metrics"
	"github.com/therealutkarshpriyadarshi/virex/internal/planner"
)

var (
	// ErrTimeout is returned when a run exceeds the wall-clock limit
	ErrTimeout = errors.New("transcoder timeout")
	// ErrCancelled is returned when the caller cancelled a run
	ErrCancelled = errors.New("transcoder cancelled")
	// ErrEmptyOutput is returned when the process exits cleanly without output
	ErrEmptyOutput = errors.New("transcoder produced no output")
)

// stderrTail bounds how much process output is kept for error reports
const stderrTail = 2048

// ExitError reports a non-zero exit
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("ffmpeg exited with code %d: %s", e.Code, e.Stderr)
}

// FFmpeg runs ffmpeg and ffprobe subprocesses
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	timeout     time.Duration
	killGrace   time.Duration
	logger      *logging.Logger

	mu   sync.Mutex
	live map[string]*exec.Cmd
}

// NewFFmpeg creates a new FFmpeg driver. Binary paths are resolved against
// PATH once, here.
func NewFFmpeg(cfg config.TranscoderConfig, logger *logging.Logger) *FFmpeg {
	return &FFmpeg{
		ffmpegPath:  lookPath(cfg.FFmpegPath),
		ffprobePath: lookPath(cfg.FFprobePath),
		timeout:     cfg.Timeout,
		killGrace:   cfg.KillGrace,
		logger:      logger.Component("transcoder"),
		live:        make(map[string]*exec.Cmd),
	}
}

func lookPath(name string) string {
	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	return name
}

// Run executes recipe against input and writes output. id names the run in
// the live-process registry so Kill and KillAll can reach it.
func (f *FFmpeg) Run(ctx context.Context, id string, recipe *planner.Recipe, input, output string) error {
	runCtx := ctx
	var cancel context.CancelFunc
	if f.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, f.timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(runCtx, f.ffmpegPath, recipe.Args(input, output)...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = f.killGrace

	tail := &tailBuffer{max: stderrTail}
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	f.track(id, cmd)
	defer f.untrack(id)

	err := cmd.Wait()
	elapsed := time.Since(start)

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		err = ErrTimeout
	case ctx.Err() != nil || (err != nil && isSignalled(cmd)):
		err = ErrCancelled
	case err != nil:
		err = &ExitError{Code: cmd.ProcessState.ExitCode(), Stderr: tail.String()}
	default:
		if info, statErr := os.Stat(output); statErr != nil || info.Size() == 0 {
			err = ErrEmptyOutput
		}
	}

	metrics.RecordTranscode(recipe.Mode, recipe.Quality, elapsed.Seconds(), failureReason(err))
	f.logger.LogTranscode(id, recipe.Seed, elapsed, err)

	if err != nil {
		os.Remove(output)
		return err
	}
	return nil
}

// isSignalled reports whether the process died from a signal, which only
// happens here when Kill or KillAll reached it
func isSignalled(cmd *exec.Cmd) bool {
	if cmd.ProcessState == nil {
		return false
	}
	ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus)
	return ok && ws.Signaled()
}

func failureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrEmptyOutput):
		return "empty_output"
	default:
		return "exit"
	}
}

func (f *FFmpeg) track(id string, cmd *exec.Cmd) {
	f.mu.Lock()
	f.live[id] = cmd
	f.mu.Unlock()
}

func (f *FFmpeg) untrack(id string) {
	f.mu.Lock()
	delete(f.live, id)
	f.mu.Unlock()
}

// Kill terminates the live run named id. It reports whether one was found.
func (f *FFmpeg) Kill(id string) bool {
	f.mu.Lock()
	cmd, ok := f.live[id]
	f.mu.Unlock()
	if !ok || cmd.Process == nil {
		return false
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		f.logger.WithError(err).WithTaskID(id).Warn("Failed to signal ffmpeg")
	}
	return true
}

// KillAll terminates every live run and returns how many were signalled
func (f *FFmpeg) KillAll() int {
	f.mu.Lock()
	ids := make([]string, 0, len(f.live))
	for id := range f.live {
		ids = append(ids, id)
	}
	f.mu.Unlock()

	n := 0
	for _, id := range ids {
		if f.Kill(id) {
			n++
		}
	}
	if n > 0 {
		f.logger.Infof("Terminated %d ffmpeg processes", n)
	}
	return n
}

// Active returns the number of live runs
func (f *FFmpeg) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

// output runs a short-lived helper command and returns its stdout
func (f *FFmpeg) output(ctx context.Context, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)

	var stdout bytes.Buffer
	stderr := &tailBuffer{max: stderrTail}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w, stderr: %s", bin, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// tailBuffer keeps the last max bytes written to it
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(bytes.TrimSpace(t.buf))
}
