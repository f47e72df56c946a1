package transcoder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/virex/internal/config"
	"github.com/therealutkarshpriyadarshi/virex/internal/logging"
	"github.com/therealutkarshpriyadarshi/virex/internal/planner"
)

// writeScript writes an executable shell script into dir
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newTestFFmpeg(t *testing.T, ffmpegBody, ffprobeBody string, timeout time.Duration) *FFmpeg {
	t.Helper()
	dir := t.TempDir()
	cfg := config.TranscoderConfig{
		FFmpegPath:  writeScript(t, dir, "ffmpeg", ffmpegBody),
		FFprobePath: writeScript(t, dir, "ffprobe", ffprobeBody),
		Timeout:     timeout,
		KillGrace:   200 * time.Millisecond,
	}
	return NewFFmpeg(cfg, logging.Nop())
}

func testRecipe() *planner.Recipe {
	return planner.New(8192, "320k").Plan(
		planner.Source{Width: 1920, Height: 1080, FPS: 30, Duration: 30, HasAudio: true},
		planner.Options{Mode: "tiktok", Quality: "medium", TextOverlay: true, Template: "none"},
		42,
	)
}

const writeLastArg = `for last; do :; done
echo transcoded > "$last"`

func TestRunSuccess(t *testing.T) {
	f := newTestFFmpeg(t, writeLastArg, "", 5*time.Second)
	out := filepath.Join(t.TempDir(), "out.mp4")

	err := f.Run(context.Background(), "task-1", testRecipe(), "in.mp4", out)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "transcoded\n", string(data))
	assert.Equal(t, 0, f.Active())
}

func TestRunNonZeroExit(t *testing.T) {
	f := newTestFFmpeg(t, `for last; do :; done
echo partial > "$last"
echo "Invalid filter graph" >&2
exit 3`, "", 5*time.Second)
	out := filepath.Join(t.TempDir(), "out.mp4")

	err := f.Run(context.Background(), "task-1", testRecipe(), "in.mp4", out)
	require.Error(t, err)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Code)
	assert.Contains(t, exitErr.Stderr, "Invalid filter graph")

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "partial output must be removed")
}

func TestRunEmptyOutput(t *testing.T) {
	f := newTestFFmpeg(t, `for last; do :; done
: > "$last"`, "", 5*time.Second)
	out := filepath.Join(t.TempDir(), "out.mp4")

	err := f.Run(context.Background(), "task-1", testRecipe(), "in.mp4", out)
	assert.ErrorIs(t, err, ErrEmptyOutput)
}

func TestRunTimeout(t *testing.T) {
	f := newTestFFmpeg(t, "exec sleep 10", "", 100*time.Millisecond)
	out := filepath.Join(t.TempDir(), "out.mp4")

	start := time.Now()
	err := f.Run(context.Background(), "task-1", testRecipe(), "in.mp4", out)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunContextCancelled(t *testing.T) {
	f := newTestFFmpeg(t, "exec sleep 10", "", 10*time.Second)
	out := filepath.Join(t.TempDir(), "out.mp4")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	err := f.Run(ctx, "task-1", testRecipe(), "in.mp4", out)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestKillAll(t *testing.T) {
	f := newTestFFmpeg(t, "exec sleep 10", "", 10*time.Second)
	out := filepath.Join(t.TempDir(), "out.mp4")

	done := make(chan error, 1)
	go func() {
		done <- f.Run(context.Background(), "task-1", testRecipe(), "in.mp4", out)
	}()

	require.Eventually(t, func() bool { return f.Active() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.KillAll())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after KillAll")
	}
	assert.Equal(t, 0, f.Active())
	assert.False(t, f.Kill("task-1"))
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{max: 8}
	_, _ = tb.Write([]byte("0123456789"))
	_, _ = tb.Write([]byte("ab"))
	assert.Equal(t, "456789ab", tb.String())
}
