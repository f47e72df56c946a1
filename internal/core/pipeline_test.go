package core

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/virex/internal/config"
	"github.com/therealutkarshpriyadarshi/virex/internal/events"
	"github.com/therealutkarshpriyadarshi/virex/internal/fingerprint"
	"github.com/therealutkarshpriyadarshi/virex/internal/planner"
	"github.com/therealutkarshpriyadarshi/virex/internal/quota"
	"github.com/therealutkarshpriyadarshi/virex/internal/source"
	"github.com/therealutkarshpriyadarshi/virex/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/virex/internal/trap"
	"github.com/therealutkarshpriyadarshi/virex/pkg/models"
)

func TestProcessFileHappyPath(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	resp := h.core.Handle(ctx, Request{Action: ActionProcessFile, UserID: 1, Username: "u", File: h.video("clip", 12*1024)})
	require.Equal(t, StatusQueued, resp.Status, "%v", resp.Err)
	assert.Equal(t, 1, resp.Position)
	assert.NotEmpty(t, resp.TaskID)
	assert.Equal(t, time.Minute, resp.Wait)

	h.start(t)
	done := h.notes.wait(t)
	require.NoError(t, done.Err)
	assert.Equal(t, resp.TaskID, done.TaskID)
	require.NotNil(t, done.Result)
	require.NotNil(t, done.Result.Passport)
	assert.Empty(t, done.Result.TrapSignature, "free plan has no trap")

	output := h.notes.outputs[done.TaskID]
	assert.True(t, bytes.HasPrefix(output, []byte("processed:")))
	outPath := filepath.Join(t.TempDir(), "out.mp4")
	require.NoError(t, os.WriteFile(outPath, output, 0o644))
	want, err := fingerprint.FileHash(outPath)
	require.NoError(t, err)
	assert.Equal(t, want, done.Result.Passport.VideoHash)

	runs := h.driver.runs()
	require.Len(t, runs, 1)
	vf := runs[0].VideoFilter()
	assert.True(t, strings.HasSuffix(vf, planner.FinalStage))
	assert.Equal(t, 1, strings.Count(vf, "drawtext="), "free users always get the overlay")
	assert.Equal(t, done.Result.Seed, runs[0].Seed)

	u := h.quota.Get(1)
	assert.Equal(t, 1, u.Counters.Daily)
	assert.Equal(t, 1, u.Counters.Weekly)
	assert.Equal(t, 1, u.Counters.Lifetime)
	assert.False(t, u.ProcessingNow)
	require.Len(t, u.History, 1)
	assert.Equal(t, OriginFile, u.History[0].Source)
	assert.Equal(t, done.Result.Passport.ID, u.History[0].PassportID)
	assert.GreaterOrEqual(t, done.Progress.Points, 10)

	assert.Equal(t, 1, h.core.Shield().Analytics(1).TotalProcessed)
	assert.Len(t, h.events.OfType(events.TypeTaskCompleted), 1)
	assert.Zero(t, h.workspaceFiles(t), "input and output are removed")

	stats := h.core.Stats()
	assert.Equal(t, int64(1), stats.Completed)
	assert.Zero(t, stats.Failed)
}

func TestProcessFileValidation(t *testing.T) {
	tests := []struct {
		name string
		ref  func(h *harness) *FileRef
		src  planner.Source
		kind Kind
	}{
		{
			name: "unsupported extension",
			ref: func(h *harness) *FileRef {
				r := h.video("a", 2048)
				r.Name = "a.gif"
				return r
			},
			kind: KindInvalidFormat,
		},
		{
			name: "declared size above plan",
			ref: func(h *harness) *FileRef {
				r := h.video("a", 2048)
				r.Size = 50*1024*1024 + 1
				return r
			},
			kind: KindFileTooLarge,
		},
		{
			name: "too small",
			ref:  func(h *harness) *FileRef { return h.video("a", 999) },
			kind: KindInvalidFormat,
		},
		{
			name: "too long",
			ref:  func(h *harness) *FileRef { return h.video("a", 2048) },
			src:  planner.Source{Width: 1080, Height: 1920, FPS: 30, Duration: 121},
			kind: KindVideoTooLong,
		},
		{
			name: "no video stream",
			ref:  func(h *harness) *FileRef { return h.video("a", 2048) },
			src:  planner.Source{Duration: 10},
			kind: KindInvalidFormat,
		},
		{
			name: "transport download fails",
			ref:  func(h *harness) *FileRef { return &FileRef{Handle: "missing", Name: "m.mp4"} },
			kind: KindDownloadFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			if tt.src != (planner.Source{}) {
				h.driver.src = tt.src
			}
			resp := h.core.Handle(context.Background(), Request{Action: ActionProcessFile, UserID: 1, File: tt.ref(h)})
			assert.Equal(t, StatusRejected, resp.Status)
			assert.Equal(t, tt.kind, KindOf(resp.Err), "%v", resp.Err)

			u := h.quota.Get(1)
			assert.Zero(t, u.Counters.Lifetime)
			assert.True(t, u.Abuse.LastRequestAt.IsZero(), "rejected input is not admitted")
			assert.Zero(t, h.workspaceFiles(t))
		})
	}
}

func TestCheckSizeBoundary(t *testing.T) {
	h := newHarness(t, nil)
	free := quota.LimitsFor(models.PlanFree)
	exact := int64(free.MaxFileMB) * 1024 * 1024

	assert.NoError(t, h.core.checkSize(exact, free))
	assert.ErrorIs(t, h.core.checkSize(exact+1, free), ErrFileTooLarge)
	assert.ErrorIs(t, h.core.checkSize(MinFileBytes-1, free), ErrInvalidFormat)

	small := newHarness(t, func(cfg *config.Config) { cfg.Limits.MaxFileSizeMB = 10 })
	assert.ErrorIs(t, small.core.checkSize(11*1024*1024, free), ErrFileTooLarge, "global cap applies")
}

func TestDailyLimitRejects(t *testing.T) {
	h := newHarness(t, nil)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	h.quota.WithClock(func() time.Time { return now })

	for i := 0; i < 2; i++ {
		adm, err := h.quota.Admit(1, fmt.Sprintf("file-%d", i))
		require.NoError(t, err)
		h.quota.Complete(adm, quota.Job{Mode: models.ModeTikTok, Source: OriginFile})
		now = now.Add(2 * time.Minute)
	}

	resp := h.core.Handle(context.Background(), Request{Action: ActionProcessFile, UserID: 1, File: h.video("c", 2048)})
	assert.Equal(t, StatusRejected, resp.Status)
	assert.ErrorIs(t, resp.Err, ErrDailyLimit)
	assert.Contains(t, resp.Err.Error(), "2/2")

	u := h.quota.Get(1)
	assert.Equal(t, 2, u.Counters.Daily)
	assert.Equal(t, 1, u.Abuse.Hits)
	assert.Zero(t, h.workspaceFiles(t))
}

func TestCooldownSurfacesRemainingSeconds(t *testing.T) {
	h := newHarness(t, nil)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	h.quota.WithClock(func() time.Time { return now })

	resp := h.core.Handle(context.Background(), Request{Action: ActionProcessFile, UserID: 1, File: h.video("a", 2048)})
	require.Equal(t, StatusQueued, resp.Status, "%v", resp.Err)

	now = now.Add(20 * time.Second)
	resp = h.core.Handle(context.Background(), Request{Action: ActionProcessFile, UserID: 1, File: h.video("b", 2048)})
	require.ErrorIs(t, resp.Err, ErrCooldown)
	assert.Equal(t, "cooldown:40", strings.SplitN(resp.Err.Error(), ": ", 2)[0])
	var e *Error
	require.ErrorAs(t, resp.Err, &e)
	assert.Equal(t, 40*time.Second, e.RetryAfter)
	assert.True(t, e.Retryable())
}

func TestQueueBackpressure(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.Queue.Capacity = 2 })
	ctx := context.Background()
	for _, id := range []int64{1, 2, 3} {
		require.NoError(t, h.quota.SetPlan(id, models.PlanPremium, 30))
	}

	resp := h.core.Handle(ctx, Request{Action: ActionProcessFile, UserID: 1, File: h.video("a", 2048)})
	require.Equal(t, StatusQueued, resp.Status, "%v", resp.Err)

	resp = h.core.Handle(ctx, Request{Action: ActionProcessFile, UserID: 1, File: h.video("b", 2048)})
	assert.ErrorIs(t, resp.Err, ErrUserQueueFull)

	resp = h.core.Handle(ctx, Request{Action: ActionProcessFile, UserID: 2, File: h.video("c", 2048)})
	require.Equal(t, StatusQueued, resp.Status, "%v", resp.Err)
	assert.Equal(t, 2, resp.Position)

	resp = h.core.Handle(ctx, Request{Action: ActionProcessFile, UserID: 3, File: h.video("d", 2048)})
	assert.ErrorIs(t, resp.Err, ErrQueueFull)
	assert.True(t, h.quota.Get(3).Abuse.LastRequestAt.IsZero(), "refused admission is abandoned")
	assert.Equal(t, 2, h.workspaceFiles(t), "refused inputs are removed")

	h.start(t)
	require.NoError(t, h.notes.wait(t).Err)
	require.NoError(t, h.notes.wait(t).Err)

	resp = h.core.Handle(ctx, Request{Action: ActionProcessFile, UserID: 3, File: h.video("e", 2048)})
	assert.Equal(t, StatusQueued, resp.Status, "%v", resp.Err)
	require.NoError(t, h.notes.wait(t).Err)
}

func TestCancelBeforeExecute(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	resp := h.core.Handle(ctx, Request{Action: ActionProcessFile, UserID: 1, File: h.video("a", 2048)})
	require.Equal(t, StatusQueued, resp.Status, "%v", resp.Err)

	cancel := h.core.Handle(ctx, Request{Action: ActionCancel, UserID: 1})
	assert.Equal(t, true, cancel.Data)

	h.start(t)
	done := h.notes.wait(t)
	assert.ErrorIs(t, done.Err, ErrCancelled)
	assert.Nil(t, done.Result)

	u := h.quota.Get(1)
	assert.Zero(t, u.Counters.Daily)
	assert.Zero(t, u.Counters.Lifetime)
	assert.False(t, u.ProcessingNow)
	assert.Empty(t, h.driver.runs())
	assert.Zero(t, h.core.Shield().Len())
	assert.Zero(t, h.workspaceFiles(t))
	assert.Empty(t, h.events.OfType(events.TypeAdminAlert), "cancellation is not alerted")

	assert.Equal(t, false, h.core.Handle(ctx, Request{Action: ActionCancel, UserID: 1}).Data)
}

func TestTranscoderFailureAlertsAdmin(t *testing.T) {
	h := newHarness(t, nil)
	h.driver.runErr = &transcoder.ExitError{Code: 1, Stderr: "Invalid data found"}

	resp := h.core.Handle(context.Background(), Request{Action: ActionProcessFile, UserID: 1, File: h.video("a", 2048)})
	require.Equal(t, StatusQueued, resp.Status, "%v", resp.Err)

	h.start(t)
	done := h.notes.wait(t)
	assert.ErrorIs(t, done.Err, ErrTranscoderFailed)

	u := h.quota.Get(1)
	assert.Zero(t, u.Counters.Lifetime)
	assert.False(t, u.ProcessingNow)
	assert.Len(t, h.events.OfType(events.TypeTaskFailed), 1)
	assert.Len(t, h.events.OfType(events.TypeAdminAlert), 1)
	assert.Zero(t, h.workspaceFiles(t))
	assert.Equal(t, int64(1), h.core.Stats().Failed)
}

func TestTranscoderTimeoutIsRetryable(t *testing.T) {
	h := newHarness(t, nil)
	h.driver.runErr = transcoder.ErrTimeout

	resp := h.core.Handle(context.Background(), Request{Action: ActionProcessFile, UserID: 1, File: h.video("a", 2048)})
	require.Equal(t, StatusQueued, resp.Status, "%v", resp.Err)

	h.start(t)
	done := h.notes.wait(t)
	var e *Error
	require.ErrorAs(t, done.Err, &e)
	assert.Equal(t, KindTranscoderTimeout, e.Kind)
	assert.True(t, e.Retryable())
	assert.Empty(t, h.events.OfType(events.TypeAdminAlert))
}

func TestProcessURL(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	cached := filepath.Join(t.TempDir(), "download.mp4")
	require.NoError(t, os.WriteFile(cached, bytes.Repeat([]byte("u"), 4096), 0o644))
	h.resolver.path = cached

	link := "https://vm.tiktok.com/abc"
	resp := h.core.Handle(ctx, Request{Action: ActionProcessURL, UserID: 1, Text: "look " + link})
	require.Equal(t, StatusQueued, resp.Status, "%v", resp.Err)

	h.start(t)
	done := h.notes.wait(t)
	require.NoError(t, done.Err)

	assert.FileExists(t, cached, "cached downloads outlive the task")
	u := h.quota.Get(1)
	assert.Equal(t, 1, u.Counters.Downloads)
	require.Len(t, u.History, 1)
	assert.Equal(t, link, u.History[0].Source)
}

func TestProcessURLFailures(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	resp := h.core.Handle(ctx, Request{Action: ActionProcessURL, UserID: 1, Text: "no links here"})
	assert.ErrorIs(t, resp.Err, ErrInvalidFormat)

	h.resolver.err = fmt.Errorf("%w: every strategy failed", source.ErrDownloadFailed)
	resp = h.core.Handle(ctx, Request{Action: ActionProcessURL, UserID: 1, Text: "https://vm.tiktok.com/abc"})
	assert.ErrorIs(t, resp.Err, ErrDownloadFailed)

	h.resolver.err = fmt.Errorf("%w: %w", source.ErrDownloadFailed, source.ErrTooLarge)
	resp = h.core.Handle(ctx, Request{Action: ActionProcessURL, UserID: 1, Text: "https://vm.tiktok.com/abc"})
	assert.ErrorIs(t, resp.Err, ErrFileTooLarge)

	u := h.quota.Get(1)
	assert.Zero(t, u.Counters.Lifetime)
	assert.Zero(t, u.Counters.Downloads)
	assert.False(t, u.ProcessingNow)
	assert.True(t, u.Abuse.LastRequestAt.IsZero(), "failed downloads release the admission")
}

func TestTrapEmbeddedAndDetected(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.quota.SetPlan(7, models.PlanVIP, 30))

	resp := h.core.Handle(ctx, Request{Action: ActionProcessFile, UserID: 7, File: h.video("v", 4096)})
	require.Equal(t, StatusQueued, resp.Status, "%v", resp.Err)
	h.start(t)
	done := h.notes.wait(t)
	require.NoError(t, done.Err)
	require.NotEmpty(t, done.Result.TrapSignature)
	assert.Equal(t, done.Result.TrapSignature, done.Result.Passport.WatermarkSignature)
	assert.Equal(t, 1, h.trap.Len())

	h.files.put("leak", h.notes.outputs[done.TaskID])
	det := h.core.Handle(ctx, Request{Action: ActionDetect, UserID: 8, File: &FileRef{Handle: "leak", Name: "leak.mp4"}})
	require.True(t, det.OK(), "%v", det.Err)
	d := det.Data.(models.Detection)
	assert.True(t, d.Found)
	assert.Equal(t, int64(7), d.UserID)
	assert.Equal(t, trap.MethodHash, d.Method)
	assert.GreaterOrEqual(t, d.Confidence, 0.99)
}

func TestShieldActions(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	resp := h.core.Handle(ctx, Request{Action: ActionProcessFile, UserID: 1, File: h.video("s", 4096)})
	require.Equal(t, StatusQueued, resp.Status, "%v", resp.Err)
	h.start(t)
	done := h.notes.wait(t)
	require.NoError(t, done.Err)
	h.files.put("mine", h.notes.outputs[done.TaskID])

	stolen := h.core.Handle(ctx, Request{Action: ActionCheckStolen, UserID: 1, File: &FileRef{Handle: "mine", Name: "mine.mp4"}})
	require.True(t, stolen.OK(), "%v", stolen.Err)
	assert.Len(t, h.events.OfType(events.TypeTheftDetected), 1)

	check := h.core.Handle(ctx, Request{Action: ActionSafeCheck, UserID: 2, File: &FileRef{Handle: "mine", Name: "mine.mp4"}})
	require.True(t, check.OK(), "%v", check.Err)
	assert.Equal(t, 1, h.core.Shield().Analytics(2).TotalScanned)
}

func TestProcessSync(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.quota.SetPlan(3, models.PlanPremium, 30))
	h.start(t)

	in := filepath.Join(t.TempDir(), "upload.mp4")
	require.NoError(t, os.WriteFile(in, bytes.Repeat([]byte("p"), 2048), 0o644))

	res, err := h.core.ProcessSync(context.Background(), ProcessInput{UserID: 3, Username: "api", Path: in, Name: "upload.mp4"})
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(res.Path) })

	assert.FileExists(t, res.Path)
	assert.NoFileExists(t, in)
	require.NotNil(t, res.Passport)
	assert.Equal(t, OriginAPI, h.quota.Get(3).History[0].Source)

	_, err = h.core.ProcessSync(context.Background(), ProcessInput{UserID: 3, Path: in, Name: "upload.txt"})
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func writeUpload(t *testing.T) string {
	t.Helper()
	in := filepath.Join(t.TempDir(), "upload.mp4")
	require.NoError(t, os.WriteFile(in, bytes.Repeat([]byte("p"), 2048), 0o644))
	return in
}

func TestProcessSyncCancelsOnlyItsOwnTask(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.Queue.PerUserCap = 2 })
	require.NoError(t, h.quota.SetPlan(3, models.PlanPremium, 30))
	ctx := context.Background()

	resp := h.core.Handle(ctx, Request{Action: ActionProcessFile, UserID: 3, File: h.video("bot", 2048)})
	require.Equal(t, StatusQueued, resp.Status, "%v", resp.Err)

	syncCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err := h.core.ProcessSync(syncCtx, ProcessInput{UserID: 3, Path: writeUpload(t), Name: "upload.mp4"})
	assert.ErrorIs(t, err, ErrCancelled)

	h.start(t)
	done := h.notes.wait(t)
	assert.Equal(t, resp.TaskID, done.TaskID)
	assert.NoError(t, done.Err, "the queued chat task is untouched")
}

func TestProcessSyncReturnsOnShutdown(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.quota.SetPlan(3, models.PlanPremium, 30))

	in := writeUpload(t)
	errc := make(chan error, 1)
	go func() {
		_, err := h.core.ProcessSync(context.Background(), ProcessInput{UserID: 3, Path: in, Name: "upload.mp4"})
		errc <- err
	}()
	require.Eventually(t, func() bool { return h.core.Stats().Queued == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.core.Close())
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not released by shutdown")
	}
	assert.False(t, h.quota.Get(3).ProcessingNow)
}

func TestOptionsClampPremiumTemplate(t *testing.T) {
	s := models.DefaultSettings()
	s.Template = "neon"

	opts := options(s, quota.LimitsFor(models.PlanFree))
	assert.Equal(t, planner.TemplateNone, opts.Template)

	opts = options(s, quota.LimitsFor(models.PlanVIP))
	assert.Equal(t, "neon", opts.Template)

	s.Template = "missing"
	assert.Equal(t, planner.TemplateNone, options(s, quota.LimitsFor(models.PlanPremium)).Template)
}
