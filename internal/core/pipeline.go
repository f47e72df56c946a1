package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/therealutkarshpriyadarshi/virex/internal/events"
	"github.com/therealutkarshpriyadarshi/virex/internal/fingerprint"
	"github.com/therealutkarshpriyadarshi/virex/internal/metrics"
	"github.com/therealutkarshpriyadarshi/virex/internal/planner"
	"github.com/therealutkarshpriyadarshi/virex/internal/queue"
	"github.com/therealutkarshpriyadarshi/virex/internal/quota"
	"github.com/therealutkarshpriyadarshi/virex/internal/shield"
	"github.com/therealutkarshpriyadarshi/virex/internal/source"
	"github.com/therealutkarshpriyadarshi/virex/internal/tracing"
	"github.com/therealutkarshpriyadarshi/virex/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/virex/internal/workspace"
	"github.com/therealutkarshpriyadarshi/virex/pkg/models"
)

// MinFileBytes is the smallest upload accepted as a video
const MinFileBytes = 1000

// Origins recorded in the user's history
const (
	OriginFile = "file"
	OriginURL  = "url"
	OriginAPI  = "api"
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".m4v":  true,
	".webm": true,
}

// Result describes a processed output
type Result struct {
	Path     string
	Seed     uint64
	Mode     models.Mode
	Quality  models.Quality
	Template string
	Passport *models.Passport
	// TrapSignature is empty when no trap was embedded
	TrapSignature string
	Elapsed       time.Duration
}

// ProcessInput is a file submitted through the HTTP path. ProcessSync takes
// ownership of Path.
type ProcessInput struct {
	UserID   int64
	Username string
	Path     string
	Name     string
}

// job is the queue payload of one processing task
type job struct {
	id       string
	userID   int64
	username string
	origin   string
	key      string
	adm      *quota.Admission
	input    string
	src      planner.Source
	release  func()
	done     chan Completion

	result   *Result
	progress quota.Progress
}

func extension(name string) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if !videoExtensions[ext] {
		return "", newError(KindInvalidFormat, fmt.Sprintf("unsupported extension %q", ext))
	}
	return ext, nil
}

// maxBytes is the upload limit of a plan, capped by the global limit
func (c *Core) maxBytes(limits quota.Limits) int64 {
	limit := limits.MaxFileBytes()
	if global := c.cfg.Limits.MaxFileSizeBytes(); global > 0 && global < limit {
		limit = global
	}
	return limit
}

func (c *Core) checkSize(size int64, limits quota.Limits) error {
	if limit := c.maxBytes(limits); size > limit {
		return newError(KindFileTooLarge, fmt.Sprintf("%d > %d bytes", size, limit))
	}
	if size < MinFileBytes {
		return newError(KindInvalidFormat, "file too small")
	}
	return nil
}

// validate checks the local file against the plan and probes it
func (c *Core) validate(ctx context.Context, path string, limits quota.Limits) (planner.Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return planner.Source{}, &Error{Kind: KindInvalidFormat, Err: err}
	}
	if err := c.checkSize(info.Size(), limits); err != nil {
		return planner.Source{}, err
	}

	var src planner.Source
	err = tracing.Stage(ctx, "probe", func(ctx context.Context) (err error) {
		src, err = c.driver.Probe(ctx, path)
		return err
	})
	if err != nil {
		return planner.Source{}, &Error{Kind: KindInvalidFormat, Detail: "unreadable video", Err: err}
	}
	if src.Width <= 0 || src.Height <= 0 {
		return planner.Source{}, newError(KindInvalidFormat, "no video stream")
	}
	if limit := c.cfg.Limits.MaxDurationSeconds; limit > 0 && src.Duration > limit {
		return planner.Source{}, newError(KindVideoTooLong, fmt.Sprintf("%.0fs > %.0fs", src.Duration, limit))
	}
	return src, nil
}

func (c *Core) submitFile(ctx context.Context, req Request) Response {
	resp := Response{Action: req.Action}
	if err := c.checkMaintenance(); err != nil {
		return c.respond(resp, err)
	}
	ref := req.File
	if ref == nil {
		return c.respond(resp, newError(KindInvalidFormat, "no file"))
	}
	ext, err := extension(ref.Name)
	if err != nil {
		return c.respond(resp, err)
	}
	_, limits := c.quota.Effective(req.UserID)
	if ref.Size > 0 {
		if err := c.checkSize(ref.Size, limits); err != nil {
			return c.respond(resp, err)
		}
	}

	path, err := c.fetch(ctx, ref, ext)
	if err != nil {
		return c.respond(resp, err)
	}
	src, err := c.validate(ctx, path, limits)
	if err != nil {
		workspace.Remove(path)
		return c.respond(resp, err)
	}

	adm, err := c.quota.Admit(req.UserID, ref.Handle)
	if err != nil {
		workspace.Remove(path)
		return c.respond(resp, err)
	}
	return c.enqueue(resp, &job{
		userID:   req.UserID,
		username: req.Username,
		origin:   OriginFile,
		key:      ref.Name,
		adm:      adm,
		input:    path,
		src:      src,
	})
}

func (c *Core) submitURL(ctx context.Context, req Request) Response {
	resp := Response{Action: req.Action}
	if err := c.checkMaintenance(); err != nil {
		return c.respond(resp, err)
	}
	if c.resolver == nil {
		return c.respond(resp, errors.New("link downloads disabled"))
	}
	link, ok := source.Extract(req.Text)
	if !ok {
		return c.respond(resp, newError(KindInvalidFormat, "no supported link"))
	}

	adm, err := c.quota.Admit(req.UserID, link)
	if err != nil {
		return c.respond(resp, err)
	}
	h, err := c.resolver.Resolve(ctx, link)
	if err != nil {
		c.quota.Abandon(adm)
		return c.respond(resp, err)
	}
	src, err := c.validate(ctx, h.Path, adm.Limits)
	if err != nil {
		h.Release()
		c.quota.Abandon(adm)
		return c.respond(resp, err)
	}
	c.quota.IncrementDownloads(req.UserID)

	return c.enqueue(resp, &job{
		userID:   req.UserID,
		username: req.Username,
		origin:   OriginURL,
		key:      link,
		adm:      adm,
		input:    h.Path,
		src:      src,
		release:  h.Release,
	})
}

// enqueue hands an admitted job to the queue. A refused job is abandoned
// and its input released.
func (c *Core) enqueue(resp Response, j *job) Response {
	j.id = ulid.Make().String()
	t := &queue.Task{
		ID:       j.id,
		UserID:   j.userID,
		Priority: j.adm.Limits.Priority,
		Job:      j,
		OnDone:   func(err error) { c.finish(j, err) },
	}
	// cached downloads are shared and must survive a discarded task
	if j.release == nil {
		t.Input = j.input
	}

	pos, err := c.queue.Add(t)
	if err != nil {
		c.quota.Abandon(j.adm)
		c.cleanup(j)
		return c.respond(resp, err)
	}
	resp.Status = StatusQueued
	resp.TaskID = j.id
	resp.Position = pos
	resp.Wait = c.queue.EstimateWait(pos)
	return resp
}

// fetch downloads a transport file into the workspace
func (c *Core) fetch(ctx context.Context, ref *FileRef, ext string) (string, error) {
	if c.files == nil {
		return "", errors.New("file transport unavailable")
	}
	path := c.ws.NewPath(ext)
	if err := c.files.Download(ctx, ref.Handle, path); err != nil {
		workspace.Remove(path)
		return "", &Error{Kind: KindDownloadFailed, Err: err}
	}
	return path, nil
}

// withFile fetches the request's file, runs fn on it and removes it
func (c *Core) withFile(ctx context.Context, req Request, fn func(path string) (interface{}, error)) (interface{}, error) {
	if req.File == nil {
		return nil, newError(KindInvalidFormat, "no file")
	}
	ext, err := extension(req.File.Name)
	if err != nil {
		return nil, err
	}
	path, err := c.fetch(ctx, req.File, ext)
	if err != nil {
		return nil, err
	}
	defer workspace.Remove(path)
	return fn(path)
}

// VideoInfo probes path in detail
func (c *Core) VideoInfo(ctx context.Context, path string) (*transcoder.VideoInfo, error) {
	info, err := c.driver.Inspect(ctx, path)
	if err != nil {
		return nil, &Error{Kind: KindInvalidFormat, Detail: "unreadable video", Err: err}
	}
	return info, nil
}

// ProcessSync runs the same pipeline as the chat path and waits for it.
// The caller removes Result.Path when done with it.
func (c *Core) ProcessSync(ctx context.Context, in ProcessInput) (*Result, error) {
	fail := func(err error) (*Result, error) {
		workspace.Remove(in.Path)
		return nil, classify(err)
	}
	if err := c.checkMaintenance(); err != nil {
		return fail(err)
	}
	if _, err := extension(in.Name); err != nil {
		return fail(err)
	}
	c.quota.Touch(in.UserID, in.Username)
	_, limits := c.quota.Effective(in.UserID)
	src, err := c.validate(ctx, in.Path, limits)
	if err != nil {
		return fail(err)
	}
	key, err := fingerprint.FileHash(in.Path)
	if err != nil {
		key = in.Name
	}
	adm, err := c.quota.Admit(in.UserID, key)
	if err != nil {
		return fail(err)
	}

	done := make(chan Completion, 1)
	resp := c.enqueue(Response{}, &job{
		userID:   in.UserID,
		username: in.Username,
		origin:   OriginAPI,
		key:      in.Name,
		adm:      adm,
		input:    in.Path,
		src:      src,
		done:     done,
	})
	if resp.Err != nil {
		return nil, resp.Err
	}

	select {
	case comp := <-done:
		return comp.Result, comp.Err
	case <-ctx.Done():
		c.queue.CancelTask(resp.TaskID)
		go func() {
			if comp := <-done; comp.Result != nil {
				workspace.Remove(comp.Result.Path)
			}
		}()
		return nil, &Error{Kind: KindCancelled, Err: ctx.Err()}
	}
}

// run is the queue handler
func (c *Core) run(ctx context.Context, t *queue.Task) error {
	j, ok := t.Job.(*job)
	if !ok {
		return fmt.Errorf("unexpected task payload %T", t.Job)
	}
	res, err := c.process(ctx, j)
	if err != nil {
		return err
	}

	passportID := ""
	if res.Passport != nil {
		passportID = res.Passport.ID
	}
	origin := j.origin
	if origin == OriginURL {
		origin = j.key
	}
	j.result = res
	j.progress = c.quota.Complete(j.adm, quota.Job{
		Mode:       res.Mode,
		Source:     origin,
		Template:   res.Template,
		PassportID: passportID,
	})
	c.shield.RecordProcessing(j.userID, res.Template, res.Mode)
	return nil
}

// options resolves the user's settings into planner options
func options(s models.Settings, limits quota.Limits) planner.Options {
	tpl := s.Template
	if t, ok := planner.LookupTemplate(tpl); !ok || (t.Premium && limits.Plan == models.PlanFree) {
		tpl = planner.TemplateNone
	}
	return planner.Options{
		Mode:        s.Mode,
		Quality:     s.Quality,
		TextOverlay: s.TextOverlay,
		Template:    tpl,
	}
}

// process plans, transcodes and registers one job
func (c *Core) process(ctx context.Context, j *job) (res *Result, err error) {
	span, ctx := tracing.StartSpan(ctx, "pipeline")
	tracing.SetTag(span, "task_id", j.id)
	tracing.SetTag(span, "user_id", j.userID)
	defer func() { tracing.FinishSpan(span, err) }()

	start := time.Now()
	logger := c.logger.WithTaskID(j.id).WithUserID(j.userID)
	settings, limits := c.quota.Effective(j.userID)
	opts := options(settings, limits)
	seed := planner.NewSeed()

	planSpan, _ := tracing.StartSpan(ctx, "plan")
	tracing.SetTag(planSpan, "seed", seed)
	recipe := c.planner.Plan(j.src, opts, seed)

	var sig *models.TrapSignature
	if c.trap != nil && limits.Trap && settings.Trap {
		if sig, err = c.trap.Apply(j.userID, j.input, recipe); err != nil {
			logger.WithError(err).Warn("Trap not embedded")
			sig, err = nil, nil
		}
	}
	if !recipe.Fit(c.planner.MaxFilterLength()) {
		err = newError(KindTranscoderFailed, "filter graph too long")
		tracing.FinishSpan(planSpan, err)
		return nil, err
	}
	tracing.FinishSpan(planSpan, nil)
	logger.LogTaskEvent(j.id, j.userID, "planned", map[string]interface{}{
		"seed":     seed,
		"mode":     opts.Mode,
		"quality":  opts.Quality,
		"template": opts.Template,
		"trap":     sig != nil,
	})

	output := c.ws.NewPath(".mp4")
	err = tracing.Stage(ctx, "transcode", func(ctx context.Context) error {
		return c.driver.Run(ctx, j.id, recipe, j.input, output)
	})
	if err != nil {
		workspace.Remove(output)
		return nil, err
	}

	res = &Result{
		Path:     output,
		Seed:     seed,
		Mode:     opts.Mode,
		Quality:  opts.Quality,
		Template: opts.Template,
	}
	if sig != nil {
		res.TrapSignature = sig.FullSignature
		if err := c.trap.RecordOutput(sig.FullSignature, output); err != nil {
			logger.WithError(err).Warn("Trap output hash not recorded")
		}
	}

	passSpan, passCtx := tracing.StartSpan(ctx, "passport")
	passport, perr := c.shield.AddVideo(passCtx, output, j.userID, shield.VideoMeta{
		Username:      j.username,
		Duration:      j.src.Duration,
		Width:         recipe.Width,
		Height:        recipe.Height,
		FPS:           recipe.FPS,
		Template:      opts.Template,
		Mode:          opts.Mode,
		Quality:       opts.Quality,
		Seed:          seed,
		TrapSignature: res.TrapSignature,
	})
	tracing.FinishSpan(passSpan, perr)
	if perr != nil {
		if ctx.Err() != nil {
			workspace.Remove(output)
			return nil, ctx.Err()
		}
		metrics.RecordError("core", "passport")
		logger.WithError(perr).Error("Passport not created")
	}
	res.Passport = passport
	res.Elapsed = time.Since(start)
	return res, nil
}

// finish runs once per task with the handler's result
func (c *Core) finish(j *job, err error) {
	ctx := context.Background()
	err = classify(err)
	c.cleanup(j)

	logger := c.logger.WithTaskID(j.id).WithUserID(j.userID)
	c.countOutcome(ctx, err)
	if err != nil {
		c.quota.Release(j.userID)
		if j.result != nil {
			workspace.Remove(j.result.Path)
			j.result = nil
		}
		kind := KindOf(err)
		c.publish(ctx, events.Event{
			Type:    events.TypeTaskFailed,
			UserID:  j.userID,
			TaskID:  j.id,
			Message: err.Error(),
			Data:    map[string]interface{}{"kind": string(kind)},
		})
		if kind == KindTranscoderFailed || kind == "" {
			c.Alert(ctx, "processing failed", map[string]interface{}{
				"task_id": j.id,
				"user_id": j.userID,
				"error":   err.Error(),
			})
		}
		logger.WithError(err).WithField("kind", kind).Warn("Task failed")
	} else {
		data := map[string]interface{}{"seed": j.result.Seed, "elapsed": j.result.Elapsed.Seconds()}
		if j.result.Passport != nil {
			data["passport_id"] = j.result.Passport.ID
		}
		c.publish(ctx, events.Event{
			Type:   events.TypeTaskCompleted,
			UserID: j.userID,
			TaskID: j.id,
			Data:   data,
		})
		logger.LogTaskEvent(j.id, j.userID, "completed", data)
	}

	comp := Completion{
		TaskID:   j.id,
		UserID:   j.userID,
		Err:      err,
		Result:   j.result,
		Progress: j.progress,
	}
	if j.done != nil {
		j.done <- comp
		return
	}
	c.notifier.TaskDone(ctx, comp)
	if j.result != nil {
		workspace.Remove(j.result.Path)
	}
}

// countOutcome bumps the shared task counters. They live in the cache so
// that every instance on one Redis reports the same totals.
func (c *Core) countOutcome(ctx context.Context, err error) {
	stat := statCompleted
	if err != nil {
		stat = statFailed
	}
	if serr := c.cache.IncrementStat(ctx, stat); serr != nil {
		c.logger.WithError(serr).Debug("Failed to count task outcome")
	}
}

// cleanup drops the job's input
func (c *Core) cleanup(j *job) {
	if j.release != nil {
		j.release()
		return
	}
	workspace.Remove(j.input)
}
