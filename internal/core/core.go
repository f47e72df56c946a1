package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/virex/internal/cache"
	"github.com/therealutkarshpriyadarshi/virex/internal/config"
	"github.com/therealutkarshpriyadarshi/virex/internal/events"
	"github.com/therealutkarshpriyadarshi/virex/internal/logging"
	"github.com/therealutkarshpriyadarshi/virex/internal/planner"
	"github.com/therealutkarshpriyadarshi/virex/internal/queue"
	"github.com/therealutkarshpriyadarshi/virex/internal/quota"
	"github.com/therealutkarshpriyadarshi/virex/internal/shield"
	"github.com/therealutkarshpriyadarshi/virex/internal/source"
	"github.com/therealutkarshpriyadarshi/virex/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/virex/internal/trap"
	"github.com/therealutkarshpriyadarshi/virex/internal/workspace"
	"github.com/therealutkarshpriyadarshi/virex/pkg/models"
)

// Driver runs the external transcoder and prober
type Driver interface {
	Run(ctx context.Context, id string, recipe *planner.Recipe, input, output string) error
	Probe(ctx context.Context, path string) (planner.Source, error)
	Inspect(ctx context.Context, path string) (*transcoder.VideoInfo, error)
	KillAll() int
}

// Resolver downloads links
type Resolver interface {
	Resolve(ctx context.Context, link string) (*source.Handle, error)
}

// Files fetches transport-held files to a local path
type Files interface {
	Download(ctx context.Context, handle, dst string) error
}

// Notifier delivers asynchronous results back through the transport.
// Completion.Result.Path is removed once TaskDone returns.
type Notifier interface {
	TaskDone(ctx context.Context, c Completion)
	PlanExpiring(ctx context.Context, u quota.ExpiringUser)
}

// Deps are the components a Core drives. Driver, Quota, Shield and
// Workspace are required.
type Deps struct {
	Driver    Driver
	Resolver  Resolver
	Files     Files
	Notifier  Notifier
	Planner   *planner.Planner
	Quota     *quota.Manager
	Trap      *trap.Trap
	Shield    *shield.Shield
	Workspace *workspace.Workspace
	Events    events.Publisher
	// Cache backs shared counters; in-process when nil
	Cache cache.Store
}

// Core owns every component and serves requests from all transports
type Core struct {
	cfg      config.Config
	driver   Driver
	resolver Resolver
	files    Files
	notifier Notifier
	planner  *planner.Planner
	quota    *quota.Manager
	trap     *trap.Trap
	shield   *shield.Shield
	ws       *workspace.Workspace
	events   events.Publisher
	cache    cache.Store
	queue    *queue.Queue
	logger   *logging.Logger
	now      func() time.Time

	mu          sync.RWMutex
	maintenance *Maintenance

	closeOnce sync.Once
}

// New assembles a Core from deps. Workers start with Start.
func New(cfg config.Config, deps Deps, logger *logging.Logger) (*Core, error) {
	switch {
	case deps.Driver == nil:
		return nil, errors.New("core: driver is required")
	case deps.Quota == nil:
		return nil, errors.New("core: quota manager is required")
	case deps.Shield == nil:
		return nil, errors.New("core: shield is required")
	case deps.Workspace == nil:
		return nil, errors.New("core: workspace is required")
	}

	c := &Core{
		cfg:      cfg,
		driver:   deps.Driver,
		resolver: deps.Resolver,
		files:    deps.Files,
		notifier: deps.Notifier,
		planner:  deps.Planner,
		quota:    deps.Quota,
		trap:     deps.Trap,
		shield:   deps.Shield,
		ws:       deps.Workspace,
		events:   deps.Events,
		cache:    deps.Cache,
		logger:   logger.Component("core"),
		now:      time.Now,
	}
	if c.planner == nil {
		c.planner = planner.New(cfg.Transcoder.MaxFilterLength, cfg.Transcoder.AudioBitrate)
	}
	if c.events == nil {
		c.events = events.Nop{}
	}
	if c.notifier == nil {
		c.notifier = nopNotifier{}
	}
	if c.cache == nil {
		c.cache = cache.NewMemory()
	}
	c.queue = queue.New(cfg.Queue, c.run, logger)
	return c, nil
}

// SetFiles installs the transport's file fetcher
func (c *Core) SetFiles(f Files) {
	c.files = f
}

// SetNotifier installs the transport's result sink
func (c *Core) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	c.notifier = n
}

// Start launches the worker pool, the workspace sweepers and the expiry
// notifier. They stop when ctx is done.
func (c *Core) Start(ctx context.Context) {
	c.queue.Start(ctx)

	ws := c.cfg.Workspace
	if ws.SweepInterval > 0 {
		go c.ws.RunSweeper(ctx, ws.SweepInterval, ws.MaxAge)
	}
	if ws.DeepSweepInterval > 0 {
		go c.ws.RunSweeper(ctx, ws.DeepSweepInterval, ws.DeepMaxAge)
	}
	go c.RunExpiryNotifier(ctx, 24*time.Hour)
}

// Close cancels every task, waits for the workers and flushes state
func (c *Core) Close() error {
	var errs []error
	c.closeOnce.Do(func() {
		c.queue.KillAll()
		c.driver.KillAll()
		c.queue.Wait()

		if c.trap != nil {
			errs = append(errs, c.trap.Close())
		}
		errs = append(errs,
			c.shield.Close(),
			c.quota.Close(),
			c.events.Close(),
			c.ws.Close(),
			c.cache.Close(),
		)
		c.logger.Info("Core stopped")
	})
	return errors.Join(errs...)
}

// Quota returns the quota manager
func (c *Core) Quota() *quota.Manager {
	return c.quota
}

// Cache returns the shared counter store
func (c *Core) Cache() cache.Store {
	return c.cache
}

// Shield returns the passport database
func (c *Core) Shield() *shield.Shield {
	return c.shield
}

// Workspace returns the temp workspace
func (c *Core) Workspace() *workspace.Workspace {
	return c.ws
}

// SetMaintenance turns maintenance mode on with eta, or off
func (c *Core) SetMaintenance(on bool, eta string) {
	c.mu.Lock()
	if on {
		c.maintenance = &Maintenance{ETA: eta, Since: c.now()}
	} else {
		c.maintenance = nil
	}
	c.mu.Unlock()
	c.logger.WithFields(map[string]interface{}{"on": on, "eta": eta}).Warn("Maintenance mode changed")
}

// MaintenanceState returns the active maintenance window, or nil
func (c *Core) MaintenanceState() *Maintenance {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.maintenance == nil {
		return nil
	}
	m := *c.maintenance
	return &m
}

func (c *Core) checkMaintenance() error {
	if m := c.MaintenanceState(); m != nil {
		return newError(KindMaintenance, m.ETA)
	}
	return nil
}

// Stats summarises the whole service
type Stats struct {
	quota.GlobalStats
	Queued      int   `json:"queued"`
	Running     int   `json:"running"`
	Workers     int   `json:"workers"`
	Passports   int   `json:"passports"`
	Signatures  int   `json:"signatures"`
	Maintenance bool  `json:"maintenance"`
	Completed   int64 `json:"completed"`
	Failed      int64 `json:"failed"`
}

const (
	statCompleted = "tasks_completed"
	statFailed    = "tasks_failed"
)

// Stats returns global counters
func (c *Core) Stats() Stats {
	s := Stats{
		GlobalStats: c.quota.Stats(),
		Queued:      c.queue.Len(),
		Running:     c.queue.Running(),
		Workers:     c.queue.Workers(),
		Passports:   c.shield.Len(),
		Maintenance: c.MaintenanceState() != nil,
	}
	if c.trap != nil {
		s.Signatures = c.trap.Len()
	}
	ctx := context.Background()
	s.Completed, _ = c.cache.GetStat(ctx, statCompleted)
	s.Failed, _ = c.cache.GetStat(ctx, statFailed)
	return s
}

// Handle serves one request
func (c *Core) Handle(ctx context.Context, req Request) Response {
	c.quota.Touch(req.UserID, req.Username)
	c.adoptLanguage(req)

	var (
		data interface{}
		err  error
	)
	switch req.Action {
	case ActionProcessFile:
		return c.submitFile(ctx, req)
	case ActionProcessURL:
		return c.submitURL(ctx, req)
	case ActionDetect:
		if c.trap == nil {
			err = errors.New("trap detection disabled")
			break
		}
		data, err = c.withFile(ctx, req, func(path string) (interface{}, error) {
			return c.trap.Detect(ctx, path)
		})
	case ActionSafeCheck:
		data, err = c.withFile(ctx, req, func(path string) (interface{}, error) {
			return c.shield.SafeCheck(ctx, path, req.UserID)
		})
	case ActionCheckStolen:
		data, err = c.withFile(ctx, req, func(path string) (interface{}, error) {
			report, err := c.shield.CheckStolen(ctx, path, req.UserID)
			if err == nil && report.Found {
				c.publish(ctx, events.Event{
					Type:    events.TypeTheftDetected,
					UserID:  req.UserID,
					Message: "reupload of a registered video",
					Data:    map[string]interface{}{"passport_id": report.PassportID, "similarity": report.Similarity},
				})
			}
			return report, err
		})
	case ActionVideoInfo:
		data, err = c.withFile(ctx, req, func(path string) (interface{}, error) {
			return c.VideoInfo(ctx, path)
		})
	case ActionCancel:
		data = c.queue.Cancel(req.UserID)
	case ActionStatus:
		data = c.status(req.UserID)
	case ActionSettings:
		data, err = c.updateSettings(req.UserID, req.Settings)
	case ActionPromo:
		data, err = c.quota.ActivatePromo(req.UserID, req.Text)
	case ActionTrial:
		err = c.quota.ActivateTrial(req.UserID)
		if err == nil {
			data = c.quota.Get(req.UserID)
		}
	case ActionButton:
		data = c.quota.Button(ctx, req.UserID)
	default:
		err = fmt.Errorf("unknown action %q", req.Action)
	}
	return c.respond(Response{Action: req.Action, Data: data}, err)
}

func (c *Core) respond(resp Response, err error) Response {
	if err == nil {
		if resp.Status == "" {
			resp.Status = StatusOK
		}
		return resp
	}

	resp.Err = classify(err)
	resp.Status = StatusFailed
	if KindOf(resp.Err) != "" {
		resp.Status = StatusRejected
	}
	c.logger.WithError(resp.Err).WithField("action", resp.Action).Debug("Request refused")
	return resp
}

// adoptLanguage stores the transport-reported language until the user
// picks one
func (c *Core) adoptLanguage(req Request) {
	if req.Language == "" {
		return
	}
	s := c.quota.Settings(req.UserID)
	if s.LanguageSet || s.Language == req.Language {
		return
	}
	if _, err := c.quota.UpdateSettings(req.UserID, func(s *models.Settings) { s.Language = req.Language }); err != nil {
		c.logger.WithUserID(req.UserID).WithError(err).Debug("Language not adopted")
	}
}

func (c *Core) status(userID int64) UserStatus {
	_, limits := c.quota.Effective(userID)
	pos := c.queue.Position(userID)
	return UserStatus{
		User:        c.quota.Get(userID),
		Limits:      limits,
		Position:    pos,
		Wait:        c.queue.EstimateWait(pos),
		Maintenance: c.MaintenanceState(),
	}
}

// updateSettings applies string-typed field updates
func (c *Core) updateSettings(userID int64, fields map[string]string) (models.Settings, error) {
	var apply []func(s *models.Settings)
	for key, value := range fields {
		switch key {
		case "mode":
			apply = append(apply, func(s *models.Settings) { s.Mode = models.Mode(value) })
		case "quality":
			apply = append(apply, func(s *models.Settings) { s.Quality = models.Quality(value) })
		case "template":
			if _, ok := planner.LookupTemplate(value); !ok {
				return models.Settings{}, fmt.Errorf("unknown template %q", value)
			}
			apply = append(apply, func(s *models.Settings) { s.Template = value })
		case "language":
			apply = append(apply, func(s *models.Settings) { s.Language = value })
		case "text_overlay", "trap", "night_mode":
			on, err := strconv.ParseBool(value)
			if err != nil {
				return models.Settings{}, fmt.Errorf("invalid value for %s: %w", key, err)
			}
			field := key
			apply = append(apply, func(s *models.Settings) {
				switch field {
				case "text_overlay":
					s.TextOverlay = on
				case "trap":
					s.Trap = on
				default:
					s.NightMode = on
				}
			})
		default:
			return models.Settings{}, fmt.Errorf("unknown setting %q", key)
		}
	}

	return c.quota.UpdateSettings(userID, func(s *models.Settings) {
		for _, fn := range apply {
			fn(s)
		}
	})
}

// Alert publishes an admin alert
func (c *Core) Alert(ctx context.Context, message string, data map[string]interface{}) {
	c.publish(ctx, events.Event{Type: events.TypeAdminAlert, Message: message, Data: data})
}

func (c *Core) publish(ctx context.Context, evt events.Event) {
	if evt.Time.IsZero() {
		evt.Time = c.now()
	}
	if err := c.events.Publish(ctx, evt); err != nil {
		c.logger.WithError(err).WithField("type", evt.Type).Warn("Failed to publish event")
	}
}

type nopNotifier struct{}

func (nopNotifier) TaskDone(context.Context, Completion) {}
func (nopNotifier) PlanExpiring(context.Context, quota.ExpiringUser) {}
