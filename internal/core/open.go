package core

import (
	"fmt"

	"github.com/therealutkarshpriyadarshi/virex/internal/cache"
	"github.com/therealutkarshpriyadarshi/virex/internal/config"
	"github.com/therealutkarshpriyadarshi/virex/internal/events"
	"github.com/therealutkarshpriyadarshi/virex/internal/fingerprint"
	"github.com/therealutkarshpriyadarshi/virex/internal/logging"
	"github.com/therealutkarshpriyadarshi/virex/internal/planner"
	"github.com/therealutkarshpriyadarshi/virex/internal/quota"
	"github.com/therealutkarshpriyadarshi/virex/internal/shield"
	"github.com/therealutkarshpriyadarshi/virex/internal/source"
	"github.com/therealutkarshpriyadarshi/virex/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/virex/internal/trap"
	"github.com/therealutkarshpriyadarshi/virex/internal/workspace"
)

// Open builds every production component from cfg. Redis and the event
// bus degrade to in-process fallbacks when unreachable.
func Open(cfg *config.Config, logger *logging.Logger) (*Core, error) {
	store, err := cache.New(cfg.Redis)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, using in-memory latch")
		store = cache.NewMemory()
	}
	pub, err := events.New(cfg.Events, logger)
	if err != nil {
		logger.WithError(err).Warn("Event bus unavailable, events are dropped")
		pub = events.Nop{}
	}

	ws, err := workspace.New(cfg.Workspace.Root, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	ff := transcoder.NewFFmpeg(cfg.Transcoder, logger)
	ytdlp := source.NewYtDlp(cfg.Source.YtDlpPath, cfg.Source.SocketTimeout, cfg.Source.BodyTimeout)
	resolver := source.NewResolver(cfg.Source, cfg.Limits.MaxFileSizeBytes(), ytdlp, ws, pub, logger)

	qm, err := quota.NewManager(cfg.Limits, cfg.Data, store, logger)
	if err != nil {
		ws.Close()
		store.Close()
		return nil, fmt.Errorf("failed to load quota state: %w", err)
	}
	tr, err := trap.New(cfg.Trap, cfg.Data, ff, logger)
	if err != nil {
		qm.Close()
		ws.Close()
		store.Close()
		return nil, fmt.Errorf("failed to load trap signatures: %w", err)
	}
	sh, err := shield.New(cfg.Data, fingerprint.New(ff, logger), logger)
	if err != nil {
		tr.Close()
		qm.Close()
		ws.Close()
		store.Close()
		return nil, fmt.Errorf("failed to load shield state: %w", err)
	}

	return New(*cfg, Deps{
		Driver:    ff,
		Resolver:  resolver,
		Planner:   planner.New(cfg.Transcoder.MaxFilterLength, cfg.Transcoder.AudioBitrate),
		Quota:     qm,
		Trap:      tr,
		Shield:    sh,
		Workspace: ws,
		Events:    pub,
		Cache:     store,
	}, logger)
}
