package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/virex/internal/logging"
	"github.com/therealutkarshpriyadarshi/virex/internal/metrics"
)

var tempName = regexp.MustCompile(`^virex_[0-9a-f]{12}`)

// Workspace is the per-process temp directory for inputs and outputs
type Workspace struct {
	dir    string
	logger *logging.Logger
}

// New creates a fresh per-process directory under root
func New(root string, logger *logging.Logger) (*Workspace, error) {
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root: %w", err)
	}
	dir, err := os.MkdirTemp(root, "virex-")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Workspace{dir: dir, logger: logger.Component("workspace")}, nil
}

// Dir returns the workspace directory
func (w *Workspace) Dir() string {
	return w.dir
}

// NewPath returns an unused path named virex_<12 hex><ext>
func (w *Workspace) NewPath(ext string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return filepath.Join(w.dir, "virex_"+id+ext)
}

// Owns reports whether path lives inside the workspace
func (w *Workspace) Owns(path string) bool {
	rel, err := filepath.Rel(w.dir, path)
	return err == nil && !strings.HasPrefix(rel, "..")
}

// Remove deletes path, ignoring a missing file
func Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		metrics.RecordError("workspace", "remove")
	}
}

// Sweep deletes workspace files older than maxAge and returns how many went
func (w *Workspace) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list workspace: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !tempName.MatchString(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(w.dir, e.Name())); err == nil {
			removed++
		}
	}

	if removed > 0 {
		metrics.WorkspaceFilesSweptTotal.Add(float64(removed))
		w.logger.WithField("removed", removed).WithField("max_age", maxAge.String()).Info("Swept stale temp files")
	}
	return removed, nil
}

// RunSweeper sweeps every interval until ctx is done
func (w *Workspace) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Sweep(maxAge); err != nil {
				w.logger.ErrorWithErr("sweep failed", err)
			}
		}
	}
}

// Close removes the workspace directory
func (w *Workspace) Close() error {
	return os.RemoveAll(w.dir)
}
