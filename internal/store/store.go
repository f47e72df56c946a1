package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/virex/internal/logging"
	"github.com/therealutkarshpriyadarshi/virex/internal/metrics"
)

// File names of the durable state documents
const (
	UsersFile        = "users_data.json"
	PromoFile        = "promo_codes.json"
	SignaturesFile   = "watermark_signatures.json"
	PassportsFile    = "video_passports.json"
	FingerprintsFile = "video_fingerprints.json"
	MatchesFile      = "matches_history.json"
	AnalyticsFile    = "analytics_data.json"
	TheftFile        = "theft_history.json"
	SessionsFile     = "api_sessions.json"
)

// File is a whole-file JSON document. Writes replace the file atomically.
type File struct {
	path   string
	logger *logging.Logger
	mu     sync.Mutex
}

// NewFile returns a document named name inside dir
func NewFile(dir, name string, logger *logging.Logger) *File {
	if logger == nil {
		logger = logging.Nop()
	}
	return &File{path: filepath.Join(dir, name), logger: logger}
}

// Name returns the base file name
func (f *File) Name() string {
	return filepath.Base(f.path)
}

// Path returns the full path
func (f *File) Path() string {
	return f.path
}

// Load decodes the document into v. A missing or empty file leaves v untouched
// and reports false.
func (f *File) Load(v interface{}) (bool, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", f.Name(), err)
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", f.Name(), err)
	}
	return true, nil
}

// Save encodes v and replaces the file
func (f *File) Save(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", f.Name(), err)
	}
	return f.WriteBytes(data)
}

// WriteBytes replaces the file with data via a temp file and rename
func (f *File) WriteBytes(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	start := time.Now()
	err := f.writeAtomic(data)
	metrics.RecordPersist(f.Name(), err)
	f.logger.LogPersist(f.Name(), len(data), time.Since(start), err)
	return err
}

func (f *File) writeAtomic(data []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+f.Name()+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", f.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync %s: %w", f.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", f.Name(), err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", f.Name(), err)
	}
	return nil
}
