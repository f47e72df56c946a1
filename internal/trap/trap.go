// Package trap embeds per-user covert fingerprints into transcoder recipes
// and attributes candidate videos back to the user they were made for.
package trap

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/virex/internal/config"
	"github.com/therealutkarshpriyadarshi/virex/internal/logging"
	"github.com/therealutkarshpriyadarshi/virex/internal/planner"
	"github.com/therealutkarshpriyadarshi/virex/internal/store"
	"github.com/therealutkarshpriyadarshi/virex/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/virex/pkg/models"
)

// VTrapPrefix starts the comment tag written by the metadata layer
const VTrapPrefix = "VTrap:"

const (
	quickChunk = 1024 * 1024
	saltBytes  = 16
)

// MetadataProber reads container and stream tags
type MetadataProber interface {
	ProbeMetadata(ctx context.Context, path string) (*transcoder.Metadata, error)
}

// Trap owns the signature table
type Trap struct {
	secret string
	layers Layers
	prober MetadataProber
	logger *logging.Logger
	now    func() time.Time
	rand   io.Reader

	mu   sync.RWMutex
	sigs []*models.TrapSignature

	writer *store.Debounced
}

// New loads the signatures file from data.Dir
func New(cfg config.TrapConfig, data config.DataConfig, prober MetadataProber, logger *logging.Logger) (*Trap, error) {
	t := &Trap{
		secret: cfg.Secret,
		layers: Layers{
			Pixel:       cfg.Pixel,
			Temporal:    cfg.Temporal,
			Audio:       cfg.Audio,
			Compression: cfg.Compression,
			Metadata:    cfg.Metadata,
			Neural:      cfg.Neural,
		},
		prober: prober,
		logger: logger.Component("trap"),
		now:    time.Now,
		rand:   rand.Reader,
	}

	file := store.NewFile(data.Dir, store.SignaturesFile, logger)
	if _, err := file.Load(&t.sigs); err != nil {
		return nil, err
	}
	for _, sig := range t.sigs {
		if sig.Keys.Pixel == "" || sig.FullSignature == "" {
			t.derive(sig)
		}
	}
	t.writer = store.NewDebounced(file, data.Debounce, t.snapshot)

	t.logger.WithField("signatures", len(t.sigs)).Info("Trap signatures loaded")
	return t, nil
}

// WithClock replaces the time source
func (t *Trap) WithClock(now func() time.Time) *Trap {
	t.now = now
	return t
}

func (t *Trap) snapshot() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return json.MarshalIndent(t.sigs, "", "  ")
}

// Flush writes pending signatures now
func (t *Trap) Flush() error {
	return t.writer.Flush()
}

// Close flushes and stops the writer
func (t *Trap) Close() error {
	return t.writer.Close()
}

// Len returns the number of stored signatures
func (t *Trap) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sigs)
}

// Sign creates a signature for userID's input file without storing it
func (t *Trap) Sign(userID int64, inputPath string) (*models.TrapSignature, error) {
	hash, err := QuickHash(inputPath)
	if err != nil {
		return nil, err
	}
	salt := make([]byte, saltBytes)
	if _, err := io.ReadFull(t.rand, salt); err != nil {
		return nil, fmt.Errorf("failed to read salt: %w", err)
	}

	sig := &models.TrapSignature{
		UserID:    userID,
		VideoHash: hash,
		Timestamp: t.now().Unix(),
		Salt:      hex.EncodeToString(salt),
	}
	t.derive(sig)
	return sig, nil
}

// derive fills the layer keys and the full signature
func (t *Trap) derive(sig *models.TrapSignature) {
	base := fmt.Sprintf("%s:%d:%s:%d:%s", t.secret, sig.UserID, sig.VideoHash, sig.Timestamp, sig.Salt)
	key := func(layer string) string {
		sum := sha256.Sum256([]byte(base + ":" + layer))
		return hex.EncodeToString(sum[:])[:32]
	}
	sig.Keys = models.TrapKeys{
		Pixel:       key("pixel"),
		Temporal:    key("temporal"),
		Audio:       key("audio"),
		Compression: key("compression"),
		Metadata:    key("metadata"),
		Neural:      key("neural"),
	}
	sig.FullSignature = fullSignature(sig)
}

func fullSignature(sig *models.TrapSignature) string {
	k := sig.Keys
	// map keys marshal sorted
	data, _ := json.Marshal(map[string]interface{}{
		"user_id":    sig.UserID,
		"video_hash": sig.VideoHash,
		"timestamp":  sig.Timestamp,
		"salt":       sig.Salt,
		"keys": map[string]string{
			"pixel":       k.Pixel[:8],
			"temporal":    k.Temporal[:8],
			"audio":       k.Audio[:8],
			"compression": k.Compression[:8],
			"metadata":    k.Metadata[:8],
			"neural":      k.Neural[:8],
		},
	})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Embed adds the enabled layers of sig to recipe
func (t *Trap) Embed(recipe *planner.Recipe, sig *models.TrapSignature) {
	t.layers.embed(recipe, sig)
}

// Apply signs the input, embeds the layers into recipe and stores the
// signature
func (t *Trap) Apply(userID int64, inputPath string, recipe *planner.Recipe) (*models.TrapSignature, error) {
	sig, err := t.Sign(userID, inputPath)
	if err != nil {
		return nil, err
	}
	t.Embed(recipe, sig)

	t.mu.Lock()
	t.sigs = append(t.sigs, sig)
	t.mu.Unlock()
	t.writer.MarkDirty()

	t.logger.WithUserID(userID).WithField("signature", sig.FullSignature[:16]).Debug("Trap embedded")
	out := *sig
	return &out, nil
}

// RecordOutput stores the hash of the file produced under fullSig so the
// unmodified output is recognised by Detect
func (t *Trap) RecordOutput(fullSig, outputPath string) error {
	hash, err := QuickHash(outputPath)
	if err != nil {
		return err
	}

	t.mu.Lock()
	found := false
	for _, sig := range t.sigs {
		if sig.FullSignature == fullSig {
			sig.OutputHash = hash
			found = true
			break
		}
	}
	t.mu.Unlock()

	if !found {
		return fmt.Errorf("unknown signature %s", fullSig)
	}
	t.writer.MarkDirty()
	return nil
}

// QuickHash hashes the first and last MiB of a file plus its size and
// returns 32 hex chars
func QuickHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	size := info.Size()

	h := sha256.New()
	if _, err := io.CopyN(h, f, quickChunk); err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	if size > 2*quickChunk {
		if _, err := f.Seek(-quickChunk, io.SeekEnd); err != nil {
			return "", fmt.Errorf("failed to seek %s: %w", path, err)
		}
		if _, err := io.CopyN(h, f, quickChunk); err != nil && err != io.EOF {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
	}
	var sz [8]byte
	binary.BigEndian.PutUint64(sz[:], uint64(size))
	h.Write(sz[:])

	return hex.EncodeToString(h.Sum(nil))[:32], nil
}
