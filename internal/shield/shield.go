// Package shield keeps the passport and fingerprint database and answers
// similarity, safe-check and theft queries against it.
package shield

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/virex/internal/config"
	"github.com/therealutkarshpriyadarshi/virex/internal/fingerprint"
	"github.com/therealutkarshpriyadarshi/virex/internal/logging"
	"github.com/therealutkarshpriyadarshi/virex/internal/metrics"
	"github.com/therealutkarshpriyadarshi/virex/internal/store"
	"github.com/therealutkarshpriyadarshi/virex/pkg/models"
)

// MatchThreshold is the similarity at which a candidate counts as a match
const MatchThreshold = 0.75

// matchHistoryLimit bounds matches_history.json
const matchHistoryLimit = 1000

// Match types
const (
	MatchExact  = "exact"
	MatchVisual = "visual"
)

const idAttempts = 16

// ErrIDSpace is returned when no free passport id could be drawn
var ErrIDSpace = errors.New("could not allocate a unique passport id")

// Hasher computes video fingerprints
type Hasher interface {
	Compute(ctx context.Context, path string) (fingerprint.Set, error)
	PerceptualHash(ctx context.Context, path string) (string, error)
}

// VideoMeta describes the processing that produced a registered video
type VideoMeta struct {
	Username      string
	Duration      float64
	Width         int
	Height        int
	FPS           float64
	Template      string
	Mode          models.Mode
	Quality       models.Quality
	Seed          uint64
	TrapSignature string
}

// MatchResult is the outcome of a similarity query
type MatchResult struct {
	Found      bool
	Similarity float64
	Risk       models.RiskLevel
	MatchType  string
	Passport   *models.Passport
}

// Shield owns the passport, fingerprint, match, theft and analytics records
type Shield struct {
	hasher Hasher
	logger *logging.Logger
	now    func() time.Time
	rand   io.Reader

	mu           sync.Mutex
	passports    map[string]*models.Passport
	fingerprints map[string]*models.Fingerprint
	matches      []models.MatchRecord
	thefts       map[int64][]models.TheftRecord
	analytics    map[int64]*models.UserAnalytics

	passportsW    *store.Debounced
	fingerprintsW *store.Debounced
	matchesW      *store.Debounced
	theftsW       *store.Debounced
	analyticsW    *store.Debounced
}

// New loads every Shield document from data.Dir. Missing files are empty.
func New(data config.DataConfig, hasher Hasher, logger *logging.Logger) (*Shield, error) {
	s := &Shield{
		hasher:       hasher,
		logger:       logger.Component("shield"),
		now:          time.Now,
		rand:         rand.Reader,
		passports:    make(map[string]*models.Passport),
		fingerprints: make(map[string]*models.Fingerprint),
		thefts:       make(map[int64][]models.TheftRecord),
		analytics:    make(map[int64]*models.UserAnalytics),
	}

	docs := []struct {
		name   string
		target interface{}
		writer **store.Debounced
		snap   func() interface{}
	}{
		{store.PassportsFile, &s.passports, &s.passportsW, func() interface{} { return s.passports }},
		{store.FingerprintsFile, &s.fingerprints, &s.fingerprintsW, func() interface{} { return s.fingerprints }},
		{store.MatchesFile, &s.matches, &s.matchesW, func() interface{} { return s.matches }},
		{store.TheftFile, &s.thefts, &s.theftsW, func() interface{} { return s.thefts }},
		{store.AnalyticsFile, &s.analytics, &s.analyticsW, func() interface{} { return s.analytics }},
	}
	for _, d := range docs {
		file := store.NewFile(data.Dir, d.name, logger)
		if _, err := file.Load(d.target); err != nil {
			return nil, err
		}
		snap := d.snap
		*d.writer = store.NewDebounced(file, data.Debounce, func() ([]byte, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			return json.MarshalIndent(snap(), "", "  ")
		})
	}
	for _, a := range s.analytics {
		if a.Templates == nil {
			a.Templates = make(map[string]int)
		}
		if a.Platforms == nil {
			a.Platforms = make(map[string]int)
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"passports":    len(s.passports),
		"fingerprints": len(s.fingerprints),
	}).Info("Shield database loaded")
	return s, nil
}

// WithClock replaces the time source
func (s *Shield) WithClock(now func() time.Time) *Shield {
	s.now = now
	return s
}

func (s *Shield) writers() []*store.Debounced {
	return []*store.Debounced{s.passportsW, s.fingerprintsW, s.matchesW, s.theftsW, s.analyticsW}
}

// Flush writes pending state now
func (s *Shield) Flush() error {
	var errs []error
	for _, w := range s.writers() {
		errs = append(errs, w.Flush())
	}
	return errors.Join(errs...)
}

// Close flushes and stops the writers
func (s *Shield) Close() error {
	var errs []error
	for _, w := range s.writers() {
		errs = append(errs, w.Close())
	}
	return errors.Join(errs...)
}

// AddVideo fingerprints path and writes a passport owned by userID
func (s *Shield) AddVideo(ctx context.Context, path string, userID int64, meta VideoMeta) (*models.Passport, error) {
	set, err := s.hasher.Compute(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	now := s.now()
	p := &models.Passport{
		VideoHash:          set.FileHash,
		PerceptualHash:     set.Perceptual,
		OwnerUserID:        userID,
		OwnerUsername:      meta.Username,
		CreatedAt:          now,
		ProcessedAt:        now,
		DurationSeconds:    meta.Duration,
		Resolution:         fmt.Sprintf("%dx%d", meta.Width, meta.Height),
		FileSizeBytes:      info.Size(),
		FPS:                meta.FPS,
		Template:           meta.Template,
		Mode:               meta.Mode,
		Quality:            meta.Quality,
		RecipeSeed:         meta.Seed,
		TrapEnabled:        meta.TrapSignature != "",
		WatermarkSignature: meta.TrapSignature,
	}

	s.mu.Lock()
	p.ID, err = s.newIDLocked()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.passports[p.ID] = p
	s.fingerprints[p.ID] = &models.Fingerprint{
		PassportID:     p.ID,
		FileHash:       set.FileHash,
		PerceptualHash: set.Perceptual,
		TemporalSig:    set.TemporalSig,
		UserID:         userID,
		CreatedAt:      now,
	}
	a := s.analyticsLocked(userID)
	a.PassportsCreated++
	out := *p
	s.mu.Unlock()

	s.passportsW.MarkDirty()
	s.fingerprintsW.MarkDirty()
	s.analyticsW.MarkDirty()
	metrics.RecordPassport()

	s.logger.WithUserID(userID).WithFields(map[string]interface{}{
		"passport_id": out.ID,
		"seed":        meta.Seed,
	}).Info("Passport created")
	return &out, nil
}

func (s *Shield) newIDLocked() (string, error) {
	for i := 0; i < idAttempts; i++ {
		a, err := Code(s.rand, 4)
		if err != nil {
			return "", err
		}
		b, err := Code(s.rand, 4)
		if err != nil {
			return "", err
		}
		id := "VIREX-" + a + "-" + b
		if _, taken := s.passports[id]; !taken {
			return id, nil
		}
	}
	return "", ErrIDSpace
}

// candidate is the query side of a similarity scan
type candidate struct {
	fileHash   string
	perceptual string
}

func (s *Shield) hashCandidate(ctx context.Context, path string) (candidate, error) {
	fileHash, err := fingerprint.FileHash(path)
	if err != nil {
		return candidate{}, err
	}
	perceptual, err := s.hasher.PerceptualHash(ctx, path)
	if err != nil {
		return candidate{}, err
	}
	return candidate{fileHash: fileHash, perceptual: perceptual}, nil
}

// bestLocked scans the fingerprints accepted by include in passport id
// order and returns the best one
func (s *Shield) bestLocked(c candidate, include func(fp *models.Fingerprint) bool) (id string, sim float64, exact bool) {
	ids := make([]string, 0, len(s.fingerprints))
	for pid := range s.fingerprints {
		ids = append(ids, pid)
	}
	sort.Strings(ids)

	for _, pid := range ids {
		fp := s.fingerprints[pid]
		if !include(fp) {
			continue
		}
		if fp.FileHash == c.fileHash {
			return pid, 1, true
		}
		if v := fingerprint.Similarity(c.perceptual, fp.PerceptualHash); v > sim {
			id, sim = pid, v
		}
	}
	return id, sim, false
}

// FindMatches compares path against videos of every user other than
// excludeUserID. Zero excludes nobody.
func (s *Shield) FindMatches(ctx context.Context, path string, excludeUserID, queryUserID int64) (MatchResult, error) {
	c, err := s.hashCandidate(ctx, path)
	if err != nil {
		return MatchResult{}, err
	}
	return s.findMatches(c, excludeUserID, queryUserID), nil
}

func (s *Shield) findMatches(c candidate, excludeUserID, queryUserID int64) MatchResult {
	s.mu.Lock()
	id, sim, exact := s.bestLocked(c, func(fp *models.Fingerprint) bool {
		return excludeUserID == 0 || fp.UserID != excludeUserID
	})
	res := MatchResult{Similarity: sim, Risk: models.RiskForSimilarity(sim)}
	p, ok := s.passports[id]
	if sim < MatchThreshold || !ok {
		s.mu.Unlock()
		return res
	}

	res.Found = true
	res.MatchType = MatchVisual
	if exact {
		res.MatchType = MatchExact
	}
	p.MatchesFound++
	s.matches = append(s.matches, models.MatchRecord{
		PassportID:  p.ID,
		OwnerUserID: p.OwnerUserID,
		QueryUserID: queryUserID,
		Similarity:  sim,
		MatchType:   res.MatchType,
		RiskLevel:   res.Risk,
		DetectedAt:  s.now(),
	})
	if over := len(s.matches) - matchHistoryLimit; over > 0 {
		s.matches = append([]models.MatchRecord(nil), s.matches[over:]...)
	}
	cp := *p
	res.Passport = &cp
	s.mu.Unlock()

	s.passportsW.MarkDirty()
	s.matchesW.MarkDirty()
	metrics.RecordMatch(string(res.Risk))
	return res
}

// Passport returns a copy of the passport with id
func (s *Shield) Passport(id string) (models.Passport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.passports[id]
	if !ok {
		return models.Passport{}, false
	}
	return *p, true
}

// UserPassports returns userID's passports, newest first
func (s *Shield) UserPassports(userID int64) []models.Passport {
	s.mu.Lock()
	var out []models.Passport
	for _, p := range s.passports {
		if p.OwnerUserID == userID {
			out = append(out, *p)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// VerifyPassport counts a verification of id and returns the updated record
func (s *Shield) VerifyPassport(id string) (models.Passport, bool) {
	s.mu.Lock()
	p, ok := s.passports[id]
	if !ok {
		s.mu.Unlock()
		return models.Passport{}, false
	}
	now := s.now()
	p.Verifications++
	p.LastVerifiedAt = &now
	out := *p
	s.mu.Unlock()

	s.passportsW.MarkDirty()
	return out, true
}

// Matches returns the most recent n match records, newest last
func (s *Shield) Matches(n int) []models.MatchRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := 0
	if n > 0 && len(s.matches) > n {
		start = len(s.matches) - n
	}
	return append([]models.MatchRecord(nil), s.matches[start:]...)
}

// Len returns the number of passports
func (s *Shield) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.passports)
}

// codeAlphabet has 32 symbols without the lookalikes 0, O, 1 and I
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Code draws n uniformly random symbols from the passport alphabet
func Code(r io.Reader, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
