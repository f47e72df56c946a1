package shield

import (
	"context"
	"regexp"

	"github.com/therealutkarshpriyadarshi/virex/pkg/models"
)

// Theft detection methods
const (
	TheftExactHash  = "exact_hash"
	TheftPerceptual = "perceptual_hash"
)

// TheftReport is the result of CheckStolen
type TheftReport struct {
	Found      bool    `json:"found"`
	PassportID string  `json:"original_passport_id,omitempty"`
	Similarity float64 `json:"similarity"`
	Method     string  `json:"detection_method,omitempty"`
	Perceptual string  `json:"thief_fingerprint,omitempty"`
}

// CheckStolen compares path against ownerID's own passports and records a
// hit in the owner's theft history
func (s *Shield) CheckStolen(ctx context.Context, path string, ownerID int64) (TheftReport, error) {
	c, err := s.hashCandidate(ctx, path)
	if err != nil {
		return TheftReport{}, err
	}

	s.mu.Lock()
	id, sim, exact := s.bestLocked(c, func(fp *models.Fingerprint) bool {
		p, ok := s.passports[fp.PassportID]
		return ok && p.OwnerUserID == ownerID
	})
	if id == "" || sim < MatchThreshold {
		s.mu.Unlock()
		return TheftReport{Similarity: sim}, nil
	}

	report := TheftReport{
		Found:      true,
		PassportID: id,
		Similarity: sim,
		Method:     TheftPerceptual,
		Perceptual: c.perceptual,
	}
	if exact {
		report.Method = TheftExactHash
	}
	now := s.now()
	s.thefts[ownerID] = append(s.thefts[ownerID], models.TheftRecord{
		PassportID: id,
		Similarity: sim,
		Method:     report.Method,
		DetectedAt: now,
	})
	s.analyticsLocked(ownerID).StolenDetected++
	s.mu.Unlock()

	s.theftsW.MarkDirty()
	s.analyticsW.MarkDirty()
	s.logger.WithUserID(ownerID).WithFields(map[string]interface{}{
		"passport_id": id,
		"similarity":  sim,
		"method":      report.Method,
	}).Warn("Reupload of a registered video detected")
	return report, nil
}

// TheftHistory returns every theft recorded for userID
func (s *Shield) TheftHistory(userID int64) []models.TheftRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.TheftRecord(nil), s.thefts[userID]...)
}

// Platform names returned by DetectPlatform
const (
	PlatformTikTok    = "tiktok"
	PlatformInstagram = "instagram"
	PlatformYouTube   = "youtube"
)

var platformPatterns = []struct {
	platform string
	re       *regexp.Regexp
}{
	{PlatformTikTok, regexp.MustCompile(`tiktok\.com/@[\w.-]+/video/(\d+)`)},
	{PlatformTikTok, regexp.MustCompile(`tiktok\.com/t/(\w+)`)},
	{PlatformTikTok, regexp.MustCompile(`vm\.tiktok\.com/(\w+)`)},
	{PlatformInstagram, regexp.MustCompile(`instagram\.com/reel/([\w-]+)`)},
	{PlatformInstagram, regexp.MustCompile(`instagram\.com/p/([\w-]+)`)},
	{PlatformYouTube, regexp.MustCompile(`youtube\.com/shorts/([\w-]+)`)},
	{PlatformYouTube, regexp.MustCompile(`youtu\.be/([\w-]+)`)},
}

// DetectPlatform names the short-video platform of url and the video id in
// it. Both are empty for unsupported links.
func DetectPlatform(url string) (platform, videoID string) {
	for _, p := range platformPatterns {
		if m := p.re.FindStringSubmatch(url); m != nil {
			return p.platform, m[1]
		}
	}
	return "", ""
}
