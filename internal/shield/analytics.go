package shield

import (
	"github.com/therealutkarshpriyadarshi/virex/pkg/models"
)

// highRiskOriginality marks a scan as high risk below this originality
const highRiskOriginality = 50

func (s *Shield) analyticsLocked(userID int64) *models.UserAnalytics {
	a, ok := s.analytics[userID]
	if !ok {
		a = models.NewUserAnalytics(userID, s.now())
		s.analytics[userID] = a
	}
	return a
}

func (s *Shield) recordAnalytics(userID int64, fn func(a *models.UserAnalytics)) {
	s.mu.Lock()
	fn(s.analyticsLocked(userID))
	s.mu.Unlock()
	s.analyticsW.MarkDirty()
}

// RecordProcessing counts a processed video with its template and platform
func (s *Shield) RecordProcessing(userID int64, template string, mode models.Mode) {
	s.recordAnalytics(userID, func(a *models.UserAnalytics) {
		a.TotalProcessed++
		a.LastUse = s.now()
		if template != "" {
			a.Templates[template]++
		}
		if mode != "" {
			a.Platforms[string(mode)]++
		}
	})
}

// RecordScan counts a similarity scan and folds its originality into the
// running average
func (s *Shield) RecordScan(userID int64, matchFound bool, originality float64) {
	s.recordAnalytics(userID, func(a *models.UserAnalytics) {
		a.TotalScanned++
		if matchFound {
			a.MatchesDetected++
		}
		n := float64(a.TotalScanned)
		a.AvgOriginality = (a.AvgOriginality*(n-1) + originality) / n
		if originality < highRiskOriginality {
			a.HighRiskCount++
		}
		a.LastUse = s.now()
	})
}

// Analytics returns a copy of userID's analytics
func (s *Shield) Analytics(userID int64) models.UserAnalytics {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.analytics[userID]
	if !ok {
		return *models.NewUserAnalytics(userID, s.now())
	}
	out := *a
	out.Templates = make(map[string]int, len(a.Templates))
	for k, v := range a.Templates {
		out.Templates[k] = v
	}
	out.Platforms = make(map[string]int, len(a.Platforms))
	for k, v := range a.Platforms {
		out.Platforms[k] = v
	}
	return out
}
