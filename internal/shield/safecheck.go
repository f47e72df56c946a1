package shield

import (
	"context"
	"math"

	"github.com/therealutkarshpriyadarshi/virex/pkg/models"
)

// SafeCheck is the risk report for a video about to be published
type SafeCheck struct {
	Risk              models.RiskLevel `json:"overall_risk"`
	Score             float64          `json:"overall_score"`
	Originality       float64          `json:"originality_score"`
	BanProbability    float64          `json:"ban_probability"`
	StrikeProbability float64          `json:"strike_probability"`
	ShadowBanRisk     float64          `json:"shadow_ban_risk"`
	Processed         bool             `json:"processed"`
	Match             MatchResult      `json:"-"`
	Warnings          []string         `json:"warnings"`
	Recommendations   []string         `json:"recommendations"`
}

// riskBand holds ban, strike and shadow-ban percentages
type riskBand struct {
	ban, strike, shadow float64
	warning             string
}

var (
	bandCritical = riskBand{85, 70, 90, "Near-identical video found in the database"}
	bandHigh     = riskBand{50, 40, 70, "High similarity with existing content"}
	bandMedium   = riskBand{25, 15, 40, "Moderate similarity with existing content"}
	bandClean    = riskBand{5, 3, 10, ""}
)

// originality reported when nothing crosses MatchThreshold
const cleanOriginality = 95.0

func bandFor(r models.RiskLevel) riskBand {
	switch r {
	case models.RiskCritical:
		return bandCritical
	case models.RiskHigh:
		return bandHigh
	case models.RiskMedium:
		return bandMedium
	}
	return bandClean
}

// SafeCheck scores the ban risk of path for userID. A file whose hash is in
// the database counts as processed by this service and gets reduced risks.
func (s *Shield) SafeCheck(ctx context.Context, path string, userID int64) (SafeCheck, error) {
	c, err := s.hashCandidate(ctx, path)
	if err != nil {
		return SafeCheck{}, err
	}
	match := s.findMatches(c, userID, userID)
	processed := s.isRegistered(c.fileHash)

	sc := scoreSafeCheck(match, processed)
	s.RecordScan(userID, match.Found, sc.Originality)
	return sc, nil
}

func scoreSafeCheck(match MatchResult, processed bool) SafeCheck {
	sc := SafeCheck{Match: match, Processed: processed, Originality: cleanOriginality}
	band := bandClean
	if match.Found {
		sc.Originality = (1 - match.Similarity) * 100
		band = bandFor(match.Risk)
		sc.Warnings = append(sc.Warnings, band.warning)
	}
	sc.BanProbability, sc.StrikeProbability, sc.ShadowBanRisk = band.ban, band.strike, band.shadow

	if processed {
		sc.BanProbability *= 0.6
		sc.StrikeProbability *= 0.5
		sc.ShadowBanRisk *= 0.7
		sc.Originality = math.Min(100, sc.Originality*1.15)
		sc.Recommendations = append(sc.Recommendations, "Processed by Virex: protection is active")
	} else {
		sc.Recommendations = append(sc.Recommendations, "Process the video through Virex to lower the risks")
	}

	if sc.BanProbability > 50 {
		sc.Recommendations = append(sc.Recommendations,
			"Use the hardcore anti-reupload template",
			"Add unique elements to the video")
	}
	if sc.ShadowBanRisk > 50 {
		sc.Recommendations = append(sc.Recommendations,
			"Switch to a different processing template",
			"Add original text or a watermark")
	}

	sc.Score = sc.Originality*0.4 +
		(100-sc.BanProbability)*0.3 +
		(100-sc.StrikeProbability)*0.15 +
		(100-sc.ShadowBanRisk)*0.15
	sc.Risk = riskForScore(sc.Score)
	return sc
}

func riskForScore(score float64) models.RiskLevel {
	switch {
	case score >= 80:
		return models.RiskSafe
	case score >= 65:
		return models.RiskLow
	case score >= 45:
		return models.RiskMedium
	case score >= 25:
		return models.RiskHigh
	default:
		return models.RiskCritical
	}
}

// isRegistered reports whether the exact file was produced by this service
func (s *Shield) isRegistered(fileHash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fp := range s.fingerprints {
		if fp.FileHash == fileHash {
			return true
		}
	}
	return false
}
