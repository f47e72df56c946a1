package quota

import (
	"time"

	"github.com/therealutkarshpriyadarshi/virex/pkg/models"
)

// Unlimited marks a counter limit that never rejects
const Unlimited = -1

// Limits describes what a plan allows
type Limits struct {
	Plan        models.Plan
	Daily       int
	Weekly      int
	Cooldown    time.Duration
	MaxFileMB   int
	Priority    int
	CanHideText bool
	Qualities   []models.Quality
	Trap        bool
}

var planTable = map[models.Plan]Limits{
	models.PlanFree: {
		Plan:      models.PlanFree,
		Daily:     2,
		Weekly:    14,
		Cooldown:  60 * time.Second,
		MaxFileMB: 50,
		Priority:  0,
		Qualities: []models.Quality{models.QualityLow, models.QualityMedium},
	},
	models.PlanVIP: {
		Plan:        models.PlanVIP,
		Daily:       15,
		Weekly:      100,
		Cooldown:    10 * time.Second,
		MaxFileMB:   100,
		Priority:    1,
		CanHideText: true,
		Qualities:   []models.Quality{models.QualityLow, models.QualityMedium, models.QualityMax},
		Trap:        true,
	},
	models.PlanPremium: {
		Plan:        models.PlanPremium,
		Daily:       Unlimited,
		Weekly:      Unlimited,
		MaxFileMB:   100,
		Priority:    2,
		CanHideText: true,
		Qualities:   []models.Quality{models.QualityLow, models.QualityMedium, models.QualityMax},
		Trap:        true,
	},
}

// LimitsFor returns the limits of plan. Unknown plans get the free limits.
func LimitsFor(plan models.Plan) Limits {
	if l, ok := planTable[plan]; ok {
		return l
	}
	return planTable[models.PlanFree]
}

// MaxFileBytes returns the plan's upload cap in bytes
func (l Limits) MaxFileBytes() int64 {
	return int64(l.MaxFileMB) * 1024 * 1024
}

// AllowsQuality reports whether q is in the plan's quality set
func (l Limits) AllowsQuality(q models.Quality) bool {
	for _, allowed := range l.Qualities {
		if allowed == q {
			return true
		}
	}
	return false
}

// ClampQuality returns q when allowed, otherwise the best allowed quality
func (l Limits) ClampQuality(q models.Quality) models.Quality {
	if l.AllowsQuality(q) {
		return q
	}
	return l.Qualities[len(l.Qualities)-1]
}

func underLimit(count, limit int) bool {
	return limit == Unlimited || count < limit
}
