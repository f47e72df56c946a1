package quota

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/virex/pkg/models"
)

const (
	pointsPerVideo = 10
	referralBonus  = 3
	trialDays      = 1
)

// ExpiryLookahead is how many days ahead the expiry notifier looks
const ExpiryLookahead = 3

var (
	ErrSelfReferral     = errors.New("cannot refer yourself")
	ErrReferrerSet      = errors.New("referrer already set")
	ErrTrialUnavailable = errors.New("trial not available")

	ErrPromoInvalid   = errors.New("invalid promo code")
	ErrPromoInactive  = errors.New("promo code inactive")
	ErrPromoExhausted = errors.New("promo code exhausted")
	ErrPromoUsed      = errors.New("promo code already used")
	ErrPromoExists    = errors.New("promo code already exists")
	ErrPromoType      = errors.New("unknown promo type")
)

// Achievement is an unlockable badge
type Achievement struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Points int    `json:"points"`
}

// achievementRule unlocks an achievement when it holds
type achievementRule struct {
	Achievement
	holds func(u *models.User, now time.Time) bool
}

var achievementRules = []achievementRule{
	{Achievement{"first_video", "First video", 10}, lifetimeAtLeast(1)},
	{Achievement{"videos_10", "10 videos", 50}, lifetimeAtLeast(10)},
	{Achievement{"videos_50", "50 videos", 100}, lifetimeAtLeast(50)},
	{Achievement{"videos_100", "100 videos", 200}, lifetimeAtLeast(100)},
	{Achievement{"videos_500", "500 videos", 500}, lifetimeAtLeast(500)},
	{Achievement{"streak_7", "7-day streak", 100}, streakAtLeast(7)},
	{Achievement{"streak_30", "30-day streak", 300}, streakAtLeast(30)},
	{Achievement{"referral_1", "First referral", 50}, referralsAtLeast(1)},
	{Achievement{"referral_10", "10 referrals", 200}, referralsAtLeast(10)},
	{Achievement{"night_owl", "Night owl", 20}, hourBetween(0, 5)},
	{Achievement{"early_bird", "Early bird", 20}, hourBetween(5, 7)},
}

func lifetimeAtLeast(n int) func(*models.User, time.Time) bool {
	return func(u *models.User, _ time.Time) bool { return u.Counters.Lifetime >= n }
}

func streakAtLeast(n int) func(*models.User, time.Time) bool {
	return func(u *models.User, _ time.Time) bool { return u.Economy.StreakCount >= n }
}

func referralsAtLeast(n int) func(*models.User, time.Time) bool {
	return func(u *models.User, _ time.Time) bool { return u.Economy.ReferralCount >= n }
}

func hourBetween(from, to int) func(*models.User, time.Time) bool {
	return func(_ *models.User, now time.Time) bool { return now.Hour() >= from && now.Hour() < to }
}

// levelLadder holds the points needed for levels 1..8
var levelLadder = []int{0, 100, 300, 600, 1000, 2000, 5000, 10000}

// LevelFor returns the level reached with points
func LevelFor(points int) int {
	level := 1
	for i, need := range levelLadder {
		if points >= need {
			level = i + 1
		}
	}
	return level
}

// Progress reports the gamification outcome of a completed job
type Progress struct {
	Points   int
	Level    int
	LevelUp  bool
	Streak   int
	Unlocked []Achievement
}

// rewardLocked applies streak, points, achievements and level
func (m *Manager) rewardLocked(u *models.User, now time.Time) Progress {
	oldLevel := u.Economy.Level
	m.streakLocked(u, now)
	u.Economy.Points += pointsPerVideo

	unlocked := m.unlockLocked(u, now)

	u.Economy.Level = LevelFor(u.Economy.Points)
	return Progress{
		Points:   u.Economy.Points,
		Level:    u.Economy.Level,
		LevelUp:  u.Economy.Level > oldLevel,
		Streak:   u.Economy.StreakCount,
		Unlocked: unlocked,
	}
}

func (m *Manager) unlockLocked(u *models.User, now time.Time) []Achievement {
	var unlocked []Achievement
	for _, rule := range achievementRules {
		if u.HasAchievement(rule.ID) || !rule.holds(u, now) {
			continue
		}
		u.Economy.Achievements = append(u.Economy.Achievements, rule.ID)
		u.Economy.Points += rule.Points
		unlocked = append(unlocked, rule.Achievement)
	}
	return unlocked
}

// streakLocked counts consecutive days with at least one job
func (m *Manager) streakLocked(u *models.User, now time.Time) {
	today := now.Format(dateLayout)
	e := &u.Economy
	switch {
	case e.StreakLastDate == today:
		return
	case daysSince(e.StreakLastDate, now) == 1:
		e.StreakCount++
	default:
		e.StreakCount = 1
	}
	e.StreakLastDate = today
}

// Achievements lists every achievement with the ones userID unlocked first
func (m *Manager) Achievements(userID int64) (unlocked, locked []Achievement) {
	u := m.Get(userID)
	for _, rule := range achievementRules {
		if u.HasAchievement(rule.ID) {
			unlocked = append(unlocked, rule.Achievement)
		} else {
			locked = append(locked, rule.Achievement)
		}
	}
	return unlocked, locked
}

// Leaderboard returns up to n users ordered by points
func (m *Manager) Leaderboard(n int) []models.User {
	m.mu.Lock()
	all := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		if u.Economy.Points > 0 {
			all = append(all, cloneUser(u))
		}
	}
	m.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Economy.Points != all[j].Economy.Points {
			return all[i].Economy.Points > all[j].Economy.Points
		}
		return all[i].ID < all[j].ID
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// SetReferrer records who invited userID. It can be set once.
func (m *Manager) SetReferrer(userID, referrerID int64) error {
	if userID == referrerID {
		return ErrSelfReferral
	}

	m.mu.Lock()
	u := m.userLocked(userID)
	if u.Economy.ReferrerID != 0 {
		m.mu.Unlock()
		return ErrReferrerSet
	}
	u.Economy.ReferrerID = referrerID
	ref := m.userLocked(referrerID)
	ref.Economy.ReferralCount++
	ref.Economy.BonusVideos += referralBonus
	m.unlockLocked(ref, m.now())
	ref.Economy.Level = LevelFor(ref.Economy.Points)
	m.mu.Unlock()

	m.usersWriter.MarkDirty()
	m.logger.WithUserID(userID).WithField("referrer_id", referrerID).Info("Referral recorded")
	return nil
}

// ActivateTrial grants a one-day VIP plan to a free user who never had one
func (m *Manager) ActivateTrial(userID int64) error {
	return m.update(userID, func(u *models.User, now time.Time) error {
		if u.Plan != models.PlanFree || u.TrialUsed {
			return ErrTrialUnavailable
		}
		u.TrialUsed = true
		m.setPlanLocked(u, models.PlanVIP, trialDays, now)
		return nil
	})
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CreatePromo adds a promo code
func (m *Manager) CreatePromo(code string, kind models.PromoType, value, maxUses int) (models.PromoCode, error) {
	switch kind {
	case models.PromoVideos, models.PromoDaysVIP, models.PromoDaysPremium:
	default:
		return models.PromoCode{}, ErrPromoType
	}
	code = normalizeCode(code)
	if code == "" {
		return models.PromoCode{}, ErrPromoInvalid
	}
	if maxUses <= 0 {
		maxUses = 100
	}

	m.mu.Lock()
	if _, ok := m.promos[code]; ok {
		m.mu.Unlock()
		return models.PromoCode{}, ErrPromoExists
	}
	p := &models.PromoCode{
		Code:      code,
		Type:      kind,
		Value:     value,
		MaxUses:   maxUses,
		UsedBy:    []int64{},
		CreatedAt: m.now(),
		Active:    true,
	}
	m.promos[code] = p
	out := *p
	m.mu.Unlock()

	m.promoWriter.MarkDirty()
	m.logger.WithFields(map[string]interface{}{"code": code, "type": kind, "value": value}).Info("Promo code created")
	return out, nil
}

// ActivatePromo redeems code for userID
func (m *Manager) ActivatePromo(userID int64, code string) (models.PromoCode, error) {
	code = normalizeCode(code)

	m.mu.Lock()
	p, ok := m.promos[code]
	var err error
	switch {
	case !ok:
		err = ErrPromoInvalid
	case !p.Active:
		err = ErrPromoInactive
	case p.UsedCount >= p.MaxUses:
		err = ErrPromoExhausted
	case p.UsedByUser(userID):
		err = ErrPromoUsed
	}
	if err != nil {
		m.mu.Unlock()
		return models.PromoCode{}, err
	}

	u := m.userLocked(userID)
	now := m.now()
	switch p.Type {
	case models.PromoVideos:
		u.Economy.BonusVideos += p.Value
	case models.PromoDaysVIP:
		m.setPlanLocked(u, models.PlanVIP, p.Value, now)
	case models.PromoDaysPremium:
		m.setPlanLocked(u, models.PlanPremium, p.Value, now)
	}
	p.UsedCount++
	p.UsedBy = append(p.UsedBy, userID)
	out := *p
	m.mu.Unlock()

	m.usersWriter.MarkDirty()
	m.promoWriter.MarkDirty()
	m.logger.WithUserID(userID).WithField("code", code).Info("Promo code activated")
	return out, nil
}

// DeletePromo removes a code and reports whether it existed
func (m *Manager) DeletePromo(code string) bool {
	code = normalizeCode(code)
	m.mu.Lock()
	_, ok := m.promos[code]
	delete(m.promos, code)
	m.mu.Unlock()

	if ok {
		m.promoWriter.MarkDirty()
	}
	return ok
}

// ListPromos returns every code sorted by name
func (m *Manager) ListPromos() []models.PromoCode {
	m.mu.Lock()
	out := make([]models.PromoCode, 0, len(m.promos))
	for _, p := range m.promos {
		c := *p
		c.UsedBy = append([]int64(nil), p.UsedBy...)
		out = append(out, c)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
