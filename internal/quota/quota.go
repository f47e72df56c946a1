package quota

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/virex/internal/cache"
	"github.com/therealutkarshpriyadarshi/virex/internal/config"
	"github.com/therealutkarshpriyadarshi/virex/internal/logging"
	"github.com/therealutkarshpriyadarshi/virex/internal/metrics"
	"github.com/therealutkarshpriyadarshi/virex/internal/store"
	"github.com/therealutkarshpriyadarshi/virex/pkg/models"
)

// Reason names why an admission was refused
type Reason string

const (
	ReasonBanned      Reason = "banned"
	ReasonSoftBlock   Reason = "soft-block"
	ReasonDailyLimit  Reason = "daily-limit"
	ReasonWeeklyLimit Reason = "weekly-limit"
	ReasonCooldown    Reason = "cooldown"
	ReasonDuplicate   Reason = "duplicate"
)

// requestWindow bounds Abuse.RecentRequests
const requestWindow = time.Hour

const dateLayout = "2006-01-02"

var (
	ErrUnknownPlan       = errors.New("unknown plan")
	ErrQualityNotAllowed = errors.New("quality not available on this plan")
	ErrTextRequired      = errors.New("text overlay cannot be disabled on this plan")
	ErrInvalidMode       = errors.New("invalid mode")
)

// RejectError is returned by Admit when a request is refused
type RejectError struct {
	Reason     Reason
	RetryAfter time.Duration
	Used       int
	Limit      int
	Detail     string
}

func (e *RejectError) Error() string {
	switch e.Reason {
	case ReasonBanned:
		return fmt.Sprintf("banned: %s", e.Detail)
	case ReasonCooldown, ReasonSoftBlock:
		return fmt.Sprintf("%s: retry in %ds", e.Reason, int(e.RetryAfter.Seconds()))
	case ReasonDailyLimit, ReasonWeeklyLimit:
		return fmt.Sprintf("%s: %d/%d used", e.Reason, e.Used, e.Limit)
	}
	return string(e.Reason)
}

// Admission is a granted request. It is handed back to Complete or Abandon.
type Admission struct {
	UserID    int64
	Limits    Limits
	UsedBonus bool

	prevRequestAt time.Time
	prevFileHash  string
	prevFileAt    time.Time
}

// Manager owns every user record and serialises mutations on them
type Manager struct {
	cfg    config.LimitsConfig
	latch  cache.Store
	logger *logging.Logger
	now    func() time.Time

	mu     sync.Mutex
	users  map[int64]*models.User
	promos map[string]*models.PromoCode

	usersWriter *store.Debounced
	promoWriter *store.Debounced
}

// NewManager loads users and promo codes from dataDir
func NewManager(cfg config.LimitsConfig, data config.DataConfig, latch cache.Store, logger *logging.Logger) (*Manager, error) {
	m := &Manager{
		cfg:    cfg,
		latch:  latch,
		logger: logger.Component("quota"),
		now:    time.Now,
		users:  make(map[int64]*models.User),
		promos: make(map[string]*models.PromoCode),
	}

	usersFile := store.NewFile(data.Dir, store.UsersFile, logger)
	if err := m.loadUsers(usersFile); err != nil {
		return nil, err
	}
	promoFile := store.NewFile(data.Dir, store.PromoFile, logger)
	if _, err := promoFile.Load(&m.promos); err != nil {
		return nil, err
	}

	m.usersWriter = store.NewDebounced(usersFile, data.Debounce, m.snapshotUsers)
	m.promoWriter = store.NewDebounced(promoFile, data.Debounce, m.snapshotPromos)

	m.logger.WithFields(map[string]interface{}{
		"users":  len(m.users),
		"promos": len(m.promos),
	}).Info("Quota state loaded")
	return m, nil
}

// WithClock replaces the time source
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// storedUser decodes a record whose history may be in a legacy shape
type storedUser struct {
	*models.User
	History json.RawMessage `json:"history"`
}

func (m *Manager) loadUsers(f *store.File) error {
	var raw map[string]json.RawMessage
	if _, err := f.Load(&raw); err != nil {
		return err
	}

	for key, data := range raw {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			m.logger.WithField("key", key).Warn("Skipping user with invalid id")
			continue
		}
		u := models.NewUser(id)
		rec := storedUser{User: u}
		if err := json.Unmarshal(data, &rec); err != nil {
			m.logger.WithError(err).WithUserID(id).Warn("Skipping unreadable user record")
			continue
		}
		if len(rec.History) > 0 && rec.History[0] == '[' {
			if err := json.Unmarshal(rec.History, &u.History); err != nil {
				u.History = nil
			}
		}
		u.ID = id
		m.users[id] = u
	}
	return nil
}

func (m *Manager) snapshotUsers() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return json.MarshalIndent(m.users, "", "  ")
}

func (m *Manager) snapshotPromos() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return json.MarshalIndent(m.promos, "", "  ")
}

// Flush writes pending state now
func (m *Manager) Flush() error {
	return errors.Join(m.usersWriter.Flush(), m.promoWriter.Flush())
}

// Close flushes and stops the writers
func (m *Manager) Close() error {
	return errors.Join(m.usersWriter.Close(), m.promoWriter.Close())
}

// update runs fn on the user record under the lock and schedules a write
func (m *Manager) update(userID int64, fn func(u *models.User, now time.Time) error) error {
	m.mu.Lock()
	u := m.userLocked(userID)
	err := fn(u, m.now())
	m.mu.Unlock()

	m.usersWriter.MarkDirty()
	return err
}

func (m *Manager) userLocked(userID int64) *models.User {
	u, ok := m.users[userID]
	if !ok {
		u = models.NewUser(userID)
		u.FirstSeen = m.now()
		m.users[userID] = u
	}
	return u
}

// Touch creates the user if needed and records the username
func (m *Manager) Touch(userID int64, username string) {
	m.update(userID, func(u *models.User, _ time.Time) error {
		if username != "" {
			u.Username = username
		}
		return nil
	})
}

// Get returns a copy of the user record
func (m *Manager) Get(userID int64) models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.userLocked(userID)
	m.rolloverLocked(u, m.now())
	return cloneUser(u)
}

// Admit decides whether userID may start a job. fileKey identifies the
// submitted file for duplicate suppression and may be empty.
func (m *Manager) Admit(userID int64, fileKey string) (*Admission, error) {
	var adm *Admission
	err := m.update(userID, func(u *models.User, now time.Time) error {
		if u.Banned {
			return &RejectError{Reason: ReasonBanned, Detail: u.BanReason}
		}
		if u.Abuse.SoftBlockUntil.After(now) {
			return &RejectError{Reason: ReasonSoftBlock, RetryAfter: u.Abuse.SoftBlockUntil.Sub(now)}
		}

		m.expireLocked(u, now)
		m.rolloverLocked(u, now)
		limits := LimitsFor(u.Plan)

		usedBonus := false
		if !underLimit(u.Counters.Daily, limits.Daily) {
			if u.Economy.BonusVideos <= 0 {
				return m.abuseLocked(u, now, &RejectError{Reason: ReasonDailyLimit, Used: u.Counters.Daily, Limit: limits.Daily})
			}
			usedBonus = true
		}
		if !underLimit(u.Counters.Weekly, limits.Weekly) {
			return m.abuseLocked(u, now, &RejectError{Reason: ReasonWeeklyLimit, Used: u.Counters.Weekly, Limit: limits.Weekly})
		}
		if limits.Cooldown > 0 && !u.Abuse.LastRequestAt.IsZero() {
			if elapsed := now.Sub(u.Abuse.LastRequestAt); elapsed < limits.Cooldown {
				return m.abuseLocked(u, now, &RejectError{Reason: ReasonCooldown, RetryAfter: limits.Cooldown - elapsed})
			}
		}

		var fileHash string
		if fileKey != "" {
			fileHash = md5Hex(fileKey)
			if fileHash == u.Abuse.LastFileHash && now.Sub(u.Abuse.LastFileAt) < m.cfg.DuplicateWindow {
				return &RejectError{Reason: ReasonDuplicate}
			}
		}

		adm = &Admission{
			UserID:        userID,
			Limits:        limits,
			UsedBonus:     usedBonus,
			prevRequestAt: u.Abuse.LastRequestAt,
			prevFileHash:  u.Abuse.LastFileHash,
			prevFileAt:    u.Abuse.LastFileAt,
		}

		u.Abuse.Hits = 0
		u.Abuse.LastRequestAt = now
		u.Abuse.RecentRequests = append(pruneRequests(u.Abuse.RecentRequests, now), now)
		if fileHash != "" {
			u.Abuse.LastFileHash = fileHash
			u.Abuse.LastFileAt = now
		}
		u.ProcessingNow = true
		u.CurrentSource = fileKey
		return nil
	})

	var rej *RejectError
	if errors.As(err, &rej) {
		metrics.RecordRejection(string(rej.Reason))
		m.logger.WithUserID(userID).WithField("reason", rej.Reason).Debug("Admission refused")
	}
	return adm, err
}

// abuseLocked counts a quota rejection and soft-blocks at the threshold
func (m *Manager) abuseLocked(u *models.User, now time.Time, rej *RejectError) error {
	u.Abuse.Hits++
	if m.cfg.AbuseThreshold > 0 && u.Abuse.Hits >= m.cfg.AbuseThreshold {
		u.Abuse.SoftBlockUntil = now.Add(m.cfg.SoftBlock)
		u.Abuse.Hits = 0
		m.logger.WithUserID(u.ID).WithField("until", u.Abuse.SoftBlockUntil).Warn("User soft-blocked")
	}
	return rej
}

// Abandon undoes the request bookkeeping of an admission whose job never
// started, e.g. when the queue refused it.
func (m *Manager) Abandon(adm *Admission) {
	if adm == nil {
		return
	}
	m.update(adm.UserID, func(u *models.User, _ time.Time) error {
		u.Abuse.LastRequestAt = adm.prevRequestAt
		u.Abuse.LastFileHash = adm.prevFileHash
		u.Abuse.LastFileAt = adm.prevFileAt
		u.ProcessingNow = false
		u.CurrentSource = ""
		return nil
	})
}

// Release clears the in-flight flag after a failed or cancelled job.
// Counters are left untouched.
func (m *Manager) Release(userID int64) {
	m.update(userID, func(u *models.User, _ time.Time) error {
		u.ProcessingNow = false
		u.CurrentSource = ""
		return nil
	})
}

// Job describes a successfully completed job
type Job struct {
	Mode       models.Mode
	Source     string
	Template   string
	PassportID string
}

// Complete counts a successful job and applies gamification
func (m *Manager) Complete(adm *Admission, job Job) Progress {
	var p Progress
	m.update(adm.UserID, func(u *models.User, now time.Time) error {
		m.rolloverLocked(u, now)
		u.Counters.Daily++
		u.Counters.Weekly++
		u.Counters.Monthly++
		u.Counters.Lifetime++
		u.Counters.LastProcessedAt = now

		if adm.UsedBonus && u.Economy.BonusVideos > 0 {
			u.Economy.BonusVideos--
		}
		u.ProcessingNow = false
		u.CurrentSource = ""

		u.AddHistory(models.HistoryEntry{
			Time:       now,
			Mode:       job.Mode,
			Source:     job.Source,
			Template:   job.Template,
			PassportID: job.PassportID,
		})
		p = m.rewardLocked(u, now)
		return nil
	})
	return p
}

// IncrementDownloads counts a plain download
func (m *Manager) IncrementDownloads(userID int64) {
	m.update(userID, func(u *models.User, _ time.Time) error {
		u.Counters.Downloads++
		return nil
	})
}

// Button reports whether a button press is allowed. Presses inside the
// cooldown are ignored.
func (m *Manager) Button(ctx context.Context, userID int64) bool {
	if m.latch != nil {
		ok, err := m.latch.Latch(ctx, fmt.Sprintf("button:%d", userID), m.cfg.ButtonCooldown)
		if err == nil {
			if ok {
				m.update(userID, func(u *models.User, now time.Time) error {
					u.Abuse.LastButtonAt = now
					return nil
				})
			}
			return ok
		}
		m.logger.WithError(err).Warn("Button latch unavailable, using local state")
	}

	allowed := false
	m.update(userID, func(u *models.User, now time.Time) error {
		if now.Sub(u.Abuse.LastButtonAt) >= m.cfg.ButtonCooldown {
			u.Abuse.LastButtonAt = now
			allowed = true
		}
		return nil
	})
	return allowed
}

// expireLocked downgrades a plan whose expiry date has passed and reports
// whether it did
func (m *Manager) expireLocked(u *models.User, now time.Time) bool {
	if u.Plan == models.PlanFree || u.PlanExpiresOn == "" {
		return false
	}
	if u.PlanExpiresOn >= now.Format(dateLayout) {
		return false
	}
	m.logger.WithUserID(u.ID).WithFields(map[string]interface{}{
		"plan":    u.Plan,
		"expired": u.PlanExpiresOn,
	}).Info("Plan expired")
	u.Plan = models.PlanFree
	u.PlanExpiresOn = ""
	return true
}

// rolloverLocked resets counters whose window has passed
func (m *Manager) rolloverLocked(u *models.User, now time.Time) {
	today := now.Format(dateLayout)
	c := &u.Counters

	if c.DailyDate != today {
		c.DailyDate = today
		c.Daily = 0
	}
	if daysSince(c.WeekStart, now) >= 7 {
		c.WeekStart = today
		c.Weekly = 0
	}
	if daysSince(c.PeriodStart, now) >= 30 {
		c.PeriodStart = today
		c.Monthly = 0
	}
	// shorter windows never count past a longer one that just restarted
	c.Weekly = min(c.Weekly, c.Monthly)
	c.Daily = min(c.Daily, c.Weekly)
}

// daysSince returns whole days from an ISO date to now. Empty or invalid
// dates count as infinitely old.
func daysSince(date string, now time.Time) int {
	start, err := time.ParseInLocation(dateLayout, date, now.Location())
	if err != nil {
		return 1 << 30
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return int(today.Sub(start).Hours() / 24)
}

func pruneRequests(ts []time.Time, now time.Time) []time.Time {
	kept := ts[:0]
	for _, t := range ts {
		if now.Sub(t) < requestWindow {
			kept = append(kept, t)
		}
	}
	return kept
}

// Settings returns the user's stored settings
func (m *Manager) Settings(userID int64) models.Settings {
	u := m.Get(userID)
	return u.Settings
}

// UpdateSettings applies fn and validates the result against the plan.
// An invalid result leaves the settings unchanged.
func (m *Manager) UpdateSettings(userID int64, fn func(s *models.Settings)) (models.Settings, error) {
	var out models.Settings
	err := m.update(userID, func(u *models.User, _ time.Time) error {
		next := u.Settings
		fn(&next)

		limits := LimitsFor(u.Plan)
		switch {
		case next.Mode != models.ModeTikTok && next.Mode != models.ModeYouTube:
			return ErrInvalidMode
		case !limits.AllowsQuality(next.Quality):
			return ErrQualityNotAllowed
		case !next.TextOverlay && !limits.CanHideText:
			return ErrTextRequired
		}
		if next.Language != u.Settings.Language {
			next.LanguageSet = true
		}
		u.Settings = next
		out = next
		return nil
	})
	return out, err
}

// Effective returns the settings a job should run with after the plan's
// restrictions are applied, together with the plan limits.
func (m *Manager) Effective(userID int64) (models.Settings, Limits) {
	m.mu.Lock()
	_, known := m.users[userID]
	u := m.userLocked(userID)
	changed := m.expireLocked(u, m.now())
	limits := LimitsFor(u.Plan)
	s := u.Settings
	m.mu.Unlock()

	if changed || !known {
		m.usersWriter.MarkDirty()
	}

	s.Quality = limits.ClampQuality(s.Quality)
	if !limits.CanHideText {
		s.TextOverlay = true
	}
	return s, limits
}

// SetPlan assigns plan for days days. days <= 0 means no expiry.
func (m *Manager) SetPlan(userID int64, plan models.Plan, days int) error {
	if !plan.Valid() {
		return ErrUnknownPlan
	}
	return m.update(userID, func(u *models.User, now time.Time) error {
		m.setPlanLocked(u, plan, days, now)
		return nil
	})
}

func (m *Manager) setPlanLocked(u *models.User, plan models.Plan, days int, now time.Time) {
	u.Plan = plan
	u.PlanExpiresOn = ""
	if days > 0 && plan != models.PlanFree {
		u.PlanExpiresOn = now.AddDate(0, 0, days).Format(dateLayout)
	}
	u.ExpiryNotifiedOn = ""

	m.logger.WithUserID(u.ID).WithFields(map[string]interface{}{
		"plan":    plan,
		"expires": u.PlanExpiresOn,
	}).Info("Plan set")
}

// Ban blocks the user from processing
func (m *Manager) Ban(userID int64, reason string) {
	m.update(userID, func(u *models.User, _ time.Time) error {
		u.Banned = true
		u.BanReason = reason
		return nil
	})
	m.logger.WithUserID(userID).WithField("reason", reason).Warn("User banned")
}

// Unban lifts a ban
func (m *Manager) Unban(userID int64) {
	m.update(userID, func(u *models.User, _ time.Time) error {
		u.Banned = false
		u.BanReason = ""
		return nil
	})
	m.logger.WithUserID(userID).Info("User unbanned")
}

// ExpiringUser is a paid user whose plan ends soon
type ExpiringUser struct {
	UserID   int64
	Username string
	Plan     models.Plan
	DaysLeft int
}

// Expiring lists users whose plan ends within days and who have not been
// notified today
func (m *Manager) Expiring(days int) []ExpiringUser {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	today := now.Format(dateLayout)
	var out []ExpiringUser
	for _, u := range m.users {
		if u.Plan == models.PlanFree || u.PlanExpiresOn == "" || u.ExpiryNotifiedOn == today {
			continue
		}
		left := -daysSince(u.PlanExpiresOn, now)
		if left > 0 && left <= days {
			out = append(out, ExpiringUser{UserID: u.ID, Username: u.Username, Plan: u.Plan, DaysLeft: left})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// MarkExpiryNotified records that today's expiry notice was sent
func (m *Manager) MarkExpiryNotified(userID int64) {
	m.update(userID, func(u *models.User, now time.Time) error {
		u.ExpiryNotifiedOn = now.Format(dateLayout)
		return nil
	})
}

// SetAuthCode stores a hashed one-time login code
func (m *Manager) SetAuthCode(userID int64, hash string, expires time.Time) {
	m.update(userID, func(u *models.User, _ time.Time) error {
		u.AuthCodeHash = hash
		u.AuthCodeExpires = expires
		return nil
	})
}

// ConsumeAuthCode clears the stored code when match accepts it. Expired
// codes are cleared and never matched.
func (m *Manager) ConsumeAuthCode(userID int64, match func(hash string) bool) bool {
	ok := false
	m.update(userID, func(u *models.User, now time.Time) error {
		if u.AuthCodeHash == "" {
			return nil
		}
		if now.After(u.AuthCodeExpires) {
			u.AuthCodeHash = ""
			return nil
		}
		if match(u.AuthCodeHash) {
			u.AuthCodeHash = ""
			ok = true
		}
		return nil
	})
	return ok
}

// GlobalStats summarises every user
type GlobalStats struct {
	Users          int                 `json:"users"`
	ByPlan         map[models.Plan]int `json:"by_plan"`
	Banned         int                 `json:"banned"`
	ProcessingNow  int                 `json:"processing_now"`
	ProcessedToday int                 `json:"processed_today"`
	ProcessedTotal int                 `json:"processed_total"`
	Downloads      int                 `json:"downloads"`
}

// Stats returns global counters
func (m *Manager) Stats() GlobalStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	today := m.now().Format(dateLayout)
	s := GlobalStats{ByPlan: make(map[models.Plan]int)}
	for _, u := range m.users {
		s.Users++
		s.ByPlan[u.Plan]++
		if u.Banned {
			s.Banned++
		}
		if u.ProcessingNow {
			s.ProcessingNow++
		}
		if u.Counters.DailyDate == today {
			s.ProcessedToday += u.Counters.Daily
		}
		s.ProcessedTotal += u.Counters.Lifetime
		s.Downloads += u.Counters.Downloads
	}
	return s
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func cloneUser(u *models.User) models.User {
	c := *u
	c.History = append([]models.HistoryEntry(nil), u.History...)
	c.Economy.Achievements = append([]string(nil), u.Economy.Achievements...)
	c.Abuse.RecentRequests = append([]time.Time(nil), u.Abuse.RecentRequests...)
	c.Settings.Reminders = append([]models.Reminder(nil), u.Settings.Reminders...)
	c.Settings.MergeQueue = append([]string(nil), u.Settings.MergeQueue...)
	c.Settings.ScheduledTasks = append([]models.ScheduledTask(nil), u.Settings.ScheduledTasks...)
	c.Settings.Favourites = append([]string(nil), u.Settings.Favourites...)
	return c
}
