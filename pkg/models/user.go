package models

import (
	"time"
)

// Plan is a subscription tier
type Plan string

const (
	PlanFree    Plan = "free"
	PlanVIP     Plan = "vip"
	PlanPremium Plan = "premium"
)

// Valid reports whether p is a known plan
func (p Plan) Valid() bool {
	return p == PlanFree || p == PlanVIP || p == PlanPremium
}

// Mode selects the target platform parameter set
type Mode string

const (
	ModeTikTok  Mode = "tiktok"
	ModeYouTube Mode = "youtube"
)

// Quality is a user-selectable output preset
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityMax    Quality = "max"
)

// HistoryLimit bounds User.History
const HistoryLimit = 20

// User is the durable per-user record
type User struct {
	ID        int64     `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	FirstSeen time.Time `json:"first_seen"`

	Plan             Plan   `json:"plan"`
	PlanExpiresOn    string `json:"plan_expires,omitempty"`
	ExpiryNotifiedOn string `json:"expiry_notified,omitempty"`
	TrialUsed        bool   `json:"trial_used"`

	Counters Counters `json:"counters"`

	// ProcessingNow is true while a task of this user is queued or running.
	ProcessingNow bool   `json:"processing_now"`
	CurrentSource string `json:"current_source,omitempty"`

	Settings Settings `json:"settings"`
	Abuse    Abuse    `json:"abuse"`
	Economy  Economy  `json:"economy"`

	Banned    bool   `json:"banned"`
	BanReason string `json:"ban_reason,omitempty"`

	History []HistoryEntry `json:"history"`

	AuthCodeHash    string    `json:"auth_code_hash,omitempty"`
	AuthCodeExpires time.Time `json:"auth_code_expires,omitempty"`
}

// Counters holds processed-video counters and their window starts (ISO dates)
type Counters struct {
	Daily           int       `json:"daily"`
	DailyDate       string    `json:"daily_date"`
	Weekly          int       `json:"weekly"`
	WeekStart       string    `json:"week_start"`
	Monthly         int       `json:"monthly"`
	PeriodStart     string    `json:"period_start"`
	Lifetime        int       `json:"lifetime"`
	Downloads       int       `json:"downloads"`
	LastProcessedAt time.Time `json:"last_processed_at"`
}

// Settings is the structured per-user settings record
type Settings struct {
	Mode        Mode    `json:"mode"`
	Quality     Quality `json:"quality"`
	TextOverlay bool    `json:"text_overlay"`
	Language    string  `json:"language"`
	LanguageSet bool    `json:"language_set"`
	NightMode   bool    `json:"night_mode"`
	Template    string  `json:"template"`
	Trap        bool    `json:"trap"`

	Speed               string          `json:"speed"`
	Filter              string          `json:"filter"`
	Aspect              string          `json:"aspect"`
	Rotation            string          `json:"rotation"`
	CustomText          string          `json:"custom_text"`
	CaptionStyle        string          `json:"caption_style"`
	Compression         string          `json:"compression"`
	Volume              string          `json:"volume"`
	WatermarkFileID     string          `json:"watermark_file_id"`
	WatermarkPosition   string          `json:"watermark_position"`
	Resolution          string          `json:"resolution"`
	Reminders           []Reminder      `json:"reminders"`
	MergeQueue          []string        `json:"merge_queue"`
	ScheduledTasks      []ScheduledTask `json:"scheduled_tasks"`
	AutoProcessTemplate string          `json:"auto_process_template"`
	Favourites          []string        `json:"favourites"`
}

// Reminder is a posting reminder for a platform at a wall-clock time
type Reminder struct {
	Platform string `json:"platform"`
	Time     string `json:"time"`
}

// ScheduledTask is a deferred action requested by the user
type ScheduledTask struct {
	Time   string            `json:"time"`
	Action string            `json:"action"`
	Params map[string]string `json:"params,omitempty"`
}

// Abuse holds rate-limit and anti-spam state
type Abuse struct {
	RecentRequests []time.Time `json:"recent_requests"`
	LastRequestAt  time.Time   `json:"last_request_at"`
	Hits           int         `json:"hits"`
	SoftBlockUntil time.Time   `json:"soft_block_until"`
	LastFileHash   string      `json:"last_file_hash"`
	LastFileAt     time.Time   `json:"last_file_at"`
	LastButtonAt   time.Time   `json:"last_button_at"`
}

// Economy holds referral, bonus and gamification state
type Economy struct {
	ReferrerID     int64    `json:"referrer_id"`
	ReferralCount  int      `json:"referral_count"`
	BonusVideos    int      `json:"bonus_videos"`
	Points         int      `json:"points"`
	Level          int      `json:"level"`
	Achievements   []string `json:"achievements"`
	StreakCount    int      `json:"streak_count"`
	StreakLastDate string   `json:"streak_last_date"`
}

// HistoryEntry describes one completed job
type HistoryEntry struct {
	Time       time.Time `json:"time"`
	Mode       Mode      `json:"mode"`
	Source     string    `json:"source"`
	Template   string    `json:"template,omitempty"`
	PassportID string    `json:"passport_id,omitempty"`
}

// DefaultSettings returns the settings a new user starts with
func DefaultSettings() Settings {
	return Settings{
		Mode:              ModeTikTok,
		Quality:           QualityMedium,
		TextOverlay:       true,
		Language:          "ru",
		Template:          "none",
		Trap:              true,
		Speed:             "1x",
		CaptionStyle:      "default",
		Volume:            "100%",
		WatermarkPosition: "br",
		Resolution:        "original",
	}
}

// NewUser returns a record populated with defaults. Decoding a stored record
// on top of it leaves defaults in place for fields the record does not carry.
func NewUser(id int64) *User {
	return &User{
		ID:       id,
		Plan:     PlanFree,
		Settings: DefaultSettings(),
		Economy:  Economy{Level: 1},
	}
}

// AddHistory appends an entry and keeps only the newest HistoryLimit entries
func (u *User) AddHistory(e HistoryEntry) {
	u.History = append(u.History, e)
	if len(u.History) > HistoryLimit {
		u.History = append([]HistoryEntry(nil), u.History[len(u.History)-HistoryLimit:]...)
	}
}

// HasAchievement reports whether id is already unlocked
func (u *User) HasAchievement(id string) bool {
	for _, a := range u.Economy.Achievements {
		if a == id {
			return true
		}
	}
	return false
}
