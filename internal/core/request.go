package core

import (
	"time"

	"github.com/therealutkarshpriyadarshi/virex/internal/quota"
	"github.com/therealutkarshpriyadarshi/virex/pkg/models"
)

// Action selects what Handle does with a request
type Action string

const (
	ActionProcessFile Action = "process_file"
	ActionProcessURL  Action = "process_url"
	ActionDetect      Action = "detect"
	ActionSafeCheck   Action = "safe_check"
	ActionCheckStolen Action = "check_stolen"
	ActionVideoInfo   Action = "video_info"
	ActionCancel      Action = "cancel"
	ActionStatus      Action = "status"
	ActionSettings    Action = "settings"
	ActionPromo       Action = "promo"
	ActionTrial       Action = "trial"
	ActionButton      Action = "button"
)

// FileRef points at a file held by the transport
type FileRef struct {
	Handle string
	Name   string
	Size   int64
}

// Request is one user interaction handed over by a transport
type Request struct {
	Action   Action
	UserID   int64
	Username string
	Language string

	File *FileRef
	// Text carries the link, promo code or other free-form input
	Text string
	// Settings lists field updates for ActionSettings, e.g. "quality": "max"
	Settings map[string]string
}

// Status values of a Response
const (
	StatusOK       = "ok"
	StatusQueued   = "queued"
	StatusRejected = "rejected"
	StatusFailed   = "failed"
)

// Response tells the transport what to render
type Response struct {
	Action Action
	Status string
	// Err is a *Error for taxonomy failures
	Err error

	TaskID   string
	Position int
	Wait     time.Duration

	// Data is the action's payload: models.Detection, shield.SafeCheck,
	// shield.TheftReport, *transcoder.VideoInfo, UserStatus,
	// models.Settings, models.PromoCode or bool
	Data interface{}
}

// OK reports whether the action succeeded or was queued
func (r Response) OK() bool {
	return r.Status == StatusOK || r.Status == StatusQueued
}

// UserStatus is the payload of ActionStatus
type UserStatus struct {
	User        models.User   `json:"user"`
	Limits      quota.Limits  `json:"limits"`
	Position    int           `json:"queue_position"`
	Wait        time.Duration `json:"estimated_wait"`
	Maintenance *Maintenance  `json:"maintenance,omitempty"`
}

// Maintenance describes an active maintenance window
type Maintenance struct {
	ETA   string    `json:"eta"`
	Since time.Time `json:"since"`
}

// Completion reports a finished asynchronous task
type Completion struct {
	TaskID   string
	UserID   int64
	Err      error
	Result   *Result
	Progress quota.Progress
}
