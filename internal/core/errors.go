package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/virex/internal/queue"
	"github.com/therealutkarshpriyadarshi/virex/internal/quota"
	"github.com/therealutkarshpriyadarshi/virex/internal/source"
	"github.com/therealutkarshpriyadarshi/virex/internal/transcoder"
)

// Kind classifies a failure surfaced to the user
type Kind string

const (
	KindBanned            Kind = "banned"
	KindSoftBlock         Kind = "soft-block"
	KindDailyLimit        Kind = "daily-limit"
	KindWeeklyLimit       Kind = "weekly-limit"
	KindCooldown          Kind = "cooldown"
	KindDuplicate         Kind = "duplicate"
	KindQueueFull         Kind = "queue-full"
	KindUserQueueFull     Kind = "user-queue-full"
	KindFileTooLarge      Kind = "file-too-large"
	KindInvalidFormat     Kind = "invalid-format"
	KindVideoTooLong      Kind = "video-too-long"
	KindDownloadFailed    Kind = "download-failed"
	KindTranscoderFailed  Kind = "transcoder-failed"
	KindTranscoderTimeout Kind = "transcoder-timeout"
	KindCancelled         Kind = "cancelled"
	KindMaintenance       Kind = "maintenance"
)

// Error is a classified failure. Two errors match under errors.Is when their
// kinds are equal.
type Error struct {
	Kind       Kind
	Detail     string
	RetryAfter time.Duration
	Err        error
}

// Sentinels for errors.Is
var (
	ErrBanned            = &Error{Kind: KindBanned}
	ErrSoftBlock         = &Error{Kind: KindSoftBlock}
	ErrDailyLimit        = &Error{Kind: KindDailyLimit}
	ErrWeeklyLimit       = &Error{Kind: KindWeeklyLimit}
	ErrCooldown          = &Error{Kind: KindCooldown}
	ErrDuplicate         = &Error{Kind: KindDuplicate}
	ErrQueueFull         = &Error{Kind: KindQueueFull}
	ErrUserQueueFull     = &Error{Kind: KindUserQueueFull}
	ErrFileTooLarge      = &Error{Kind: KindFileTooLarge}
	ErrInvalidFormat     = &Error{Kind: KindInvalidFormat}
	ErrVideoTooLong      = &Error{Kind: KindVideoTooLong}
	ErrDownloadFailed    = &Error{Kind: KindDownloadFailed}
	ErrTranscoderFailed  = &Error{Kind: KindTranscoderFailed}
	ErrTranscoderTimeout = &Error{Kind: KindTranscoderTimeout}
	ErrCancelled         = &Error{Kind: KindCancelled}
	ErrMaintenance       = &Error{Kind: KindMaintenance}
)

func (e *Error) Error() string {
	msg := string(e.Kind)
	switch {
	case e.Kind == KindCooldown:
		msg = fmt.Sprintf("%s:%d", e.Kind, int(e.RetryAfter.Seconds()))
	case e.Detail != "":
		msg = fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Retryable reports whether the same request may succeed later unchanged
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindSoftBlock, KindCooldown, KindQueueFull, KindUserQueueFull, KindTranscoderTimeout, KindMaintenance:
		return true
	}
	return false
}

func newError(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// KindOf returns the kind of err, or "" when err is not classified
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

var rejectKinds = map[quota.Reason]Kind{
	quota.ReasonBanned:      KindBanned,
	quota.ReasonSoftBlock:   KindSoftBlock,
	quota.ReasonDailyLimit:  KindDailyLimit,
	quota.ReasonWeeklyLimit: KindWeeklyLimit,
	quota.ReasonCooldown:    KindCooldown,
	quota.ReasonDuplicate:   KindDuplicate,
}

// classify maps component errors onto the taxonomy. Errors it does not know
// are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}

	var rej *quota.RejectError
	if errors.As(err, &rej) {
		out := &Error{Kind: rejectKinds[rej.Reason], RetryAfter: rej.RetryAfter}
		switch rej.Reason {
		case quota.ReasonBanned:
			out.Detail = rej.Detail
		case quota.ReasonDailyLimit, quota.ReasonWeeklyLimit:
			out.Detail = fmt.Sprintf("%d/%d", rej.Used, rej.Limit)
		}
		return out
	}

	switch {
	case errors.Is(err, queue.ErrQueueFull):
		return &Error{Kind: KindQueueFull, Err: err}
	case errors.Is(err, queue.ErrUserQueueFull):
		return &Error{Kind: KindUserQueueFull, Err: err}
	case errors.Is(err, queue.ErrCancelled), errors.Is(err, transcoder.ErrCancelled):
		return &Error{Kind: KindCancelled, Err: err}
	case errors.Is(err, transcoder.ErrTimeout):
		return &Error{Kind: KindTranscoderTimeout, Err: err}
	case errors.Is(err, source.ErrTooLarge):
		return &Error{Kind: KindFileTooLarge, Err: err}
	case errors.Is(err, source.ErrDownloadFailed):
		return &Error{Kind: KindDownloadFailed, Err: err}
	case errors.Is(err, transcoder.ErrEmptyOutput):
		return &Error{Kind: KindTranscoderFailed, Err: err}
	}

	var exit *transcoder.ExitError
	if errors.As(err, &exit) {
		return &Error{Kind: KindTranscoderFailed, Err: err}
	}
	return err
}
