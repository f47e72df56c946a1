package telegram

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/therealutkarshpriyadarshi/virex/internal/core"
	"github.com/therealutkarshpriyadarshi/virex/internal/planner"
	"github.com/therealutkarshpriyadarshi/virex/internal/quota"
	"github.com/therealutkarshpriyadarshi/virex/internal/shield"
	"github.com/therealutkarshpriyadarshi/virex/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/virex/pkg/models"
)

// message is a rendered reply
type message struct {
	text     string
	keyboard *tgbotapi.InlineKeyboardMarkup
}

func render(resp core.Response) message {
	if resp.Err != nil {
		return message{text: errorText(resp.Err)}
	}
	if resp.Status == core.StatusQueued {
		text := fmt.Sprintf("Queued at position %d.", resp.Position)
		if resp.Wait > 0 {
			text += fmt.Sprintf(" Estimated wait: %s.", resp.Wait.Round(time.Second))
		}
		return message{text: text}
	}

	switch data := resp.Data.(type) {
	case models.Detection:
		return message{text: detectionText(data)}
	case shield.SafeCheck:
		return message{text: safeCheckText(data)}
	case shield.TheftReport:
		if !data.Found {
			return message{text: "No match among your registered videos."}
		}
		return message{text: fmt.Sprintf("Reupload found: passport %s, similarity %.0f%% (%s).",
			data.PassportID, data.Similarity*100, data.Method)}
	case *transcoder.VideoInfo:
		return message{text: fmt.Sprintf("%s, %dx%d, %.2f fps, %.1f s, video %s, audio %s",
			data.Format, data.Width, data.Height, data.FPS, data.Duration, data.VideoCodec, orNone(data.AudioCodec))}
	case core.UserStatus:
		return message{text: statusText(data)}
	case models.Settings:
		return settingsMessage(data)
	case models.PromoCode:
		return message{text: fmt.Sprintf("Promo %s activated: %s +%d.", data.Code, data.Type, data.Value)}
	case models.User:
		return message{text: fmt.Sprintf("Trial activated: %s until %s.", data.Plan, data.PlanExpiresOn)}
	case bool:
		if resp.Action == core.ActionCancel {
			if data {
				return message{text: "Your task was cancelled."}
			}
			return message{text: "Nothing to cancel."}
		}
	}
	return message{text: "Done."}
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// errorText turns a core failure into a user-facing line
func errorText(err error) string {
	if err == nil {
		return "Processing failed."
	}
	var e *core.Error
	if !errors.As(err, &e) {
		return "Something went wrong. Please try again later."
	}
	switch e.Kind {
	case core.KindBanned:
		return "Your account is blocked."
	case core.KindSoftBlock:
		return fmt.Sprintf("Too many requests. Try again in %s.", e.RetryAfter.Round(time.Second))
	case core.KindDailyLimit:
		return fmt.Sprintf("Daily limit reached (%s). Upgrade or come back tomorrow.", e.Detail)
	case core.KindWeeklyLimit:
		return fmt.Sprintf("Weekly limit reached (%s).", e.Detail)
	case core.KindCooldown:
		return fmt.Sprintf("Please wait %d s before the next video.", int(e.RetryAfter.Seconds()))
	case core.KindDuplicate:
		return "You just sent this video."
	case core.KindQueueFull:
		return "The queue is full. Try again in a minute."
	case core.KindUserQueueFull:
		return "You already have a video in the queue."
	case core.KindFileTooLarge:
		return "The file is too large for your plan."
	case core.KindInvalidFormat:
		return "Unsupported file. Send an MP4, MOV, M4V or WEBM video."
	case core.KindVideoTooLong:
		return "The video is too long."
	case core.KindDownloadFailed:
		return "Could not download the video from that link."
	case core.KindTranscoderTimeout:
		return "Processing took too long. Try a shorter video."
	case core.KindCancelled:
		return "The task was cancelled."
	case core.KindMaintenance:
		if e.Detail != "" {
			return fmt.Sprintf("Maintenance in progress. Back in %s.", e.Detail)
		}
		return "Maintenance in progress."
	}
	return "Processing failed. The admins have been notified."
}

func completionCaption(c core.Completion) string {
	r := c.Result
	lines := []string{fmt.Sprintf("Done in %s. Mode %s, quality %s.", r.Elapsed.Round(time.Second), r.Mode, r.Quality)}
	if r.Template != "" && r.Template != planner.TemplateNone {
		lines = append(lines, "Template: "+r.Template)
	}
	if r.Passport != nil {
		lines = append(lines, "Passport: "+r.Passport.ID)
	}
	if r.TrapSignature != "" {
		lines = append(lines, "Protected with a trap watermark.")
	}
	p := c.Progress
	if p.Points > 0 {
		line := fmt.Sprintf("+%d points, level %d", p.Points, p.Level)
		if p.LevelUp {
			line += " (level up!)"
		}
		lines = append(lines, line)
	}
	for _, a := range p.Unlocked {
		lines = append(lines, "Achievement: "+a.Name)
	}
	return strings.Join(lines, "\n")
}

func limitText(used, limit int) string {
	if limit == quota.Unlimited {
		return fmt.Sprintf("%d/unlimited", used)
	}
	return fmt.Sprintf("%d/%d", used, limit)
}

func statusText(st core.UserStatus) string {
	u, l := st.User, st.Limits
	var b strings.Builder
	fmt.Fprintf(&b, "Plan: %s", u.Plan)
	if u.PlanExpiresOn != "" {
		fmt.Fprintf(&b, " (until %s)", u.PlanExpiresOn)
	}
	fmt.Fprintf(&b, "\nToday: %s\nThis week: %s\nTotal: %d",
		limitText(u.Counters.Daily, l.Daily), limitText(u.Counters.Weekly, l.Weekly), u.Counters.Lifetime)
	if u.Economy.BonusVideos > 0 {
		fmt.Fprintf(&b, "\nBonus videos: %d", u.Economy.BonusVideos)
	}
	fmt.Fprintf(&b, "\nPoints: %d, level %d, streak %d", u.Economy.Points, u.Economy.Level, u.Economy.StreakCount)
	if st.Position > 0 {
		fmt.Fprintf(&b, "\nQueue position: %d (about %s)", st.Position, st.Wait.Round(time.Second))
	}
	if st.Maintenance != nil {
		fmt.Fprintf(&b, "\nMaintenance in progress, ETA %s", st.Maintenance.ETA)
	}
	return b.String()
}

func detectionText(d models.Detection) string {
	if !d.Found {
		return "No trap watermark found."
	}
	return fmt.Sprintf("Trap watermark found (%s, %.0f%%). Owner: %d.", d.Method, d.Confidence*100, d.UserID)
}

func safeCheckText(s shield.SafeCheck) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Risk: %s (score %.0f)\nOriginality: %.0f%%\nBan probability: %.0f%%",
		s.Risk, s.Score, s.Originality, s.BanProbability)
	for _, w := range s.Warnings {
		b.WriteString("\n- " + w)
	}
	for _, r := range s.Recommendations {
		b.WriteString("\n> " + r)
	}
	return b.String()
}

// settingsMessage shows the settings with buttons for mode and quality
func settingsMessage(s models.Settings) message {
	text := fmt.Sprintf("Mode: %s\nQuality: %s\nTemplate: %s\nText overlay: %t\nTrap: %t",
		s.Mode, s.Quality, s.Template, s.TextOverlay, s.Trap)
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("TikTok", "mode:"+string(models.ModeTikTok)),
			tgbotapi.NewInlineKeyboardButtonData("YouTube", "mode:"+string(models.ModeYouTube)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Low", "quality:"+string(models.QualityLow)),
			tgbotapi.NewInlineKeyboardButtonData("Medium", "quality:"+string(models.QualityMedium)),
			tgbotapi.NewInlineKeyboardButtonData("Max", "quality:"+string(models.QualityMax)),
		),
	)
	return message{text: text, keyboard: &kb}
}

func templatesText(premium bool) string {
	var b strings.Builder
	b.WriteString("Templates:")
	for _, t := range planner.Templates {
		fmt.Fprintf(&b, "\n%s - %s", t.Name, t.Title)
		if t.Premium && !premium {
			b.WriteString(" (VIP)")
		}
	}
	b.WriteString("\nUse /settings template <name>")
	return b.String()
}
