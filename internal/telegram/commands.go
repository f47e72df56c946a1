package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/therealutkarshpriyadarshi/virex/internal/core"
	"github.com/therealutkarshpriyadarshi/virex/internal/quota"
	"github.com/therealutkarshpriyadarshi/virex/pkg/models"
)

type command func(ctx context.Context, msg *tgbotapi.Message, args []string) message

const helpText = `Send a video or a TikTok, Instagram or YouTube link and I will make it unique.

/status - your plan and limits
/settings - output settings
/templates - visual templates
/detect - check a video for a trap watermark
/safecheck - estimate reupload risk
/scan - find reuploads of your videos
/info - technical details of a video
/history - your last videos
/promo <code> - redeem a promo code
/trial - one day of VIP
/app - login code for the app
/cancel - drop your queued video`

func (b *Bot) userCommands() map[string]command {
	return map[string]command{
		"start":        b.cmdStart,
		"help":         func(context.Context, *tgbotapi.Message, []string) message { return message{text: helpText} },
		"status":       b.action(core.ActionStatus),
		"limits":       b.action(core.ActionStatus),
		"profile":      b.action(core.ActionStatus),
		"cancel":       b.action(core.ActionCancel),
		"trial":        b.action(core.ActionTrial),
		"settings":     b.cmdSettings,
		"templates":    b.cmdTemplates,
		"promo":        b.cmdPromo,
		"app":          b.cmdApp,
		"detect":       b.awaitFile(core.ActionDetect, "Send the video to check for a trap watermark."),
		"safecheck":    b.awaitFile(core.ActionSafeCheck, "Send the video to check."),
		"scan":         b.awaitFile(core.ActionCheckStolen, "Send the suspected reupload."),
		"info":         b.awaitFile(core.ActionVideoInfo, "Send the video to inspect."),
		"history":      b.cmdHistory,
		"top":          b.cmdTop,
		"achievements": b.cmdAchievements,
		"ref":          b.cmdRef,
		"myid": func(_ context.Context, msg *tgbotapi.Message, _ []string) message {
			return message{text: fmt.Sprintf("Your id: %d", msg.From.ID)}
		},
	}
}

func (b *Bot) adminCommands() map[string]command {
	return map[string]command{
		"ban":         b.cmdBan,
		"unban":       b.withUser(func(id int64, _ []string) string { b.core.Quota().Unban(id); return "Unbanned." }),
		"vip":         b.cmdPlan(models.PlanVIP),
		"premium":     b.cmdPlan(models.PlanPremium),
		"removeplan":  b.cmdPlan(models.PlanFree),
		"userinfo":    b.cmdUserInfo,
		"maintenance": b.cmdMaintenance,
		"createpromo": b.cmdCreatePromo,
		"deletepromo": b.cmdDeletePromo,
		"listpromo":   b.cmdListPromos,
		"globalstats": b.cmdGlobalStats,
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	name := strings.ToLower(msg.Command())
	args := strings.Fields(msg.CommandArguments())

	cmd, ok := b.userCommands()[name]
	if !ok && b.admins[msg.From.ID] {
		cmd, ok = b.adminCommands()[name]
	}
	if !ok {
		b.reply(msg.Chat.ID, message{text: "Unknown command. See /help."})
		return
	}
	b.logger.WithUserID(msg.From.ID).WithField("command", name).Debug("Command received")
	b.reply(msg.Chat.ID, cmd(ctx, msg, args))
}

// action runs a request without arguments
func (b *Bot) action(a core.Action) command {
	return func(ctx context.Context, msg *tgbotapi.Message, _ []string) message {
		return render(b.core.Handle(ctx, b.request(msg.From, a, nil)))
	}
}

// awaitFile routes the user's next file to a
func (b *Bot) awaitFile(a core.Action, prompt string) command {
	return func(_ context.Context, msg *tgbotapi.Message, _ []string) message {
		b.setPending(msg.From.ID, a)
		return message{text: prompt}
	}
}

// referrer parses the start parameter "ref_<id>" or "<id>"
func referrer(arg string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(arg, "ref_"), 10, 64)
	return id, err == nil && id > 0
}

func (b *Bot) cmdStart(ctx context.Context, msg *tgbotapi.Message, args []string) message {
	b.core.Quota().Touch(msg.From.ID, msg.From.UserName)
	if len(args) > 0 {
		if ref, ok := referrer(args[0]); ok {
			if err := b.core.Quota().SetReferrer(msg.From.ID, ref); err != nil {
				b.logger.WithUserID(msg.From.ID).WithError(err).Debug("Referral ignored")
			}
		}
	}
	name := msg.From.FirstName
	if name == "" {
		name = "there"
	}
	return message{text: fmt.Sprintf("Hi %s!\n\n%s", name, helpText)}
}

func (b *Bot) cmdSettings(ctx context.Context, msg *tgbotapi.Message, args []string) message {
	if len(args) == 0 {
		return render(core.Response{Status: core.StatusOK, Data: b.core.Quota().Settings(msg.From.ID)})
	}
	if len(args) != 2 {
		return message{text: "Usage: /settings <key> <value>"}
	}
	resp := b.core.Handle(ctx, b.request(msg.From, core.ActionSettings, func(r *core.Request) {
		r.Settings = map[string]string{args[0]: args[1]}
	}))
	if resp.Err != nil {
		return message{text: "Setting not changed: " + resp.Err.Error()}
	}
	return render(resp)
}

func (b *Bot) cmdTemplates(_ context.Context, msg *tgbotapi.Message, _ []string) message {
	_, limits := b.core.Quota().Effective(msg.From.ID)
	return message{text: templatesText(limits.Plan != models.PlanFree)}
}

func (b *Bot) cmdPromo(ctx context.Context, msg *tgbotapi.Message, args []string) message {
	if len(args) != 1 {
		return message{text: "Usage: /promo <code>"}
	}
	resp := b.core.Handle(ctx, b.request(msg.From, core.ActionPromo, func(r *core.Request) { r.Text = args[0] }))
	if resp.Err != nil {
		return message{text: promoError(resp.Err)}
	}
	return render(resp)
}

func promoError(err error) string {
	switch {
	case errors.Is(err, quota.ErrPromoInvalid):
		return "Unknown promo code."
	case errors.Is(err, quota.ErrPromoInactive):
		return "This promo code is no longer active."
	case errors.Is(err, quota.ErrPromoExhausted):
		return "This promo code has been used up."
	case errors.Is(err, quota.ErrPromoUsed):
		return "You already used this promo code."
	}
	return errorText(err)
}

func (b *Bot) cmdApp(_ context.Context, msg *tgbotapi.Message, _ []string) message {
	code, expires, err := b.core.IssueAuthCode(msg.From.ID)
	if err != nil {
		b.logger.WithError(err).Error("Failed to issue auth code")
		return message{text: "Could not create a login code. Try again later."}
	}
	return message{text: fmt.Sprintf("Your app login code: %s\nUser id: %d\nValid until %s.",
		code, msg.From.ID, expires.Format("15:04 MST"))}
}

func (b *Bot) cmdHistory(_ context.Context, msg *tgbotapi.Message, _ []string) message {
	u := b.core.Quota().Get(msg.From.ID)
	if len(u.History) == 0 {
		return message{text: "No videos yet."}
	}
	var sb strings.Builder
	sb.WriteString("Recent videos:")
	for i := len(u.History) - 1; i >= 0; i-- {
		h := u.History[i]
		fmt.Fprintf(&sb, "\n%s %s %s", h.Time.Format("01-02 15:04"), h.Mode, h.Source)
		if h.PassportID != "" {
			sb.WriteString(" " + h.PassportID)
		}
	}
	return message{text: sb.String()}
}

func (b *Bot) cmdTop(_ context.Context, _ *tgbotapi.Message, _ []string) message {
	top := b.core.Quota().Leaderboard(10)
	if len(top) == 0 {
		return message{text: "The leaderboard is empty."}
	}
	var sb strings.Builder
	sb.WriteString("Leaderboard:")
	for i, u := range top {
		name := u.Username
		if name == "" {
			name = strconv.FormatInt(u.ID, 10)
		}
		fmt.Fprintf(&sb, "\n%d. %s - %d points", i+1, name, u.Economy.Points)
	}
	return message{text: sb.String()}
}

func (b *Bot) cmdAchievements(_ context.Context, msg *tgbotapi.Message, _ []string) message {
	unlocked, locked := b.core.Quota().Achievements(msg.From.ID)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Achievements %d/%d", len(unlocked), len(unlocked)+len(locked))
	for _, a := range unlocked {
		fmt.Fprintf(&sb, "\n[x] %s (+%d)", a.Name, a.Points)
	}
	for _, a := range locked {
		fmt.Fprintf(&sb, "\n[ ] %s (+%d)", a.Name, a.Points)
	}
	return message{text: sb.String()}
}

func (b *Bot) cmdRef(_ context.Context, msg *tgbotapi.Message, _ []string) message {
	u := b.core.Quota().Get(msg.From.ID)
	return message{text: fmt.Sprintf("Invite friends with the start code ref_%d.\nReferrals: %d. Each one gives you 3 bonus videos.",
		msg.From.ID, u.Economy.ReferralCount)}
}

// withUser parses the leading user id argument
func (b *Bot) withUser(fn func(id int64, rest []string) string) command {
	return func(_ context.Context, _ *tgbotapi.Message, args []string) message {
		if len(args) == 0 {
			return message{text: "A user id is required."}
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return message{text: "Invalid user id."}
		}
		return message{text: fn(id, args[1:])}
	}
}

func (b *Bot) cmdBan(ctx context.Context, msg *tgbotapi.Message, args []string) message {
	return b.withUser(func(id int64, rest []string) string {
		reason := strings.Join(rest, " ")
		if reason == "" {
			reason = "banned by admin"
		}
		b.core.Quota().Ban(id, reason)
		b.logger.WithFields(map[string]interface{}{"admin_id": msg.From.ID, "user_id": id}).Info("User banned from chat")
		return fmt.Sprintf("User %d banned: %s", id, reason)
	})(ctx, msg, args)
}

func (b *Bot) cmdPlan(plan models.Plan) command {
	return b.withUser(func(id int64, rest []string) string {
		days := 30
		if plan == models.PlanFree {
			days = 0
		} else if len(rest) > 0 {
			n, err := strconv.Atoi(rest[0])
			if err != nil || n <= 0 {
				return "Invalid number of days."
			}
			days = n
		}
		if err := b.core.Quota().SetPlan(id, plan, days); err != nil {
			return err.Error()
		}
		if plan == models.PlanFree {
			return fmt.Sprintf("User %d moved to the free plan.", id)
		}
		return fmt.Sprintf("User %d now has %s for %d days.", id, plan, days)
	})
}

func (b *Bot) cmdUserInfo(ctx context.Context, msg *tgbotapi.Message, args []string) message {
	return b.withUser(func(id int64, _ []string) string {
		resp := b.core.Handle(ctx, core.Request{Action: core.ActionStatus, UserID: id})
		st := resp.Data.(core.UserStatus)
		text := fmt.Sprintf("User %d @%s\n%s", id, st.User.Username, statusText(st))
		if st.User.Banned {
			text += "\nBanned: " + st.User.BanReason
		}
		return text
	})(ctx, msg, args)
}

func (b *Bot) cmdMaintenance(_ context.Context, msg *tgbotapi.Message, args []string) message {
	if len(args) == 0 || (args[0] != "on" && args[0] != "off") {
		return message{text: "Usage: /maintenance on [eta] | off"}
	}
	on := args[0] == "on"
	eta := strings.Join(args[1:], " ")
	b.core.SetMaintenance(on, eta)
	if on {
		return message{text: "Maintenance mode on."}
	}
	return message{text: "Maintenance mode off."}
}

func (b *Bot) cmdCreatePromo(_ context.Context, _ *tgbotapi.Message, args []string) message {
	if len(args) != 4 {
		return message{text: "Usage: /createpromo <code> <videos|days_vip|days_premium> <value> <max uses>"}
	}
	value, err1 := strconv.Atoi(args[2])
	uses, err2 := strconv.Atoi(args[3])
	if err1 != nil || err2 != nil || value <= 0 || uses <= 0 {
		return message{text: "Value and max uses must be positive numbers."}
	}
	p, err := b.core.Quota().CreatePromo(args[0], models.PromoType(args[1]), value, uses)
	if err != nil {
		return message{text: "Promo not created: " + err.Error()}
	}
	return message{text: fmt.Sprintf("Promo %s created: %s +%d, %d uses.", p.Code, p.Type, p.Value, p.MaxUses)}
}

func (b *Bot) cmdDeletePromo(_ context.Context, _ *tgbotapi.Message, args []string) message {
	if len(args) != 1 {
		return message{text: "Usage: /deletepromo <code>"}
	}
	if !b.core.Quota().DeletePromo(args[0]) {
		return message{text: "Promo code not found."}
	}
	return message{text: "Promo code deleted."}
}

func (b *Bot) cmdListPromos(_ context.Context, _ *tgbotapi.Message, _ []string) message {
	promos := b.core.Quota().ListPromos()
	if len(promos) == 0 {
		return message{text: "No promo codes."}
	}
	var sb strings.Builder
	for _, p := range promos {
		fmt.Fprintf(&sb, "%s %s +%d used %d/%d active=%t\n", p.Code, p.Type, p.Value, p.UsedCount, p.MaxUses, p.Active)
	}
	return message{text: strings.TrimSpace(sb.String())}
}

func (b *Bot) cmdGlobalStats(_ context.Context, _ *tgbotapi.Message, _ []string) message {
	q := b.core.Quota().Stats()
	s := b.core.Stats()
	return message{text: fmt.Sprintf(
		"Users: %d (free %d, vip %d, premium %d, banned %d)\nToday: %d, total: %d, downloads: %d\nQueue: %d waiting, %d running on %d workers\nPassports: %d\nMaintenance: %t\nAt: %s",
		q.Users, q.ByPlan[models.PlanFree], q.ByPlan[models.PlanVIP], q.ByPlan[models.PlanPremium], q.Banned,
		q.ProcessedToday, q.ProcessedTotal, q.Downloads,
		s.Queued, s.Running, s.Workers, s.Passports, s.Maintenance, time.Now().Format(time.RFC3339))}
}

// handleCallback applies inline settings buttons
func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	answer := func(text string) {
		if _, err := b.api.Request(tgbotapi.NewCallback(q.ID, text)); err != nil {
			b.logger.WithError(err).Debug("Failed to answer callback")
		}
	}

	pressed := b.core.Handle(ctx, b.request(q.From, core.ActionButton, nil))
	if ok, _ := pressed.Data.(bool); !ok {
		answer("Too fast")
		return
	}

	key, value, found := strings.Cut(q.Data, ":")
	if !found || (key != "mode" && key != "quality" && key != "template") {
		answer("")
		return
	}
	resp := b.core.Handle(ctx, b.request(q.From, core.ActionSettings, func(r *core.Request) {
		r.Settings = map[string]string{key: value}
	}))
	if resp.Err != nil {
		answer("Not available on your plan")
		return
	}
	answer("Saved")

	if q.Message != nil && q.Message.Chat != nil {
		m := render(resp)
		edit := tgbotapi.NewEditMessageText(q.Message.Chat.ID, q.Message.MessageID, m.text)
		edit.ReplyMarkup = m.keyboard
		b.send(edit)
	}
}
