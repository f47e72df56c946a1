// Package telegram is the chat transport. It turns bot updates into core
// requests and renders the responses back into the chat.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"github.com/therealutkarshpriyadarshi/virex/internal/config"
	"github.com/therealutkarshpriyadarshi/virex/internal/core"
	"github.com/therealutkarshpriyadarshi/virex/internal/logging"
	"github.com/therealutkarshpriyadarshi/virex/internal/metrics"
	"github.com/therealutkarshpriyadarshi/virex/internal/quota"
)

// maxConcurrentUpdates bounds how many updates are handled at once
const maxConcurrentUpdates = 16

// API is the part of *tgbotapi.BotAPI the bot uses
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot serves one bot account
type Bot struct {
	api    API
	core   *core.Core
	cfg    config.BotConfig
	admins map[int64]bool
	client *http.Client
	logger *logging.Logger

	mu sync.Mutex
	// pending holds the action the next file of a user goes to
	pending map[int64]core.Action
}

// NewAPI logs in with token
func NewAPI(cfg config.BotConfig) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect bot: %w", err)
	}
	api.Debug = cfg.Debug
	return api, nil
}

// New wires the bot into c as its file source and notifier
func New(api API, c *core.Core, cfg config.BotConfig, logger *logging.Logger) *Bot {
	b := &Bot{
		api:     api,
		core:    c,
		cfg:     cfg,
		admins:  make(map[int64]bool, len(cfg.AdminIDs)),
		client:  &http.Client{},
		logger:  logger.Component("telegram"),
		pending: make(map[int64]core.Action),
	}
	for _, id := range cfg.AdminIDs {
		b.admins[id] = true
	}
	c.SetFiles(b)
	c.SetNotifier(b)
	return b
}

// Run polls for updates until ctx is done
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.PollTimeout
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	b.logger.Info("Polling for updates")
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentUpdates)
	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		case update, ok := <-updates:
			if !ok {
				return g.Wait()
			}
			g.Go(func() error {
				b.HandleUpdate(gctx, update)
				return nil
			})
		}
	}
}

// HandleUpdate dispatches one update
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordError("telegram", "panic")
			b.logger.WithField("update_id", update.UpdateID).Errorf("Update handler panicked: %v", r)
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.From != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}
	if ref := fileRef(msg); ref != nil {
		action := b.takePending(msg.From.ID)
		resp := b.core.Handle(ctx, b.request(msg.From, action, func(r *core.Request) { r.File = ref }))
		b.reply(msg.Chat.ID, render(resp))
		return
	}
	if msg.Text != "" {
		resp := b.core.Handle(ctx, b.request(msg.From, core.ActionProcessURL, func(r *core.Request) { r.Text = msg.Text }))
		b.reply(msg.Chat.ID, render(resp))
	}
}

func (b *Bot) request(from *tgbotapi.User, action core.Action, fill func(r *core.Request)) core.Request {
	req := core.Request{
		Action:   action,
		UserID:   from.ID,
		Username: from.UserName,
		Language: from.LanguageCode,
	}
	if fill != nil {
		fill(&req)
	}
	return req
}

// fileRef picks the video or document attached to msg
func fileRef(msg *tgbotapi.Message) *core.FileRef {
	switch {
	case msg.Video != nil:
		name := msg.Video.FileName
		if name == "" {
			name = "video.mp4"
		}
		return &core.FileRef{Handle: msg.Video.FileID, Name: name, Size: int64(msg.Video.FileSize)}
	case msg.Document != nil:
		return &core.FileRef{Handle: msg.Document.FileID, Name: msg.Document.FileName, Size: int64(msg.Document.FileSize)}
	}
	return nil
}

func (b *Bot) setPending(userID int64, action core.Action) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[userID] = action
}

// takePending returns and clears the awaited action of userID.
// Files default to processing.
func (b *Bot) takePending(userID int64) core.Action {
	b.mu.Lock()
	defer b.mu.Unlock()
	action, ok := b.pending[userID]
	if !ok {
		return core.ActionProcessFile
	}
	delete(b.pending, userID)
	return action
}

func (b *Bot) reply(chatID int64, m message) {
	out := tgbotapi.NewMessage(chatID, m.text)
	if m.keyboard != nil {
		out.ReplyMarkup = *m.keyboard
	}
	b.send(out)
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		metrics.RecordError("telegram", "send")
		b.logger.WithError(err).Warn("Failed to send message")
	}
}

// Download fetches a chat-held file to dst
func (b *Bot) Download(ctx context.Context, fileID, dst string) error {
	link, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return fmt.Errorf("failed to resolve file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download file: status %d", resp.StatusCode)
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	return out.Close()
}

// TaskDone sends the processed video or the failure to the user
func (b *Bot) TaskDone(_ context.Context, c core.Completion) {
	if c.Err != nil || c.Result == nil {
		b.reply(c.UserID, message{text: errorText(c.Err)})
		return
	}
	video := tgbotapi.NewVideo(c.UserID, tgbotapi.FilePath(c.Result.Path))
	video.Caption = completionCaption(c)
	b.send(video)
}

// PlanExpiring reminds a paid user that the plan ends soon
func (b *Bot) PlanExpiring(_ context.Context, u quota.ExpiringUser) {
	b.reply(u.UserID, message{text: fmt.Sprintf(
		"Your %s plan ends in %d day(s). Renew to keep your limits.", u.Plan, u.DaysLeft)})
}
