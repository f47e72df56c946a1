package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/virex/internal/core"
	"github.com/therealutkarshpriyadarshi/virex/internal/middleware"
	"github.com/therealutkarshpriyadarshi/virex/internal/planner"
	"github.com/therealutkarshpriyadarshi/virex/internal/workspace"
	"github.com/therealutkarshpriyadarshi/virex/pkg/models"
)

// Subscription is the account summary returned to app clients
type Subscription struct {
	UserID      int64             `json:"user_id"`
	Plan        models.Plan       `json:"plan"`
	IsPremium   bool              `json:"is_premium"`
	ExpiresOn   string            `json:"expires_on,omitempty"`
	VideosToday int               `json:"videos_today"`
	VideosWeek  int               `json:"videos_week"`
	TotalVideos int               `json:"total_videos"`
	BonusVideos int               `json:"bonus_videos"`
	DailyLimit  int               `json:"daily_limit"`
	WeeklyLimit int               `json:"weekly_limit"`
	MaxFileMB   int               `json:"max_file_size"`
	Cooldown    int               `json:"cooldown_seconds"`
	Qualities   []models.Quality  `json:"qualities"`
	Trap        bool              `json:"trap"`
	Settings    models.Settings   `json:"settings"`
	QueueSlot   int               `json:"queue_position,omitempty"`
	Maintenance *core.Maintenance `json:"maintenance,omitempty"`
}

func (s *Server) subscription(ctx context.Context, userID int64) Subscription {
	resp := s.core.Handle(ctx, core.Request{Action: core.ActionStatus, UserID: userID})
	st := resp.Data.(core.UserStatus)
	u, l := st.User, st.Limits
	return Subscription{
		UserID:      userID,
		Plan:        u.Plan,
		IsPremium:   u.Plan != models.PlanFree,
		ExpiresOn:   u.PlanExpiresOn,
		VideosToday: u.Counters.Daily,
		VideosWeek:  u.Counters.Weekly,
		TotalVideos: u.Counters.Lifetime,
		BonusVideos: u.Economy.BonusVideos,
		DailyLimit:  l.Daily,
		WeeklyLimit: l.Weekly,
		MaxFileMB:   l.MaxFileMB,
		Cooldown:    int(l.Cooldown.Seconds()),
		Qualities:   l.Qualities,
		Trap:        l.Trap,
		Settings:    u.Settings,
		QueueSlot:   st.Position,
		Maintenance: st.Maintenance,
	}
}

// statusFor maps a core error onto an HTTP status
func statusFor(err error) int {
	switch core.KindOf(err) {
	case core.KindBanned:
		return http.StatusForbidden
	case core.KindSoftBlock, core.KindDailyLimit, core.KindWeeklyLimit, core.KindCooldown,
		core.KindQueueFull, core.KindUserQueueFull:
		return http.StatusTooManyRequests
	case core.KindDuplicate:
		return http.StatusConflict
	case core.KindFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case core.KindInvalidFormat, core.KindVideoTooLong:
		return http.StatusBadRequest
	case core.KindDownloadFailed:
		return http.StatusBadGateway
	case core.KindTranscoderTimeout:
		return http.StatusGatewayTimeout
	case core.KindCancelled:
		return http.StatusRequestTimeout
	case core.KindMaintenance:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) abortWithError(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	var e *core.Error
	if errors.As(err, &e) {
		body["kind"] = e.Kind
		if e.RetryAfter > 0 {
			secs := int(e.RetryAfter.Seconds())
			c.Header("Retry-After", strconv.Itoa(secs))
			body["retry_after"] = secs
		}
	}
	c.AbortWithStatusJSON(statusFor(err), body)
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"version":   Version,
		"timestamp": s.now().Format(time.RFC3339),
	})
}

func (s *Server) listTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"templates": planner.Templates})
}

func (s *Server) issueSession(c *gin.Context, userID int64, user gin.H) {
	token, sess := s.sessions.Create(userID)
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"token":        token,
		"expires_at":   sess.ExpiresAt,
		"user":         user,
		"subscription": s.subscription(c.Request.Context(), userID),
	})
}

func (s *Server) authTelegram(c *gin.Context) {
	if s.cfg.Bot.Token == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Telegram login is not configured"})
		return
	}

	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}
	fields, err := authFields(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tu, err := VerifyTelegram(fields, s.cfg.Bot.Token, s.now())
	if err != nil {
		s.logger.WithError(err).Warn("Rejected Telegram login")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid Telegram auth data"})
		return
	}

	s.core.Quota().Touch(tu.ID, tu.Username)
	s.issueSession(c, tu.ID, gin.H{"id": tu.ID, "username": tu.Username, "first_name": tu.FirstName})
}

type deeplinkRequest struct {
	UserID   int64  `json:"user_id" binding:"required"`
	AuthCode string `json:"auth_code" binding:"required"`
}

func (s *Server) authDeeplink(c *gin.Context) {
	var req deeplinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing user_id or auth_code"})
		return
	}

	if !s.core.RedeemAuthCode(req.UserID, req.AuthCode) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid auth code. Get a new code from the bot."})
		return
	}

	u := s.core.Quota().Get(req.UserID)
	s.issueSession(c, req.UserID, gin.H{"id": req.UserID, "username": u.Username})
}

func (s *Server) logout(c *gin.Context) {
	token := c.GetHeader("X-Auth-Token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	s.sessions.Revoke(token)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) getSubscription(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	c.JSON(http.StatusOK, s.subscription(c.Request.Context(), userID))
}

// receiveVideo stores the "video" form file in the workspace
func (s *Server) receiveVideo(c *gin.Context) (string, string, bool) {
	file, err := c.FormFile("video")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No video file provided"})
		return "", "", false
	}
	if limit := s.cfg.Limits.MaxFileSizeBytes(); limit > 0 && file.Size > limit {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("File larger than %d MB", s.cfg.Limits.MaxFileSizeMB)})
		return "", "", false
	}

	path := s.core.Workspace().NewPath(strings.ToLower(filepath.Ext(file.Filename)))
	if err := c.SaveUploadedFile(file, path); err != nil {
		workspace.Remove(path)
		s.logger.WithError(err).Error("Failed to save upload")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save file"})
		return "", "", false
	}
	return path, file.Filename, true
}

// formSettings may accompany an upload and are saved to the user's settings
var formSettings = []string{"mode", "quality", "template"}

func (s *Server) processVideo(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	changes := make(map[string]string)
	for _, key := range formSettings {
		if v := strings.TrimSpace(c.PostForm(key)); v != "" {
			changes[key] = v
		}
	}
	if len(changes) > 0 {
		resp := s.core.Handle(c.Request.Context(), core.Request{Action: core.ActionSettings, UserID: userID, Settings: changes})
		if resp.Err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": resp.Err.Error()})
			return
		}
	}

	path, name, ok := s.receiveVideo(c)
	if !ok {
		return
	}
	u := s.core.Quota().Get(userID)
	res, err := s.core.ProcessSync(c.Request.Context(), core.ProcessInput{
		UserID:   userID,
		Username: u.Username,
		Path:     path,
		Name:     name,
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	defer workspace.Remove(res.Path)

	c.Header("X-Virex-Seed", strconv.FormatUint(res.Seed, 10))
	if res.Passport != nil {
		c.Header("X-Virex-Passport", res.Passport.ID)
	}
	c.FileAttachment(res.Path, "virex_processed.mp4")
}

func (s *Server) videoInfo(c *gin.Context) {
	path, _, ok := s.receiveVideo(c)
	if !ok {
		return
	}
	defer workspace.Remove(path)

	info, err := s.core.VideoInfo(c.Request.Context(), path)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}
