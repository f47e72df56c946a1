package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/virex/internal/middleware"
	"github.com/therealutkarshpriyadarshi/virex/internal/quota"
	"github.com/therealutkarshpriyadarshi/virex/pkg/models"
)

func userParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
		return 0, false
	}
	return id, true
}

func (s *Server) audit(c *gin.Context, action string, fields map[string]interface{}) {
	adminID, _ := c.Get(middleware.AdminContextKey)
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["admin_id"] = adminID
	fields["action"] = action
	s.logger.WithFields(fields).Info("Admin action")
}

func (s *Server) adminStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.core.Stats())
}

func (s *Server) adminGetUser(c *gin.Context) {
	id, ok := userParam(c)
	if !ok {
		return
	}
	u := s.core.Quota().Get(id)
	u.AuthCodeHash = ""
	c.JSON(http.StatusOK, u)
}

type banRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) adminBan(c *gin.Context) {
	id, ok := userParam(c)
	if !ok {
		return
	}
	var req banRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "banned by admin"
	}
	s.core.Quota().Ban(id, req.Reason)
	s.audit(c, "ban", map[string]interface{}{"user_id": id, "reason": req.Reason})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) adminUnban(c *gin.Context) {
	id, ok := userParam(c)
	if !ok {
		return
	}
	s.core.Quota().Unban(id)
	s.audit(c, "unban", map[string]interface{}{"user_id": id})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type planRequest struct {
	Plan models.Plan `json:"plan" binding:"required"`
	Days int         `json:"days"`
}

func (s *Server) adminSetPlan(c *gin.Context) {
	id, ok := userParam(c)
	if !ok {
		return
	}
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.core.Quota().SetPlan(id, req.Plan, req.Days); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.audit(c, "set_plan", map[string]interface{}{"user_id": id, "plan": req.Plan, "days": req.Days})
	c.JSON(http.StatusOK, s.subscription(c.Request.Context(), id))
}

func (s *Server) adminDeeplink(c *gin.Context) {
	id, ok := userParam(c)
	if !ok {
		return
	}
	code, expires, err := s.core.IssueAuthCode(id)
	if err != nil {
		s.logger.WithError(err).Error("Failed to issue auth code")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue code"})
		return
	}
	s.audit(c, "deeplink", map[string]interface{}{"user_id": id})
	c.JSON(http.StatusOK, gin.H{"user_id": id, "auth_code": code, "expires_at": expires})
}

type maintenanceRequest struct {
	Enabled bool   `json:"enabled"`
	ETA     string `json:"eta"`
}

func (s *Server) adminMaintenance(c *gin.Context) {
	var req maintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.core.SetMaintenance(req.Enabled, req.ETA)
	s.audit(c, "maintenance", map[string]interface{}{"enabled": req.Enabled, "eta": req.ETA})
	c.JSON(http.StatusOK, gin.H{"maintenance": s.core.MaintenanceState()})
}

func (s *Server) adminListPromos(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"promos": s.core.Quota().ListPromos()})
}

type promoRequest struct {
	Code    string           `json:"code" binding:"required"`
	Type    models.PromoType `json:"type" binding:"required"`
	Value   int              `json:"value" binding:"required,min=1"`
	MaxUses int              `json:"max_uses" binding:"required,min=1"`
}

func (s *Server) adminCreatePromo(c *gin.Context) {
	var req promoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	promo, err := s.core.Quota().CreatePromo(req.Code, req.Type, req.Value, req.MaxUses)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, quota.ErrPromoExists) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	s.audit(c, "create_promo", map[string]interface{}{"code": promo.Code})
	c.JSON(http.StatusCreated, promo)
}

func (s *Server) adminDeletePromo(c *gin.Context) {
	code := c.Param("code")
	if !s.core.Quota().DeletePromo(code) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Promo code not found"})
		return
	}
	s.audit(c, "delete_promo", map[string]interface{}{"code": code})
	c.JSON(http.StatusOK, gin.H{"success": true})
}
