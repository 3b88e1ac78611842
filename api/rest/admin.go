package rest

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/connectsphere/server/audit"
	"github.com/connectsphere/server/cache"
	"github.com/connectsphere/server/connection"
	mw "github.com/connectsphere/server/middleware"
	"github.com/connectsphere/server/model"
	"github.com/connectsphere/server/scheduler"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Announcer broadcasts a message to every open notification stream.
type Announcer interface {
	Announce(ctx context.Context, message string) error
}

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	db     *gorm.DB
	cache  cache.Cache
	conns  *connection.Service
	sched  *scheduler.Scheduler
	audit  *audit.Service
	ann    Announcer
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(
	db *gorm.DB,
	c cache.Cache,
	conns *connection.Service,
	sched *scheduler.Scheduler,
	a *audit.Service,
	ann Announcer,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{db: db, cache: c, conns: conns, sched: sched, audit: a, ann: ann, logger: logger}
}

// Stats returns row counts and scheduler state.
// GET /api/v1/admin/stats
func (h *AdminHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()
	counts := make(map[string]int64, 4)
	for name, m := range map[string]interface{}{
		"users":         &model.User{},
		"posts":         &model.Post{},
		"comments":      &model.Comment{},
		"notifications": &model.Notification{},
	} {
		var n int64
		if err := h.db.WithContext(ctx).Model(m).Count(&n).Error; err != nil {
			respondError(c, h.logger, err)
			return
		}
		counts[name] = n
	}
	byStatus, err := h.conns.CountByStatus(ctx)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{
		"counts":      counts,
		"connections": byStatus,
		"scheduler":   h.sched.Tasks(),
	})
}

// BanUser bans or unbans an account. A ban takes effect on the user's
// existing sessions immediately.
// POST /api/v1/admin/users/:id/ban
func (h *AdminHandler) BanUser(c *gin.Context) {
	start := time.Now()
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Ban bool `json:"ban"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	status := model.UserStatusActive
	if req.Ban {
		status = model.UserStatusBanned
	}
	result := h.db.WithContext(c.Request.Context()).Model(&model.User{}).Where("id = ?", userID).Update("status", status)
	if result.Error != nil {
		respondError(c, h.logger, result.Error)
		return
	}
	if result.RowsAffected == 0 {
		respondFail(c, http.StatusNotFound, "User not found")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	var err error
	if req.Ban {
		err = h.cache.Set(ctx, mw.BannedKey(userID), strconv.FormatInt(time.Now().Unix(), 10), 0)
	} else {
		err = h.cache.Del(ctx, mw.BannedKey(userID))
	}
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.audit.Log(audit.Entry{
		TraceID:  mw.GetTraceID(c),
		TargetID: userID,
		Action:   audit.ActionUserBanned,
		Request:  req,
		IP:       c.ClientIP(),
		Duration: time.Since(start),
	})
	h.logger.Info("admin changed account status", zap.Int64("user_id", userID), zap.Bool("ban", req.Ban))
	respondOK(c, http.StatusOK, gin.H{"id": userID, "status": status})
}

// AuditTrail returns the most recent audit entries of one user.
// GET /api/v1/admin/users/:id/audit
func (h *AdminHandler) AuditTrail(c *gin.Context) {
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > model.MaxPageSize {
		limit = 50
	}
	logs, err := h.audit.ForUser(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"entries": logs})
}

// Announce broadcasts a system announcement to connected clients.
// POST /api/v1/admin/announce
func (h *AdminHandler) Announce(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required,max=500"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if err := h.ann.Announce(c.Request.Context(), req.Message); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"message": req.Message})
}

// ListSchedulerTasks returns every registered background task.
// GET /api/v1/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	respondOK(c, http.StatusOK, gin.H{"tasks": h.sched.Tasks()})
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// If adminKey is empty all admin endpoints answer 503.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"status": "error", "message": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		if c.GetHeader("X-Admin-Key") != adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "fail", "message": "unauthorized"})
			return
		}
		c.Next()
	}
}
