package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/connectsphere/server/audit"
	"github.com/connectsphere/server/cache"
	"github.com/connectsphere/server/config"
	mw "github.com/connectsphere/server/middleware"
	"github.com/connectsphere/server/model"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AuthHandler handles authentication REST endpoints.
type AuthHandler struct {
	db     *gorm.DB
	cache  cache.Cache
	sec    config.SecurityConfig
	audit  *audit.Service
	logger *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(db *gorm.DB, c cache.Cache, sec config.SecurityConfig, a *audit.Service, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{db: db, cache: c, sec: sec, audit: a, logger: logger}
}

type signupRequest struct {
	Name     string `json:"name" binding:"required,max=64"`
	Email    string `json:"email" binding:"required,email,max=128"`
	Username string `json:"username" binding:"required,username"`
	Password string `json:"password" binding:"required,min=8,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type authAccount struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

func accountOf(u *model.User) authAccount {
	return authAccount{ID: u.ID, Name: u.Name, Email: u.Email, Username: u.Username}
}

// issueSession signs a token for userID and registers its session key.
func (h *AuthHandler) issueSession(ctx context.Context, userID int64) (string, error) {
	token, err := mw.GenerateToken(userID, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.cache.Set(ctx, mw.SessionKey(token), strconv.FormatInt(userID, 10), h.sec.JWTTTLH); err != nil {
		return "", err
	}
	return token, nil
}

func (h *AuthHandler) record(c *gin.Context, action string, userID int64, req interface{}, errMsg string, start time.Time) {
	h.audit.Log(audit.Entry{
		TraceID:  mw.GetTraceID(c),
		UserID:   userID,
		Action:   action,
		Request:  req,
		Error:    errMsg,
		IP:       c.ClientIP(),
		Duration: time.Since(start),
	})
}

// Signup handles POST /api/v1/auth/signup.
func (h *AuthHandler) Signup(c *gin.Context) {
	start := time.Now()
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	username := strings.ToLower(strings.TrimSpace(req.Username))

	var taken int64
	if err := h.db.WithContext(c.Request.Context()).Model(&model.User{}).
		Where("email = ? OR username = ?", email, username).
		Count(&taken).Error; err != nil {
		respondError(c, h.logger, err)
		return
	}
	if taken > 0 {
		respondFail(c, http.StatusBadRequest, "User already exists")
		return
	}

	cost := h.sec.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), cost)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	u := &model.User{
		Name:         strings.TrimSpace(req.Name),
		Email:        email,
		Username:     username,
		PasswordHash: string(hash),
		Role:         model.RoleUser,
		Status:       model.UserStatusActive,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(u).Error; err != nil {
		// Lost a race with a concurrent signup for the same email or username.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			respondFail(c, http.StatusBadRequest, "User already exists")
			return
		}
		respondError(c, h.logger, err)
		return
	}

	token, err := h.issueSession(c.Request.Context(), u.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.record(c, audit.ActionSignup, u.ID, gin.H{"email": email, "username": username}, "", start)
	respondOK(c, http.StatusCreated, gin.H{"token": token, "user": accountOf(u)})
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	start := time.Now()
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var u model.User
	err := h.db.WithContext(c.Request.Context()).Where("email = ?", email).First(&u).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		respondError(c, h.logger, err)
		return
	}
	if err != nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		h.record(c, audit.ActionLoginFailed, u.ID, gin.H{"email": email}, "invalid credentials", start)
		respondFail(c, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if u.Status == model.UserStatusBanned {
		h.record(c, audit.ActionLoginFailed, u.ID, gin.H{"email": email}, "account suspended", start)
		respondFail(c, http.StatusForbidden, "account suspended")
		return
	}

	token, err := h.issueSession(c.Request.Context(), u.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	now := time.Now()
	if err := h.db.Model(&u).UpdateColumn("last_active_at", now).Error; err != nil {
		h.logger.Warn("last active update failed", zap.Int64("user_id", u.ID), zap.Error(err))
	}
	h.record(c, audit.ActionLogin, u.ID, gin.H{"email": email}, "", start)
	respondOK(c, http.StatusOK, gin.H{"token": token, "user": accountOf(&u)})
}

// Logout handles POST /api/v1/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.cache.Del(ctx, mw.SessionKey(mw.GetToken(c))); err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.record(c, audit.ActionLogout, mw.GetUserID(c), nil, "", start)
	respondOK(c, http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// Refresh handles POST /api/v1/auth/refresh. The presented token stops
// working once the new one is issued.
func (h *AuthHandler) Refresh(c *gin.Context) {
	userID := mw.GetUserID(c)
	token, err := h.issueSession(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.cache.Del(ctx, mw.SessionKey(mw.GetToken(c))); err != nil {
		h.logger.Warn("old session removal failed", zap.Int64("user_id", userID), zap.Error(err))
	}
	respondOK(c, http.StatusOK, gin.H{"token": token})
}
