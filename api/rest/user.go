package rest

import (
	"net/http"
	"time"

	"github.com/connectsphere/server/connection"
	mw "github.com/connectsphere/server/middleware"
	"github.com/connectsphere/server/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UserHandler handles profile and user search endpoints.
type UserHandler struct {
	dir    *users.Directory
	conns  *connection.Service
	logger *zap.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(dir *users.Directory, conns *connection.Service, logger *zap.Logger) *UserHandler {
	return &UserHandler{dir: dir, conns: conns, logger: logger}
}

type updateProfileRequest struct {
	Name         *string `json:"name" binding:"omitempty,min=1,max=64"`
	Bio          *string `json:"bio" binding:"omitempty,max=160"`
	Location     *string `json:"location" binding:"omitempty,max=128"`
	Website      *string `json:"website" binding:"omitempty,url,max=255"`
	ProfileImage *string `json:"profileImage" binding:"omitempty,url,max=255"`
	CoverImage   *string `json:"coverImage" binding:"omitempty,url,max=255"`
}

// publicProfile is another user's profile as seen by the caller.
type publicProfile struct {
	ID               int64            `json:"id"`
	Name             string           `json:"name"`
	Username         string           `json:"username"`
	Bio              string           `json:"bio"`
	Location         string           `json:"location"`
	Website          string           `json:"website"`
	ProfileImage     string           `json:"profileImage"`
	CoverImage       string           `json:"coverImage"`
	CreatedAt        time.Time        `json:"createdAt"`
	FriendCount      int              `json:"friendCount"`
	ConnectionStatus string           `json:"connectionStatus"`
	Connection       *connection.View `json:"connection"`
}

// Profile handles GET /api/v1/users/profile.
func (h *UserHandler) Profile(c *gin.Context) {
	u, err := h.dir.Get(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if u == nil {
		respondFail(c, http.StatusNotFound, "User not found")
		return
	}
	respondOK(c, http.StatusOK, u)
}

// UpdateProfile handles PUT /api/v1/users/profile.
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	u, err := h.dir.UpdateProfile(c.Request.Context(), mw.GetUserID(c), users.ProfileUpdate{
		Name:         req.Name,
		Bio:          req.Bio,
		Location:     req.Location,
		Website:      req.Website,
		ProfileImage: req.ProfileImage,
		CoverImage:   req.CoverImage,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, u)
}

// Search handles GET /api/v1/users/search?q=. The caller and users in a
// blocked relationship with the caller are left out.
func (h *UserHandler) Search(c *gin.Context) {
	ctx := c.Request.Context()
	me := mw.GetUserID(c)
	blocked, err := h.conns.BlockedIDs(ctx, me)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	page, err := h.dir.Search(ctx, c.Query("q"), append(blocked, me), pageOf(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, page)
}

// Get handles GET /api/v1/users/:userId.
func (h *UserHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "userId")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	u, err := h.dir.Get(ctx, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if u == nil {
		respondFail(c, http.StatusNotFound, "User not found")
		return
	}
	friends, err := h.conns.FriendIDs(ctx, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	p := publicProfile{
		ID:               u.ID,
		Name:             u.Name,
		Username:         u.Username,
		Bio:              u.Bio,
		Location:         u.Location,
		Website:          u.Website,
		ProfileImage:     u.ProfileImage,
		CoverImage:       u.CoverImage,
		CreatedAt:        u.CreatedAt,
		FriendCount:      len(friends),
		ConnectionStatus: "none",
	}
	if me := mw.GetUserID(c); me != id {
		conn, err := h.conns.Status(ctx, me, id)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		if conn != nil {
			view, err := h.conns.DescribeOne(ctx, conn)
			if err != nil {
				respondError(c, h.logger, err)
				return
			}
			p.Connection = view
			p.ConnectionStatus = string(conn.Status)
		}
	}
	respondOK(c, http.StatusOK, p)
}
