package rest

import (
	"net/http"

	mw "github.com/connectsphere/server/middleware"
	"github.com/connectsphere/server/model"
	"github.com/connectsphere/server/post"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PostHandler handles post, like and comment endpoints.
type PostHandler struct {
	svc    *post.Service
	logger *zap.Logger
}

// NewPostHandler creates a new PostHandler.
func NewPostHandler(svc *post.Service, logger *zap.Logger) *PostHandler {
	return &PostHandler{svc: svc, logger: logger}
}

// Content is validated by the service so a blank body and a whitespace-only
// body report the same message.
type postBody struct {
	Content  string            `json:"content"`
	Images   []string          `json:"images" binding:"omitempty,max=10,dive,url"`
	Tags     []string          `json:"tags" binding:"omitempty,max=20,dive,max=50"`
	Privacy  model.PostPrivacy `json:"privacy" binding:"omitempty,oneof=public friends private"`
	Location string            `json:"location" binding:"max=128"`
}

type postUpdateBody struct {
	Content  string             `json:"content"`
	Images   []string           `json:"images" binding:"omitempty,max=10,dive,url"`
	Tags     []string           `json:"tags" binding:"omitempty,max=20,dive,max=50"`
	Privacy  *model.PostPrivacy `json:"privacy" binding:"omitempty,oneof=public friends private"`
	Location *string            `json:"location" binding:"omitempty,max=128"`
}

type commentBody struct {
	Content  string `json:"content"`
	ParentID *int64 `json:"parentId" binding:"omitempty,gt=0"`
}

// Create handles POST /api/v1/posts.
func (h *PostHandler) Create(c *gin.Context) {
	var req postBody
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	view, err := h.svc.Create(c.Request.Context(), mw.GetUserID(c), post.CreateInput{
		Content:  req.Content,
		Images:   req.Images,
		Tags:     req.Tags,
		Privacy:  req.Privacy,
		Location: req.Location,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusCreated, view)
}

// Feed handles GET /api/v1/posts.
func (h *PostHandler) Feed(c *gin.Context) {
	page, err := h.svc.Feed(c.Request.Context(), mw.GetUserID(c), pageOf(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, page)
}

// UserPosts handles GET /api/v1/posts/user/:userId.
func (h *PostHandler) UserPosts(c *gin.Context) {
	author, ok := paramID(c, "userId")
	if !ok {
		return
	}
	page, err := h.svc.UserPosts(c.Request.Context(), mw.GetUserID(c), author, pageOf(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, page)
}

// Get handles GET /api/v1/posts/:postId.
func (h *PostHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "postId")
	if !ok {
		return
	}
	view, err := h.svc.Get(c.Request.Context(), mw.GetUserID(c), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, view)
}

// Update handles PUT /api/v1/posts/:postId.
func (h *PostHandler) Update(c *gin.Context) {
	id, ok := paramID(c, "postId")
	if !ok {
		return
	}
	var req postUpdateBody
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	view, err := h.svc.Update(c.Request.Context(), mw.GetUserID(c), id, post.UpdateInput{
		Content:  req.Content,
		Images:   req.Images,
		Tags:     req.Tags,
		Privacy:  req.Privacy,
		Location: req.Location,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, view)
}

// Delete handles DELETE /api/v1/posts/:postId.
func (h *PostHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "postId")
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), mw.GetUserID(c), id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"message": "Post deleted successfully"})
}

// Like handles POST /api/v1/posts/:postId/like.
func (h *PostHandler) Like(c *gin.Context) {
	id, ok := paramID(c, "postId")
	if !ok {
		return
	}
	view, err := h.svc.Like(c.Request.Context(), mw.GetUserID(c), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, view)
}

// Unlike handles POST /api/v1/posts/:postId/unlike.
func (h *PostHandler) Unlike(c *gin.Context) {
	id, ok := paramID(c, "postId")
	if !ok {
		return
	}
	view, err := h.svc.Unlike(c.Request.Context(), mw.GetUserID(c), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, view)
}

// AddComment handles POST /api/v1/comments/:postId.
func (h *PostHandler) AddComment(c *gin.Context) {
	postID, ok := paramID(c, "postId")
	if !ok {
		return
	}
	var req commentBody
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	view, err := h.svc.AddComment(c.Request.Context(), mw.GetUserID(c), postID, req.Content, req.ParentID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusCreated, view)
}

// Comments handles GET /api/v1/comments/:postId.
func (h *PostHandler) Comments(c *gin.Context) {
	postID, ok := paramID(c, "postId")
	if !ok {
		return
	}
	page, err := h.svc.Comments(c.Request.Context(), mw.GetUserID(c), postID, pageOf(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, page)
}

// UpdateComment handles PUT /api/v1/comments/:commentId.
func (h *PostHandler) UpdateComment(c *gin.Context) {
	id, ok := paramID(c, "commentId")
	if !ok {
		return
	}
	var req commentBody
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	view, err := h.svc.UpdateComment(c.Request.Context(), mw.GetUserID(c), id, req.Content)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, view)
}

// DeleteComment handles DELETE /api/v1/comments/:commentId.
func (h *PostHandler) DeleteComment(c *gin.Context) {
	id, ok := paramID(c, "commentId")
	if !ok {
		return
	}
	if err := h.svc.DeleteComment(c.Request.Context(), mw.GetUserID(c), id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"message": "Comment deleted successfully"})
}
