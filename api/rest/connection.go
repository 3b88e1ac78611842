package rest

import (
	"net/http"
	"time"

	"github.com/connectsphere/server/audit"
	"github.com/connectsphere/server/connection"
	mw "github.com/connectsphere/server/middleware"
	"github.com/connectsphere/server/model"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ConnectionHandler handles the friend connection endpoints.
type ConnectionHandler struct {
	svc    *connection.Service
	audit  *audit.Service
	logger *zap.Logger
}

// NewConnectionHandler creates a new ConnectionHandler.
func NewConnectionHandler(svc *connection.Service, a *audit.Service, logger *zap.Logger) *ConnectionHandler {
	return &ConnectionHandler{svc: svc, audit: a, logger: logger}
}

type sendRequestBody struct {
	RecipientID int64 `json:"recipientId" binding:"required,gt=0"`
}

type respondBody struct {
	Action string `json:"action" binding:"required"`
}

// record writes one transition attempt to the audit trail.
func (h *ConnectionHandler) record(c *gin.Context, action string, target int64, req interface{}, conn *model.Connection, err error, start time.Time) {
	e := audit.Entry{
		TraceID:  mw.GetTraceID(c),
		UserID:   mw.GetUserID(c),
		TargetID: target,
		Action:   action,
		Request:  req,
		IP:       c.ClientIP(),
		Duration: time.Since(start),
	}
	if conn != nil {
		e.Response = gin.H{"id": conn.ID, "status": conn.Status}
	}
	if err != nil {
		e.Error = err.Error()
	}
	h.audit.Log(e)
}

// reply projects conn and writes it with code.
func (h *ConnectionHandler) reply(c *gin.Context, code int, conn *model.Connection) {
	view, err := h.svc.DescribeOne(c.Request.Context(), conn)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, code, view)
}

// SendRequest handles POST /api/v1/connections/request.
func (h *ConnectionHandler) SendRequest(c *gin.Context) {
	start := time.Now()
	var req sendRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	conn, err := h.svc.SendRequest(c.Request.Context(), mw.GetUserID(c), req.RecipientID)
	h.record(c, audit.ActionRequestSent, req.RecipientID, req, conn, err, start)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.reply(c, http.StatusCreated, conn)
}

// Respond handles POST /api/v1/connections/request/:id/respond.
func (h *ConnectionHandler) Respond(c *gin.Context) {
	start := time.Now()
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req respondBody
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	action := connection.Action(req.Action)
	conn, err := h.svc.Respond(c.Request.Context(), id, mw.GetUserID(c), action)
	auditAction := audit.ActionRequestRejected
	if action == connection.ActionAccept {
		auditAction = audit.ActionRequestAccepted
	}
	var target int64
	if conn != nil {
		target = conn.RequesterID
	}
	h.record(c, auditAction, target, gin.H{"id": id, "action": req.Action}, conn, err, start)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.reply(c, http.StatusOK, conn)
}

// Friends handles GET /api/v1/connections/friends and
// GET /api/v1/connections/friends/:userId.
func (h *ConnectionHandler) Friends(c *gin.Context) {
	userID := mw.GetUserID(c)
	if c.Param("userId") != "" {
		id, ok := paramID(c, "userId")
		if !ok {
			return
		}
		userID = id
	}
	page, err := h.svc.Friends(c.Request.Context(), userID, pageOf(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, page)
}

// Pending handles GET /api/v1/connections/pending.
func (h *ConnectionHandler) Pending(c *gin.Context) {
	page, err := h.svc.Pending(c.Request.Context(), mw.GetUserID(c), pageOf(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, page)
}

// Status handles GET /api/v1/connections/status/:userId.
func (h *ConnectionHandler) Status(c *gin.Context) {
	other, ok := paramID(c, "userId")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	conn, err := h.svc.Status(ctx, mw.GetUserID(c), other)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if conn == nil {
		respondOK(c, http.StatusOK, gin.H{"connection": nil, "status": "none"})
		return
	}
	view, err := h.svc.DescribeOne(ctx, conn)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"connection": view, "status": conn.Status})
}

// Block handles POST /api/v1/connections/block/:userId.
func (h *ConnectionHandler) Block(c *gin.Context) {
	start := time.Now()
	other, ok := paramID(c, "userId")
	if !ok {
		return
	}
	conn, err := h.svc.Block(c.Request.Context(), mw.GetUserID(c), other)
	h.record(c, audit.ActionBlocked, other, nil, conn, err, start)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.reply(c, http.StatusOK, conn)
}

// Unblock handles DELETE /api/v1/connections/block/:userId.
func (h *ConnectionHandler) Unblock(c *gin.Context) {
	start := time.Now()
	other, ok := paramID(c, "userId")
	if !ok {
		return
	}
	conn, err := h.svc.Unblock(c.Request.Context(), mw.GetUserID(c), other)
	h.record(c, audit.ActionUnblocked, other, nil, conn, err, start)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.reply(c, http.StatusOK, conn)
}
