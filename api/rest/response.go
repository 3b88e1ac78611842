package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/connectsphere/server/apperr"
	mw "github.com/connectsphere/server/middleware"
	"github.com/connectsphere/server/model"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// respondOK writes the success envelope.
func respondOK(c *gin.Context, code int, data interface{}) {
	c.JSON(code, gin.H{"status": "success", "data": data})
}

// respondFail writes the client-error envelope.
func respondFail(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"status": "fail", "message": msg})
}

// statusOf maps an error kind onto its HTTP status.
func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.Validation, apperr.Conflict:
		return http.StatusBadRequest
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Forbidden:
		return http.StatusForbidden
	case apperr.Unauthorized:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// respondError translates a service error into the response envelope.
// Internal errors are logged and reported with a generic message.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	kind := apperr.KindOf(err)
	code := statusOf(kind)
	if code == http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("trace_id", mw.GetTraceID(c)),
			zap.Error(err))
		c.JSON(code, gin.H{"status": "error", "message": "Server error"})
		return
	}
	msg := err.Error()
	var e *apperr.Error
	if errors.As(err, &e) {
		msg = e.Message
	}
	respondFail(c, code, msg)
}

// bindError reports a request binding failure as a 400.
func bindError(c *gin.Context, err error) {
	respondFail(c, http.StatusBadRequest, validationMessage(err))
}

// paramID parses a positive int64 path parameter, responding 400 otherwise.
func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		respondFail(c, http.StatusBadRequest, "Invalid "+name)
		return 0, false
	}
	return id, true
}

// pageOf reads ?page and ?limit; bad values fall back to the defaults.
func pageOf(c *gin.Context) model.Page {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	return model.Page{Page: page, Limit: limit}.Normalize()
}
