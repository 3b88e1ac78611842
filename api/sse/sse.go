// Package sse streams a user's new notifications as server-sent events.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/connectsphere/server/cache"
	"github.com/connectsphere/server/metrics"
	mw "github.com/connectsphere/server/middleware"
	"github.com/connectsphere/server/notify"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AnnounceChannel carries system announcements to every open stream.
const AnnounceChannel = "announce"

const defaultHeartbeat = 25 * time.Second

// UnreadCounter reports a user's unread notification count.
type UnreadCounter interface {
	UnreadCount(ctx context.Context, userID int64) (int64, error)
}

// Handler serves the notification stream.
type Handler struct {
	pubsub    cache.PubSub
	unread    UnreadCounter
	heartbeat time.Duration
	logger    *zap.Logger
}

// NewHandler creates a new SSE Handler.
func NewHandler(pubsub cache.PubSub, unread UnreadCounter, heartbeat time.Duration, logger *zap.Logger) *Handler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &Handler{pubsub: pubsub, unread: unread, heartbeat: heartbeat, logger: logger}
}

// Stream handles GET /api/v1/notifications/stream. It must run behind
// middleware.StreamAuth.
//
// Events: "connected" with the current unread count, "notification" with
// each new notification as JSON, and "announce" for system announcements.
func (h *Handler) Stream(c *gin.Context) {
	userID := mw.GetUserID(c)

	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()

	msgCh, unsub, err := h.pubsub.Subscribe(subCtx, notify.Channel(userID), AnnounceChannel)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Int64("user_id", userID), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Server error"})
		return
	}
	defer unsub()

	unread, err := h.unread.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		h.logger.Warn("sse unread count failed", zap.Int64("user_id", userID), zap.Error(err))
	}

	metrics.StreamSubscribers.Inc()
	defer metrics.StreamSubscribers.Dec()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	fmt.Fprintf(c.Writer, "event: connected\ndata: {\"unreadCount\":%d}\n\n", unread)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			event := "notification"
			if msg.Channel == AnnounceChannel {
				event = "announce"
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, msg.Payload)
			c.Writer.Flush()

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}

// Announce publishes an announcement to every open stream.
func (h *Handler) Announce(ctx context.Context, message string) error {
	payload, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return err
	}
	return h.pubsub.Publish(ctx, AnnounceChannel, string(payload))
}
