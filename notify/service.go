// Package notify stores notifications and fans them out to live streams.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/connectsphere/server/apperr"
	"github.com/connectsphere/server/cache"
	"github.com/connectsphere/server/metrics"
	mw "github.com/connectsphere/server/middleware"
	"github.com/connectsphere/server/model"
	"github.com/connectsphere/server/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultUnreadTTL = 30 * time.Second

// Channel is the pub/sub channel carrying userID's new notifications.
func Channel(userID int64) string {
	return "notify:" + strconv.FormatInt(userID, 10)
}

func unreadKey(userID int64) string {
	return "notify:unread:" + strconv.FormatInt(userID, 10)
}

// unreadVersionKey counts invalidations of userID's unread count. A cached
// count is only served while its recorded version is still current.
func unreadVersionKey(userID int64) string {
	return "notify:unread:ver:" + strconv.FormatInt(userID, 10)
}

// Directory projects sender summaries.
type Directory interface {
	Summaries(ctx context.Context, ids []int64) (map[int64]model.UserSummary, error)
}

// View is a notification with its sender projected.
type View struct {
	ID          int64                  `json:"id"`
	RecipientID int64                  `json:"recipientId"`
	Sender      model.UserSummary      `json:"sender"`
	Type        model.NotificationType `json:"type"`
	PostID      *int64                 `json:"postId"`
	CommentID   *int64                 `json:"commentId"`
	Read        bool                   `json:"read"`
	Message     string                 `json:"message"`
	Link        string                 `json:"link"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

// ListPage is one page of a user's inbox.
type ListPage struct {
	Notifications []View `json:"notifications"`
	Total         int64  `json:"total"`
	UnreadCount   int64  `json:"unreadCount"`
	CurrentPage   int    `json:"currentPage"`
	TotalPages    int    `json:"totalPages"`
}

// Service owns the notifications table.
type Service struct {
	db        *gorm.DB
	cache     cache.Cache
	pubsub    cache.PubSub
	dir       Directory
	unreadTTL time.Duration
	logger    *zap.Logger
}

func NewService(db *gorm.DB, c cache.Cache, ps cache.PubSub, dir Directory, unreadTTL time.Duration, logger *zap.Logger) *Service {
	if unreadTTL <= 0 {
		unreadTTL = defaultUnreadTTL
	}
	return &Service{db: db, cache: c, pubsub: ps, dir: dir, unreadTTL: unreadTTL, logger: logger}
}

func validate(n *model.Notification) error {
	var missing []string
	if n.RecipientID <= 0 {
		missing = append(missing, "recipient")
	}
	if n.SenderID <= 0 {
		missing = append(missing, "sender")
	}
	if !n.Type.Valid() {
		missing = append(missing, "type")
	}
	if strings.TrimSpace(n.Message) == "" {
		missing = append(missing, "message")
	}
	if strings.TrimSpace(n.Link) == "" {
		missing = append(missing, "link")
	}
	if len(missing) > 0 {
		return apperr.Validationf("notification is missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Emit appends n and returns once the write is durable. Live delivery and
// unread-count invalidation happen afterwards and never fail the call.
func (s *Service) Emit(ctx context.Context, n *model.Notification) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "notify.Emit",
		attribute.Int64("recipient", n.RecipientID), attribute.String("type", string(n.Type)))
	defer func() { telemetry.End(span, err) }()

	if err := validate(n); err != nil {
		return err
	}
	n.Read = false
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return apperr.Wrap(err, "create notification")
	}
	metrics.NotificationsEmitted.WithLabelValues(string(n.Type)).Inc()

	s.invalidate(ctx, n.RecipientID)
	s.publish(ctx, n)
	return nil
}

func (s *Service) invalidate(ctx context.Context, userID int64) {
	if _, err := s.cache.Incr(ctx, unreadVersionKey(userID)); err != nil {
		s.logger.Warn("unread count version bump failed", zap.Int64("user_id", userID), zap.Error(err))
	}
	if err := s.cache.Del(ctx, unreadKey(userID)); err != nil {
		s.logger.Warn("unread count invalidation failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// unreadVersion returns the current invalidation version, "0" before the
// first write. ok is false when the cache cannot be trusted.
func (s *Service) unreadVersion(ctx context.Context, userID int64) (ver string, ok bool) {
	v, err := s.cache.Get(ctx, unreadVersionKey(userID))
	switch {
	case err == nil:
		return v, true
	case cache.IsMiss(err):
		return "0", true
	default:
		s.logger.Warn("unread count version read failed", zap.Int64("user_id", userID), zap.Error(err))
		return "", false
	}
}

func (s *Service) publish(ctx context.Context, n *model.Notification) {
	views, err := s.project(ctx, []model.Notification{*n})
	if err != nil {
		s.logger.Warn("notification projection failed", zap.Int64("notification_id", n.ID), zap.Error(err))
		return
	}
	payload, err := json.Marshal(views[0])
	if err != nil {
		return
	}
	if err := s.pubsub.Publish(ctx, Channel(n.RecipientID), string(payload)); err != nil {
		s.logger.Warn("notification publish failed",
			zap.Int64("notification_id", n.ID),
			zap.String("trace_id", mw.TraceIDFromContext(ctx)),
			zap.Error(err))
	}
}

func (s *Service) project(ctx context.Context, rows []model.Notification) ([]View, error) {
	ids := make([]int64, len(rows))
	for i := range rows {
		ids[i] = rows[i].SenderID
	}
	senders, err := s.dir.Summaries(ctx, ids)
	if err != nil {
		return nil, err
	}
	views := make([]View, len(rows))
	for i, n := range rows {
		sender, ok := senders[n.SenderID]
		if !ok {
			sender = model.UserSummary{ID: n.SenderID}
		}
		views[i] = View{
			ID:          n.ID,
			RecipientID: n.RecipientID,
			Sender:      sender,
			Type:        n.Type,
			PostID:      n.PostID,
			CommentID:   n.CommentID,
			Read:        n.Read,
			Message:     n.Message,
			Link:        n.Link,
			CreatedAt:   n.CreatedAt,
			UpdatedAt:   n.UpdatedAt,
		}
	}
	return views, nil
}

// List returns userID's notifications, newest first.
func (s *Service) List(ctx context.Context, userID int64, p model.Page) (*ListPage, error) {
	p = p.Normalize()
	var total int64
	if err := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("recipient_id = ?", userID).Count(&total).Error; err != nil {
		return nil, apperr.Wrap(err, "count notifications")
	}
	var rows []model.Notification
	if err := s.db.WithContext(ctx).
		Where("recipient_id = ?", userID).
		Order("created_at DESC, id DESC").
		Offset(p.Offset()).Limit(p.Limit).
		Find(&rows).Error; err != nil {
		return nil, apperr.Wrap(err, "list notifications")
	}
	unread, err := s.UnreadCount(ctx, userID)
	if err != nil {
		return nil, err
	}
	views, err := s.project(ctx, rows)
	if err != nil {
		return nil, apperr.Wrap(err, "load senders")
	}
	return &ListPage{
		Notifications: views,
		Total:         total,
		UnreadCount:   unread,
		CurrentPage:   p.Page,
		TotalPages:    p.TotalPages(total),
	}, nil
}

// UnreadCount returns the number of unread notifications, served from the
// cache when fresh. Cached entries are stored as "<version>:<count>"; an
// invalidation landing between the database read and the cache write bumps
// the version, so the count written afterwards is never served.
func (s *Service) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	ver, cacheOK := s.unreadVersion(ctx, userID)
	if cacheOK {
		if v, err := s.cache.Get(ctx, unreadKey(userID)); err == nil {
			if tag, count, found := strings.Cut(v, ":"); found && tag == ver {
				if n, perr := strconv.ParseInt(count, 10, 64); perr == nil {
					return n, nil
				}
			}
		} else if !cache.IsMiss(err) {
			s.logger.Warn("unread count cache read failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}

	var n int64
	if err := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("recipient_id = ? AND is_read = ?", userID, false).Count(&n).Error; err != nil {
		return 0, apperr.Wrap(err, "count unread")
	}
	if !cacheOK {
		return n, nil
	}
	if err := s.cache.Set(ctx, unreadKey(userID), ver+":"+strconv.FormatInt(n, 10), s.unreadTTL); err != nil {
		s.logger.Warn("unread count cache write failed", zap.Int64("user_id", userID), zap.Error(err))
	}
	return n, nil
}

func (s *Service) owned(ctx context.Context, id, userID int64, verb string) (*model.Notification, error) {
	var n model.Notification
	err := s.db.WithContext(ctx).First(&n, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFoundf("Notification not found")
	}
	if err != nil {
		return nil, apperr.Wrap(err, "load notification")
	}
	if n.RecipientID != userID {
		return nil, apperr.Forbiddenf("You are not authorized to %s this notification", verb)
	}
	return &n, nil
}

// MarkRead marks one of userID's notifications as read.
func (s *Service) MarkRead(ctx context.Context, id, userID int64) (*View, error) {
	n, err := s.owned(ctx, id, userID, "mark as read")
	if err != nil {
		return nil, err
	}
	if !n.Read {
		if err := s.db.WithContext(ctx).Model(n).Update("is_read", true).Error; err != nil {
			return nil, apperr.Wrap(err, "mark read")
		}
		n.Read = true
		s.invalidate(ctx, userID)
	}
	views, err := s.project(ctx, []model.Notification{*n})
	if err != nil {
		return nil, apperr.Wrap(err, "load sender")
	}
	return &views[0], nil
}

// MarkAllRead marks every unread notification of userID as read and
// returns how many changed.
func (s *Service) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("recipient_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, apperr.Wrap(res.Error, "mark all read")
	}
	s.invalidate(ctx, userID)
	return res.RowsAffected, nil
}

// Delete removes one of userID's notifications.
func (s *Service) Delete(ctx context.Context, id, userID int64) error {
	n, err := s.owned(ctx, id, userID, "delete")
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(n).Error; err != nil {
		return apperr.Wrap(err, "delete notification")
	}
	if !n.Read {
		s.invalidate(ctx, userID)
	}
	return nil
}

// Prune deletes read notifications created before cutoff.
func (s *Service) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("is_read = ? AND created_at < ?", true, cutoff).
		Delete(&model.Notification{})
	if res.Error != nil {
		return 0, res.Error
	}
	metrics.NotificationsPruned.Add(float64(res.RowsAffected))
	return res.RowsAffected, nil
}

const pruneLockKey = "lock:notification_prune"

// PruneExpired runs Prune for notifications older than retention. When
// several instances share a cache only the one holding the lock prunes.
func (s *Service) PruneExpired(ctx context.Context, retention time.Duration) error {
	ok, err := s.cache.SetNX(ctx, pruneLockKey, "1", time.Minute)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	defer func() {
		if err := s.cache.Del(context.WithoutCancel(ctx), pruneLockKey); err != nil {
			s.logger.Warn("prune lock release failed", zap.Error(err))
		}
	}()
	n, err := s.Prune(ctx, time.Now().Add(-retention))
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("pruned read notifications", zap.Int64("count", n))
	}
	return nil
}
