// Package audit records relationship transitions and account events.
// Writes are batched on a background goroutine so request handlers never
// wait on the audit table.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/connectsphere/server/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Actions written by the HTTP layer.
const (
	ActionSignup          = "auth.signup"
	ActionLogin           = "auth.login"
	ActionLoginFailed     = "auth.login_failed"
	ActionLogout          = "auth.logout"
	ActionRequestSent     = "connection.request"
	ActionRequestAccepted = "connection.accept"
	ActionRequestRejected = "connection.reject"
	ActionBlocked         = "connection.block"
	ActionUnblocked       = "connection.unblock"
	ActionUserBanned      = "admin.ban"
)

const (
	queueSize     = 1024
	batchSize     = 100
	flushInterval = 2 * time.Second
)

// Entry holds one audit event to be logged.
type Entry struct {
	TraceID  string
	UserID   int64 // 0 when anonymous
	TargetID int64 // 0 when not applicable
	Action   string
	Request  interface{}
	Response interface{}
	Error    string
	IP       string
	Duration time.Duration
}

// Service logs audit entries asynchronously in batches.
type Service struct {
	db       *gorm.DB
	ch       chan *model.AuditLog
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// New creates a new audit Service and starts its background worker.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	svc := &Service{
		db:     db,
		ch:     make(chan *model.AuditLog, queueSize),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

func optionalID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func marshal(v interface{}) datatypes.JSON {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// Log enqueues an audit entry. It never blocks: when the queue is full the
// entry is dropped with a warning.
func (svc *Service) Log(e Entry) {
	record := &model.AuditLog{
		TraceID:    e.TraceID,
		UserID:     optionalID(e.UserID),
		TargetID:   optionalID(e.TargetID),
		Action:     e.Action,
		Request:    marshal(e.Request),
		Response:   marshal(e.Response),
		Error:      e.Error,
		IP:         e.IP,
		DurationMs: int(e.Duration.Milliseconds()),
	}
	select {
	case svc.ch <- record:
	default:
		svc.logger.Warn("audit queue full, dropping entry",
			zap.String("action", e.Action), zap.String("trace_id", e.TraceID))
	}
}

// ForUser returns the most recent entries where userID is the actor.
func (svc *Service) ForUser(ctx context.Context, userID int64, limit int) ([]model.AuditLog, error) {
	var logs []model.AuditLog
	err := svc.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// Stop flushes remaining entries and shuts down the worker.
// It blocks until the worker goroutine has finished and is safe to call twice.
func (svc *Service) Stop(_ context.Context) {
	svc.stopOnce.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*model.AuditLog, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("audit batch write failed",
				zap.Int("entries", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-svc.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			for {
				select {
				case entry := <-svc.ch:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}
