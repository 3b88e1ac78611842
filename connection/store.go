package connection

import (
	"context"
	"errors"

	"github.com/connectsphere/server/model"
	"gorm.io/gorm"
)

// ErrDuplicatePair is returned by Store.Create when a record for the
// unordered pair already exists.
var ErrDuplicatePair = errors.New("connection: pair already exists")

// Store persists connection records.
type Store interface {
	Create(ctx context.Context, c *model.Connection) error
	// Get returns the record with id, or (nil, nil).
	Get(ctx context.Context, id int64) (*model.Connection, error)
	// Between returns the record for the unordered pair {a, b}, or (nil, nil).
	Between(ctx context.Context, a, b int64) (*model.Connection, error)
	// Save persists the status and blockedBy of an existing record.
	Save(ctx context.Context, c *model.Connection) error
	ListAccepted(ctx context.Context, userID int64, offset, limit int) ([]model.Connection, int64, error)
	ListPending(ctx context.Context, userID int64, offset, limit int) ([]model.Connection, int64, error)
	// Counterparts returns the other participant of every record of userID in status.
	Counterparts(ctx context.Context, userID int64, status model.ConnectionStatus) ([]int64, error)
	CountByStatus(ctx context.Context) (map[model.ConnectionStatus]int64, error)
}

// GormStore is the Store backed by the connections table.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, c *model.Connection) error {
	c.PairLow, c.PairHigh = model.PairKey(c.RequesterID, c.RecipientID)
	err := s.db.WithContext(ctx).Create(c).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicatePair
	}
	return err
}

func (s *GormStore) first(ctx context.Context, query string, args ...interface{}) (*model.Connection, error) {
	var c model.Connection
	err := s.db.WithContext(ctx).Where(query, args...).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *GormStore) Get(ctx context.Context, id int64) (*model.Connection, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *GormStore) Between(ctx context.Context, a, b int64) (*model.Connection, error) {
	low, high := model.PairKey(a, b)
	return s.first(ctx, "pair_low = ? AND pair_high = ?", low, high)
}

func (s *GormStore) Save(ctx context.Context, c *model.Connection) error {
	return s.db.WithContext(ctx).Model(c).Select("Status", "BlockedBy").Updates(c).Error
}

func (s *GormStore) ListAccepted(ctx context.Context, userID int64, offset, limit int) ([]model.Connection, int64, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		return db.Where("status = ? AND (requester_id = ? OR recipient_id = ?)", model.ConnectionAccepted, userID, userID)
	}
	return s.page(ctx, scope, "id ASC", offset, limit)
}

func (s *GormStore) ListPending(ctx context.Context, userID int64, offset, limit int) ([]model.Connection, int64, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		return db.Where("status = ? AND recipient_id = ?", model.ConnectionPending, userID)
	}
	return s.page(ctx, scope, "created_at DESC, id DESC", offset, limit)
}

func (s *GormStore) page(ctx context.Context, scope func(*gorm.DB) *gorm.DB, order string, offset, limit int) ([]model.Connection, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&model.Connection{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []model.Connection
	err := s.db.WithContext(ctx).Scopes(scope).Order(order).Offset(offset).Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (s *GormStore) Counterparts(ctx context.Context, userID int64, status model.ConnectionStatus) ([]int64, error) {
	var rows []model.Connection
	err := s.db.WithContext(ctx).
		Select("requester_id", "recipient_id").
		Where("status = ? AND (requester_id = ? OR recipient_id = ?)", status, userID, userID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(rows))
	for i := range rows {
		ids[i] = rows[i].Counterpart(userID)
	}
	return ids, nil
}

func (s *GormStore) CountByStatus(ctx context.Context) (map[model.ConnectionStatus]int64, error) {
	var rows []struct {
		Status model.ConnectionStatus
		N      int64
	}
	err := s.db.WithContext(ctx).Model(&model.Connection{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := map[model.ConnectionStatus]int64{
		model.ConnectionPending:  0,
		model.ConnectionAccepted: 0,
		model.ConnectionRejected: 0,
		model.ConnectionBlocked:  0,
	}
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
