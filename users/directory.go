// Package users resolves user ids into the public summaries embedded in
// connections, posts and notifications.
package users

import (
	"context"
	"errors"

	"github.com/connectsphere/server/model"
	"gorm.io/gorm"
)

// Directory looks up users by id.
type Directory struct {
	db *gorm.DB
}

func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

// Get returns the user with id, or (nil, nil) when there is none.
func (d *Directory) Get(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	err := d.db.WithContext(ctx).First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Exists reports whether a user with id exists.
func (d *Directory) Exists(ctx context.Context, id int64) (bool, error) {
	var n int64
	err := d.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}

// Summaries returns the summaries of ids keyed by id. Unknown ids are absent
// from the map.
func (d *Directory) Summaries(ctx context.Context, ids []int64) (map[int64]model.UserSummary, error) {
	out := make(map[int64]model.UserSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []model.User
	err := d.db.WithContext(ctx).
		Select("id", "name", "username", "profile_image").
		Where("id IN ?", unique(ids)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for i := range rows {
		out[rows[i].ID] = rows[i].Summary()
	}
	return out, nil
}

// Summary resolves a single id. Missing users yield a summary with only the id set.
func (d *Directory) Summary(ctx context.Context, id int64) (model.UserSummary, error) {
	m, err := d.Summaries(ctx, []int64{id})
	if err != nil {
		return model.UserSummary{}, err
	}
	if s, ok := m[id]; ok {
		return s, nil
	}
	return model.UserSummary{ID: id}, nil
}

func unique(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
