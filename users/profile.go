package users

import (
	"context"
	"strings"

	"github.com/connectsphere/server/apperr"
	"github.com/connectsphere/server/model"
	"gorm.io/gorm"
)

// ProfileUpdate carries editable profile fields. Nil fields are left unchanged.
type ProfileUpdate struct {
	Name         *string
	Bio          *string
	Location     *string
	Website      *string
	ProfileImage *string
	CoverImage   *string
}

func (p ProfileUpdate) columns() map[string]interface{} {
	cols := make(map[string]interface{})
	set := func(col string, v *string) {
		if v != nil {
			cols[col] = strings.TrimSpace(*v)
		}
	}
	set("name", p.Name)
	set("bio", p.Bio)
	set("location", p.Location)
	set("website", p.Website)
	set("profile_image", p.ProfileImage)
	set("cover_image", p.CoverImage)
	return cols
}

// UpdateProfile applies p to user id and returns the stored result.
func (d *Directory) UpdateProfile(ctx context.Context, id int64, p ProfileUpdate) (*model.User, error) {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return nil, apperr.Validationf("Name cannot be empty")
	}
	if p.Bio != nil && len([]rune(*p.Bio)) > 160 {
		return nil, apperr.Validationf("Bio cannot be more than 160 characters")
	}
	if cols := p.columns(); len(cols) > 0 {
		res := d.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Updates(cols)
		if res.Error != nil {
			return nil, apperr.Wrap(res.Error, "update profile")
		}
	}
	u, err := d.Get(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(err, "load profile")
	}
	if u == nil {
		return nil, apperr.NotFoundf("User not found")
	}
	return u, nil
}

// SearchPage is one page of user search results.
type SearchPage struct {
	Users       []model.UserSummary `json:"users"`
	Total       int64               `json:"total"`
	CurrentPage int                 `json:"currentPage"`
	TotalPages  int                 `json:"totalPages"`
}

// escapeLike quotes LIKE wildcards using '!' as the escape character.
func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}

// Search matches q against name and username, case-insensitively, skipping
// the ids in exclude.
func (d *Directory) Search(ctx context.Context, q string, exclude []int64, pg model.Page) (*SearchPage, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, apperr.Validationf("Search query is required")
	}
	pg = pg.Normalize()
	pattern := "%" + strings.ToLower(escapeLike(q)) + "%"
	query := func() *gorm.DB {
		db := d.db.WithContext(ctx).Model(&model.User{}).
			Where("(LOWER(name) LIKE ? ESCAPE '!' OR LOWER(username) LIKE ? ESCAPE '!')", pattern, pattern).
			Where("status = ?", model.UserStatusActive)
		if len(exclude) > 0 {
			db = db.Where("id NOT IN ?", exclude)
		}
		return db
	}
	var total int64
	if err := query().Count(&total).Error; err != nil {
		return nil, apperr.Wrap(err, "count users")
	}
	var rows []model.User
	if err := query().Select("id", "name", "username", "profile_image").
		Order("username ASC").
		Offset(pg.Offset()).Limit(pg.Limit).
		Find(&rows).Error; err != nil {
		return nil, apperr.Wrap(err, "search users")
	}
	out := make([]model.UserSummary, len(rows))
	for i := range rows {
		out[i] = rows[i].Summary()
	}
	return &SearchPage{Users: out, Total: total, CurrentPage: pg.Page, TotalPages: pg.TotalPages(total)}, nil
}
