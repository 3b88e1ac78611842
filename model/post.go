package model

import (
	"time"

	"gorm.io/datatypes"
)

// PostPrivacy controls who can see a post.
type PostPrivacy string

const (
	PrivacyPublic  PostPrivacy = "public"
	PrivacyFriends PostPrivacy = "friends"
	PrivacyPrivate PostPrivacy = "private"
)

// Valid reports whether p is a known privacy level.
func (p PostPrivacy) Valid() bool {
	return p == PrivacyPublic || p == PrivacyFriends || p == PrivacyPrivate
}

// Post is a status update authored by a user.
type Post struct {
	ID          int64                       `gorm:"primaryKey;autoIncrement" json:"id"`
	AuthorID    int64                       `gorm:"index:idx_post_author;not null" json:"authorId"`
	Content     string                      `gorm:"type:text;not null" json:"content"`
	Images      datatypes.JSONSlice[string] `json:"images"`
	Tags        datatypes.JSONSlice[string] `json:"tags"`
	EditHistory datatypes.JSONSlice[Edit]   `json:"editHistory"`
	Privacy     PostPrivacy                 `gorm:"size:16;default:'public'" json:"privacy"`
	Location    string                      `gorm:"size:128" json:"location"`
	Views       int64                       `gorm:"default:0" json:"views"`
	IsEdited    bool                        `gorm:"default:false" json:"isEdited"`
	CreatedAt   time.Time                   `gorm:"index:idx_post_author;autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time                   `gorm:"autoUpdateTime" json:"updatedAt"`
}

// PostLike records that a user liked a post.
type PostLike struct {
	PostID    int64     `gorm:"primaryKey" json:"postId"`
	UserID    int64     `gorm:"primaryKey" json:"userId"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// Comment is a reply on a post, optionally nested under another comment.
type Comment struct {
	ID          int64                     `gorm:"primaryKey;autoIncrement" json:"id"`
	PostID      int64                     `gorm:"index:idx_comment_post;not null" json:"postId"`
	AuthorID    int64                     `gorm:"index;not null" json:"authorId"`
	ParentID    *int64                    `gorm:"index" json:"parentId"`
	Content     string                    `gorm:"type:text;not null" json:"content"`
	IsEdited    bool                      `gorm:"default:false" json:"isEdited"`
	EditHistory datatypes.JSONSlice[Edit] `json:"editHistory"`
	CreatedAt   time.Time                 `gorm:"index:idx_comment_post;autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time                 `gorm:"autoUpdateTime" json:"updatedAt"`
}

// Edit is one entry of a post or comment edit history.
type Edit struct {
	Content  string    `json:"content"`
	EditedAt time.Time `json:"editedAt"`
}
