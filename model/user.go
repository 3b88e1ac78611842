package model

import "time"

// User roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User account status.
const (
	UserStatusBanned = 0
	UserStatusActive = 1
)

// User represents a registered account.
type User struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Email        string     `gorm:"uniqueIndex;size:128;not null" json:"email"`
	Username     string     `gorm:"uniqueIndex;size:32;not null" json:"username"`
	Name         string     `gorm:"size:64;not null" json:"name"`
	PasswordHash string     `gorm:"size:64;not null" json:"-"`
	Bio          string     `gorm:"size:160" json:"bio"`
	Location     string     `gorm:"size:128" json:"location"`
	Website      string     `gorm:"size:255" json:"website"`
	ProfileImage string     `gorm:"size:255" json:"profileImage"`
	CoverImage   string     `gorm:"size:255" json:"coverImage"`
	Role         string     `gorm:"size:16;default:'user'" json:"role"`
	Status       int        `gorm:"default:1" json:"status"` // 0=banned 1=active
	LastActiveAt *time.Time `json:"lastActiveAt"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

// Summary projects the public identity fields of u.
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:           u.ID,
		Name:         u.Name,
		Username:     u.Username,
		ProfileImage: u.ProfileImage,
	}
}

// UserSummary is the embedded form of a user in connections, posts and notifications.
type UserSummary struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Username     string `json:"username"`
	ProfileImage string `json:"profileImage"`
}
