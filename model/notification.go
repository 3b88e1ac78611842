package model

import "time"

// NotificationType classifies what happened.
type NotificationType string

const (
	NotifyLike          NotificationType = "like"
	NotifyComment       NotificationType = "comment"
	NotifyFollow        NotificationType = "follow"
	NotifyMention       NotificationType = "mention"
	NotifyShare         NotificationType = "share"
	NotifyFriendRequest NotificationType = "friend_request"
)

// Valid reports whether t is a known notification type.
func (t NotificationType) Valid() bool {
	switch t {
	case NotifyLike, NotifyComment, NotifyFollow, NotifyMention, NotifyShare, NotifyFriendRequest:
		return true
	}
	return false
}

// Notification is an inbox entry addressed to one user.
type Notification struct {
	ID          int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	RecipientID int64            `gorm:"index:idx_notif_recipient;not null" json:"recipientId"`
	SenderID    int64            `gorm:"not null" json:"senderId"`
	Type        NotificationType `gorm:"size:32;not null" json:"type"`
	PostID      *int64           `json:"postId"`
	CommentID   *int64           `json:"commentId"`
	Read        bool             `gorm:"column:is_read;index;default:false" json:"read"`
	Message     string           `gorm:"size:255;not null" json:"message"`
	Link        string           `gorm:"size:255;not null" json:"link"`
	CreatedAt   time.Time        `gorm:"index:idx_notif_recipient;autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time        `gorm:"autoUpdateTime" json:"updatedAt"`
}
