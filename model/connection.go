package model

import "time"

// ConnectionStatus is the state of a friend connection between two users.
type ConnectionStatus string

const (
	ConnectionPending  ConnectionStatus = "pending"
	ConnectionAccepted ConnectionStatus = "accepted"
	ConnectionRejected ConnectionStatus = "rejected"
	ConnectionBlocked  ConnectionStatus = "blocked"
)

// Connection is the single relationship record of an unordered user pair.
// RequesterID/RecipientID keep who initiated; PairLow/PairHigh hold the
// canonical ordering and carry the uniqueness constraint.
type Connection struct {
	ID          int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	RequesterID int64            `gorm:"index:idx_conn_requester_status,priority:1;not null" json:"requesterId"`
	RecipientID int64            `gorm:"index:idx_conn_recipient_status,priority:1;not null" json:"recipientId"`
	PairLow     int64            `gorm:"uniqueIndex:idx_conn_pair,priority:1;not null" json:"-"`
	PairHigh    int64            `gorm:"uniqueIndex:idx_conn_pair,priority:2;not null" json:"-"`
	Status      ConnectionStatus `gorm:"size:16;not null;default:'pending';index:idx_conn_requester_status,priority:2;index:idx_conn_recipient_status,priority:2" json:"status"`
	BlockedBy   *int64           `json:"blockedBy"`
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time        `gorm:"autoUpdateTime" json:"updatedAt"`
}

// NewConnection builds a connection initiated by requester with its pair key set.
func NewConnection(requester, recipient int64, status ConnectionStatus) *Connection {
	low, high := PairKey(requester, recipient)
	return &Connection{
		RequesterID: requester,
		RecipientID: recipient,
		PairLow:     low,
		PairHigh:    high,
		Status:      status,
	}
}

// PairKey returns the canonical (low, high) ordering of two user ids.
func PairKey(a, b int64) (int64, int64) {
	if a < b {
		return a, b
	}
	return b, a
}

// Involves reports whether userID is one of the two participants.
func (c *Connection) Involves(userID int64) bool {
	return c.RequesterID == userID || c.RecipientID == userID
}

// Counterpart returns the participant that is not userID.
func (c *Connection) Counterpart(userID int64) int64 {
	if c.RequesterID == userID {
		return c.RecipientID
	}
	return c.RequesterID
}
