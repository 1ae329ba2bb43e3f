package chat

import (
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleBot   Role = "bot"
	RoleAdmin Role = "admin"
)

// ParseSender maps the client-supplied sender type of an inbound message to a Role.
// An empty sender is a visitor. Bot is never a valid inbound sender.
func ParseSender(senderType string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(senderType)) {
	case "", string(RoleUser):
		return RoleUser, nil
	case string(RoleAdmin):
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("%w: unsupported senderType %q", ErrValidation, senderType)
	}
}

type Session struct {
	SessionID      string    `gorm:"primaryKey;type:varchar(36)" json:"sessionId"`
	CreatedAt      time.Time `gorm:"not null" json:"createdAt"`
	LastActivityAt time.Time `gorm:"index;not null" json:"lastActivityAt"`
}

func (Session) TableName() string { return "chat_sessions" }

type Message struct {
	ID         string    `gorm:"primaryKey;type:varchar(26)" json:"id"`
	SessionID  string    `gorm:"type:varchar(36);not null;uniqueIndex:uniq_chat_msg_seq,priority:1" json:"sessionId"`
	Seq        uint64    `gorm:"not null;uniqueIndex:uniq_chat_msg_seq,priority:2" json:"seq"`
	Role       Role      `gorm:"type:varchar(16);index;not null" json:"role"`
	Text       string    `gorm:"type:text;not null" json:"text"`
	Confidence *float64  `json:"confidence,omitempty"`
	Timestamp  time.Time `gorm:"not null" json:"timestamp"`
}

func (Message) TableName() string { return "chat_messages" }

// Transcript is a session together with its full message log.
// Session is nil when the id has never been created.
type Transcript struct {
	SessionID string
	Session   *Session
	Messages  []Message
}
