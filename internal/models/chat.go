package models

import (
	"time"

	"github.com/lib/pq"
)

// Chat types.
const (
	ChatTypeGroup = "group"
	ChatTypeDM    = "dm"
)

// Chat represents a conversation between two or more users.
type Chat struct {
	ID            string         `db:"id" json:"id"`
	Name          string         `db:"name" json:"name,omitempty"`
	Type          string         `db:"type" json:"type"`
	MemberIDs     pq.StringArray `db:"member_ids" json:"memberIds"`
	LastMessageID *string        `db:"last_message_id" json:"lastMessageId,omitempty"`
	OngoingCall   *CallSummary   `db:"-" json:"ongoingCall,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"createdAt"`
}

// HasMember reports whether the user belongs to the chat.
func (c Chat) HasMember(userID string) bool {
	for _, id := range c.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// CallSummary is the ongoing-call view embedded in a chat.
type CallSummary struct {
	CallID    string    `json:"callId"`
	StartedAt time.Time `json:"startedAt"`
}
