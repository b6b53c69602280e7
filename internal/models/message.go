package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Message types.
const (
	MessageTypeText  = "text"
	MessageTypeFile  = "file"
	MessageTypeEvent = "event"
)

var ErrInvalidContent = errors.New("content shape does not match message type")

// Message represents a chat message.
type Message struct {
	ID        string         `db:"id" json:"id"`
	ChatID    string         `db:"chat_id" json:"chatId"`
	SenderID  string         `db:"sender_id" json:"senderId"`
	Type      string         `db:"type" json:"type"`
	Content   MessageContent `db:"content" json:"content"`
	ReadBy    ReadReceipts   `db:"read_by" json:"readBy"`
	CreatedAt time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time      `db:"updated_at" json:"updatedAt"`
}

// FileEntry is one attachment inside a file message.
type FileEntry struct {
	Content   string `json:"content"`
	FileID    string `json:"fileId"`
	MediaType string `json:"mediaType"`
}

// ReadReceipt marks a message as read by a user.
type ReadReceipt struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadReceipts is the JSONB-backed receipt list.
type ReadReceipts []ReadReceipt

func (r ReadReceipts) Value() (driver.Value, error) {
	if r == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r)
}

func (r *ReadReceipts) Scan(src any) error {
	if src == nil {
		*r = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return errors.New("read_by: expected []byte")
	}
	return json.Unmarshal(b, r)
}

// Contains reports whether a receipt for the user already exists.
func (r ReadReceipts) Contains(userID string) bool {
	for _, receipt := range r {
		if receipt.UserID == userID {
			return true
		}
	}
	return false
}

// MessageContent is the tagged content variant: a plain string for text and
// event messages, an ordered list of file entries for file messages. The shape
// is fixed at the deserialization boundary, not by runtime checks downstream.
type MessageContent struct {
	Text  string      `json:"-"`
	Files []FileEntry `json:"-"`
}

// TextContent builds a text-shaped content value.
func TextContent(text string) MessageContent {
	return MessageContent{Text: text}
}

// FileContent builds a file-shaped content value.
func FileContent(files []FileEntry) MessageContent {
	return MessageContent{Files: files}
}

// IsFile reports whether the content carries file entries.
func (c MessageContent) IsFile() bool {
	return c.Files != nil
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.IsFile() {
		return json.Marshal(c.Files)
	}
	return json.Marshal(c.Text)
}

func (c *MessageContent) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var files []FileEntry
		if err := json.Unmarshal(trimmed, &files); err != nil {
			return err
		}
		*c = MessageContent{Files: files}
		return nil
	}
	var text string
	if err := json.Unmarshal(trimmed, &text); err != nil {
		return err
	}
	*c = MessageContent{Text: text}
	return nil
}

func (c MessageContent) Value() (driver.Value, error) {
	return c.MarshalJSON()
}

func (c *MessageContent) Scan(src any) error {
	if src == nil {
		*c = MessageContent{}
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return errors.New("content: expected []byte")
	}
	return c.UnmarshalJSON(b)
}

// ParseContent decodes raw content for the declared message type and rejects
// mismatched shapes.
func ParseContent(msgType string, raw json.RawMessage) (MessageContent, error) {
	var content MessageContent
	if err := content.UnmarshalJSON(raw); err != nil {
		return MessageContent{}, fmt.Errorf("decode content: %w", err)
	}
	if err := ValidateContent(msgType, content); err != nil {
		return MessageContent{}, err
	}
	return content, nil
}

// ValidateContent checks that the content shape matches the message type.
func ValidateContent(msgType string, content MessageContent) error {
	switch msgType {
	case MessageTypeFile:
		if !content.IsFile() || len(content.Files) == 0 {
			return ErrInvalidContent
		}
		for _, f := range content.Files {
			if f.FileID == "" {
				return ErrInvalidContent
			}
		}
	case MessageTypeText, MessageTypeEvent:
		if content.IsFile() {
			return ErrInvalidContent
		}
	default:
		return fmt.Errorf("unknown message type %q", msgType)
	}
	return nil
}
