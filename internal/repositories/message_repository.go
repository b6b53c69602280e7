package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"signaling-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	MessagesForChat(ctx context.Context, chatID string) ([]models.Message, error)
	LatestMessage(ctx context.Context, chatID string) (models.Message, error)
	UpdateContent(ctx context.Context, messageID string, content models.MessageContent) (models.Message, error)
	MarkRead(ctx context.Context, chatID, userID string, at time.Time) ([]models.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, chat_id, sender_id, type, content, read_by, created_at, updated_at`

// CreateMessage stores a message.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (id, chat_id, sender_id, type, content) VALUES ($1, $2, $3, $4, $5)
         RETURNING created_at, updated_at`,
		msg.ID, msg.ChatID, msg.SenderID, msg.Type, msg.Content).
		Scan(&msg.CreatedAt, &msg.UpdatedAt)
	if msg.ReadBy == nil {
		msg.ReadBy = models.ReadReceipts{}
	}
	return msg, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg,
		`SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// MessagesForChat returns ordered chat messages.
func (r *MessageRepo) MessagesForChat(ctx context.Context, chatID string) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM messages WHERE chat_id=$1 ORDER BY created_at ASC`, chatID)
	return msgs, err
}

// LatestMessage returns the newest message of a chat.
func (r *MessageRepo) LatestMessage(ctx context.Context, chatID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg,
		`SELECT `+messageColumns+` FROM messages WHERE chat_id=$1 ORDER BY created_at DESC LIMIT 1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// UpdateContent replaces the message content.
func (r *MessageRepo) UpdateContent(ctx context.Context, messageID string, content models.MessageContent) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg,
		`UPDATE messages SET content=$2, updated_at=NOW() WHERE id=$1 RETURNING `+messageColumns, messageID, content)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// MarkRead appends a read receipt to every message in the chat that was not
// authored by the reader and not read by them yet, returning the updated rows.
func (r *MessageRepo) MarkRead(ctx context.Context, chatID, userID string, at time.Time) ([]models.Message, error) {
	receipt, err := json.Marshal(models.ReadReceipts{{UserID: userID, Timestamp: at}})
	if err != nil {
		return nil, err
	}
	probe, err := json.Marshal([]map[string]string{{"userId": userID}})
	if err != nil {
		return nil, err
	}

	var msgs []models.Message
	err = r.db.SelectContext(ctx, &msgs,
		`UPDATE messages SET read_by = read_by || $3::jsonb
         WHERE chat_id=$1 AND sender_id<>$2 AND NOT read_by @> $4::jsonb
         RETURNING `+messageColumns,
		chatID, userID, receipt, probe)
	return msgs, err
}

// DeleteMessage removes a message.
func (r *MessageRepo) DeleteMessage(ctx context.Context, messageID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id=$1`, messageID)
	if err != nil {
		return err
	}
	return requireRow(res, ErrMessageNotFound)
}
