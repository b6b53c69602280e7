package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"signaling-service/internal/models"
)

var ErrChatNotFound = errors.New("chat not found")

// ChatRepository abstracts chat persistence.
type ChatRepository interface {
	CreateChat(ctx context.Context, chat models.Chat) (models.Chat, error)
	GetChat(ctx context.Context, chatID string) (models.Chat, error)
	ChatsForUser(ctx context.Context, userID string) ([]models.Chat, error)
	SetLastMessage(ctx context.Context, chatID string, messageID *string) error
	SetOngoingCall(ctx context.Context, chatID string, summary *models.CallSummary) error
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

type chatRow struct {
	models.Chat
	OngoingCallRaw []byte `db:"ongoing_call"`
}

func (r chatRow) toChat() (models.Chat, error) {
	chat := r.Chat
	if len(r.OngoingCallRaw) > 0 {
		var summary models.CallSummary
		if err := json.Unmarshal(r.OngoingCallRaw, &summary); err != nil {
			return models.Chat{}, fmt.Errorf("decode ongoing_call: %w", err)
		}
		chat.OngoingCall = &summary
	}
	return chat, nil
}

// CreateChat stores a new chat.
func (r *ChatRepo) CreateChat(ctx context.Context, chat models.Chat) (models.Chat, error) {
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO chats (id, name, type, member_ids) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		chat.ID, chat.Name, chat.Type, chat.MemberIDs).Scan(&chat.CreatedAt)
	return chat, err
}

// GetChat fetches a chat by id.
func (r *ChatRepo) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	var row chatRow
	err := r.db.GetContext(ctx, &row,
		`SELECT id, name, type, member_ids, last_message_id, ongoing_call, created_at FROM chats WHERE id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	if err != nil {
		return models.Chat{}, err
	}
	return row.toChat()
}

// ChatsForUser returns all chats the user is a member of, newest first.
func (r *ChatRepo) ChatsForUser(ctx context.Context, userID string) ([]models.Chat, error) {
	var rows []chatRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, name, type, member_ids, last_message_id, ongoing_call, created_at FROM chats
         WHERE $1 = ANY(member_ids) ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}

	chats := make([]models.Chat, 0, len(rows))
	for _, row := range rows {
		chat, err := row.toChat()
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, nil
}

// SetLastMessage updates the chat's last-message reference. A nil messageID
// clears it.
func (r *ChatRepo) SetLastMessage(ctx context.Context, chatID string, messageID *string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chats SET last_message_id=$2 WHERE id=$1`, chatID, messageID)
	if err != nil {
		return err
	}
	return requireRow(res, ErrChatNotFound)
}

// SetOngoingCall stores or clears the embedded call summary.
func (r *ChatRepo) SetOngoingCall(ctx context.Context, chatID string, summary *models.CallSummary) error {
	var raw []byte
	if summary != nil {
		var err error
		if raw, err = json.Marshal(summary); err != nil {
			return err
		}
	}
	res, err := r.db.ExecContext(ctx, `UPDATE chats SET ongoing_call=$2 WHERE id=$1`, chatID, raw)
	if err != nil {
		return err
	}
	return requireRow(res, ErrChatNotFound)
}

func requireRow(res sql.Result, notFound error) error {
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return notFound
	}
	return nil
}
