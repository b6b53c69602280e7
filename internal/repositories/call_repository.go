package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"signaling-service/internal/models"
)

var ErrCallNotFound = errors.New("call not found")

// IceWrite is one batched ICE candidate update: candidates from one
// participant addressed to one recipient.
type IceWrite struct {
	From       string
	To         string
	Kind       string
	Candidates []string
}

// CallMutation tells MutateCall what to do with the mutated document.
type CallMutation int

const (
	CallUnchanged CallMutation = iota
	CallSave
	CallEnd
)

// CallRepository abstracts call persistence.
type CallRepository interface {
	CreateCall(ctx context.Context, call models.Call) (models.Call, error)
	GetCallByChat(ctx context.Context, chatID string) (models.Call, error)
	MutateCall(ctx context.Context, chatID string, mutate func(*models.Call) (CallMutation, error)) (models.Call, bool, error)
	AppendIceCandidates(ctx context.Context, chatID string, writes []IceWrite) error
}

// CallRepo is a sqlx implementation of CallRepository.
type CallRepo struct {
	db *sqlx.DB
}

// NewCallRepo constructs a CallRepo.
func NewCallRepo(db *sqlx.DB) *CallRepo {
	return &CallRepo{db: db}
}

// CreateCall stores a new call document.
func (r *CallRepo) CreateCall(ctx context.Context, call models.Call) (models.Call, error) {
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO calls (id, chat_id, participants) VALUES ($1, $2, $3) RETURNING created_at`,
		call.ID, call.ChatID, call.Participants).Scan(&call.CreatedAt)
	return call, err
}

// GetCallByChat fetches the call bound to a chat.
func (r *CallRepo) GetCallByChat(ctx context.Context, chatID string) (models.Call, error) {
	var call models.Call
	err := r.db.GetContext(ctx, &call,
		`SELECT id, chat_id, participants, created_at FROM calls WHERE chat_id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Call{}, ErrCallNotFound
	}
	return call, err
}

// MutateCall loads the chat's call under a row lock, applies mutate and writes
// the outcome in the same transaction, so concurrent participant changes never
// overwrite each other. CallEnd deletes the call and clears the chat's
// ongoing-call pointer atomically; the bool result reports that case.
func (r *CallRepo) MutateCall(ctx context.Context, chatID string, mutate func(*models.Call) (CallMutation, error)) (models.Call, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Call{}, false, err
	}
	defer tx.Rollback()

	var call models.Call
	err = tx.GetContext(ctx, &call,
		`SELECT id, chat_id, participants, created_at FROM calls WHERE chat_id=$1 FOR UPDATE`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Call{}, false, ErrCallNotFound
	}
	if err != nil {
		return models.Call{}, false, err
	}

	op, err := mutate(&call)
	if err != nil {
		return models.Call{}, false, err
	}

	switch op {
	case CallUnchanged:
		return call, false, nil
	case CallEnd:
		if _, err := tx.ExecContext(ctx, `DELETE FROM calls WHERE id=$1`, call.ID); err != nil {
			return models.Call{}, false, err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE chats SET ongoing_call=NULL WHERE id=$1`, chatID); err != nil {
			return models.Call{}, false, err
		}
		return call, true, tx.Commit()
	default:
		if _, err := tx.ExecContext(ctx, `UPDATE calls SET participants=$2 WHERE id=$1`, call.ID, call.Participants); err != nil {
			return models.Call{}, false, err
		}
		return call, false, tx.Commit()
	}
}

// AppendIceCandidates applies a batch of candidate writes to the chat's call in
// one transaction. Writes for users no longer in the call are silently dropped,
// as is the whole batch when the call has already ended.
func (r *CallRepo) AppendIceCandidates(ctx context.Context, chatID string, writes []IceWrite) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var call models.Call
	err = tx.GetContext(ctx, &call,
		`SELECT id, chat_id, participants, created_at FROM calls WHERE chat_id=$1 FOR UPDATE`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	changed := false
	for _, w := range writes {
		idx := call.Participants.Find(w.From)
		if idx < 0 {
			continue
		}
		entries := call.Participants[idx].Entries(w.Kind)
		entry := models.FindEntry(*entries, w.To)
		if entry == nil {
			*entries = append(*entries, models.SignalEntry{To: w.To})
			entry = &(*entries)[len(*entries)-1]
		}
		for _, candidate := range w.Candidates {
			if !containsString(entry.IceCandidates, candidate) {
				entry.IceCandidates = append(entry.IceCandidates, candidate)
				changed = true
			}
		}
	}
	if !changed {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE calls SET participants=$2 WHERE id=$1`, call.ID, call.Participants); err != nil {
		return err
	}
	return tx.Commit()
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
