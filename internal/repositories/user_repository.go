package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"signaling-service/internal/models"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrDuplicate    = errors.New("duplicate unique field")
)

// UserRepository provides read access to the user directory.
type UserRepository interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	GetUser(ctx context.Context, userID string) (models.User, error)
	BulkUsers(ctx context.Context, ids []string) ([]models.User, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// CreateUser stores a user record.
func (r *UserRepo) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO users (id, username, email, avatar_url) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		user.ID, user.Username, user.Email, user.AvatarURL).Scan(&user.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return models.User{}, ErrDuplicate
	}
	return user, err
}

// GetUser fetches a user by id.
func (r *UserRepo) GetUser(ctx context.Context, userID string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user,
		`SELECT id, username, email, avatar_url, created_at FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// BulkUsers fetches users by id set, used to populate referenced senders and
// participants after a primary read.
func (r *UserRepo) BulkUsers(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []models.User
	err := r.db.SelectContext(ctx, &users,
		`SELECT id, username, email, avatar_url, created_at FROM users WHERE id = ANY($1)`, pq.StringArray(ids))
	return users, err
}
