package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"signaling-service/internal/models"
	"signaling-service/internal/repositories"
)

type ChatRepositoryMock struct {
	mock.Mock
}

var _ repositories.ChatRepository = (*ChatRepositoryMock)(nil)

func (m *ChatRepositoryMock) CreateChat(ctx context.Context, chat models.Chat) (models.Chat, error) {
	args := m.Called(ctx, chat)
	var out models.Chat
	if val := args.Get(0); val != nil {
		out = val.(models.Chat)
	}
	return out, args.Error(1)
}

func (m *ChatRepositoryMock) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	args := m.Called(ctx, chatID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) ChatsForUser(ctx context.Context, userID string) ([]models.Chat, error) {
	args := m.Called(ctx, userID)
	var chats []models.Chat
	if val := args.Get(0); val != nil {
		chats = val.([]models.Chat)
	}
	return chats, args.Error(1)
}

func (m *ChatRepositoryMock) SetLastMessage(ctx context.Context, chatID string, messageID *string) error {
	args := m.Called(ctx, chatID, messageID)
	return args.Error(0)
}

func (m *ChatRepositoryMock) SetOngoingCall(ctx context.Context, chatID string, summary *models.CallSummary) error {
	args := m.Called(ctx, chatID, summary)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) MessagesForChat(ctx context.Context, chatID string) ([]models.Message, error) {
	args := m.Called(ctx, chatID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) LatestMessage(ctx context.Context, chatID string) (models.Message, error) {
	args := m.Called(ctx, chatID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) UpdateContent(ctx context.Context, messageID string, content models.MessageContent) (models.Message, error) {
	args := m.Called(ctx, messageID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, chatID, userID string, at time.Time) ([]models.Message, error) {
	args := m.Called(ctx, chatID, userID, at)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) DeleteMessage(ctx context.Context, messageID string) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

type CallRepositoryMock struct {
	mock.Mock
}

var _ repositories.CallRepository = (*CallRepositoryMock)(nil)

func (m *CallRepositoryMock) CreateCall(ctx context.Context, call models.Call) (models.Call, error) {
	args := m.Called(ctx, call)
	var out models.Call
	if val := args.Get(0); val != nil {
		out = val.(models.Call)
	}
	return out, args.Error(1)
}

func (m *CallRepositoryMock) GetCallByChat(ctx context.Context, chatID string) (models.Call, error) {
	args := m.Called(ctx, chatID)
	var call models.Call
	if val := args.Get(0); val != nil {
		call = val.(models.Call)
	}
	return call, args.Error(1)
}

// MutateCall applies mutate to the call configured via Return, mirroring the
// sqlx implementation's locked read-mutate-write cycle. Return takes the
// pre-mutation call and an error.
func (m *CallRepositoryMock) MutateCall(ctx context.Context, chatID string, mutate func(*models.Call) (repositories.CallMutation, error)) (models.Call, bool, error) {
	args := m.Called(ctx, chatID, mutate)
	if err := args.Error(1); err != nil {
		return models.Call{}, false, err
	}
	var call models.Call
	if val := args.Get(0); val != nil {
		call = val.(models.Call)
	}
	op, err := mutate(&call)
	if err != nil {
		return models.Call{}, false, err
	}
	return call, op == repositories.CallEnd, nil
}

func (m *CallRepositoryMock) AppendIceCandidates(ctx context.Context, chatID string, writes []repositories.IceWrite) error {
	args := m.Called(ctx, chatID, writes)
	return args.Error(0)
}

type UserRepositoryMock struct {
	mock.Mock
}

var _ repositories.UserRepository = (*UserRepositoryMock)(nil)

func (m *UserRepositoryMock) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	args := m.Called(ctx, user)
	var out models.User
	if val := args.Get(0); val != nil {
		out = val.(models.User)
	}
	return out, args.Error(1)
}

func (m *UserRepositoryMock) GetUser(ctx context.Context, userID string) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) BulkUsers(ctx context.Context, ids []string) ([]models.User, error) {
	args := m.Called(ctx, ids)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}
