package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"signaling-service/internal/cache"
	"signaling-service/internal/models"
	"signaling-service/internal/repositories"
)

var (
	ErrNotChatMember = errors.New("user is not a member of the chat")
	ErrNotSender     = errors.New("only the sender may modify the message")
	ErrWrongChat     = errors.New("message does not belong to chat")
)

// Service owns message mutations and keeps the list caches in sync with them.
type Service struct {
	messages repositories.MessageRepository
	chats    repositories.ChatRepository
	lists    *cache.ListCache
	log      *zap.Logger
}

// NewService constructs the messaging service.
func NewService(messages repositories.MessageRepository, chats repositories.ChatRepository, lists *cache.ListCache, log *zap.Logger) *Service {
	return &Service{
		messages: messages,
		chats:    chats,
		lists:    lists,
		log:      log,
	}
}

// Create stores a new message, appends it to the chat's cached message list,
// moves the chat's last-message pointer and patches every member's cached chat
// list. Returns the message and the updated chat for broadcasting.
func (s *Service) Create(ctx context.Context, senderID, chatID, msgType string, content models.MessageContent) (models.Message, models.Chat, error) {
	chat, err := s.memberChat(ctx, senderID, chatID)
	if err != nil {
		return models.Message{}, models.Chat{}, err
	}
	if err := models.ValidateContent(msgType, content); err != nil {
		return models.Message{}, models.Chat{}, err
	}

	msg, err := s.messages.CreateMessage(ctx, models.Message{
		ID:       uuid.NewString(),
		ChatID:   chatID,
		SenderID: senderID,
		Type:     msgType,
		Content:  content,
	})
	if err != nil {
		return models.Message{}, models.Chat{}, err
	}

	s.cachePatch(ctx, cache.MessagesKey(chatID), msg, true)

	if err := s.chats.SetLastMessage(ctx, chatID, &msg.ID); err != nil {
		return models.Message{}, models.Chat{}, err
	}
	chat.LastMessageID = &msg.ID
	s.patchChatLists(ctx, chat)

	return msg, chat, nil
}

// Update replaces a message's content (sender only).
func (s *Service) Update(ctx context.Context, userID, chatID, messageID string, content models.MessageContent) (models.Message, error) {
	msg, err := s.ownMessage(ctx, userID, chatID, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if err := models.ValidateContent(msg.Type, content); err != nil {
		return models.Message{}, err
	}

	updated, err := s.messages.UpdateContent(ctx, messageID, content)
	if err != nil {
		return models.Message{}, err
	}
	s.cachePatch(ctx, cache.MessagesKey(chatID), updated, false)
	return updated, nil
}

// SetFileURLs rewrites the hosted references of a file message's entries once
// chunked upload reassembly completes.
func (s *Service) SetFileURLs(ctx context.Context, messageID string, urls map[string]string) (models.Message, error) {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}

	files := make([]models.FileEntry, len(msg.Content.Files))
	copy(files, msg.Content.Files)
	for i := range files {
		if url, ok := urls[files[i].FileID]; ok {
			files[i].Content = url
		}
	}

	updated, err := s.messages.UpdateContent(ctx, messageID, models.FileContent(files))
	if err != nil {
		return models.Message{}, err
	}
	s.cachePatch(ctx, cache.MessagesKey(msg.ChatID), updated, false)
	return updated, nil
}

// Delete removes a message (sender only) and repairs the chat's last-message
// pointer when the deleted message held it. Returns the updated chat.
func (s *Service) Delete(ctx context.Context, userID, chatID, messageID string) (models.Chat, error) {
	if _, err := s.ownMessage(ctx, userID, chatID, messageID); err != nil {
		return models.Chat{}, err
	}
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return models.Chat{}, err
	}

	if err := s.messages.DeleteMessage(ctx, messageID); err != nil {
		return models.Chat{}, err
	}
	if err := s.lists.RemoveItem(ctx, cache.MessagesKey(chatID), messageID); err != nil {
		s.log.Warn("cache remove failed", zap.String("chat_id", chatID), zap.Error(err))
	}

	if chat.LastMessageID != nil && *chat.LastMessageID == messageID {
		var lastID *string
		latest, err := s.messages.LatestMessage(ctx, chatID)
		switch {
		case err == nil:
			lastID = &latest.ID
		case !errors.Is(err, repositories.ErrMessageNotFound):
			return models.Chat{}, err
		}
		if err := s.chats.SetLastMessage(ctx, chatID, lastID); err != nil {
			return models.Chat{}, err
		}
		chat.LastMessageID = lastID
	}

	s.patchChatLists(ctx, chat)
	return chat, nil
}

// DeleteAborted removes the partial message left behind by a failed chunked
// upload. Patching the cached list is unsafe mid-abort, so the entry is
// invalidated outright.
func (s *Service) DeleteAborted(ctx context.Context, chatID, messageID string) error {
	if err := s.messages.DeleteMessage(ctx, messageID); err != nil && !errors.Is(err, repositories.ErrMessageNotFound) {
		return err
	}
	return s.lists.Invalidate(ctx, cache.MessagesKey(chatID))
}

// Read appends the reader's receipt to every message in the chat they did not
// author, patches the cached page and returns the updated chat plus the
// touched messages.
func (s *Service) Read(ctx context.Context, userID, chatID string) (models.Chat, []models.Message, error) {
	chat, err := s.memberChat(ctx, userID, chatID)
	if err != nil {
		return models.Chat{}, nil, err
	}

	now := time.Now().UTC()
	updated, err := s.messages.MarkRead(ctx, chatID, userID, now)
	if err != nil {
		return models.Chat{}, nil, err
	}

	// The store merges the receipt into each row; the cache gets the merged
	// lists back so earlier readers' receipts survive.
	for _, msg := range updated {
		err := s.lists.UpdateByFilter(ctx, cache.MessagesKey(chatID),
			cache.Filter{{Field: "id", Op: cache.OpEq, Value: msg.ID}},
			"readBy", msg.ReadBy)
		if err != nil {
			s.log.Warn("cache read-receipt patch failed", zap.String("chat_id", chatID), zap.Error(err))
		}
	}

	return chat, updated, nil
}

// ListMessages serves the chat's messages through the read-through cache.
func (s *Service) ListMessages(ctx context.Context, userID, chatID string) ([]models.Message, error) {
	if _, err := s.memberChat(ctx, userID, chatID); err != nil {
		return nil, err
	}

	var msgs []models.Message
	err := s.lists.GetOrSet(ctx, cache.MessagesKey(chatID), &msgs, func(ctx context.Context) (any, error) {
		loaded, err := s.messages.MessagesForChat(ctx, chatID)
		if err != nil {
			return nil, err
		}
		if loaded == nil {
			loaded = []models.Message{}
		}
		return loaded, nil
	})
	return msgs, err
}

// ListChats serves the user's chats through the read-through cache.
func (s *Service) ListChats(ctx context.Context, userID string) ([]models.Chat, error) {
	var chats []models.Chat
	err := s.lists.GetOrSet(ctx, cache.ChatsKey(userID), &chats, func(ctx context.Context) (any, error) {
		loaded, err := s.chats.ChatsForUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if loaded == nil {
			loaded = []models.Chat{}
		}
		return loaded, nil
	})
	return chats, err
}

// PatchChatForMembers refreshes the chat element in every member's cached chat
// list, used when call state embedded in the chat changes.
func (s *Service) PatchChatForMembers(ctx context.Context, chat models.Chat) {
	s.patchChatLists(ctx, chat)
}

// GetChat returns the chat when the user is a member.
func (s *Service) GetChat(ctx context.Context, userID, chatID string) (models.Chat, error) {
	return s.memberChat(ctx, userID, chatID)
}

// GetMessage returns a message by id.
func (s *Service) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	return s.messages.GetMessage(ctx, messageID)
}

func (s *Service) memberChat(ctx context.Context, userID, chatID string) (models.Chat, error) {
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return models.Chat{}, err
	}
	if !chat.HasMember(userID) {
		return models.Chat{}, ErrNotChatMember
	}
	return chat, nil
}

func (s *Service) ownMessage(ctx context.Context, userID, chatID, messageID string) (models.Message, error) {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.ChatID != chatID {
		return models.Message{}, ErrWrongChat
	}
	if msg.SenderID != userID {
		return models.Message{}, ErrNotSender
	}
	return msg, nil
}

// Cache patches are best-effort: the durable store already holds the truth and
// the entry self-heals on expiry.
func (s *Service) cachePatch(ctx context.Context, key string, item any, addIfMissing bool) {
	if err := s.lists.UpsertItem(ctx, key, item, addIfMissing); err != nil {
		s.log.Warn("cache patch failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Service) patchChatLists(ctx context.Context, chat models.Chat) {
	for _, member := range chat.MemberIDs {
		s.cachePatch(ctx, cache.ChatsKey(member), chat, false)
	}
}
