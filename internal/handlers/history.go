package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"signaling-service/internal/messaging"
	"signaling-service/internal/models"
	"signaling-service/internal/repositories"
)

// HistoryHandler serves the cached chat and message history endpoints.
type HistoryHandler struct {
	messages *messaging.Service
	users    repositories.UserRepository
}

// NewHistoryHandler builds a HistoryHandler.
func NewHistoryHandler(messages *messaging.Service, users repositories.UserRepository) *HistoryHandler {
	return &HistoryHandler{messages: messages, users: users}
}

// ListChats returns the chats visible to the authenticated user, with member
// info resolved in one bulk lookup.
func (h *HistoryHandler) ListChats(c *gin.Context) {
	userID := c.GetString("userID")

	chats, err := h.messages.ListChats(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chats"})
		return
	}

	memberIDs := make([]string, 0)
	memberIDSet := map[string]struct{}{}
	for _, chat := range chats {
		for _, id := range chat.MemberIDs {
			if _, ok := memberIDSet[id]; !ok {
				memberIDSet[id] = struct{}{}
				memberIDs = append(memberIDs, id)
			}
		}
	}

	users, err := h.users.BulkUsers(c.Request.Context(), memberIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user info"})
		return
	}
	usersByID := map[string]models.User{}
	for _, u := range users {
		usersByID[u.ID] = u
	}

	type memberResponse struct {
		ID        string `json:"id"`
		Username  string `json:"username,omitempty"`
		AvatarURL string `json:"avatarUrl,omitempty"`
	}
	type chatResponse struct {
		models.Chat
		Members []memberResponse `json:"members"`
	}

	responses := make([]chatResponse, 0, len(chats))
	for _, chat := range chats {
		members := make([]memberResponse, 0, len(chat.MemberIDs))
		for _, id := range chat.MemberIDs {
			u := usersByID[id]
			members = append(members, memberResponse{ID: id, Username: u.Username, AvatarURL: u.AvatarURL})
		}
		responses = append(responses, chatResponse{Chat: chat, Members: members})
	}

	c.JSON(http.StatusOK, gin.H{"chats": responses})
}

// GetChatMessages returns the chat's messages with sender usernames resolved.
func (h *HistoryHandler) GetChatMessages(c *gin.Context) {
	chatID := c.Param("chat_id")
	userID := c.GetString("userID")

	msgs, err := h.messages.ListMessages(c.Request.Context(), userID, chatID)
	if err != nil {
		status := http.StatusInternalServerError
		msg := "failed to load messages"
		switch {
		case errors.Is(err, repositories.ErrChatNotFound):
			status, msg = http.StatusNotFound, "chat not found"
		case errors.Is(err, messaging.ErrNotChatMember):
			status, msg = http.StatusForbidden, "not a chat member"
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}

	senderIDs := make([]string, 0, len(msgs))
	senderIDSet := map[string]struct{}{}
	for _, m := range msgs {
		if _, ok := senderIDSet[m.SenderID]; !ok {
			senderIDSet[m.SenderID] = struct{}{}
			senderIDs = append(senderIDs, m.SenderID)
		}
	}

	users, err := h.users.BulkUsers(c.Request.Context(), senderIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load senders"})
		return
	}
	senderNames := map[string]string{}
	for _, u := range users {
		senderNames[u.ID] = u.Username
	}

	type messageResponse struct {
		models.Message
		SenderUsername string `json:"senderUsername,omitempty"`
	}

	resp := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, messageResponse{Message: m, SenderUsername: senderNames[m.SenderID]})
	}

	c.JSON(http.StatusOK, gin.H{"messages": resp})
}

// HealthHandler reports readiness of the backing stores.
type HealthHandler struct {
	pingDB    func() error
	pingCache func() error
}

// NewHealthHandler builds a HealthHandler from store ping functions.
func NewHealthHandler(pingDB, pingCache func() error) *HealthHandler {
	return &HealthHandler{pingDB: pingDB, pingCache: pingCache}
}

// Check answers 200 when both stores respond, 503 otherwise.
func (h *HealthHandler) Check(c *gin.Context) {
	type componentStatus struct {
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}
	resp := gin.H{"time": time.Now().UTC()}
	healthy := true

	dbStatus := componentStatus{Status: "ok"}
	if err := h.pingDB(); err != nil {
		dbStatus = componentStatus{Status: "down", Error: err.Error()}
		healthy = false
	}
	resp["db"] = dbStatus

	cacheStatus := componentStatus{Status: "ok"}
	if err := h.pingCache(); err != nil {
		cacheStatus = componentStatus{Status: "down", Error: err.Error()}
		healthy = false
	}
	resp["cache"] = cacheStatus

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}
