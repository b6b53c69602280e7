package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"signaling-service/internal/auth"
	"signaling-service/internal/calls"
	"signaling-service/internal/messaging"
	"signaling-service/internal/models"
	"signaling-service/internal/observability"
	"signaling-service/internal/repositories"
	"signaling-service/internal/telemetry"
	"signaling-service/internal/upload"
)

// MessageService is the slice of the messaging service the gateway drives.
type MessageService interface {
	Create(ctx context.Context, senderID, chatID, msgType string, content models.MessageContent) (models.Message, models.Chat, error)
	Update(ctx context.Context, userID, chatID, messageID string, content models.MessageContent) (models.Message, error)
	Delete(ctx context.Context, userID, chatID, messageID string) (models.Chat, error)
	DeleteAborted(ctx context.Context, chatID, messageID string) error
	Read(ctx context.Context, userID, chatID string) (models.Chat, []models.Message, error)
	SetFileURLs(ctx context.Context, messageID string, urls map[string]string) (models.Message, error)
	GetChat(ctx context.Context, userID, chatID string) (models.Chat, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	PatchChatForMembers(ctx context.Context, chat models.Chat)
}

// CallService is the slice of the call signaling service the gateway drives.
type CallService interface {
	Join(ctx context.Context, userID, chatID string, isInitiator bool) (models.Call, error)
	Update(ctx context.Context, userID, chatID, to, offer, answer string, persist bool) (models.Call, error)
	QueueIceCandidates(userID, chatID, to, kind string, candidates []string)
	End(ctx context.Context, userID, chatID string) (models.Call, bool, error)
	Reject(ctx context.Context, userID, chatID string) (models.Call, bool, error)
}

// PresenceRegistry tracks which users are online.
type PresenceRegistry interface {
	AddOnline(ctx context.Context, userID string) error
	RemoveOnline(ctx context.Context, userID string) error
}

// ChunkBuffer reassembles chunked uploads.
type ChunkBuffer interface {
	Add(ctx context.Context, messageID, fileID, name string, chunk []byte, index, totalChunks int, fileIDs []string) (map[string]string, bool, error)
}

// Gateway is the single ingress for all real-time events.
type Gateway struct {
	hub      *Hub
	verifier *auth.Verifier
	presence PresenceRegistry
	messages MessageService
	calls    CallService
	buffer   ChunkBuffer
	audit    *telemetry.AuditEmitter
	log      *zap.Logger
}

// NewGateway constructs the session gateway.
func NewGateway(hub *Hub, verifier *auth.Verifier, presence PresenceRegistry, messages MessageService, callSvc CallService, buffer ChunkBuffer, audit *telemetry.AuditEmitter, log *zap.Logger) *Gateway {
	return &Gateway{
		hub:      hub,
		verifier: verifier,
		presence: presence,
		messages: messages,
		calls:    callSvc,
		buffer:   buffer,
		audit:    audit,
		log:      log,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type statusPayload struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// Handle upgrades the connection, authenticates it and runs the event loop.
// Authentication failures are the only errors that close the connection.
func (g *Gateway) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("signaling-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	userID, err := g.authenticate(c)
	if err != nil {
		payload, _ := json.Marshal(OutFrame{Event: EventError, Data: ErrorBody{Message: "authentication failed"}})
		_ = conn.WriteMessage(websocket.TextMessage, payload)
		_ = conn.Close()
		return
	}

	client := NewClient(conn, userID)
	g.hub.Register(client)
	g.hub.Join(UserRoom(userID), client)

	// Presence is best-effort: a cache hiccup must not kill the connection.
	if err := g.presence.AddOnline(ctx, userID); err != nil {
		g.log.Warn("presence add failed", zap.String("user_id", userID), zap.Error(err))
	}
	g.hub.BroadcastAll(EventUserStatus, statusPayload{UserID: userID, Online: true})

	observability.IncWSActive()
	g.audit.Emit(ctx, telemetry.EventConnect, userID, map[string]any{"conn_id": client.ConnID})
	g.log.Info("connection opened", zap.String("user_id", userID), zap.String("conn_id", client.ConnID))

	go g.readLoop(client)
}

func (g *Gateway) authenticate(c *gin.Context) (string, error) {
	token := bearerToken(c.GetHeader("Authorization"))
	if token == "" {
		token = c.Query("token")
	}
	if token == "" {
		return "", auth.ErrInvalidToken
	}

	userID, err := g.verifier.Verify(token)
	if err != nil {
		return "", err
	}
	if claimed := c.Query("userId"); claimed != "" && claimed != userID {
		return "", auth.ErrInvalidToken
	}
	return userID, nil
}

func (g *Gateway) readLoop(client *Client) {
	defer g.teardown(client)
	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			g.log.Warn("malformed frame", zap.String("conn_id", client.ConnID), zap.Error(err))
			continue
		}
		// Each event is an independent unit of work: a slow store call on one
		// must not stall the connection's other events.
		go g.dispatch(client, frame)
	}
}

// teardown must always complete, so every error on this path is ignored.
func (g *Gateway) teardown(client *Client) {
	ctx := context.Background()
	g.hub.Remove(client)
	_ = client.Close()
	if err := g.presence.RemoveOnline(ctx, client.UserID); err != nil {
		g.log.Warn("presence remove failed", zap.String("user_id", client.UserID), zap.Error(err))
	}
	g.hub.BroadcastAll(EventUserStatus, statusPayload{UserID: client.UserID, Online: false})

	observability.DecWSActive()
	g.audit.Emit(ctx, telemetry.EventDisconnect, client.UserID, map[string]any{"conn_id": client.ConnID})
	g.log.Info("connection closed", zap.String("user_id", client.UserID), zap.String("conn_id", client.ConnID))
}

// dispatch is the per-event failure boundary: every error becomes a structured
// ack and never escapes to terminate the connection.
func (g *Gateway) dispatch(client *Client, frame Frame) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("event handler panicked", zap.String("event", frame.Event), zap.Any("panic", r))
			_ = client.Ack(frame.AckID, failure("internal error"))
		}
	}()

	ctx := context.Background()
	result := g.handle(ctx, client, frame)

	outcome := result.Status
	observability.IncWSEvent(frame.Event, outcome)
	if err := client.Ack(frame.AckID, result); err != nil {
		g.log.Warn("ack write failed", zap.String("conn_id", client.ConnID), zap.Error(err))
	}
}

func (g *Gateway) handle(ctx context.Context, client *Client, frame Frame) Result {
	switch frame.Event {
	case EventJoinRoom:
		return g.handleJoinRoom(client, frame.Data)
	case EventLeaveRoom:
		return g.handleLeaveRoom(client, frame.Data)
	case EventTyping:
		return g.handleTyping(client, frame.Data)
	case EventReadMessages:
		return g.handleReadMessages(ctx, client, frame.Data)
	case EventCreateMessage:
		return g.handleCreateMessage(ctx, client, frame.Data)
	case EventUpdateMessage:
		return g.handleUpdateMessage(ctx, client, frame.Data)
	case EventDeleteMessage:
		return g.handleDeleteMessage(ctx, client, frame.Data)
	case EventJoinCall:
		return g.handleJoinCall(ctx, client, frame.Data)
	case EventSendCallEvent:
		return g.handleSendCallEvent(ctx, client, frame.Data)
	case EventSaveIceCandidates:
		return g.handleSaveIceCandidates(client, frame.Data)
	case EventEndCall:
		return g.handleEndCall(ctx, client, frame.Data)
	case EventRejectCall:
		return g.handleRejectCall(ctx, client, frame.Data)
	case EventSendChunkedFile:
		return g.handleChunkedFile(ctx, client, frame.Data)
	default:
		return failure("unknown event")
	}
}

func (g *Gateway) handleJoinRoom(client *Client, data json.RawMessage) Result {
	var p roomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Room == "" {
		return failure("invalid payload")
	}
	g.hub.Join(p.Room, client)
	return success()
}

func (g *Gateway) handleLeaveRoom(client *Client, data json.RawMessage) Result {
	var p roomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Room == "" {
		return failure("invalid payload")
	}
	g.hub.Leave(p.Room, client)
	return success()
}

func (g *Gateway) handleTyping(client *Client, data json.RawMessage) Result {
	var p typingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return failure("invalid payload")
	}
	g.hub.Broadcast(ChatRoom(p.ChatID), EventTypingIndicator, map[string]any{
		"chatId":   p.ChatID,
		"userId":   client.UserID,
		"isTyping": p.IsTyping,
	}, client)
	return success()
}

func (g *Gateway) handleReadMessages(ctx context.Context, client *Client, data json.RawMessage) Result {
	var p readMessagesPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return failure("invalid payload")
	}
	chat, msgs, err := g.messages.Read(ctx, client.UserID, p.ChatID)
	if err != nil {
		return g.fail(err)
	}
	g.hub.Broadcast(ChatRoom(p.ChatID), EventMessagesRead, map[string]any{
		"chat":     chat,
		"messages": msgs,
		"readerId": client.UserID,
	}, nil)
	return success()
}

func (g *Gateway) handleCreateMessage(ctx context.Context, client *Client, data json.RawMessage) Result {
	var p createMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return failure("invalid payload")
	}
	content, err := models.ParseContent(p.Type, p.Content)
	if err != nil {
		return g.fail(err)
	}
	msg, chat, err := g.messages.Create(ctx, client.UserID, p.ChatID, p.Type, content)
	if err != nil {
		return g.fail(err)
	}
	g.hub.Broadcast(ChatRoom(p.ChatID), EventMessageCreated, map[string]any{
		"message": msg,
		"chat":    chat,
	}, nil)

	result := success()
	result.Message = &msg
	return result
}

func (g *Gateway) handleUpdateMessage(ctx context.Context, client *Client, data json.RawMessage) Result {
	var p updateMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return failure("invalid payload")
	}
	var content models.MessageContent
	if err := content.UnmarshalJSON(p.Content); err != nil {
		return failure("invalid content")
	}
	msg, err := g.messages.Update(ctx, client.UserID, p.ChatID, p.MessageID, content)
	if err != nil {
		return g.fail(err)
	}
	g.hub.Broadcast(ChatRoom(p.ChatID), EventMessageUpdated, map[string]any{"message": msg}, nil)
	return success()
}

func (g *Gateway) handleDeleteMessage(ctx context.Context, client *Client, data json.RawMessage) Result {
	var p deleteMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return failure("invalid payload")
	}
	chat, err := g.messages.Delete(ctx, client.UserID, p.ChatID, p.MessageID)
	if err != nil {
		return g.fail(err)
	}
	g.hub.Broadcast(ChatRoom(p.ChatID), EventMessageDeleted, map[string]any{
		"chatId":    p.ChatID,
		"messageId": p.MessageID,
		"chat":      chat,
	}, nil)
	return success()
}

func (g *Gateway) handleJoinCall(ctx context.Context, client *Client, data json.RawMessage) Result {
	var p joinCallPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return failure("invalid payload")
	}
	call, err := g.calls.Join(ctx, client.UserID, p.ChatID, p.IsInitiator)
	if err != nil {
		return g.fail(err)
	}
	g.hub.Join(CallRoom(p.ChatID), client)
	g.refreshChatCaches(ctx, client.UserID, p.ChatID)
	if p.IsInitiator {
		g.audit.Emit(ctx, telemetry.EventCallStarted, client.UserID, map[string]any{"chat_id": p.ChatID})
	}

	result := success()
	result.Call = &call
	return result
}

func (g *Gateway) handleSendCallEvent(ctx context.Context, client *Client, data json.RawMessage) Result {
	var p sendCallEventPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ParticipantID == "" {
		return failure("invalid payload")
	}
	if _, err := g.calls.Update(ctx, client.UserID, p.ChatID, p.ParticipantID, p.Offer, p.Answer, p.SaveToDB); err != nil {
		return g.fail(err)
	}
	// Signaling payloads are point-to-point, never room-wide.
	g.hub.ToUser(p.ParticipantID, EventCallEvent, map[string]any{
		"chatId":   p.ChatID,
		"senderId": client.UserID,
		"offer":    p.Offer,
		"answer":   p.Answer,
	})
	return success()
}

func (g *Gateway) handleSaveIceCandidates(client *Client, data json.RawMessage) Result {
	var p saveIceCandidatesPayload
	if err := json.Unmarshal(data, &p); err != nil || p.To == "" {
		return failure("invalid payload")
	}
	if p.CandidatesType != models.CandidatesOffer && p.CandidatesType != models.CandidatesAnswer {
		return failure("invalid candidates type")
	}
	g.calls.QueueIceCandidates(client.UserID, p.ChatID, p.To, p.CandidatesType, p.IceCandidates)

	// Members learn the state moved; the candidates themselves go only to the
	// intended recipient.
	g.hub.Broadcast(CallRoom(p.ChatID), EventCallsUpdated, callPayload{ChatID: p.ChatID}, nil)
	g.hub.ToUser(p.To, EventCallEvent, map[string]any{
		"chatId":         p.ChatID,
		"senderId":       client.UserID,
		"candidatesType": p.CandidatesType,
		"iceCandidates":  p.IceCandidates,
	})
	return success()
}

func (g *Gateway) handleEndCall(ctx context.Context, client *Client, data json.RawMessage) Result {
	var p callPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return failure("invalid payload")
	}
	call, ended, err := g.calls.End(ctx, client.UserID, p.ChatID)
	if err != nil {
		return g.fail(err)
	}
	g.finishCallEvent(ctx, client, p.ChatID, call, ended)
	return success()
}

func (g *Gateway) handleRejectCall(ctx context.Context, client *Client, data json.RawMessage) Result {
	var p callPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return failure("invalid payload")
	}
	call, ended, err := g.calls.Reject(ctx, client.UserID, p.ChatID)
	if err != nil {
		return g.fail(err)
	}
	g.finishCallEvent(ctx, client, p.ChatID, call, ended)
	return success()
}

func (g *Gateway) finishCallEvent(ctx context.Context, client *Client, chatID string, call models.Call, ended bool) {
	g.hub.Broadcast(CallRoom(chatID), EventCallsUpdated, map[string]any{
		"chatId": chatID,
		"call":   call,
		"ended":  ended,
	}, nil)
	g.hub.Leave(CallRoom(chatID), client)
	g.refreshChatCaches(ctx, client.UserID, chatID)
	if ended {
		g.audit.Emit(ctx, telemetry.EventCallEnded, client.UserID, map[string]any{"chat_id": chatID})
	}
}

func (g *Gateway) handleChunkedFile(ctx context.Context, client *Client, data json.RawMessage) Result {
	var p chunkedFilePayload
	if err := json.Unmarshal(data, &p); err != nil || p.Message == "" || p.FileID == "" {
		return failure("invalid payload")
	}

	msg, err := g.messages.GetMessage(ctx, p.Message)
	if err != nil {
		return g.fail(err)
	}
	if msg.SenderID != client.UserID || !msg.Content.IsFile() {
		return failure("not allowed")
	}

	fileIDs := make([]string, 0, len(msg.Content.Files))
	for _, f := range msg.Content.Files {
		fileIDs = append(fileIDs, f.FileID)
	}

	urls, done, err := g.buffer.Add(ctx, p.Message, p.FileID, p.Name, p.Chunk, p.Index, p.TotalChunks, fileIDs)
	if err != nil {
		// A malformed chunk only fails its own frame; the chunks received so
		// far stay buffered.
		if errors.Is(err, upload.ErrChunkOutOfRange) || errors.Is(err, upload.ErrUnknownFile) {
			return g.fail(err)
		}
		// The partial message is useless without its files; drop it and tell
		// only the sender.
		if derr := g.messages.DeleteAborted(ctx, msg.ChatID, p.Message); derr != nil {
			g.log.Error("aborted upload cleanup failed", zap.String("message_id", p.Message), zap.Error(derr))
		}
		g.audit.Emit(ctx, telemetry.EventUploadFailed, client.UserID, map[string]any{"message_id": p.Message})
		return g.fail(err)
	}
	if !done {
		return success()
	}

	updated, err := g.messages.SetFileURLs(ctx, p.Message, urls)
	if err != nil {
		return g.fail(err)
	}
	g.hub.Broadcast(ChatRoom(msg.ChatID), EventMessageUpdated, map[string]any{"message": updated}, nil)

	result := success()
	result.Message = &updated
	return result
}

// refreshChatCaches patches every member's cached chat list after call state
// embedded in the chat changed.
func (g *Gateway) refreshChatCaches(ctx context.Context, userID, chatID string) {
	chat, err := g.messages.GetChat(ctx, userID, chatID)
	if err != nil {
		g.log.Warn("chat refresh failed", zap.String("chat_id", chatID), zap.Error(err))
		return
	}
	g.messages.PatchChatForMembers(ctx, chat)
}

// fail maps service errors onto user-facing ack messages.
func (g *Gateway) fail(err error) Result {
	switch {
	case errors.Is(err, repositories.ErrChatNotFound):
		return failure("chat not found")
	case errors.Is(err, repositories.ErrMessageNotFound):
		return failure("message not found")
	case errors.Is(err, repositories.ErrCallNotFound):
		return failure("call not found")
	case errors.Is(err, repositories.ErrUserNotFound):
		return failure("user not found")
	case errors.Is(err, repositories.ErrDuplicate):
		return failure("duplicate record")
	case errors.Is(err, messaging.ErrNotChatMember), errors.Is(err, calls.ErrNotChatMember):
		return failure("not a chat member")
	case errors.Is(err, messaging.ErrNotSender), errors.Is(err, messaging.ErrWrongChat):
		return failure("not allowed")
	case errors.Is(err, calls.ErrNotParticipant):
		return failure("not a call participant")
	case errors.Is(err, calls.ErrJoinTimeout):
		return failure("timed out waiting for call data")
	case errors.Is(err, models.ErrInvalidContent):
		return failure("content shape does not match message type")
	case errors.Is(err, upload.ErrChunkOutOfRange), errors.Is(err, upload.ErrUnknownFile):
		return failure("invalid chunk")
	default:
		g.log.Error("event failed", zap.Error(err))
		return failure("internal error")
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}
