package ws

import (
	"encoding/json"

	"signaling-service/internal/models"
)

// Inbound event names.
const (
	EventJoinRoom          = "joinRoom"
	EventLeaveRoom         = "leaveRoom"
	EventTyping            = "typing"
	EventReadMessages      = "readMessages"
	EventCreateMessage     = "createMessage"
	EventUpdateMessage     = "updateMessage"
	EventDeleteMessage     = "deleteMessage"
	EventJoinCall          = "joinCall"
	EventSendCallEvent     = "sendCallEvent"
	EventSaveIceCandidates = "saveIceCandidates"
	EventEndCall           = "endCall"
	EventRejectCall        = "rejectCall"
	EventSendChunkedFile   = "sendChunkedFile"
)

// Outbound event names.
const (
	EventAck             = "ack"
	EventError           = "error"
	EventUserStatus      = "broadcastUserStatus"
	EventTypingIndicator = "interlocutorIsTyping"
	EventMessagesRead    = "messagesRead"
	EventMessageCreated  = "messageCreated"
	EventMessageUpdated  = "messageUpdated"
	EventMessageDeleted  = "messageDeleted"
	EventCallEvent       = "callEvent"
	EventCallsUpdated    = "callsUpdated"
)

// Frame is one inbound event.
type Frame struct {
	Event string          `json:"event"`
	AckID string          `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutFrame is one outbound event.
type OutFrame struct {
	Event string `json:"event"`
	AckID string `json:"ackId,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Result is the two-field ack every handled event returns over the channel.
type Result struct {
	Status  string          `json:"status"`
	Error   *ErrorBody      `json:"error,omitempty"`
	Message *models.Message `json:"message,omitempty"`
	Call    *models.Call    `json:"call,omitempty"`
}

// ErrorBody carries the user-facing failure message.
type ErrorBody struct {
	Message string `json:"message"`
}

func success() Result {
	return Result{Status: "success"}
}

func failure(msg string) Result {
	return Result{Status: "error", Error: &ErrorBody{Message: msg}}
}

type roomPayload struct {
	Room string `json:"room"`
}

type typingPayload struct {
	ChatID   string `json:"chatId"`
	IsTyping bool   `json:"isTyping"`
}

type readMessagesPayload struct {
	ChatID string `json:"chatId"`
}

type createMessagePayload struct {
	ChatID  string          `json:"chatId"`
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

type updateMessagePayload struct {
	ChatID    string          `json:"chatId"`
	MessageID string          `json:"messageId"`
	Content   json.RawMessage `json:"content"`
}

type deleteMessagePayload struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

type joinCallPayload struct {
	ChatID      string `json:"chatId"`
	IsInitiator bool   `json:"isInitiator"`
}

type sendCallEventPayload struct {
	ChatID        string `json:"chatId"`
	Offer         string `json:"offer,omitempty"`
	Answer        string `json:"answer,omitempty"`
	ParticipantID string `json:"participantId"`
	SaveToDB      bool   `json:"saveToDb,omitempty"`
}

type saveIceCandidatesPayload struct {
	ChatID         string   `json:"chatId"`
	CandidatesType string   `json:"candidatesType"`
	IceCandidates  []string `json:"iceCandidates"`
	To             string   `json:"to"`
}

type callPayload struct {
	ChatID string `json:"chatId"`
}

type chunkedFilePayload struct {
	Message     string `json:"message"`
	FileID      string `json:"fileId"`
	Name        string `json:"name"`
	Chunk       []byte `json:"chunk"`
	Index       int    `json:"index"`
	TotalChunks int    `json:"totalChunks"`
}
