package ws

import (
	"crypto/rand"
	"encoding/hex"
)

func newConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}

// Room identifiers: chats, calls and per-user rooms share one namespace.
func ChatRoom(chatID string) string { return "chat:" + chatID }
func CallRoom(chatID string) string { return "call:" + chatID }
func UserRoom(userID string) string { return "user:" + userID }
