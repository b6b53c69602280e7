package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestHubJoinLeave(t *testing.T) {
	h := NewHub(zap.NewNop())
	c := &Client{UserID: "u1", ConnID: "conn1"}

	h.Register(c)
	h.Join("chat:1", c)
	h.Join("call:1", c)

	assert.Contains(t, h.rooms["chat:1"], c)
	assert.Contains(t, h.rooms["call:1"], c)
	assert.Len(t, h.clients[c], 2)

	h.Leave("chat:1", c)
	assert.NotContains(t, h.clients[c], "chat:1")
	_, ok := h.rooms["chat:1"]
	assert.False(t, ok, "empty room must be dropped")
	assert.Contains(t, h.rooms["call:1"], c)
}

func TestHubJoinRequiresRegistration(t *testing.T) {
	h := NewHub(zap.NewNop())
	c := &Client{UserID: "u1", ConnID: "conn1"}

	h.Join("chat:1", c)
	assert.Empty(t, h.rooms)
}

func TestHubRemovePurgesAllRooms(t *testing.T) {
	h := NewHub(zap.NewNop())
	c1 := &Client{UserID: "u1", ConnID: "conn1"}
	c2 := &Client{UserID: "u2", ConnID: "conn2"}

	h.Register(c1)
	h.Register(c2)
	h.Join("chat:1", c1)
	h.Join("chat:1", c2)
	h.Join("user:u1", c1)

	h.Remove(c1)

	assert.NotContains(t, h.clients, c1)
	assert.NotContains(t, h.rooms["chat:1"], c1)
	assert.Contains(t, h.rooms["chat:1"], c2)
	_, ok := h.rooms["user:u1"]
	assert.False(t, ok)
}

func TestRoomNames(t *testing.T) {
	assert.Equal(t, "chat:42", ChatRoom("42"))
	assert.Equal(t, "call:42", CallRoom("42"))
	assert.Equal(t, "user:u7", UserRoom("u7"))
}
