package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"signaling-service/internal/auth"
	"signaling-service/internal/calls"
	"signaling-service/internal/messaging"
	"signaling-service/internal/models"
	"signaling-service/internal/repositories"
	"signaling-service/internal/upload"
)

func TestFailMapsServiceErrors(t *testing.T) {
	g := &Gateway{log: zap.NewNop()}

	tests := []struct {
		err  error
		want string
	}{
		{repositories.ErrChatNotFound, "chat not found"},
		{repositories.ErrMessageNotFound, "message not found"},
		{repositories.ErrCallNotFound, "call not found"},
		{messaging.ErrNotChatMember, "not a chat member"},
		{calls.ErrNotChatMember, "not a chat member"},
		{messaging.ErrNotSender, "not allowed"},
		{calls.ErrNotParticipant, "not a call participant"},
		{calls.ErrJoinTimeout, "timed out waiting for call data"},
		{models.ErrInvalidContent, "content shape does not match message type"},
		{upload.ErrUnknownFile, "invalid chunk"},
		{assert.AnError, "internal error"},
	}

	for _, tt := range tests {
		result := g.fail(tt.err)
		assert.Equal(t, "error", result.Status)
		require.NotNil(t, result.Error)
		assert.Equal(t, tt.want, result.Error.Message, "for %v", tt.err)
	}
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "", bearerToken("abc"))
	assert.Equal(t, "", bearerToken(""))
	assert.Equal(t, "", bearerToken("Bearer "))
}

func signTestToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func testContext(t *testing.T, target string, header map[string]string) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", target, nil)
	for k, v := range header {
		c.Request.Header.Set(k, v)
	}
	return c
}

func TestAuthenticateFromHeader(t *testing.T) {
	g := &Gateway{verifier: auth.NewVerifier("secret"), log: zap.NewNop()}
	token := signTestToken(t, "secret", "u1")

	c := testContext(t, "/ws", map[string]string{"Authorization": "Bearer " + token})
	userID, err := g.authenticate(c)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestAuthenticateFromQuery(t *testing.T) {
	g := &Gateway{verifier: auth.NewVerifier("secret"), log: zap.NewNop()}
	token := signTestToken(t, "secret", "u1")

	c := testContext(t, "/ws?token="+token, nil)
	userID, err := g.authenticate(c)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestAuthenticateRejectsClaimMismatch(t *testing.T) {
	g := &Gateway{verifier: auth.NewVerifier("secret"), log: zap.NewNop()}
	token := signTestToken(t, "secret", "u1")

	c := testContext(t, "/ws?token="+token+"&userId=u2", nil)
	_, err := g.authenticate(c)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestAuthenticateRejectsMissingCredential(t *testing.T) {
	g := &Gateway{verifier: auth.NewVerifier("secret"), log: zap.NewNop()}

	c := testContext(t, "/ws", nil)
	_, err := g.authenticate(c)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

type messageServiceStub struct {
	MessageService
	getMessage    func(ctx context.Context, messageID string) (models.Message, error)
	deleteAborted func(ctx context.Context, chatID, messageID string) error
}

func (s *messageServiceStub) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	return s.getMessage(ctx, messageID)
}

func (s *messageServiceStub) DeleteAborted(ctx context.Context, chatID, messageID string) error {
	return s.deleteAborted(ctx, chatID, messageID)
}

type chunkBufferStub struct {
	err error
}

func (s *chunkBufferStub) Add(ctx context.Context, messageID, fileID, name string, chunk []byte, index, totalChunks int, fileIDs []string) (map[string]string, bool, error) {
	return nil, false, s.err
}

func chunkFrame(t *testing.T) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(chunkedFilePayload{Message: "m1", FileID: "f1", Name: "pic.png", Chunk: []byte("x"), Index: 9, TotalChunks: 3})
	require.NoError(t, err)
	return data
}

func fileMessage() models.Message {
	return models.Message{
		ID: "m1", ChatID: "c1", SenderID: "u1", Type: models.MessageTypeFile,
		Content: models.FileContent([]models.FileEntry{{FileID: "f1"}}),
	}
}

func TestChunkedFileValidationErrorKeepsMessage(t *testing.T) {
	deleted := false
	g := &Gateway{
		messages: &messageServiceStub{
			getMessage: func(ctx context.Context, messageID string) (models.Message, error) { return fileMessage(), nil },
			deleteAborted: func(ctx context.Context, chatID, messageID string) error {
				deleted = true
				return nil
			},
		},
		buffer: &chunkBufferStub{err: upload.ErrChunkOutOfRange},
		log:    zap.NewNop(),
	}

	result := g.handleChunkedFile(context.Background(), &Client{UserID: "u1"}, chunkFrame(t))
	require.NotNil(t, result.Error)
	assert.Equal(t, "invalid chunk", result.Error.Message)
	assert.False(t, deleted, "a malformed chunk must not destroy the message or its buffered chunks")
}

func TestChunkedFileUploadFailureDropsMessage(t *testing.T) {
	deleted := false
	g := &Gateway{
		messages: &messageServiceStub{
			getMessage: func(ctx context.Context, messageID string) (models.Message, error) { return fileMessage(), nil },
			deleteAborted: func(ctx context.Context, chatID, messageID string) error {
				deleted = true
				return nil
			},
		},
		buffer: &chunkBufferStub{err: assert.AnError},
		log:    zap.NewNop(),
	}

	result := g.handleChunkedFile(context.Background(), &Client{UserID: "u1"}, chunkFrame(t))
	require.NotNil(t, result.Error)
	assert.True(t, deleted, "a store failure must abort the upload and drop the partial message")
}

func TestAuthenticateRejectsBadSignature(t *testing.T) {
	g := &Gateway{verifier: auth.NewVerifier("secret"), log: zap.NewNop()}
	token := signTestToken(t, "wrong", "u1")

	c := testContext(t, "/ws?token="+token, nil)
	_, err := g.authenticate(c)
	assert.Error(t, err)
}
