package calls

import (
	"context"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"signaling-service/internal/mocks"
	"signaling-service/internal/models"
	"signaling-service/internal/repositories"
	"signaling-service/internal/telemetry"
)

func testOptions() Options {
	return Options{
		FlushInterval: time.Second,
		FlushGrace:    time.Hour, // never fires in tests
		JoinPoll:      time.Millisecond,
		JoinTimeout:   20 * time.Millisecond,
	}
}

func newTestService(callRepo *mocks.CallRepositoryMock, chatRepo *mocks.ChatRepositoryMock) *Service {
	return NewService(callRepo, chatRepo, testOptions(), nil, zap.NewNop())
}

func memberChat(chatID string, members ...string) models.Chat {
	return models.Chat{ID: chatID, Type: models.ChatTypeGroup, MemberIDs: pq.StringArray(members)}
}

func TestJoinInitiatorCreatesCall(t *testing.T) {
	callRepo := new(mocks.CallRepositoryMock)
	chatRepo := new(mocks.ChatRepositoryMock)
	svc := newTestService(callRepo, chatRepo)

	chatRepo.On("GetChat", mock.Anything, "c1").Return(memberChat("c1", "u1", "u2"), nil).Once()
	callRepo.On("GetCallByChat", mock.Anything, "c1").Return(models.Call{}, repositories.ErrCallNotFound).Once()
	callRepo.On("CreateCall", mock.Anything, mock.MatchedBy(func(call models.Call) bool {
		return call.ChatID == "c1" &&
			len(call.Participants) == 1 &&
			call.Participants[0].UserID == "u1" &&
			call.Participants[0].Status == models.ParticipantNotified
	})).Return(models.Call{ID: "call1", ChatID: "c1", Participants: models.Participants{{UserID: "u1", Status: models.ParticipantNotified}}, CreatedAt: time.Now()}, nil).Once()
	chatRepo.On("SetOngoingCall", mock.Anything, "c1", mock.MatchedBy(func(s *models.CallSummary) bool {
		return s != nil && s.CallID == "call1"
	})).Return(nil).Once()

	call, err := svc.Join(context.Background(), "u1", "c1", true)
	require.NoError(t, err)
	assert.Equal(t, "call1", call.ID)

	callRepo.AssertExpectations(t)
	chatRepo.AssertExpectations(t)
}

func TestJoinRejectsNonMember(t *testing.T) {
	callRepo := new(mocks.CallRepositoryMock)
	chatRepo := new(mocks.ChatRepositoryMock)
	svc := newTestService(callRepo, chatRepo)

	chatRepo.On("GetChat", mock.Anything, "c1").Return(memberChat("c1", "u1", "u2"), nil).Once()

	_, err := svc.Join(context.Background(), "stranger", "c1", true)
	require.ErrorIs(t, err, ErrNotChatMember)
	callRepo.AssertNotCalled(t, "GetCallByChat", mock.Anything, mock.Anything)
}

func TestJoinExistingParticipantIsNoop(t *testing.T) {
	callRepo := new(mocks.CallRepositoryMock)
	chatRepo := new(mocks.ChatRepositoryMock)
	svc := newTestService(callRepo, chatRepo)

	existing := models.Call{ID: "call1", ChatID: "c1", Participants: models.Participants{{UserID: "u1"}}}
	chatRepo.On("GetChat", mock.Anything, "c1").Return(memberChat("c1", "u1", "u2"), nil).Once()
	callRepo.On("GetCallByChat", mock.Anything, "c1").Return(existing, nil).Once()

	call, err := svc.Join(context.Background(), "u1", "c1", true)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, call.ID)
	callRepo.AssertNotCalled(t, "MutateCall", mock.Anything, mock.Anything, mock.Anything)
}

func TestJoinNonInitiatorTimesOutWithoutMutation(t *testing.T) {
	callRepo := new(mocks.CallRepositoryMock)
	chatRepo := new(mocks.ChatRepositoryMock)
	svc := newTestService(callRepo, chatRepo)

	// u1 never addresses any ICE candidates to u2.
	waiting := models.Call{ID: "call1", ChatID: "c1", Participants: models.Participants{{UserID: "u1", Status: models.ParticipantNotified}}}
	chatRepo.On("GetChat", mock.Anything, "c1").Return(memberChat("c1", "u1", "u2"), nil).Once()
	callRepo.On("GetCallByChat", mock.Anything, "c1").Return(waiting, nil)

	_, err := svc.Join(context.Background(), "u2", "c1", false)
	require.ErrorIs(t, err, ErrJoinTimeout)
	callRepo.AssertNotCalled(t, "MutateCall", mock.Anything, mock.Anything, mock.Anything)
}

func TestJoinNonInitiatorEntersOnceSignalingReady(t *testing.T) {
	callRepo := new(mocks.CallRepositoryMock)
	chatRepo := new(mocks.ChatRepositoryMock)
	svc := newTestService(callRepo, chatRepo)

	ready := models.Call{ID: "call1", ChatID: "c1", Participants: models.Participants{{
		UserID: "u1",
		Status: models.ParticipantNotified,
		Offers: []models.SignalEntry{{To: "u2", SDP: "sdp", IceCandidates: []string{"cand"}}},
	}}}
	chatRepo.On("GetChat", mock.Anything, "c1").Return(memberChat("c1", "u1", "u2"), nil).Once()
	callRepo.On("GetCallByChat", mock.Anything, "c1").Return(ready, nil)
	callRepo.On("MutateCall", mock.Anything, "c1", mock.Anything).Return(ready, nil).Once()

	call, err := svc.Join(context.Background(), "u2", "c1", false)
	require.NoError(t, err)
	require.Len(t, call.Participants, 2)
	idx := call.Participants.Find("u2")
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, models.ParticipantInCall, call.Participants[idx].Status)
	callRepo.AssertExpectations(t)
}

// The participant append must happen against the document the repository hands
// over under lock, not the copy read before the signaling wait.
func TestJoinAppendsToCurrentDocument(t *testing.T) {
	callRepo := new(mocks.CallRepositoryMock)
	chatRepo := new(mocks.ChatRepositoryMock)
	svc := newTestService(callRepo, chatRepo)

	stale := models.Call{ID: "call1", ChatID: "c1", Participants: models.Participants{{UserID: "u1"}}}
	current := models.Call{ID: "call1", ChatID: "c1", Participants: models.Participants{
		{UserID: "u1", Offers: []models.SignalEntry{{To: "u3", IceCandidates: []string{"fresh"}}}},
	}}
	chatRepo.On("GetChat", mock.Anything, "c1").Return(memberChat("c1", "u1", "u3"), nil).Once()
	callRepo.On("GetCallByChat", mock.Anything, "c1").Return(stale, nil)
	callRepo.On("MutateCall", mock.Anything, "c1", mock.Anything).Return(current, nil).Once()

	call, err := svc.Join(context.Background(), "u3", "c1", true)
	require.NoError(t, err)
	require.Len(t, call.Participants, 2)
	entry := models.FindEntry(call.Participants[0].Offers, "u3")
	require.NotNil(t, entry, "candidates written after the first read must survive the join")
	assert.Equal(t, []string{"fresh"}, entry.IceCandidates)
}

func TestEveryoneSentIce(t *testing.T) {
	call := models.Call{Participants: models.Participants{
		{UserID: "a", Offers: []models.SignalEntry{{To: "c", IceCandidates: []string{"x"}}}},
		{UserID: "b", Answers: []models.SignalEntry{{To: "c", IceCandidates: []string{"y"}}}},
		{UserID: "c"},
	}}

	assert.True(t, EveryoneSentIce(call, "c"))
	assert.False(t, EveryoneSentIce(call, "a"), "b has no candidates for a")
}

func TestUpdateNewSDPClearsStaleCandidates(t *testing.T) {
	callRepo := new(mocks.CallRepositoryMock)
	chatRepo := new(mocks.ChatRepositoryMock)
	svc := newTestService(callRepo, chatRepo)

	call := models.Call{ID: "call1", ChatID: "c1", Participants: models.Participants{{
		UserID: "u1",
		Offers: []models.SignalEntry{{To: "u2", SDP: "old", IceCandidates: []string{"stale"}}},
	}}}
	callRepo.On("MutateCall", mock.Anything, "c1", mock.Anything).Return(call, nil).Once()

	updated, err := svc.Update(context.Background(), "u1", "c1", "u2", "new", "", true)
	require.NoError(t, err)

	entry := models.FindEntry(updated.Participants[0].Offers, "u2")
	require.NotNil(t, entry)
	assert.Equal(t, "new", entry.SDP)
	assert.Empty(t, entry.IceCandidates, "candidates negotiated against the old SDP must go")
	callRepo.AssertExpectations(t)
}

func TestUpdateWithoutPersistSkipsWrite(t *testing.T) {
	callRepo := new(mocks.CallRepositoryMock)
	chatRepo := new(mocks.ChatRepositoryMock)
	svc := newTestService(callRepo, chatRepo)

	call := models.Call{ID: "call1", ChatID: "c1", Participants: models.Participants{{UserID: "u1"}}}
	callRepo.On("GetCallByChat", mock.Anything, "c1").Return(call, nil).Once()

	_, err := svc.Update(context.Background(), "u1", "c1", "u2", "sdp", "", false)
	require.NoError(t, err)
	callRepo.AssertNotCalled(t, "MutateCall", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateRejectsNonParticipant(t *testing.T) {
	callRepo := new(mocks.CallRepositoryMock)
	chatRepo := new(mocks.ChatRepositoryMock)
	svc := newTestService(callRepo, chatRepo)

	call := models.Call{ID: "call1", ChatID: "c1", Participants: models.Participants{{UserID: "u1"}}}
	callRepo.On("MutateCall", mock.Anything, "c1", mock.Anything).Return(call, nil).Once()

	_, err := svc.Update(context.Background(), "stranger", "c1", "u1", "sdp", "", true)
	require.ErrorIs(t, err, ErrNotParticipant)
}

func TestEndLastLeaverEndsCall(t *testing.T) {
	callRepo := new(mocks.CallRepositoryMock)
	chatRepo := new(mocks.ChatRepositoryMock)
	svc := newTestService(callRepo, chatRepo)

	call := models.Call{ID: "call1", ChatID: "c1", Participants: models.Participants{{UserID: "u1"}}}
	callRepo.On("MutateCall", mock.Anything, "c1", mock.Anything).Return(call, nil).Once()

	left, ended, err := svc.End(context.Background(), "u1", "c1")
	require.NoError(t, err)
	assert.True(t, ended)
	assert.Empty(t, left.Participants)
	callRepo.AssertExpectations(t)
}

func TestEndKeepsCallWhileOthersRemain(t *testing.T) {
	callRepo := new(mocks.CallRepositoryMock)
	chatRepo := new(mocks.ChatRepositoryMock)
	svc := newTestService(callRepo, chatRepo)

	call := models.Call{ID: "call1", ChatID: "c1", Participants: models.Participants{{UserID: "u1"}, {UserID: "u2"}}}
	callRepo.On("MutateCall", mock.Anything, "c1", mock.Anything).Return(call, nil).Once()

	left, ended, err := svc.End(context.Background(), "u1", "c1")
	require.NoError(t, err)
	assert.False(t, ended)
	require.Len(t, left.Participants, 1)
	assert.Equal(t, "u2", left.Participants[0].UserID)
}

func TestEndRejectsNonParticipant(t *testing.T) {
	callRepo := new(mocks.CallRepositoryMock)
	chatRepo := new(mocks.ChatRepositoryMock)
	svc := newTestService(callRepo, chatRepo)

	call := models.Call{ID: "call1", ChatID: "c1", Participants: models.Participants{{UserID: "u1"}}}
	callRepo.On("MutateCall", mock.Anything, "c1", mock.Anything).Return(call, nil).Once()

	_, _, err := svc.End(context.Background(), "stranger", "c1")
	require.ErrorIs(t, err, ErrNotParticipant)
}

func TestRejectByAllEndsCall(t *testing.T) {
	callRepo := new(mocks.CallRepositoryMock)
	chatRepo := new(mocks.ChatRepositoryMock)
	svc := newTestService(callRepo, chatRepo)

	call := models.Call{ID: "call1", ChatID: "c1", Participants: models.Participants{
		{UserID: "u1", Status: models.ParticipantRejected},
		{UserID: "u2", Status: models.ParticipantNotified},
	}}
	callRepo.On("MutateCall", mock.Anything, "c1", mock.Anything).Return(call, nil).Once()

	_, ended, err := svc.Reject(context.Background(), "u2", "c1")
	require.NoError(t, err)
	assert.True(t, ended)
	callRepo.AssertExpectations(t)
}

func TestRejectKeepsCallWhileSomeoneRemains(t *testing.T) {
	callRepo := new(mocks.CallRepositoryMock)
	chatRepo := new(mocks.ChatRepositoryMock)
	svc := newTestService(callRepo, chatRepo)

	call := models.Call{ID: "call1", ChatID: "c1", Participants: models.Participants{
		{UserID: "u1", Status: models.ParticipantInCall},
		{UserID: "u2", Status: models.ParticipantNotified},
	}}
	callRepo.On("MutateCall", mock.Anything, "c1", mock.Anything).Return(call, nil).Once()

	left, ended, err := svc.Reject(context.Background(), "u2", "c1")
	require.NoError(t, err)
	assert.False(t, ended)
	idx := left.Participants.Find("u2")
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, models.ParticipantRejected, left.Participants[idx].Status)
}

func TestFlushAttemptsEveryBatch(t *testing.T) {
	callRepo := new(mocks.CallRepositoryMock)
	chatRepo := new(mocks.ChatRepositoryMock)
	svc := newTestService(callRepo, chatRepo)

	svc.QueueIceCandidates("u1", "chatA", "u2", models.CandidatesOffer, []string{"c1"})
	svc.QueueIceCandidates("u3", "chatB", "u4", models.CandidatesOffer, []string{"c2"})

	callRepo.On("AppendIceCandidates", mock.Anything, "chatA", mock.Anything).Return(assert.AnError).Once()
	callRepo.On("AppendIceCandidates", mock.Anything, "chatB", mock.Anything).Return(nil).Once()

	svc.Flush(context.Background())
	callRepo.AssertExpectations(t)
}

func TestFlushFailureEmitsAuditEvent(t *testing.T) {
	callRepo := new(mocks.CallRepositoryMock)
	chatRepo := new(mocks.ChatRepositoryMock)
	pub := new(mocks.PublisherMock)
	svc := NewService(callRepo, chatRepo, testOptions(), telemetry.NewAuditEmitter(pub, "svc", "test"), zap.NewNop())

	svc.QueueIceCandidates("u1", "chatA", "u2", models.CandidatesOffer, []string{"c1"})

	callRepo.On("AppendIceCandidates", mock.Anything, "chatA", mock.Anything).Return(assert.AnError).Once()
	pub.On("Publish", mock.Anything, mock.Anything, mock.MatchedBy(func(e telemetry.AuditEnvelope) bool {
		return e.EventType == telemetry.EventFlushFailed && e.Payload["chat_id"] == "chatA"
	})).Return(nil).Once()

	svc.Flush(context.Background())
	pub.AssertExpectations(t)
}

func TestFlushWithEmptyQueueWritesNothing(t *testing.T) {
	callRepo := new(mocks.CallRepositoryMock)
	chatRepo := new(mocks.ChatRepositoryMock)
	svc := newTestService(callRepo, chatRepo)

	svc.Flush(context.Background())
	callRepo.AssertNotCalled(t, "AppendIceCandidates", mock.Anything, mock.Anything, mock.Anything)
}
