package calls

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"signaling-service/internal/models"
	"signaling-service/internal/observability"
	"signaling-service/internal/repositories"
	"signaling-service/internal/telemetry"
)

var (
	ErrNotChatMember  = errors.New("user is not a member of the chat")
	ErrNotParticipant = errors.New("user is not a call participant")
	ErrJoinTimeout    = errors.New("timed out waiting for signaling data")
)

// Options tune the batching and join-protocol timing.
type Options struct {
	FlushInterval time.Duration
	FlushGrace    time.Duration
	JoinPoll      time.Duration
	JoinTimeout   time.Duration
}

// Service owns call lifecycle and per-participant offer/answer/ICE state.
type Service struct {
	calls repositories.CallRepository
	chats repositories.ChatRepository
	queue *iceQueue
	opts  Options
	audit *telemetry.AuditEmitter
	log   *zap.Logger
}

// NewService constructs the call signaling service.
func NewService(calls repositories.CallRepository, chats repositories.ChatRepository, opts Options, audit *telemetry.AuditEmitter, log *zap.Logger) *Service {
	return &Service{
		calls: calls,
		chats: chats,
		queue: newIceQueue(),
		opts:  opts,
		audit: audit,
		log:   log,
	}
}

// Join adds the user to the chat's call, creating the call when absent.
// Rejoining an existing participant is a no-op. A non-initiator first waits,
// polling at a bounded interval, until every other current participant has sent
// at least one ICE candidate addressed to it; on timeout the join fails without
// mutating state.
func (s *Service) Join(ctx context.Context, userID, chatID string, isInitiator bool) (models.Call, error) {
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return models.Call{}, err
	}
	if !chat.HasMember(userID) {
		return models.Call{}, ErrNotChatMember
	}

	call, err := s.calls.GetCallByChat(ctx, chatID)
	if errors.Is(err, repositories.ErrCallNotFound) {
		return s.createCall(ctx, userID, chatID)
	}
	if err != nil {
		return models.Call{}, err
	}

	if call.Participants.Find(userID) >= 0 {
		return call, nil
	}

	status := models.ParticipantNotified
	if !isInitiator {
		if err := s.awaitSignaling(ctx, userID, chatID); err != nil {
			return models.Call{}, err
		}
		status = models.ParticipantInCall
	}

	// The append runs against the row-locked document so a concurrent flush
	// or leave is never overwritten.
	call, _, err = s.calls.MutateCall(ctx, chatID, func(c *models.Call) (repositories.CallMutation, error) {
		if c.Participants.Find(userID) >= 0 {
			return repositories.CallUnchanged, nil
		}
		c.Participants = append(c.Participants, models.Participant{UserID: userID, Status: status})
		return repositories.CallSave, nil
	})
	return call, err
}

func (s *Service) createCall(ctx context.Context, userID, chatID string) (models.Call, error) {
	call := models.Call{
		ID:     uuid.NewString(),
		ChatID: chatID,
		Participants: models.Participants{
			{UserID: userID, Status: models.ParticipantNotified},
		},
	}
	call, err := s.calls.CreateCall(ctx, call)
	if err != nil {
		return models.Call{}, err
	}
	if err := s.chats.SetOngoingCall(ctx, chatID, &models.CallSummary{CallID: call.ID, StartedAt: call.CreatedAt}); err != nil {
		return models.Call{}, err
	}
	return call, nil
}

// awaitSignaling polls until EveryoneSentIce holds for the joining user.
func (s *Service) awaitSignaling(ctx context.Context, userID, chatID string) error {
	deadline := time.Now().Add(s.opts.JoinTimeout)
	for {
		call, err := s.calls.GetCallByChat(ctx, chatID)
		if err != nil {
			return err
		}
		if EveryoneSentIce(call, userID) {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrJoinTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.opts.JoinPoll):
		}
	}
}

// EveryoneSentIce reports whether every other current participant has at least
// one ICE candidate addressed to the user.
func EveryoneSentIce(call models.Call, userID string) bool {
	for _, p := range call.Participants {
		if p.UserID == userID {
			continue
		}
		if !hasCandidateFor(p, userID) {
			return false
		}
	}
	return true
}

func hasCandidateFor(p models.Participant, userID string) bool {
	for _, entries := range [][]models.SignalEntry{p.Offers, p.Answers} {
		if entry := models.FindEntry(entries, userID); entry != nil && len(entry.IceCandidates) > 0 {
			return true
		}
	}
	return false
}

// Update upserts the user's offer/answer addressed to a recipient. A new SDP
// clears that entry's ICE candidates: they were negotiated against the old one.
// With persist unset the call document is left untouched and the updated view
// is only returned for relaying.
func (s *Service) Update(ctx context.Context, userID, chatID, to, offer, answer string, persist bool) (models.Call, error) {
	apply := func(call *models.Call) (repositories.CallMutation, error) {
		idx := call.Participants.Find(userID)
		if idx < 0 {
			return repositories.CallUnchanged, ErrNotParticipant
		}
		participant := &call.Participants[idx]
		if offer != "" {
			upsertEntry(participant.Entries(models.CandidatesOffer), to, offer)
		}
		if answer != "" {
			upsertEntry(participant.Entries(models.CandidatesAnswer), to, answer)
		}
		return repositories.CallSave, nil
	}

	if persist {
		call, _, err := s.calls.MutateCall(ctx, chatID, apply)
		return call, err
	}

	call, err := s.calls.GetCallByChat(ctx, chatID)
	if err != nil {
		return models.Call{}, err
	}
	if _, err := apply(&call); err != nil {
		return models.Call{}, err
	}
	return call, nil
}

func upsertEntry(entries *[]models.SignalEntry, to, sdp string) {
	if entry := models.FindEntry(*entries, to); entry != nil {
		entry.SDP = sdp
		entry.IceCandidates = nil
		return
	}
	*entries = append(*entries, models.SignalEntry{To: to, SDP: sdp})
}

// QueueIceCandidates appends candidates to the write-batching queue and arms a
// short grace flush so interactive latency stays bounded while steady-state
// writes are still batched.
func (s *Service) QueueIceCandidates(userID, chatID, to, kind string, candidates []string) {
	s.queue.enqueue(chatID, repositories.IceWrite{
		From:       userID,
		To:         to,
		Kind:       kind,
		Candidates: candidates,
	})
	if s.queue.scheduleGrace() {
		time.AfterFunc(s.opts.FlushGrace, func() {
			s.Flush(context.Background())
		})
	}
}

// Flush drains the queue and bulk-writes each call's batch. One failed batch
// never aborts the others.
func (s *Service) Flush(ctx context.Context) {
	batches := s.queue.drain()

	total := 0
	for _, writes := range batches {
		total += len(writes)
	}
	observability.ObserveIceFlush(total)
	if len(batches) == 0 {
		return
	}

	for chatID, writes := range batches {
		if err := s.calls.AppendIceCandidates(ctx, chatID, writes); err != nil {
			s.log.Error("ice flush failed",
				zap.String("chat_id", chatID),
				zap.Int("writes", len(writes)),
				zap.Error(err))
			s.audit.Emit(ctx, telemetry.EventFlushFailed, "", map[string]any{
				"chat_id": chatID,
				"writes":  len(writes),
			})
		}
	}
}

// RunFlusher runs the periodic flush until the context is cancelled.
func (s *Service) RunFlusher(ctx context.Context) {
	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

// End removes the user from the call. The last leaver deletes the call
// document and clears the chat's ongoing-call summary; ended reports which
// case happened. The removal runs under the repository's row lock, so two
// participants leaving at once cannot resurrect each other's removal.
func (s *Service) End(ctx context.Context, userID, chatID string) (models.Call, bool, error) {
	return s.calls.MutateCall(ctx, chatID, func(call *models.Call) (repositories.CallMutation, error) {
		idx := call.Participants.Find(userID)
		if idx < 0 {
			return repositories.CallUnchanged, ErrNotParticipant
		}
		call.Participants = append(call.Participants[:idx], call.Participants[idx+1:]...)
		if len(call.Participants) == 0 {
			return repositories.CallEnd, nil
		}
		return repositories.CallSave, nil
	})
}

// Reject marks the user's participation rejected; once every remaining
// participant has rejected, the call ends.
func (s *Service) Reject(ctx context.Context, userID, chatID string) (models.Call, bool, error) {
	return s.calls.MutateCall(ctx, chatID, func(call *models.Call) (repositories.CallMutation, error) {
		idx := call.Participants.Find(userID)
		if idx < 0 {
			return repositories.CallUnchanged, ErrNotParticipant
		}
		call.Participants[idx].Status = models.ParticipantRejected
		for _, p := range call.Participants {
			if p.Status != models.ParticipantRejected {
				return repositories.CallSave, nil
			}
		}
		return repositories.CallEnd, nil
	})
}
