package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Participant statuses.
const (
	ParticipantNotified = "notified"
	ParticipantInCall   = "inCall"
	ParticipantRejected = "rejected"
)

// ICE candidate kinds, matching the signaling entry they belong to.
const (
	CandidatesOffer  = "offer"
	CandidatesAnswer = "answer"
)

// Call represents an ongoing call bound to a chat.
type Call struct {
	ID           string       `db:"id" json:"id"`
	ChatID       string       `db:"chat_id" json:"chatId"`
	Participants Participants `db:"participants" json:"participants"`
	CreatedAt    time.Time    `db:"created_at" json:"createdAt"`
}

// Participant is one user inside a call with its per-recipient signaling state.
type Participant struct {
	UserID  string        `json:"userId"`
	Status  string        `json:"status"`
	Offers  []SignalEntry `json:"offers"`
	Answers []SignalEntry `json:"answers"`
}

// SignalEntry holds one offer or answer addressed to a single recipient.
type SignalEntry struct {
	To            string   `json:"to"`
	SDP           string   `json:"sdp"`
	IceCandidates []string `json:"iceCandidates"`
}

// Participants is the JSONB-backed participant list.
type Participants []Participant

func (p Participants) Value() (driver.Value, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p)
}

func (p *Participants) Scan(src any) error {
	if src == nil {
		*p = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return errors.New("participants: expected []byte")
	}
	return json.Unmarshal(b, p)
}

// Find returns the index of the participant with the given user id, or -1.
func (p Participants) Find(userID string) int {
	for i := range p {
		if p[i].UserID == userID {
			return i
		}
	}
	return -1
}

// Entries returns the signaling entry list of the requested kind.
func (p *Participant) Entries(kind string) *[]SignalEntry {
	if kind == CandidatesAnswer {
		return &p.Answers
	}
	return &p.Offers
}

// FindEntry returns the entry addressed to the recipient, or nil.
func FindEntry(entries []SignalEntry, to string) *SignalEntry {
	for i := range entries {
		if entries[i].To == to {
			return &entries[i]
		}
	}
	return nil
}
