package calls

import (
	"sync"

	"signaling-service/internal/repositories"
)

// iceQueue is the process-wide write-batching buffer for ICE candidates.
// Enqueue is append-only; drain swaps the whole buffer out atomically, so a
// candidate enqueued during a flush lands in the next one, never dropped.
type iceQueue struct {
	mu             sync.Mutex
	pending        map[string][]repositories.IceWrite
	graceScheduled bool
}

func newIceQueue() *iceQueue {
	return &iceQueue{pending: make(map[string][]repositories.IceWrite)}
}

func (q *iceQueue) enqueue(chatID string, w repositories.IceWrite) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[chatID] = append(q.pending[chatID], w)
}

// scheduleGrace marks that a near-term flush is already pending. Returns true
// when the caller should arm the grace timer.
func (q *iceQueue) scheduleGrace() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.graceScheduled {
		return false
	}
	q.graceScheduled = true
	return true
}

// drain removes and returns all pending writes, deduplicated per
// (participant, recipient, kind) pair.
func (q *iceQueue) drain() map[string][]repositories.IceWrite {
	q.mu.Lock()
	pending := q.pending
	q.pending = make(map[string][]repositories.IceWrite)
	q.graceScheduled = false
	q.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	for chatID, writes := range pending {
		pending[chatID] = dedupe(writes)
	}
	return pending
}

func dedupe(writes []repositories.IceWrite) []repositories.IceWrite {
	type pairKey struct{ from, to, kind string }

	merged := make([]repositories.IceWrite, 0, len(writes))
	index := make(map[pairKey]int, len(writes))
	seen := make(map[pairKey]map[string]bool, len(writes))

	for _, w := range writes {
		key := pairKey{w.From, w.To, w.Kind}
		i, ok := index[key]
		if !ok {
			index[key] = len(merged)
			seen[key] = make(map[string]bool)
			merged = append(merged, repositories.IceWrite{From: w.From, To: w.To, Kind: w.Kind})
			i = len(merged) - 1
		}
		for _, candidate := range w.Candidates {
			if seen[key][candidate] {
				continue
			}
			seen[key][candidate] = true
			merged[i].Candidates = append(merged[i].Candidates, candidate)
		}
	}
	return merged
}
