package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"signaling-service/internal/observability"
)

var (
	ErrChunkOutOfRange = errors.New("chunk index out of range")
	ErrUnknownFile     = errors.New("file does not belong to the message")
)

// Buffer reassembles complete files from unordered chunk streams. Entries are
// keyed by message id; a background sweep reclaims abandoned entries after an
// inactivity window. The sweep self-disables while the buffer is empty.
type Buffer struct {
	uploader Uploader
	log      *zap.Logger

	sweepInterval time.Duration
	maxIdle       time.Duration
	now           func() time.Time

	mu       sync.Mutex
	entries  map[string]*entry
	sweeping bool
}

type entry struct {
	mu          sync.Mutex
	files       map[string]*fileState
	lastTouched time.Time
}

// fileState is either still assembling (chunks != nil) or resolved (url set).
type fileState struct {
	name   string
	chunks [][]byte
	filled int
	url    string
}

func (f *fileState) resolved() bool { return f.url != "" }

// NewBuffer constructs a reassembly buffer.
func NewBuffer(uploader Uploader, sweepInterval, maxIdle time.Duration, log *zap.Logger) *Buffer {
	return &Buffer{
		uploader:      uploader,
		log:           log,
		sweepInterval: sweepInterval,
		maxIdle:       maxIdle,
		now:           time.Now,
		entries:       make(map[string]*entry),
	}
}

// Add records one chunk for a file of the message. fileIDs is the message's
// declared file list, used to seed the entry on the first fragment. When every
// declared file has resolved to a hosted URL, Add returns the complete
// fileID→URL mapping with done=true and drops the entry. An upload failure
// drops the entry and is returned to the caller, who owns deleting the
// now-incomplete message.
func (b *Buffer) Add(ctx context.Context, messageID, fileID, name string, chunk []byte, index, totalChunks int, fileIDs []string) (map[string]string, bool, error) {
	e := b.entryFor(messageID, fileIDs)

	e.mu.Lock()
	e.lastTouched = b.now()

	fs, ok := e.files[fileID]
	if !ok {
		e.mu.Unlock()
		return nil, false, ErrUnknownFile
	}
	if fs.resolved() {
		// Duplicate chunk after completion, nothing to do.
		done, urls := e.snapshot()
		e.mu.Unlock()
		if done {
			b.remove(messageID, e)
		}
		return urls, done, nil
	}

	if fs.chunks == nil {
		fs.name = name
		fs.chunks = make([][]byte, totalChunks)
	}
	if index < 0 || index >= len(fs.chunks) {
		e.mu.Unlock()
		return nil, false, fmt.Errorf("%w: %d of %d", ErrChunkOutOfRange, index, len(fs.chunks))
	}

	if fs.chunks[index] == nil {
		fs.filled++
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	fs.chunks[index] = buf

	if fs.filled < len(fs.chunks) {
		e.mu.Unlock()
		return nil, false, nil
	}

	merged := concat(fs.chunks)
	url, err := b.uploader.Upload(ctx, fs.name, merged)
	if err != nil {
		e.mu.Unlock()
		b.remove(messageID, e)
		return nil, false, err
	}
	fs.chunks = nil
	fs.url = url

	done, urls := e.snapshot()
	e.mu.Unlock()
	if done {
		b.remove(messageID, e)
	}
	return urls, done, nil
}

// Len returns the number of in-flight entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func (b *Buffer) entryFor(messageID string, fileIDs []string) *entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[messageID]
	if !ok {
		e = &entry{files: make(map[string]*fileState, len(fileIDs))}
		for _, id := range fileIDs {
			e.files[id] = &fileState{}
		}
		b.entries[messageID] = e
		observability.SetReassemblyEntries(len(b.entries))
		if !b.sweeping {
			b.sweeping = true
			go b.sweepLoop()
		}
	}
	return e
}

func (b *Buffer) remove(messageID string, e *entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if current, ok := b.entries[messageID]; ok && current == e {
		delete(b.entries, messageID)
		observability.SetReassemblyEntries(len(b.entries))
	}
}

// snapshot reports completion and, when complete, the fileID→URL mapping.
// Caller holds e.mu.
func (e *entry) snapshot() (bool, map[string]string) {
	for _, fs := range e.files {
		if !fs.resolved() {
			return false, nil
		}
	}
	urls := make(map[string]string, len(e.files))
	for id, fs := range e.files {
		urls[id] = fs.url
	}
	return true, urls
}

func (b *Buffer) sweepLoop() {
	ticker := time.NewTicker(b.sweepInterval)
	defer ticker.Stop()
	for range ticker.C {
		if !b.sweep() {
			return
		}
	}
}

// sweep drops idle entries. It returns false once the buffer is empty, which
// disables the loop until the next first fragment restarts it.
func (b *Buffer) sweep() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-b.maxIdle)
	for id, e := range b.entries {
		e.mu.Lock()
		idle := e.lastTouched.Before(cutoff)
		e.mu.Unlock()
		if idle {
			delete(b.entries, id)
			b.log.Info("reassembly entry expired", zap.String("message_id", id))
		}
	}
	observability.SetReassemblyEntries(len(b.entries))

	if len(b.entries) == 0 {
		b.sweeping = false
		return false
	}
	return true
}

func concat(chunks [][]byte) []byte {
	size := 0
	for _, c := range chunks {
		size += len(c)
	}
	merged := make([]byte, 0, size)
	for _, c := range chunks {
		merged = append(merged, c...)
	}
	return merged
}
