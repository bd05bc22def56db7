package gateway

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ChatDeleter removes a chat record on the upstream.
type ChatDeleter interface {
	DeleteChat(ctx context.Context, bearer, chatID string) error
}

// Janitor remembers the upstream chats this gateway created and deletes aged
// ones in batches. Deletion failures are logged and dropped; housekeeping
// carries no pool accounting weight.
type Janitor struct {
	mu      sync.Mutex
	entries []janitorEntry
	deleter ChatDeleter
	maxAge  time.Duration
}

type janitorEntry struct {
	chatID    string
	bearer    string
	createdAt time.Time
}

// NewJanitor creates a janitor deleting chats older than maxAge on each sweep.
func NewJanitor(deleter ChatDeleter, maxAge time.Duration) *Janitor {
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}
	return &Janitor{deleter: deleter, maxAge: maxAge}
}

// Track records a chat for later deletion. Nil-safe so the orchestrator can
// run without housekeeping.
func (j *Janitor) Track(chatID, bearer string) {
	if j == nil || chatID == "" {
		return
	}
	j.mu.Lock()
	j.entries = append(j.entries, janitorEntry{chatID: chatID, bearer: bearer, createdAt: time.Now()})
	j.mu.Unlock()
}

// Sweep deletes every tracked chat older than maxAge and returns how many
// deletions were attempted.
func (j *Janitor) Sweep(ctx context.Context) int {
	if j == nil {
		return 0
	}
	cutoff := time.Now().Add(-j.maxAge)

	j.mu.Lock()
	var due, keep []janitorEntry
	for _, entry := range j.entries {
		if entry.createdAt.Before(cutoff) {
			due = append(due, entry)
		} else {
			keep = append(keep, entry)
		}
	}
	j.entries = keep
	j.mu.Unlock()

	for _, entry := range due {
		if err := j.deleter.DeleteChat(ctx, entry.bearer, entry.chatID); err != nil {
			log.WithField("chat_id", entry.chatID).Debugf("janitor: delete chat failed: %v", err)
		}
	}
	if len(due) > 0 {
		log.Debugf("janitor: swept %d chat(s)", len(due))
	}
	return len(due)
}
