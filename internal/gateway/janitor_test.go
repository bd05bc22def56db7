package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingDeleter struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (d *recordingDeleter) DeleteChat(_ context.Context, _, chatID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleted = append(d.deleted, chatID)
	return d.err
}

func TestJanitorSweepsOnlyAgedChats(t *testing.T) {
	t.Parallel()

	deleter := &recordingDeleter{}
	janitor := NewJanitor(deleter, 30*time.Minute)
	janitor.Track("old-chat", "tok")
	janitor.Track("fresh-chat", "tok")

	// Age the first entry past the cutoff.
	janitor.mu.Lock()
	janitor.entries[0].createdAt = time.Now().Add(-time.Hour)
	janitor.mu.Unlock()

	if got := janitor.Sweep(context.Background()); got != 1 {
		t.Fatalf("Sweep() = %d, want 1", got)
	}
	if len(deleter.deleted) != 1 || deleter.deleted[0] != "old-chat" {
		t.Fatalf("deleted = %v, want [old-chat]", deleter.deleted)
	}

	// The fresh entry stays tracked for a later sweep.
	janitor.mu.Lock()
	remaining := len(janitor.entries)
	janitor.mu.Unlock()
	if remaining != 1 {
		t.Fatalf("remaining entries = %d, want 1", remaining)
	}
}

func TestJanitorIgnoresDeleteFailures(t *testing.T) {
	t.Parallel()

	deleter := &recordingDeleter{err: errors.New("gone already")}
	janitor := NewJanitor(deleter, time.Nanosecond)
	janitor.Track("chat-1", "tok")
	time.Sleep(time.Millisecond)

	if got := janitor.Sweep(context.Background()); got != 1 {
		t.Fatalf("Sweep() = %d, want 1", got)
	}
}

func TestJanitorNilSafe(t *testing.T) {
	t.Parallel()

	var janitor *Janitor
	janitor.Track("chat", "tok")
	if got := janitor.Sweep(context.Background()); got != 0 {
		t.Fatalf("Sweep() on nil = %d, want 0", got)
	}
}
