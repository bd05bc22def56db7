package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// stubExchanger returns canned tokens per secret and counts exchanges.
type stubExchanger struct {
	mu        sync.Mutex
	fail      map[string]bool
	exchanges int
}

func (s *stubExchanger) ExchangeToken(_ context.Context, secret string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exchanges++
	if s.fail[secret] {
		return "", errors.New("sign-in rejected")
	}
	return "token-for-" + secret, nil
}

func newTestPool(t *testing.T, secrets ...string) (*Pool, *stubExchanger) {
	t.Helper()
	exchanger := &stubExchanger{fail: map[string]bool{}}
	p := New(context.Background(), exchanger, secrets)
	return p, exchanger
}

func TestNewIsolatesExchangeFailure(t *testing.T) {
	t.Parallel()

	exchanger := &stubExchanger{fail: map[string]bool{"bad": true}}
	p := New(context.Background(), exchanger, []string{"good", "bad"})

	if got := p.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
	creds := p.Snapshot()
	if creds[0].BearerToken == "" {
		t.Fatalf("credential %s: missing token after successful exchange", creds[0].ID)
	}
	if creds[1].BearerToken != "" {
		t.Fatalf("credential %s: unexpected token after failed exchange", creds[1].ID)
	}
	if got := creds[1].StatusAt(time.Now()); got != StatusDegraded {
		t.Fatalf("failed credential status = %s, want degraded", got)
	}

	// Selection must skip the credential without a token.
	for i := 0; i < 4; i++ {
		cred := p.SelectAvailable()
		if cred == nil {
			t.Fatalf("SelectAvailable() #%d = nil", i)
		}
		if cred.ID != "qwen-1" {
			t.Fatalf("SelectAvailable() #%d = %s, want qwen-1", i, cred.ID)
		}
	}
}

func TestNewWithAllExchangesFailed(t *testing.T) {
	t.Parallel()

	exchanger := &stubExchanger{fail: map[string]bool{"a": true, "b": true}}
	p := New(context.Background(), exchanger, []string{"a", "b"})

	if cred := p.SelectAvailable(); cred != nil {
		t.Fatalf("SelectAvailable() = %s, want nil when no credential holds a token", cred.ID)
	}
}

func TestSelectRoundRobinFairness(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, "a", "b")
	want := []string{"qwen-1", "qwen-2", "qwen-1", "qwen-2"}
	for i, id := range want {
		cred := p.SelectAvailable()
		if cred == nil {
			t.Fatalf("SelectAvailable() #%d = nil", i)
		}
		if cred.ID != id {
			t.Fatalf("SelectAvailable() #%d = %s, want %s", i, cred.ID, id)
		}
	}
}

func TestFailureThresholdsAndCooldowns(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, "a", "b", "c")
	now := time.Now()
	p.SetClock(func() time.Time { return now })

	for i := 0; i < 5; i++ {
		p.ReportFailure("qwen-1", fmt.Errorf("boom %d", i))
	}

	// qwen-1 is down with a 5 minute cooldown: it must never be selected.
	for i := 0; i < 12; i++ {
		cred := p.SelectAvailable()
		if cred == nil {
			t.Fatalf("SelectAvailable() #%d = nil", i)
		}
		if cred.ID == "qwen-1" {
			t.Fatalf("SelectAvailable() #%d returned qwen-1 during cooldown", i)
		}
	}

	// Not eligible one second before the cooldown ends.
	now = now.Add(5*time.Minute - time.Second)
	for i := 0; i < 6; i++ {
		if cred := p.SelectAvailable(); cred != nil && cred.ID == "qwen-1" {
			t.Fatalf("qwen-1 selected %s before cooldown elapsed", time.Second)
		}
	}

	// After the cooldown the credential is readmitted as a probe.
	now = now.Add(2 * time.Second)
	seen := map[string]bool{}
	for i := 0; i < 6; i++ {
		if cred := p.SelectAvailable(); cred != nil {
			seen[cred.ID] = true
		}
	}
	if !seen["qwen-1"] {
		t.Fatalf("qwen-1 not readmitted after cooldown, selections = %v", seen)
	}
}

func TestDegradedCooldownAtThreeFailures(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, "a", "b")
	now := time.Now()
	p.SetClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		p.ReportFailure("qwen-1", errors.New("boom"))
	}
	for i := 0; i < 4; i++ {
		cred := p.SelectAvailable()
		if cred == nil || cred.ID != "qwen-2" {
			t.Fatalf("SelectAvailable() #%d = %v, want qwen-2 only during degraded cooldown", i, cred)
		}
	}

	now = now.Add(2*time.Minute + time.Second)
	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		if cred := p.SelectAvailable(); cred != nil {
			seen[cred.ID] = true
		}
	}
	if !seen["qwen-1"] {
		t.Fatalf("qwen-1 not selectable after degraded cooldown, selections = %v", seen)
	}
}

func TestReportSuccessFloorsAtZero(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, "a")
	p.ReportSuccess("qwen-1")
	p.ReportSuccess("qwen-1")

	cred := p.Snapshot()[0]
	if cred.FailureCount != 0 {
		t.Fatalf("FailureCount = %d, want 0", cred.FailureCount)
	}
	if cred.LastUsedAt.IsZero() {
		t.Fatalf("LastUsedAt not recorded")
	}
}

func TestDegradedFallbackSelection(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, "a")
	now := time.Now()
	p.SetClock(func() time.Time { return now })

	// Push the only credential into cooldown: strict selection is empty, but
	// the pool must degrade to the token holder instead of failing.
	for i := 0; i < 5; i++ {
		p.ReportFailure("qwen-1", errors.New("boom"))
	}
	cred := p.SelectAvailable()
	if cred == nil {
		t.Fatalf("SelectAvailable() = nil, want degraded fallback to token holder")
	}
	if cred.ID != "qwen-1" {
		t.Fatalf("SelectAvailable() = %s, want qwen-1", cred.ID)
	}
}

func TestApplySecretsReconciles(t *testing.T) {
	t.Parallel()

	p, exchanger := newTestPool(t, "a", "b")
	for i := 0; i < 2; i++ {
		p.ReportFailure("qwen-2", errors.New("boom"))
	}

	added, removed := p.ApplySecrets(context.Background(), []string{"b", "c"})
	if added != 1 || removed != 1 {
		t.Fatalf("ApplySecrets() = (%d added, %d removed), want (1, 1)", added, removed)
	}

	creds := p.Snapshot()
	if len(creds) != 2 {
		t.Fatalf("Len() = %d, want 2", len(creds))
	}
	// The surviving credential keeps its identity and failure history.
	if creds[0].ID != "qwen-2" || creds[0].FailureCount != 2 {
		t.Fatalf("surviving credential = %s failures=%d, want qwen-2 with 2", creds[0].ID, creds[0].FailureCount)
	}
	// The new credential got a fresh ID and an exchanged token.
	if creds[1].Secret != "c" || creds[1].BearerToken != "token-for-c" {
		t.Fatalf("new credential = %+v, want exchanged token for secret c", creds[1])
	}
	if creds[1].ID == "qwen-1" || creds[1].ID == "qwen-2" {
		t.Fatalf("new credential reused ID %s", creds[1].ID)
	}

	// The removed credential no longer appears in selection.
	for i := 0; i < 4; i++ {
		if cred := p.SelectAvailable(); cred != nil && cred.Secret == "a" {
			t.Fatalf("removed credential still selectable")
		}
	}
	exchanger.mu.Lock()
	defer exchanger.mu.Unlock()
	if exchanger.exchanges != 3 {
		t.Fatalf("exchanges = %d, want 3 (two initial, one for the added secret)", exchanger.exchanges)
	}
}

func TestRenewExpiring(t *testing.T) {
	t.Parallel()

	exchanger := &stubExchanger{fail: map[string]bool{"b": true}}
	p := New(context.Background(), exchanger, []string{"a", "b"})
	// "a" holds a token without an extractable expiry: no renewal needed.
	// "b" failed its initial exchange: renewal must retry it.
	exchanger.mu.Lock()
	baseline := exchanger.exchanges
	exchanger.mu.Unlock()

	if got := p.RenewExpiring(context.Background()); got != 0 {
		t.Fatalf("RenewExpiring() = %d, want 0 renewed while exchange still fails", got)
	}
	exchanger.mu.Lock()
	retried := exchanger.exchanges - baseline
	exchanger.fail["b"] = false
	exchanger.mu.Unlock()
	if retried != 1 {
		t.Fatalf("renewal attempted %d exchange(s), want 1", retried)
	}

	if got := p.RenewExpiring(context.Background()); got != 1 {
		t.Fatalf("RenewExpiring() = %d, want 1 after exchange recovers", got)
	}
	creds := p.Snapshot()
	if creds[1].BearerToken != "token-for-b" {
		t.Fatalf("credential qwen-2 token = %q, want renewed token", creds[1].BearerToken)
	}
}
