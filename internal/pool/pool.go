package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/qwenverse/qwenbridge/internal/qwen"
)

// renewalLead is how far ahead of token expiry RenewExpiring re-exchanges.
const renewalLead = 24 * time.Hour

// TokenExchanger trades a long-lived secret for a short-lived bearer token.
type TokenExchanger interface {
	ExchangeToken(ctx context.Context, secret string) (string, error)
}

// Pool owns an ordered collection of credentials. Selection is round-robin
// over the currently available subset; the cursor wraps modulo that subset's
// size, so fairness is approximate while availability fluctuates. The mutex
// guards only in-memory state and is never held across a network call.
type Pool struct {
	mu        sync.Mutex
	creds     []*Credential
	cursor    int
	nextID    int
	exchanger TokenExchanger

	// now is the clock, swappable in tests.
	now func() time.Time
}

// New builds a pool from the ordered secret list and performs one synchronous
// token exchange per secret. An exchange failure marks that credential
// degraded and records the error; it never aborts construction. A pool where
// every exchange failed is still functional: selection yields nil until
// renewal succeeds.
func New(ctx context.Context, exchanger TokenExchanger, secrets []string) *Pool {
	p := &Pool{exchanger: exchanger, now: time.Now, nextID: len(secrets) + 1}
	for i, secret := range secrets {
		cred := &Credential{
			ID:     fmt.Sprintf("qwen-%d", i+1),
			Secret: secret,
		}
		token, err := exchanger.ExchangeToken(ctx, secret)
		if err != nil {
			// Degraded from the start; renewal will retry the exchange.
			cred.FailureCount = degradedThreshold
			cred.LastError = err.Error()
			log.WithField("credential", cred.ID).Warnf("credential pool: initial token exchange failed for %s: %v", cred.Redacted(), err)
		} else {
			p.adoptToken(cred, token)
		}
		p.creds = append(p.creds, cred)
	}
	log.Infof("credential pool: initialized with %d credential(s)", len(p.creds))
	return p
}

// adoptToken installs a fresh bearer token on the credential.
func (p *Pool) adoptToken(cred *Credential, token string) {
	cred.BearerToken = token
	cred.TokenExpiry = time.Time{}
	if exp, err := qwen.TokenExpiry(token); err == nil {
		cred.TokenExpiry = exp
	} else {
		log.WithField("credential", cred.ID).Debugf("credential pool: token expiry not extractable: %v", err)
	}
}

// Len returns the number of credentials in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// SelectAvailable picks the next credential round-robin over the available
// subset. When nothing is strictly available it degrades to picking any
// credential that at least holds a token, in cursor order, rather than
// failing the request outright. Returns nil only when no credential has ever
// obtained a token. The returned credential is a clone; feed outcomes back
// through ReportSuccess / ReportFailure by ID.
func (p *Pool) SelectAvailable() *Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	available := make([]*Credential, 0, len(p.creds))
	for _, cred := range p.creds {
		if cred.availableAt(now) {
			available = append(available, cred)
		}
	}
	if len(available) == 0 {
		for _, cred := range p.creds {
			if cred.BearerToken != "" {
				available = append(available, cred)
			}
		}
		if len(available) == 0 {
			return nil
		}
		log.Warnf("credential pool: no healthy credential available, degrading to %d token holder(s)", len(available))
	}

	// Cursor wraps modulo the current subset size, not the full pool size.
	cred := available[p.cursor%len(available)]
	p.cursor++
	return cred.Clone()
}

// ReportFailure records an upstream failure for the credential. Crossing the
// degraded threshold starts a 2 minute cooldown, crossing the down threshold a
// 5 minute one. Thresholds are cumulative; only success reduces the counter.
func (p *Pool) ReportFailure(id string, cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cred := p.lookup(id)
	if cred == nil {
		return
	}
	cred.FailureCount++
	if cause != nil {
		cred.LastError = cause.Error()
	}
	now := p.now()
	switch {
	case cred.FailureCount >= downThreshold:
		cred.NextEligibleAt = now.Add(downCooldown)
		log.WithField("credential", cred.ID).Warnf("credential pool: marked down for %s after %d failures: %v", downCooldown, cred.FailureCount, cause)
	case cred.FailureCount >= degradedThreshold:
		cred.NextEligibleAt = now.Add(degradedCooldown)
		log.WithField("credential", cred.ID).Warnf("credential pool: marked degraded for %s after %d failures: %v", degradedCooldown, cred.FailureCount, cause)
	default:
		log.WithField("credential", cred.ID).Debugf("credential pool: failure %d recorded: %v", cred.FailureCount, cause)
	}
}

// ReportSuccess records a successful use: the failure count decrements
// (floored at zero) and, once the credential passes the selection predicate
// again, its cooldown is cleared.
func (p *Pool) ReportSuccess(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cred := p.lookup(id)
	if cred == nil {
		return
	}
	if cred.FailureCount > 0 {
		cred.FailureCount--
	}
	now := p.now()
	cred.LastUsedAt = now
	if cred.availableAt(now) {
		cred.NextEligibleAt = time.Time{}
	}
}

// RenewExpiring re-runs the token exchange for every credential whose token is
// missing, expired, or within 24h of expiry. Individual failures are isolated
// and accounted through the normal failure path. Returns the number of
// credentials renewed.
func (p *Pool) RenewExpiring(ctx context.Context) int {
	p.mu.Lock()
	now := p.now()
	type renewal struct {
		id     string
		secret string
	}
	pending := make([]renewal, 0, len(p.creds))
	for _, cred := range p.creds {
		if cred.needsRenewalAt(now, renewalLead) {
			pending = append(pending, renewal{id: cred.ID, secret: cred.Secret})
		}
	}
	p.mu.Unlock()

	if len(pending) == 0 {
		return 0
	}

	var renewedMu sync.Mutex
	renewed := 0
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(4)
	for _, item := range pending {
		item := item
		group.Go(func() error {
			token, err := p.exchanger.ExchangeToken(groupCtx, item.secret)
			if err != nil {
				log.WithField("credential", item.id).Warnf("credential pool: token renewal failed: %v", err)
				p.ReportFailure(item.id, err)
				return nil // isolated: one failure must not abort the batch
			}
			p.mu.Lock()
			if cred := p.lookup(item.id); cred != nil {
				p.adoptToken(cred, token)
			}
			p.mu.Unlock()
			renewedMu.Lock()
			renewed++
			renewedMu.Unlock()
			p.ReportSuccess(item.id)
			return nil
		})
	}
	_ = group.Wait()
	if renewed > 0 {
		log.Infof("credential pool: renewed %d credential token(s)", renewed)
	}
	return renewed
}

// ApplySecrets reconciles the pool against a reloaded secret list. Credentials
// whose secret survives keep their identity, token, and failure history;
// removed secrets drop out of selection immediately; new secrets get fresh
// credentials and one token exchange each. Returns how many credentials were
// added and removed.
func (p *Pool) ApplySecrets(ctx context.Context, secrets []string) (added, removed int) {
	p.mu.Lock()
	existing := make(map[string]*Credential, len(p.creds))
	for _, cred := range p.creds {
		existing[cred.Secret] = cred
	}

	next := make([]*Credential, 0, len(secrets))
	var fresh []*Credential
	for _, secret := range secrets {
		if cred, ok := existing[secret]; ok {
			next = append(next, cred)
			delete(existing, secret)
			continue
		}
		cred := &Credential{ID: fmt.Sprintf("qwen-%d", p.nextID), Secret: secret}
		p.nextID++
		next = append(next, cred)
		fresh = append(fresh, cred)
	}
	removed = len(existing)
	added = len(fresh)
	p.creds = next
	p.mu.Unlock()

	for _, cred := range existing {
		log.WithField("credential", cred.ID).Info("credential pool: removed by config reload")
	}
	if len(fresh) == 0 {
		return added, removed
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(4)
	for _, cred := range fresh {
		cred := cred
		group.Go(func() error {
			token, err := p.exchanger.ExchangeToken(groupCtx, cred.Secret)
			p.mu.Lock()
			defer p.mu.Unlock()
			if err != nil {
				cred.FailureCount = degradedThreshold
				cred.LastError = err.Error()
				log.WithField("credential", cred.ID).Warnf("credential pool: token exchange failed for %s: %v", cred.Redacted(), err)
				return nil
			}
			p.adoptToken(cred, token)
			log.WithField("credential", cred.ID).Info("credential pool: added by config reload")
			return nil
		})
	}
	_ = group.Wait()
	return added, removed
}

// Snapshot returns clones of all credentials, for status reporting.
func (p *Pool) Snapshot() []*Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Credential, len(p.creds))
	for i, cred := range p.creds {
		out[i] = cred.Clone()
	}
	return out
}

// SetClock swaps the pool clock. Intended for tests.
func (p *Pool) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

func (p *Pool) lookup(id string) *Credential {
	for _, cred := range p.creds {
		if cred.ID == id {
			return cred
		}
	}
	return nil
}
