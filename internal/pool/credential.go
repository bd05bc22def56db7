// Package pool tracks the health of multiple upstream credentials, selects one
// per request round-robin, and drives failover and renewal.
package pool

import "time"

// Status is the derived health state of a credential.
type Status int

const (
	// StatusHealthy means the credential has no concerning failure history.
	StatusHealthy Status = iota
	// StatusDegraded means repeated failures were observed; still selectable
	// once its cooldown has elapsed.
	StatusDegraded
	// StatusDown means the credential is excluded from normal selection until
	// its cooldown has elapsed and successes reduce the failure count.
	StatusDown
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusDown:
		return "down"
	default:
		return "unknown"
	}
}

const (
	degradedThreshold = 3
	downThreshold     = 5
	degradedCooldown  = 2 * time.Minute
	downCooldown      = 5 * time.Minute
)

// Credential is one upstream identity: a long-lived secret plus the derived
// short-lived bearer token and failure accounting. All fields are owned by the
// Pool; callers only ever see clones.
type Credential struct {
	// ID is the stable ordinal-based identifier assigned at pool construction.
	ID string
	// Secret is the opaque long-lived upstream secret. Never logged in full.
	Secret string
	// BearerToken is the short-lived credential, empty until the first
	// successful exchange.
	BearerToken string
	// TokenExpiry is the expiry extracted from BearerToken.
	TokenExpiry time.Time
	// FailureCount is decremented (floored at 0) on success.
	FailureCount int
	// NextEligibleAt excludes the credential from selection while in the future.
	NextEligibleAt time.Time
	// LastUsedAt is the timestamp of the last successful use.
	LastUsedAt time.Time
	// LastError describes the most recent failure, for diagnostics.
	LastError string
}

// StatusAt derives the status from the failure count. Status is never stored:
// it is recomputed on every read so it cannot go stale independently of the
// counters.
func (c *Credential) StatusAt(time.Time) Status {
	switch {
	case c.FailureCount >= downThreshold:
		return StatusDown
	case c.FailureCount >= degradedThreshold:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// availableAt reports whether the credential passes the strict selection
// predicate: past its cooldown and holding an unexpired token. A down
// credential whose cooldown has elapsed is readmitted as a probe; another
// failure starts the next cooldown.
func (c *Credential) availableAt(now time.Time) bool {
	if now.Before(c.NextEligibleAt) {
		return false
	}
	if c.BearerToken == "" {
		return false
	}
	if !c.TokenExpiry.IsZero() && !now.Before(c.TokenExpiry) {
		return false
	}
	return true
}

// needsRenewalAt reports whether the token is missing, expired, or expiring
// within the renewal lead window.
func (c *Credential) needsRenewalAt(now time.Time, lead time.Duration) bool {
	if c.BearerToken == "" {
		return true
	}
	if c.TokenExpiry.IsZero() {
		return false
	}
	return now.Add(lead).After(c.TokenExpiry)
}

// Clone copies the credential so callers can read it without holding the pool
// lock.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Redacted returns the secret shortened for logging.
func (c *Credential) Redacted() string {
	if len(c.Secret) <= 8 {
		return "****"
	}
	return c.Secret[:4] + "..." + c.Secret[len(c.Secret)-4:]
}
