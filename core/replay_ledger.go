package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultClaimTTL  = 10 * time.Minute
	defaultMaxClaims = 8192
)

var errLedgerUnset = fmt.Errorf("core: replay ledger is not configured")

// ReplayLedger records webhook delivery ids so a delivery is processed once.
type ReplayLedger interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	PurgeExpired(ctx context.Context) (int, error)
}

type claim struct {
	expiresAt time.Time
	seq       uint64
}

// MemoryReplayLedger is a process-local ReplayLedger holding at most
// maxClaims live claims. When full, expired claims go first and then the
// earliest claim.
type MemoryReplayLedger struct {
	Now func() time.Time

	mu        sync.Mutex
	ttl       time.Duration
	maxClaims int
	seq       uint64
	claims    map[string]claim
}

func NewMemoryReplayLedger(ttl time.Duration) *MemoryReplayLedger {
	return NewMemoryReplayLedgerWithLimits(ttl, defaultMaxClaims)
}

func NewMemoryReplayLedgerWithLimits(ttl time.Duration, maxClaims int) *MemoryReplayLedger {
	if ttl <= 0 {
		ttl = defaultClaimTTL
	}
	if maxClaims <= 0 {
		maxClaims = defaultMaxClaims
	}
	return &MemoryReplayLedger{
		ttl:       ttl,
		maxClaims: maxClaims,
		claims:    make(map[string]claim),
	}
}

// Claim reports true when key was free or its previous claim has expired.
// A ttl of zero uses the ledger default.
func (l *MemoryReplayLedger) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if l == nil {
		return false, errLedgerUnset
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("core: replay key is required")
	}
	if ttl <= 0 {
		ttl = l.ttl
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	if current, ok := l.claims[key]; ok && now.Before(current.expiresAt) {
		return false, nil
	}
	delete(l.claims, key)
	if len(l.claims) >= l.maxClaims {
		l.dropExpired(now)
	}
	if len(l.claims) >= l.maxClaims {
		l.dropEarliest()
	}
	l.seq++
	l.claims[key] = claim{expiresAt: now.Add(ttl), seq: l.seq}
	return true, nil
}

// Release forgets key so a failed delivery can be retried.
func (l *MemoryReplayLedger) Release(_ context.Context, key string) error {
	if l == nil {
		return errLedgerUnset
	}
	l.mu.Lock()
	delete(l.claims, strings.TrimSpace(key))
	l.mu.Unlock()
	return nil
}

func (l *MemoryReplayLedger) PurgeExpired(_ context.Context) (int, error) {
	if l == nil {
		return 0, errLedgerUnset
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropExpired(now), nil
}

func (l *MemoryReplayLedger) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.claims)
}

func (l *MemoryReplayLedger) dropExpired(now time.Time) int {
	dropped := 0
	for key, current := range l.claims {
		if !now.Before(current.expiresAt) {
			delete(l.claims, key)
			dropped++
		}
	}
	return dropped
}

func (l *MemoryReplayLedger) dropEarliest() {
	var (
		earliestKey string
		earliestSeq uint64
	)
	for key, current := range l.claims {
		if earliestKey == "" || current.seq < earliestSeq {
			earliestKey, earliestSeq = key, current.seq
		}
	}
	delete(l.claims, earliestKey)
}

func (l *MemoryReplayLedger) clock() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

var _ ReplayLedger = (*MemoryReplayLedger)(nil)
