package credits

import (
	"context"
	"sync"
)

// ChargeResult reports the outcome of an atomic charge.
type ChargeResult struct {
	Success    bool  `json:"success"`
	NewBalance int64 `json:"new_balance"`
}

// Ledger is the contract the engine requires of the external credit ledger.
// Balance storage and its concurrency control are owned by the ledger, not
// by the engine. CheckBalance is side-effect-free; Charge is atomic and the
// idempotency key prevents double-charging when a call is retried after a
// ledger-side network blip.
type Ledger interface {
	CheckBalance(ctx context.Context, orgID string, amount int64) (bool, error)
	Charge(ctx context.Context, orgID string, amount int64, reason, idempotencyKey string) (ChargeResult, error)
	Balance(ctx context.Context, orgID string) (int64, error)
}

// AdminLedger is the optional top-up surface both bundled ledgers provide.
type AdminLedger interface {
	Ledger
	Credit(ctx context.Context, orgID string, amount int64) (int64, error)
}

// MemoryLedger is the in-process fallback used when no redis is configured,
// and the ledger tests run against.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	applied  map[string]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[string]int64),
		applied:  make(map[string]struct{}),
	}
}

// Credit tops up an organization's balance.
func (l *MemoryLedger) Credit(ctx context.Context, orgID string, amount int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[orgID] += amount
	return l.balances[orgID], nil
}

func (l *MemoryLedger) CheckBalance(ctx context.Context, orgID string, amount int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[orgID] >= amount, nil
}

func (l *MemoryLedger) Charge(ctx context.Context, orgID string, amount int64, reason, idempotencyKey string) (ChargeResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if idempotencyKey != "" {
		if _, ok := l.applied[idempotencyKey]; ok {
			return ChargeResult{Success: true, NewBalance: l.balances[orgID]}, nil
		}
	}

	if l.balances[orgID] < amount {
		return ChargeResult{Success: false, NewBalance: l.balances[orgID]}, nil
	}

	l.balances[orgID] -= amount
	if idempotencyKey != "" {
		l.applied[idempotencyKey] = struct{}{}
	}
	return ChargeResult{Success: true, NewBalance: l.balances[orgID]}, nil
}

func (l *MemoryLedger) Balance(ctx context.Context, orgID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[orgID], nil
}
