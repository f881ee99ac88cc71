package rail

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FakeRail emulates the escrow contract by hashing each call into a
// deterministic transaction reference. Submitted references confirm
// immediately unless Hold is set.
type FakeRail struct {
	mu       sync.Mutex
	refs     map[string]string
	known    map[string]bool
	failures int
	hold     bool
	calls    int
}

func NewFakeRail() *FakeRail {
	return &FakeRail{refs: make(map[string]string), known: make(map[string]bool)}
}

// FailNext makes the next n submissions return ErrRailUnavailable.
func (f *FakeRail) FailNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

// Hold keeps submitted references pending until released with Hold(false).
func (f *FakeRail) Hold(hold bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hold = hold
}

// Calls returns how many submissions reached the fake, failed ones included.
func (f *FakeRail) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeRail) FundJob(_ context.Context, jobID uuid.UUID, amount decimal.Decimal) (string, error) {
	return f.submit("fund", jobID, amount.String())
}

func (f *FakeRail) ReleasePayment(_ context.Context, jobID uuid.UUID) (string, error) {
	return f.submit("release", jobID, "")
}

func (f *FakeRail) ResolveDispute(_ context.Context, jobID uuid.UUID, clientPct, freelancerPct int) (string, error) {
	if clientPct < 0 || freelancerPct < 0 || clientPct+freelancerPct != 100 {
		return "", fmt.Errorf("%w: split %d/%d", ErrRejected, clientPct, freelancerPct)
	}
	return f.submit("resolve", jobID, fmt.Sprintf("%d:%d", clientPct, freelancerPct))
}

func (f *FakeRail) RefundJob(_ context.Context, jobID uuid.UUID) (string, error) {
	return f.submit("refund", jobID, "")
}

func (f *FakeRail) Status(_ context.Context, txRef string) (TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known[txRef] {
		return TxPending, fmt.Errorf("%w: unknown transaction %s", ErrRejected, txRef)
	}
	if f.hold {
		return TxPending, nil
	}
	return TxConfirmed, nil
}

func (f *FakeRail) Ping(context.Context) error {
	return nil
}

func (f *FakeRail) submit(kind string, jobID uuid.UUID, payload string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.failures > 0 {
		f.failures--
		return "", fmt.Errorf("%w: injected failure", ErrRailUnavailable)
	}

	key := kind + ":" + jobID.String()
	if ref, ok := f.refs[key]; ok {
		return ref, nil
	}
	ref := fakeHash(key + ":" + payload)
	f.refs[key] = ref
	f.known[ref] = true
	return ref, nil
}

func fakeHash(input string) string {
	sum := sha256.Sum256([]byte(input))
	return "0x" + hex.EncodeToString(sum[:])
}
