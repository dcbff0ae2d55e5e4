// Package ledger simulates the on-chain request registry. A submitted
// request advances one status per step delay until it is fulfilled, which
// lets the dashboard poll itself when no real backend is configured.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/youmna-rabie/aegis/internal/clock"
	"github.com/youmna-rabie/aegis/internal/types"
)

// DefaultStepDelay matches the simulated delivery time of the relief backend.
const DefaultStepDelay = 50 * time.Second

var ErrNotFound = errors.New("request not found")

type record struct {
	id        int64
	requester string
	provider  string
	aidType   string
	costUSD   float64
	created   time.Time
}

// Ledger is safe for concurrent use.
type Ledger struct {
	clock  clock.Clock
	step   time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	nextID   int64
	requests map[int64]*record
}

// New returns an empty Ledger. A non-positive step uses DefaultStepDelay.
func New(clk clock.Clock, step time.Duration, logger *slog.Logger) *Ledger {
	if clk == nil {
		clk = clock.Real()
	}
	if step <= 0 {
		step = DefaultStepDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		clock:    clk,
		step:     step,
		logger:   logger.With("component", "ledger"),
		requests: make(map[int64]*record),
	}
}

// Submit registers a new request in PENDING and returns its snapshot.
func (l *Ledger) Submit(aidType string, costUSD float64) types.RequestStatus {
	l.mu.Lock()
	l.nextID++
	r := &record{
		id:        l.nextID,
		requester: address(),
		provider:  address(),
		aidType:   aidType,
		costUSD:   costUSD,
		created:   l.clock.Now(),
	}
	l.requests[r.id] = r
	l.mu.Unlock()

	l.logger.Info("request created", "request_id", r.id, "aid_type", aidType)
	return l.snapshot(r)
}

// RequestStatus returns the current snapshot of request id.
func (l *Ledger) RequestStatus(ctx context.Context, id int64) (types.RequestStatus, error) {
	if err := ctx.Err(); err != nil {
		return types.RequestStatus{}, err
	}
	l.mu.Lock()
	r, ok := l.requests[id]
	l.mu.Unlock()
	if !ok {
		return types.RequestStatus{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return l.snapshot(r), nil
}

// Count returns the number of submitted requests.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}

func (l *Ledger) snapshot(r *record) types.RequestStatus {
	st := types.StatusPending
	for steps := l.clock.Now().Sub(r.created) / l.step; steps > 0 && !st.Terminal(); steps-- {
		st = st.Next()
	}

	out := types.RequestStatus{
		RequestID: r.id,
		Requester: r.requester,
		Status:    st,
	}
	// Provider and cost are assigned on approval.
	if st.Rank() >= types.StatusApproved.Rank() {
		out.Provider = r.provider
		out.CostUSD = r.costUSD
	}
	return out
}

// address returns a random 20-byte hex address.
func address() string {
	hex := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	return "0x" + hex[:40]
}
