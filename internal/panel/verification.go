package panel

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/youmna-rabie/aegis/internal/clock"
	"github.com/youmna-rabie/aegis/internal/stream"
)

// DefaultProgressInterval is how often every buffered card moves one
// verification status forward.
const DefaultProgressInterval = 4 * time.Second

// CardStatus is the verification state of a captured image.
type CardStatus string

const (
	CardCapturing CardStatus = "capturing"
	CardVerifying CardStatus = "verifying"
	CardVerified  CardStatus = "verified"
)

// Card is a drone capture and its attestation state.
type Card struct {
	ID         string     `json:"id"`
	DroneID    string     `json:"drone_id"`
	Location   string     `json:"location"`
	Caption    string     `json:"caption"`
	Status     CardStatus `json:"status"`
	TxHash     string     `json:"tx_hash,omitempty"`
	CapturedAt time.Time  `json:"captured_at"`
}

type cardProgress struct {
	status CardStatus
	txHash string
}

// VerificationOptions configures a Verification panel.
type VerificationOptions struct {
	Engine   *stream.Engine
	Clock    clock.Clock
	Interval time.Duration // status progression cadence
	Logger   *slog.Logger
}

// Verification streams capture cards from its engine and moves each card
// through capturing → verifying → verified on its own cadence.
type Verification struct {
	engine   *stream.Engine
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	progress map[string]*cardProgress
	started  bool
	stopped  bool
	timer    *clock.Timer
}

func NewVerification(opts VerificationOptions) *Verification {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultProgressInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Verification{
		engine:   opts.Engine,
		clock:    opts.Clock,
		interval: opts.Interval,
		logger:   opts.Logger.With("panel", "verification"),
		progress: make(map[string]*cardProgress),
	}
}

// Start begins card playback and status progression. Later calls are no-ops.
func (v *Verification) Start() {
	v.mu.Lock()
	if v.started || v.stopped {
		v.mu.Unlock()
		return
	}
	v.started = true
	v.timer = v.clock.AfterFunc(v.interval, v.tick)
	v.mu.Unlock()

	v.engine.Activate()
}

// Stop halts playback and progression. Cards stay readable.
func (v *Verification) Stop() {
	v.mu.Lock()
	v.stopped = true
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
	v.mu.Unlock()

	v.engine.Stop()
}

func (v *Verification) tick() {
	done := v.engine.State().Done
	evs := v.engine.Events()

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stopped {
		return
	}

	live := make(map[string]struct{}, len(evs))
	settled := true
	for _, ev := range evs {
		live[ev.ID] = struct{}{}
		p, ok := v.progress[ev.ID]
		if !ok {
			p = &cardProgress{status: CardCapturing}
			v.progress[ev.ID] = p
		}
		switch p.status {
		case CardCapturing:
			p.status = CardVerifying
		case CardVerifying:
			p.status = CardVerified
			p.txHash = txHash()
			v.logger.Debug("capture verified", "card_id", ev.ID, "tx_hash", p.txHash)
		}
		if p.status != CardVerified {
			settled = false
		}
	}
	// Evicted cards are gone for good.
	for id := range v.progress {
		if _, ok := live[id]; !ok {
			delete(v.progress, id)
		}
	}

	// Nothing left to emit or verify.
	if done && settled {
		v.timer = nil
		v.logger.Debug("verification settled", "cards", len(evs))
		return
	}
	v.timer = v.clock.AfterFunc(v.interval, v.tick)
}

// Cards returns the buffered cards newest-first.
func (v *Verification) Cards() []Card {
	evs := v.engine.Events()

	v.mu.Lock()
	defer v.mu.Unlock()

	cards := make([]Card, 0, len(evs))
	for i := len(evs) - 1; i >= 0; i-- {
		ev := evs[i]
		c := Card{
			ID:         ev.ID,
			DroneID:    ev.Step.DroneID,
			Location:   ev.Step.Location,
			Caption:    ev.Step.Text,
			Status:     CardCapturing,
			CapturedAt: ev.EmittedAt,
		}
		if p, ok := v.progress[ev.ID]; ok {
			c.Status = p.status
			c.TxHash = p.txHash
		}
		cards = append(cards, c)
	}
	return cards
}

// Verified counts verified cards among those buffered.
func (v *Verification) Verified() int {
	n := 0
	for _, c := range v.Cards() {
		if c.Status == CardVerified {
			n++
		}
	}
	return n
}

func (v *Verification) Engine() *stream.Engine { return v.engine }

// txHash returns an abbreviated transaction hash such as 0x7a3f...c821.
func txHash() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "0x" + hex[:4] + "..." + hex[len(hex)-4:]
}
