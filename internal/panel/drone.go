// Package panel holds the dashboard's self-contained panels. Each panel owns
// its stream engine or worker and talks to the rest of the dashboard only
// through the bus and the orchestrator's Sync calls.
package panel

import (
	"log/slog"
	"sync"

	"github.com/youmna-rabie/aegis/internal/stream"
	"github.com/youmna-rabie/aegis/internal/types"
)

// Drone shows the dispatch telemetry. It stays on standby until the
// orchestrator marks it active and restarts playback whenever it receives a
// newer reset token.
type Drone struct {
	engine *stream.Engine
	logger *slog.Logger

	mu     sync.Mutex
	token  uint64
	active bool
}

// NewDrone wraps engine, which must not be activated by anyone else.
func NewDrone(engine *stream.Engine, logger *slog.Logger) *Drone {
	if logger == nil {
		logger = slog.Default()
	}
	return &Drone{engine: engine, logger: logger.With("panel", "drone")}
}

// Sync implements dashboard.DroneController.
func (d *Drone) Sync(active bool, resetToken uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if resetToken > d.token {
		d.token = resetToken
		d.engine.Reset(resetToken)
		d.logger.Info("drone cycle reset", "reset_token", resetToken)
	}
	d.active = active
	if active && d.engine.Activate() {
		d.logger.Info("drone dispatched", "generation", resetToken)
	}
}

// Active reports whether the panel has been activated.
func (d *Drone) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Events returns the telemetry log oldest-first.
func (d *Drone) Events() []types.StreamEvent { return d.engine.Events() }

// Engine exposes the underlying engine for diagnostics.
func (d *Drone) Engine() *stream.Engine { return d.engine }

// Stop halts playback for good.
func (d *Drone) Stop() { d.engine.Stop() }
