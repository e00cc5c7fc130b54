// Package session keeps the dashboard's table of tracked tmux sessions in step
// with the tmux server and turns every change into add, remove and update
// events.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/remote-agent-terminal/dashboard/internal/model"
	"github.com/remote-agent-terminal/dashboard/internal/status"
)

// DefaultPollInterval is the time between ticks when none is configured.
const DefaultPollInterval = 500 * time.Millisecond

// Inventory lists live sessions.
type Inventory interface {
	ListSessions(ctx context.Context) ([]model.Session, error)
}

// Capturer returns the visible pane of a session.
type Capturer interface {
	CapturePane(ctx context.Context, name string) (string, error)
}

// Emitter receives session events. The hub implements it for broadcasts and
// each client implements it for its own initial view.
type Emitter interface {
	EmitAdd(s model.Session)
	EmitRemove(name string)
	EmitUpdate(snap model.Snapshot)
}

// Config holds configuration for the reconciler.
type Config struct {
	PollInterval time.Duration
}

// Reconciler owns the session table. Ticks, joins and reads are serialized by
// one mutex, so a tick never overlaps another and never interleaves with the
// initial view handed to a new viewer.
type Reconciler struct {
	inventory Inventory
	capturer  Capturer
	prober    status.Prober
	emitter   Emitter
	logger    *zap.Logger
	interval  time.Duration

	mu    sync.Mutex
	table *table
}

// NewReconciler creates a Reconciler that reports every change to emitter.
func NewReconciler(inventory Inventory, capturer Capturer, prober status.Prober, emitter Emitter, logger *zap.Logger, config Config) *Reconciler {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reconciler{
		inventory: inventory,
		capturer:  capturer,
		prober:    prober,
		emitter:   emitter,
		logger:    logger,
		interval:  config.PollInterval,
		table:     newTable(),
	}
}

// Run ticks immediately and then every poll interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick performs one poll. All adds are emitted first, then all removes, then
// one update per tracked session in table order.
//
// A failed listing leaves the table untouched; updates are still emitted for
// the sessions already tracked.
func (r *Reconciler) Tick(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.inventory.ListSessions(ctx)
	if err != nil {
		r.logger.Warn("listing sessions failed, keeping previous table", zap.Error(err))
	} else {
		r.apply(current)
	}

	for _, s := range r.table.list() {
		if ctx.Err() != nil {
			return
		}
		r.emitter.EmitUpdate(r.snapshot(ctx, s))
	}
}

func (r *Reconciler) apply(current []model.Session) {
	live := make(map[string]struct{}, len(current))
	for _, s := range current {
		live[s.Name] = struct{}{}
		if !r.table.has(s.Name) {
			r.logger.Info("session added", zap.String("session", s.Name))
			r.emitter.EmitAdd(s)
		}
		r.table.put(s)
	}

	for _, s := range r.table.list() {
		if _, ok := live[s.Name]; ok {
			continue
		}
		r.table.remove(s.Name)
		r.logger.Info("session removed", zap.String("session", s.Name))
		r.emitter.EmitRemove(s.Name)
	}
}

// snapshot captures and probes one session. A failed capture yields empty
// content; the status is still probed.
func (r *Reconciler) snapshot(ctx context.Context, s model.Session) model.Snapshot {
	content, err := r.capturer.CapturePane(ctx, s.Name)
	if err != nil {
		r.logger.Warn("capturing pane failed", zap.String("session", s.Name), zap.Error(err))
		content = ""
	}
	res := r.prober.Probe(ctx, s.Name, content)

	return model.Snapshot{
		Name:    s.Name,
		Content: content,
		Status:  res.Status,
		Details: res.Details,
		Width:   s.Width,
		Height:  s.Height,
	}
}

// Join gives a new viewer one add and one update per tracked session in table
// order and then calls register, all while holding the table lock. Once
// register returns the viewer receives regular broadcasts, and no tick can
// have run in between.
func (r *Reconciler) Join(ctx context.Context, viewer Emitter, register func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.table.list() {
		viewer.EmitAdd(s)
		viewer.EmitUpdate(r.snapshot(ctx, s))
	}
	if register != nil {
		register()
	}
}

// Sessions returns a copy of the tracked sessions in table order.
func (r *Reconciler) Sessions() []model.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.table.list()
}

// Session returns the tracked session called name.
func (r *Reconciler) Session(name string) (model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.table.entries[name]
	if !ok {
		return model.Session{}, model.ErrSessionNotFound
	}
	return s, nil
}

// Count returns the number of tracked sessions.
func (r *Reconciler) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.table.len()
}
