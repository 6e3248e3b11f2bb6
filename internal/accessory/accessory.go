package accessory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-pdu/internal/unifi"
)

// Context is the outlet an accessory is bound to.
type Context struct {
	DeviceMAC   string `json:"device_mac"`
	DeviceLabel string `json:"device_label,omitempty"`
	OutletIndex int    `json:"outlet_index"`
	OutletName  string `json:"outlet_name,omitempty"`
}

// State is the last known relay state and reading of an accessory.
type State struct {
	On          bool             `json:"on"`
	Telemetry   *unifi.Telemetry `json:"telemetry,omitempty"`
	TelemetryAt *time.Time       `json:"telemetry_at,omitempty"`
}

// Handlers are the read and write hooks a host invokes. They are bound,
// and re-bound on every reconcile pass, by the Reconciler.
type Handlers struct {
	Read  func(ctx context.Context) (State, error)
	Write func(ctx context.Context, on bool) error
}

// Record is the persisted form of an accessory. Hosts store it and hand it
// back to Reconciler.Restore on the next start.
type Record struct {
	ID          Identity  `json:"id"`
	DisplayName string    `json:"display_name"`
	Context     Context   `json:"context"`
	Metered     bool      `json:"metered"`
	On          bool      `json:"on"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Snapshot is a point-in-time copy of an accessory including its
// latest reading.
type Snapshot struct {
	Record
	Telemetry   *unifi.Telemetry `json:"telemetry,omitempty"`
	TelemetryAt *time.Time       `json:"telemetry_at,omitempty"`
	Monitored   bool             `json:"monitored"`
	Bound       bool             `json:"bound"`
}

// Accessory is one exposed outlet.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Accessory struct {
	id Identity

	mu          sync.RWMutex
	displayName string
	ctx         Context
	metered     bool
	on          bool
	telemetry   *unifi.Telemetry
	telemetryAt time.Time
	handlers    *Handlers
	monitor     *Monitor
	createdAt   time.Time
	updatedAt   time.Time
}

func newAccessory(id Identity, displayName string, c Context, metered, on bool, now time.Time) *Accessory {
	return &Accessory{
		id:          id,
		displayName: displayName,
		ctx:         c,
		metered:     metered,
		on:          on,
		createdAt:   now,
		updatedAt:   now,
	}
}

func fromRecord(rec Record) *Accessory {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return &Accessory{
		id:          rec.ID,
		displayName: rec.DisplayName,
		ctx:         rec.Context,
		metered:     rec.Metered,
		on:          rec.On,
		createdAt:   created,
		updatedAt:   rec.UpdatedAt,
	}
}

// ID returns the accessory identity.
func (a *Accessory) ID() Identity {
	return a.id
}

// DisplayName returns the name shown to users.
func (a *Accessory) DisplayName() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.displayName
}

// Context returns the outlet binding.
func (a *Accessory) Context() Context {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ctx
}

// Metered reports whether the outlet was last seen with metering.
func (a *Accessory) Metered() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.metered
}

// Monitored reports whether a power monitor is attached.
func (a *Accessory) Monitored() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.monitor != nil
}

// State returns the cached state without contacting the controller.
func (a *Accessory) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stateLocked()
}

func (a *Accessory) stateLocked() State {
	s := State{On: a.on}
	if a.telemetry != nil {
		t := *a.telemetry
		at := a.telemetryAt
		s.Telemetry = &t
		s.TelemetryAt = &at
	}
	return s
}

// Record returns the persisted form.
func (a *Accessory) Record() Record {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.recordLocked()
}

func (a *Accessory) recordLocked() Record {
	return Record{
		ID:          a.id,
		DisplayName: a.displayName,
		Context:     a.ctx,
		Metered:     a.metered,
		On:          a.on,
		CreatedAt:   a.createdAt,
		UpdatedAt:   a.updatedAt,
	}
}

// Snapshot returns a copy of the accessory.
func (a *Accessory) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st := a.stateLocked()
	return Snapshot{
		Record:      a.recordLocked(),
		Telemetry:   st.Telemetry,
		TelemetryAt: st.TelemetryAt,
		Monitored:   a.monitor != nil,
		Bound:       a.handlers != nil,
	}
}

// Read invokes the bound read hook.
func (a *Accessory) Read(ctx context.Context) (State, error) {
	h := a.boundHandlers()
	if h == nil || h.Read == nil {
		return State{}, fmt.Errorf("%w: %s", ErrNotBound, a.id)
	}
	return h.Read(ctx)
}

// Write invokes the bound write hook.
func (a *Accessory) Write(ctx context.Context, on bool) error {
	h := a.boundHandlers()
	if h == nil || h.Write == nil {
		return fmt.Errorf("%w: %s", ErrNotBound, a.id)
	}
	return h.Write(ctx, on)
}

func (a *Accessory) boundHandlers() *Handlers {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.handlers
}

func (a *Accessory) bind(h *Handlers) {
	a.mu.Lock()
	a.handlers = h
	a.mu.Unlock()
}

// refresh applies the latest discovery result. It reports whether any
// persisted field changed.
func (a *Accessory) refresh(displayName string, c Context, metered bool, on bool, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	changed := a.displayName != displayName || a.ctx != c || a.metered != metered || a.on != on
	a.displayName = displayName
	a.ctx = c
	a.metered = metered
	a.on = on
	if !metered {
		a.telemetry = nil
		a.telemetryAt = time.Time{}
	}
	if changed {
		a.updatedAt = now
	}
	return changed
}

func (a *Accessory) setOn(on bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	changed := a.on != on
	a.on = on
	if changed {
		a.updatedAt = time.Now().UTC()
	}
	return changed
}

func (a *Accessory) setTelemetry(t unifi.Telemetry, at time.Time) {
	a.mu.Lock()
	a.telemetry = &t
	a.telemetryAt = at
	a.mu.Unlock()
}

func (a *Accessory) clearTelemetry() {
	a.mu.Lock()
	a.telemetry = nil
	a.telemetryAt = time.Time{}
	a.mu.Unlock()
}

func (a *Accessory) attachMonitor(m *Monitor) {
	a.mu.Lock()
	a.monitor = m
	a.mu.Unlock()
}

// detachMonitor removes and returns the monitor, if any.
func (a *Accessory) detachMonitor() *Monitor {
	a.mu.Lock()
	defer a.mu.Unlock()
	m := a.monitor
	a.monitor = nil
	return m
}
