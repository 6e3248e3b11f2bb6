package accessory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-pdu/internal/unifi"
)

// DefaultConfirmDelay is the wait between a power cycle and the re-read
// that confirms the new relay state.
const DefaultConfirmDelay = 2 * time.Second

// Logger is the logging interface used by this package.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// OutletService is the controller surface the reconciler needs.
// *unifi.Repository satisfies it.
type OutletService interface {
	FetchDevice(ctx context.Context, mac string) (unifi.Device, error)
	GetOutlet(ctx context.Context, mac string, index int) (unifi.Outlet, error)
	GetOutletTelemetry(ctx context.Context, mac string, index int) (unifi.Telemetry, bool, error)
	PowerCycle(ctx context.Context, mac string, index int) error
}

// Host owns the exposed accessories. Register, Update and Unregister are
// called once per reconcile pass with batches sorted by identity and must
// be idempotent: a failed pass is retried in full by the next one.
type Host interface {
	RegisterAccessories(ctx context.Context, accessories []*Accessory) error
	UpdateAccessories(ctx context.Context, accessories []*Accessory) error
	UnregisterAccessories(ctx context.Context, accessories []*Accessory) error

	// NotifyState is called when the cached relay state of a live
	// accessory changes outside a host request.
	NotifyState(a *Accessory)
}

// TelemetrySink receives every reading taken by a power monitor.
type TelemetrySink interface {
	RecordTelemetry(a *Accessory, t unifi.Telemetry)
}

// DiscoveredOutlet is one outlet found during discovery, tagged with the
// device it belongs to.
type DiscoveredOutlet struct {
	DeviceMAC   string
	DeviceLabel string
	Outlet      unifi.Outlet
}

// ReconcileResult lists the identities touched by a pass, each sorted.
type ReconcileResult struct {
	Added    []Identity
	Restored []Identity
	Removed  []Identity
}

// Changed reports whether the pass added or removed anything.
func (r ReconcileResult) Changed() bool {
	return len(r.Added) > 0 || len(r.Removed) > 0
}

// ReconcilerOptions configures a Reconciler.
type ReconcilerOptions struct {
	Service OutletService
	Host    Host

	// Sink receives monitor readings. Optional.
	Sink TelemetrySink

	// DeviceCount is the number of configured devices. With more than one,
	// display names are prefixed with the device label.
	DeviceCount int

	// TelemetryInterval is the monitor cadence. Default: 30s
	TelemetryInterval time.Duration

	// ConfirmDelay is the wait before re-reading a cycled outlet. Default: 2s
	ConfirmDelay time.Duration

	// RequestTimeout bounds background reads (monitor polls and
	// confirmation reads). Zero leaves it to the client.
	RequestTimeout time.Duration

	Logger Logger
}

// Reconciler keeps the set of live accessories in bijection with the
// outlets found by discovery.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Reconcile passes are
//     serialised, and host calls happen while the pass holds the lock so
//     no partial pass is observable through Accessories or Lookup.
type Reconciler struct {
	opts   ReconcilerOptions
	logger Logger

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu    sync.RWMutex
	cache map[Identity]*Accessory
}

// NewReconciler creates a Reconciler with an empty cache.
func NewReconciler(opts ReconcilerOptions) (*Reconciler, error) {
	if opts.Service == nil {
		return nil, fmt.Errorf("accessory: outlet service is required")
	}
	if opts.Host == nil {
		return nil, fmt.Errorf("accessory: host is required")
	}
	if opts.TelemetryInterval <= 0 {
		opts.TelemetryInterval = DefaultTelemetryInterval
	}
	if opts.ConfirmDelay <= 0 {
		opts.ConfirmDelay = DefaultConfirmDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		opts:       opts,
		logger:     logger,
		baseCtx:    ctx,
		cancelBase: cancel,
		cache:      make(map[Identity]*Accessory),
	}, nil
}

// Restore adds a persisted record to the cache. Hosts call it once per
// stored accessory before the first reconcile pass. Handlers stay unbound
// until discovery confirms the outlet.
func (r *Reconciler) Restore(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.cache[rec.ID]; exists {
		return
	}
	r.cache[rec.ID] = fromRecord(rec)
	r.logger.Debug("accessory restored from cache", "id", rec.ID, "name", rec.DisplayName)
}

// Accessories returns the live accessories sorted by identity.
func (r *Reconciler) Accessories() []*Accessory {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Accessory, 0, len(r.cache))
	for _, a := range r.cache {
		out = append(out, a)
	}
	sortAccessories(out)
	return out
}

// Lookup returns the accessory with the given identity.
func (r *Reconciler) Lookup(id Identity) (*Accessory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.cache[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccessoryNotFound, id)
	}
	return a, nil
}

// Close stops every monitor and pending confirmation read.
func (r *Reconciler) Close() {
	r.cancelBase()

	r.mu.RLock()
	accessories := make([]*Accessory, 0, len(r.cache))
	for _, a := range r.cache {
		accessories = append(accessories, a)
	}
	r.mu.RUnlock()

	for _, a := range accessories {
		if m := a.detachMonitor(); m != nil {
			m.Stop()
		}
	}
}

type presentOutlet struct {
	acc         *Accessory
	mac         string
	index       int
	displayName string
	context     Context
	metered     bool
	on          bool
}

// Reconcile converges the live accessories onto discovered.
//
// Cached identities that are discovered are refreshed and re-bound;
// unknown ones are created; cached identities not discovered are removed.
// Host batches run in the order unregister, register, update. If the host
// fails the cache is left untouched and the error returned; the pass can
// simply be repeated.
func (r *Reconciler) Reconcile(ctx context.Context, discovered []DiscoveredOutlet) (ReconcileResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	seen := make(map[Identity]bool, len(discovered))
	var added, restored []presentOutlet

	for _, d := range discovered {
		mac := strings.ToLower(strings.TrimSpace(d.DeviceMAC))
		id := IdentityFor(mac, d.Outlet.Index)
		if seen[id] {
			continue
		}
		seen[id] = true

		p := presentOutlet{
			mac:         mac,
			index:       d.Outlet.Index,
			displayName: r.displayName(d.DeviceLabel, d.Outlet),
			context: Context{
				DeviceMAC:   mac,
				DeviceLabel: d.DeviceLabel,
				OutletIndex: d.Outlet.Index,
				OutletName:  d.Outlet.Name,
			},
			metered: unifi.SupportsMetering(d.Outlet),
			on:      d.Outlet.RelayState,
		}

		if existing, ok := r.cache[id]; ok {
			p.acc = existing
			restored = append(restored, p)
			continue
		}
		p.acc = newAccessory(id, p.displayName, p.context, p.metered, p.on, now)
		added = append(added, p)
	}

	var removed []*Accessory
	for id, a := range r.cache {
		if !seen[id] {
			removed = append(removed, a)
		}
	}

	sortPresent(added)
	sortPresent(restored)
	sortAccessories(removed)

	for _, p := range restored {
		p.acc.refresh(p.displayName, p.context, p.metered, p.on, now)
	}
	present := append(append([]presentOutlet(nil), added...), restored...)
	for _, p := range present {
		p.acc.bind(r.handlersFor(p.acc, p.mac, p.index))
	}

	// No monitor may outlive its accessory.
	for _, a := range removed {
		if m := a.detachMonitor(); m != nil {
			m.Stop()
		}
	}

	if len(removed) > 0 {
		if err := r.opts.Host.UnregisterAccessories(ctx, removed); err != nil {
			return ReconcileResult{}, fmt.Errorf("unregistering accessories: %w", err)
		}
	}
	if len(added) > 0 {
		if err := r.opts.Host.RegisterAccessories(ctx, accessoriesOf(added)); err != nil {
			return ReconcileResult{}, fmt.Errorf("registering accessories: %w", err)
		}
	}
	if len(restored) > 0 {
		if err := r.opts.Host.UpdateAccessories(ctx, accessoriesOf(restored)); err != nil {
			return ReconcileResult{}, fmt.Errorf("updating accessories: %w", err)
		}
	}

	result := ReconcileResult{
		Added:    make([]Identity, 0, len(added)),
		Restored: make([]Identity, 0, len(restored)),
		Removed:  make([]Identity, 0, len(removed)),
	}
	for _, a := range removed {
		delete(r.cache, a.id)
		result.Removed = append(result.Removed, a.id)
		r.logger.Info("accessory removed", "id", a.id, "name", a.DisplayName())
	}
	for _, p := range added {
		r.cache[p.acc.id] = p.acc
		result.Added = append(result.Added, p.acc.id)
		r.logger.Info("accessory added", "id", p.acc.id, "name", p.displayName)
	}
	for _, p := range restored {
		result.Restored = append(result.Restored, p.acc.id)
		r.logger.Debug("accessory restored", "id", p.acc.id, "name", p.displayName)
	}

	for _, p := range present {
		r.syncMonitor(p)
	}

	return result, nil
}

// syncMonitor attaches a monitor to a metered accessory that has none and
// stops the monitor of one that lost metering.
func (r *Reconciler) syncMonitor(p presentOutlet) {
	if !p.metered {
		if m := p.acc.detachMonitor(); m != nil {
			m.Stop()
			r.logger.Info("power monitor stopped, outlet no longer metered", "id", p.acc.id)
		}
		// A poll in flight during Stop may have stored a reading.
		p.acc.clearTelemetry()
		return
	}
	if p.acc.Monitored() {
		return
	}

	acc, mac, index := p.acc, p.mac, p.index
	m := NewMonitor(MonitorConfig{
		Name: p.displayName,
		Fetch: func(ctx context.Context) (unifi.Telemetry, bool, error) {
			return r.opts.Service.GetOutletTelemetry(ctx, mac, index)
		},
		OnReading: func(t unifi.Telemetry) {
			acc.setTelemetry(t, time.Now().UTC())
			if r.opts.Sink != nil {
				r.opts.Sink.RecordTelemetry(acc, t)
			}
		},
		Interval:       r.opts.TelemetryInterval,
		RequestTimeout: r.opts.RequestTimeout,
		Logger:         r.logger,
	})
	acc.attachMonitor(m)
	m.Start(r.baseCtx)
	r.logger.Debug("power monitor started", "id", acc.id, "interval", r.opts.TelemetryInterval)
}

// handlersFor binds the read and write hooks of a to the outlet at
// mac/index.
func (r *Reconciler) handlersFor(a *Accessory, mac string, index int) *Handlers {
	return &Handlers{
		Read: func(ctx context.Context) (State, error) {
			o, err := r.opts.Service.GetOutlet(ctx, mac, index)
			if err != nil {
				return State{}, err
			}
			a.setOn(o.RelayState)
			if unifi.SupportsMetering(o) {
				a.setTelemetry(unifi.TelemetryOf(o), time.Now().UTC())
			}
			return a.State(), nil
		},
		Write: func(ctx context.Context, on bool) error {
			// The controller only exposes a cycle command, so on and off
			// both cycle the outlet.
			if err := r.opts.Service.PowerCycle(ctx, mac, index); err != nil {
				r.logger.Error("outlet power cycle failed", "id", a.id, "mac", mac, "outlet", index, "error", err)
				return err
			}
			r.logger.Info("outlet power cycled", "id", a.id, "mac", mac, "outlet", index, "requested_on", on)
			time.AfterFunc(r.opts.ConfirmDelay, func() { r.confirm(a, mac, index) })
			return nil
		},
	}
}

// confirm re-reads a cycled outlet and pushes the result to the host.
// Failures are logged only. Nothing is pushed once a has left the cache.
func (r *Reconciler) confirm(a *Accessory, mac string, index int) {
	ctx := r.baseCtx
	if ctx.Err() != nil {
		return
	}
	if r.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.RequestTimeout)
		defer cancel()
	}

	o, err := r.opts.Service.GetOutlet(ctx, mac, index)
	if err != nil {
		r.logger.Warn("confirming outlet state failed", "id", a.id, "mac", mac, "outlet", index, "error", err)
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cache[a.id] != a {
		r.logger.Debug("dropping confirmation for removed outlet", "id", a.id)
		return
	}
	a.setOn(o.RelayState)
	r.opts.Host.NotifyState(a)
}

// displayName is the outlet name, or "Outlet N" when unnamed, prefixed
// with the device label when more than one device is configured.
func (r *Reconciler) displayName(label string, o unifi.Outlet) string {
	name := strings.TrimSpace(o.Name)
	if name == "" {
		name = "Outlet " + strconv.Itoa(o.Index)
	}
	if r.opts.DeviceCount > 1 && label != "" {
		name = label + " " + name
	}
	return name
}

func accessoriesOf(ps []presentOutlet) []*Accessory {
	out := make([]*Accessory, len(ps))
	for i, p := range ps {
		out[i] = p.acc
	}
	return out
}

func sortPresent(ps []presentOutlet) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].acc.id < ps[j].acc.id })
}

func sortAccessories(as []*Accessory) {
	sort.Slice(as, func(i, j int) bool { return as[i].id < as[j].id })
}
