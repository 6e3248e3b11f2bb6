package accessory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-pdu/internal/unifi"
)

// DefaultDiscoveryRetry is the fixed delay between failed discovery
// attempts.
const DefaultDiscoveryRetry = 5 * time.Second

// DeviceSpec is one configured power-distribution device.
type DeviceSpec struct {
	MAC   string
	Label string

	// OutletFilter restricts exposure to these outlet indices. Empty
	// exposes every outlet.
	OutletFilter []int
}

// DiscoveryOptions configures a Discovery loop.
type DiscoveryOptions struct {
	Service    OutletService
	Reconciler *Reconciler
	Devices    []DeviceSpec

	// RetryDelay is the wait after a failed attempt. Default: 5s
	RetryDelay time.Duration

	// RediscoverInterval re-runs discovery after the first successful
	// pass. Zero disables it.
	RediscoverInterval time.Duration

	// OnPass is called after every successful reconcile pass. Optional.
	OnPass func(ReconcileResult)

	// OnFailure is called after every failed pass. Optional.
	OnFailure func(error)

	Logger Logger
}

// Discovery fetches the configured devices and feeds their outlets to a
// Reconciler.
type Discovery struct {
	opts   DiscoveryOptions
	logger Logger
}

// NewDiscovery creates a Discovery.
func NewDiscovery(opts DiscoveryOptions) (*Discovery, error) {
	if opts.Service == nil {
		return nil, fmt.Errorf("accessory: outlet service is required")
	}
	if opts.Reconciler == nil {
		return nil, fmt.Errorf("accessory: reconciler is required")
	}
	if len(opts.Devices) == 0 {
		return nil, fmt.Errorf("accessory: at least one device is required")
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultDiscoveryRetry
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Discovery{opts: opts, logger: logger}, nil
}

// Discover reads every configured device concurrently. A device that
// fails, or comes back empty, is logged and contributes no outlets; the
// others are unaffected. Results keep configuration order.
//
// Returns:
//   - []DiscoveredOutlet: Outlets of every reachable device, filtered
//   - error: ErrDiscovery wrapping the first device error if no device
//     could be read, or ctx's error
func (d *Discovery) Discover(ctx context.Context) ([]DiscoveredOutlet, error) {
	perDevice := make([][]DiscoveredOutlet, len(d.opts.Devices))
	var failed atomic.Int32

	var g errgroup.Group
	for i, spec := range d.opts.Devices {
		g.Go(func() error {
			outlets, err := d.discoverDevice(ctx, spec)
			if err != nil {
				failed.Add(1)
				d.logger.Error("failed to load outlets", "mac", spec.MAC, "label", spec.Label, "error", err)
				return err
			}
			perDevice[i] = outlets
			d.logger.Info("loaded outlets", "mac", spec.MAC, "label", spec.Label, "count", len(outlets))
			return nil
		})
	}
	// A plain Group does not cancel siblings, so one bad device never
	// stops the others. Wait reports the first failure.
	firstErr := g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if int(failed.Load()) == len(d.opts.Devices) {
		return nil, fmt.Errorf("%w: %w", ErrDiscovery, firstErr)
	}

	var all []DiscoveredOutlet
	for _, outlets := range perDevice {
		all = append(all, outlets...)
	}
	d.logger.Info("discovery complete", "outlets", len(all), "devices", len(d.opts.Devices))
	return all, nil
}

func (d *Discovery) discoverDevice(ctx context.Context, spec DeviceSpec) ([]DiscoveredOutlet, error) {
	mac := strings.ToLower(strings.TrimSpace(spec.MAC))

	dev, err := d.opts.Service.FetchDevice(ctx, mac)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDeviceUnavailable, mac, err)
	}
	if dev.IsEmpty() {
		return nil, fmt.Errorf("%w: %s: no endpoint returned the device", ErrDeviceUnavailable, mac)
	}

	outlets := unifi.FilterOutlets(unifi.SortedOutlets(dev), spec.OutletFilter)
	out := make([]DiscoveredOutlet, 0, len(outlets))
	for _, o := range outlets {
		out = append(out, DiscoveredOutlet{DeviceMAC: mac, DeviceLabel: spec.Label, Outlet: o})
	}
	return out, nil
}

// RunOnce performs one discovery and reconcile pass.
func (d *Discovery) RunOnce(ctx context.Context) (ReconcileResult, error) {
	discovered, err := d.Discover(ctx)
	if err == nil {
		var result ReconcileResult
		if result, err = d.opts.Reconciler.Reconcile(ctx, discovered); err == nil {
			d.passed(result)
			return result, nil
		}
	}
	if d.opts.OnFailure != nil && ctx.Err() == nil {
		d.opts.OnFailure(err)
	}
	return ReconcileResult{}, err
}

func (d *Discovery) passed(result ReconcileResult) {
	d.logger.Info("accessories reconciled",
		"added", len(result.Added),
		"restored", len(result.Restored),
		"removed", len(result.Removed),
	)
	if d.opts.OnPass != nil {
		d.opts.OnPass(result)
	}
}

// Run retries RunOnce with the fixed retry delay until it succeeds, then
// repeats it every RediscoverInterval when configured. It blocks until
// ctx is cancelled and returns ctx's error.
func (d *Discovery) Run(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		_, err := d.RunOnce(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrDiscovery) {
			d.logger.Warn("discovery failed, retrying", "attempt", attempt, "retry_in", d.opts.RetryDelay)
		} else {
			d.logger.Error("reconcile failed, retrying", "attempt", attempt, "error", err, "retry_in", d.opts.RetryDelay)
		}
		if !sleep(ctx, d.opts.RetryDelay) {
			return ctx.Err()
		}
	}

	if d.opts.RediscoverInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(d.opts.RediscoverInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
				d.logger.Warn("rediscovery failed, keeping current accessories", "error", err)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
