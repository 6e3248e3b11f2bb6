package accessory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-pdu/internal/unifi"
)

const (
	macA = "aa:bb:cc:dd:ee:01"
	macB = "aa:bb:cc:dd:ee:02"
)

// fakeService is an in-memory OutletService.
type fakeService struct {
	mu        sync.Mutex
	devices   map[string]unifi.Device
	fetchErrs map[string][]error
	fetches   map[string]int
	cycles    []string
	telemetry int
}

func newFakeService() *fakeService {
	return &fakeService{
		devices:   make(map[string]unifi.Device),
		fetchErrs: make(map[string][]error),
		fetches:   make(map[string]int),
	}
}

func (f *fakeService) setDevice(mac string, outlets ...unifi.Outlet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[mac] = unifi.Device{MAC: mac, OutletTable: outlets}
}

func (f *fakeService) removeDevice(mac string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.devices, mac)
}

// failNext makes the next len(errs) fetches of mac fail in order.
func (f *fakeService) failNext(mac string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErrs[mac] = append(f.fetchErrs[mac], errs...)
}

func (f *fakeService) fetchCount(mac string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[mac]
}

func (f *fakeService) cycleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cycles)
}

func (f *fakeService) telemetryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.telemetry
}

func (f *fakeService) FetchDevice(_ context.Context, mac string) (unifi.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[mac]++
	if errs := f.fetchErrs[mac]; len(errs) > 0 {
		f.fetchErrs[mac] = errs[1:]
		return unifi.Device{}, errs[0]
	}
	return f.devices[mac], nil
}

func (f *fakeService) outlet(mac string, index int) (unifi.Outlet, error) {
	dev, ok := f.devices[mac]
	if !ok {
		return unifi.Outlet{}, fmt.Errorf("%w: %s", unifi.ErrDeviceUnreachable, mac)
	}
	for _, o := range unifi.SortedOutlets(dev) {
		if o.Index == index {
			return o, nil
		}
	}
	return unifi.Outlet{}, fmt.Errorf("%w: %s outlet %d", unifi.ErrOutletNotFound, mac, index)
}

func (f *fakeService) GetOutlet(_ context.Context, mac string, index int) (unifi.Outlet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outlet(mac, index)
}

func (f *fakeService) GetOutletTelemetry(_ context.Context, mac string, index int) (unifi.Telemetry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.telemetry++
	o, err := f.outlet(mac, index)
	if err != nil {
		return unifi.Telemetry{}, false, err
	}
	if !unifi.SupportsMetering(o) {
		return unifi.Telemetry{}, false, nil
	}
	return unifi.TelemetryOf(o), true, nil
}

// PowerCycle flips the relay so the confirmation read sees a change.
func (f *fakeService) PowerCycle(_ context.Context, mac string, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycles = append(f.cycles, fmt.Sprintf("%s/%d", mac, index))
	dev, ok := f.devices[mac]
	if !ok {
		return fmt.Errorf("%w: %s", unifi.ErrRequestFailed, mac)
	}
	for i := range dev.OutletTable {
		if dev.OutletTable[i].Index == index {
			dev.OutletTable[i].RelayState = !dev.OutletTable[i].RelayState
		}
	}
	return nil
}

// fakeHost records host calls.
type fakeHost struct {
	mu          sync.Mutex
	registered  map[Identity]string
	calls       []string
	notified    int
	registerErr error
}

func newFakeHost() *fakeHost {
	return &fakeHost{registered: make(map[Identity]string)}
}

func (h *fakeHost) RegisterAccessories(_ context.Context, as []*Accessory) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, fmt.Sprintf("register:%d", len(as)))
	if h.registerErr != nil {
		return h.registerErr
	}
	for _, a := range as {
		h.registered[a.ID()] = a.DisplayName()
	}
	return nil
}

func (h *fakeHost) UpdateAccessories(_ context.Context, as []*Accessory) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, fmt.Sprintf("update:%d", len(as)))
	for _, a := range as {
		h.registered[a.ID()] = a.DisplayName()
	}
	return nil
}

func (h *fakeHost) UnregisterAccessories(_ context.Context, as []*Accessory) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, fmt.Sprintf("unregister:%d", len(as)))
	for _, a := range as {
		delete(h.registered, a.ID())
	}
	return nil
}

func (h *fakeHost) NotifyState(*Accessory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notified++
}

func (h *fakeHost) snapshot() (map[Identity]string, []string, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	reg := make(map[Identity]string, len(h.registered))
	for k, v := range h.registered {
		reg[k] = v
	}
	return reg, append([]string(nil), h.calls...), h.notified
}

func (h *fakeHost) failRegister(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.registerErr = err
}

// fakeSink collects monitor readings.
type fakeSink struct {
	mu       sync.Mutex
	readings map[Identity][]unifi.Telemetry
}

func newFakeSink() *fakeSink {
	return &fakeSink{readings: make(map[Identity][]unifi.Telemetry)}
}

func (s *fakeSink) RecordTelemetry(a *Accessory, t unifi.Telemetry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings[a.ID()] = append(s.readings[a.ID()], t)
}

func (s *fakeSink) count(id Identity) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readings[id])
}

type fixture struct {
	svc  *fakeService
	host *fakeHost
	sink *fakeSink
	rec  *Reconciler
}

func newFixture(t *testing.T, deviceCount int) *fixture {
	t.Helper()
	f := &fixture{svc: newFakeService(), host: newFakeHost(), sink: newFakeSink()}
	rec, err := NewReconciler(ReconcilerOptions{
		Service:           f.svc,
		Host:              f.host,
		Sink:              f.sink,
		DeviceCount:       deviceCount,
		TelemetryInterval: time.Hour,
		ConfirmDelay:      20 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(rec.Close)
	f.rec = rec
	return f
}

func router() unifi.Outlet {
	return unifi.Outlet{Index: 1, Name: "Router", RelayState: true, Caps: 1}
}

func nas() unifi.Outlet {
	return unifi.Outlet{Index: 2, Name: "NAS", RelayState: true, Caps: 3, Voltage: 120.1, Current: 0.5, Power: 60, PowerFactor: 0.98}
}

func discovered(mac, label string, outlets ...unifi.Outlet) []DiscoveredOutlet {
	out := make([]DiscoveredOutlet, 0, len(outlets))
	for _, o := range outlets {
		out = append(out, DiscoveredOutlet{DeviceMAC: mac, DeviceLabel: label, Outlet: o})
	}
	return out
}

func ids(as []*Accessory) []Identity {
	out := make([]Identity, len(as))
	for i, a := range as {
		out[i] = a.ID()
	}
	return out
}

var errBoom = errors.New("boom")
