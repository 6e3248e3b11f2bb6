package accessory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-pdu/internal/unifi"
)

func newTestDiscovery(t *testing.T, f *fixture, devices []DeviceSpec, opts ...func(*DiscoveryOptions)) *Discovery {
	t.Helper()
	o := DiscoveryOptions{
		Service:    f.svc,
		Reconciler: f.rec,
		Devices:    devices,
		RetryDelay: 10 * time.Millisecond,
	}
	for _, fn := range opts {
		fn(&o)
	}
	d, err := NewDiscovery(o)
	require.NoError(t, err)
	return d
}

func TestDiscover_DeviceIsolation(t *testing.T) {
	f := newFixture(t, 2)
	f.svc.setDevice(macB, unifi.Outlet{Index: 1, Name: "Switch"})
	f.svc.failNext(macA, unifi.ErrRequestFailed)

	d := newTestDiscovery(t, f, []DeviceSpec{{MAC: macA, Label: "Rack A"}, {MAC: macB, Label: "Rack B"}})
	got, err := d.Discover(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, macB, got[0].DeviceMAC)
	assert.Equal(t, "Rack B", got[0].DeviceLabel)
}

func TestDiscover_EmptyDeviceCountsAsFailure(t *testing.T) {
	f := newFixture(t, 1)

	d := newTestDiscovery(t, f, []DeviceSpec{{MAC: macA}})
	_, err := d.Discover(context.Background())
	assert.ErrorIs(t, err, ErrDiscovery)
}

func TestDiscover_AllDevicesFail(t *testing.T) {
	f := newFixture(t, 2)
	f.svc.failNext(macA, unifi.ErrAuthentication)
	f.svc.failNext(macB, unifi.ErrRequestFailed)

	d := newTestDiscovery(t, f, []DeviceSpec{{MAC: macA}, {MAC: macB}})
	_, err := d.Discover(context.Background())
	assert.ErrorIs(t, err, ErrDiscovery)
	assert.ErrorIs(t, err, ErrDeviceUnavailable, "the first device failure is kept")
}

func TestDiscover_FilterAndConfigurationOrder(t *testing.T) {
	f := newFixture(t, 2)
	f.svc.setDevice(macA, unifi.Outlet{Index: 3}, unifi.Outlet{Index: 1}, unifi.Outlet{Index: 2})
	f.svc.setDevice(macB, unifi.Outlet{Index: 1})

	d := newTestDiscovery(t, f, []DeviceSpec{
		{MAC: "AA:BB:CC:DD:EE:02"},
		{MAC: macA, OutletFilter: []int{3, 1}},
	})
	got, err := d.Discover(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, macB, got[0].DeviceMAC, "MAC is normalised to lower case")
	assert.Equal(t, macA, got[1].DeviceMAC)
	assert.Equal(t, 1, got[1].Outlet.Index)
	assert.Equal(t, 3, got[2].Outlet.Index)
}

func TestRun_RetriesUntilDiscoverySucceeds(t *testing.T) {
	f := newFixture(t, 1)
	f.svc.setDevice(macA, router())
	f.svc.failNext(macA, unifi.ErrRequestFailed, unifi.ErrRequestFailed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	passes := make(chan ReconcileResult, 1)
	d := newTestDiscovery(t, f, []DeviceSpec{{MAC: macA}}, func(o *DiscoveryOptions) {
		o.OnPass = func(r ReconcileResult) { passes <- r }
	})

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	select {
	case res := <-passes:
		assert.Len(t, res.Added, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("discovery never succeeded")
	}
	assert.Equal(t, 3, f.svc.fetchCount(macA))

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_RediscoveryRemovesVanishedOutlets(t *testing.T) {
	f := newFixture(t, 1)
	f.svc.setDevice(macA, router(), nas())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	passes := make(chan ReconcileResult, 16)
	d := newTestDiscovery(t, f, []DeviceSpec{{MAC: macA}}, func(o *DiscoveryOptions) {
		o.RediscoverInterval = 10 * time.Millisecond
		o.OnPass = func(r ReconcileResult) {
			select {
			case passes <- r:
			default:
			}
		}
	})
	go func() { _ = d.Run(ctx) }() //nolint:errcheck // cancelled below

	first := <-passes
	require.Len(t, first.Added, 2)

	f.svc.setDevice(macA, router())
	assert.Eventually(t, func() bool {
		return len(f.rec.Accessories()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
}

func TestRun_CancelDuringRetry(t *testing.T) {
	f := newFixture(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	d := newTestDiscovery(t, f, []DeviceSpec{{MAC: macA}})
	err := d.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, f.svc.fetchCount(macA), 2)
}

func TestNewDiscovery_RequiresDevices(t *testing.T) {
	f := newFixture(t, 1)
	_, err := NewDiscovery(DiscoveryOptions{Service: f.svc, Reconciler: f.rec})
	assert.Error(t, err)
}
