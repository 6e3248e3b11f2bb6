// Package accessory maps discovered PDU outlets onto exposed accessories.
//
// Every outlet gets an Identity derived from its device MAC and outlet
// index. The Reconciler keeps one live Accessory per discovered identity:
// restored records are re-bound, new outlets are registered with the
// Host, and outlets that disappeared are unregistered. Passes are
// idempotent and independent of discovery order.
//
// Metered outlets carry a Monitor that polls telemetry on a fixed cadence
// until the accessory is removed or the reconciler is closed.
//
// Discovery reads each configured device concurrently. One unreachable
// device contributes no outlets; if none can be read the pass fails with
// ErrDiscovery and Run retries it after a fixed delay.
//
// Usage:
//
//	rec, err := accessory.NewReconciler(accessory.ReconcilerOptions{
//	    Service: repo,
//	    Host:    bridge,
//	})
//	for _, r := range stored {
//	    rec.Restore(r)
//	}
//	disc, err := accessory.NewDiscovery(accessory.DiscoveryOptions{
//	    Service:    repo,
//	    Reconciler: rec,
//	    Devices:    devices,
//	})
//	go disc.Run(ctx)
package accessory
