package accessory

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-pdu/internal/unifi"
)

// DefaultTelemetryInterval is the polling cadence of a PowerMonitor.
const DefaultTelemetryInterval = 30 * time.Second

// TelemetryFunc fetches one reading. ok is false when the outlet does not
// currently report metering.
type TelemetryFunc func(ctx context.Context) (t unifi.Telemetry, ok bool, err error)

// MonitorConfig configures a PowerMonitor.
type MonitorConfig struct {
	// Name identifies the monitored outlet in logs.
	Name string

	Fetch TelemetryFunc

	// OnReading receives every successful reading.
	OnReading func(unifi.Telemetry)

	// Interval between polls. Default: 30s
	Interval time.Duration

	// RequestTimeout bounds one fetch. Zero leaves it to the client.
	RequestTimeout time.Duration

	Logger Logger
}

// Monitor polls the telemetry of one metered outlet: one fetch when
// started, then one per interval until stopped.
//
// Thread Safety:
//   - Start and Stop are safe for concurrent use. Stop is idempotent and
//     returns only after the polling goroutine has exited.
type Monitor struct {
	cfg MonitorConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a stopped monitor.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTelemetryInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	if cfg.OnReading == nil {
		cfg.OnReading = func(unifi.Telemetry) {}
	}
	return &Monitor{cfg: cfg}
}

// Start begins polling. Calling Start on a running monitor does nothing.
// The monitor also stops when ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx, m.done)
}

// Stop cancels polling and waits for the goroutine to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the monitor has been started and not stopped.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	m.poll(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	reqCtx := ctx
	if m.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, m.cfg.RequestTimeout)
		defer cancel()
	}

	t, ok, err := m.cfg.Fetch(reqCtx)
	switch {
	case ctx.Err() != nil:
		return
	case err != nil:
		m.cfg.Logger.Warn("telemetry poll failed", "outlet", m.cfg.Name, "error", err)
	case !ok:
		m.cfg.Logger.Debug("outlet reported no metering", "outlet", m.cfg.Name)
	default:
		m.cfg.OnReading(t)
	}
}
