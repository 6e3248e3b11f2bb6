package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// defaultHealthInterval is how often health is published.
const defaultHealthInterval = 30 * time.Second

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// BridgeID identifies the bridge in health messages.
	BridgeID string

	Version string

	// ControllerURL is reported with the controller status.
	ControllerURL string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher may be nil when MQTT is disabled; Snapshot still works.
	Publisher HealthPublisher

	Topic string
}

// HealthReporter tracks bridge health and publishes it periodically.
//
// Thread Safety: All methods are safe for concurrent use.
type HealthReporter struct {
	cfg       HealthReporterConfig
	startTime time.Time

	mu             sync.RWMutex
	accessoryCount int
	meteredCount   int
	lastDiscovery  time.Time
	lastError      string

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a health reporter. Call Start to begin
// periodic reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	return &HealthReporter{
		cfg:       cfg,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting until ctx is cancelled or Stop
// is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publish(h.message(HealthStopping, "bridge stopping"))
	})
}

// SetCounts updates the exposed and monitored outlet counts.
func (h *HealthReporter) SetCounts(accessories, metered int) {
	h.mu.Lock()
	h.accessoryCount = accessories
	h.meteredCount = metered
	h.mu.Unlock()
}

// RecordDiscovery records the outcome of a discovery pass. A nil err
// marks the controller reachable.
func (h *HealthReporter) RecordDiscovery(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.lastError = err.Error()
		return
	}
	h.lastDiscovery = time.Now().UTC()
	h.lastError = ""
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(h.message(HealthStarting, "bridge starting"))
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	return h.publish(h.Snapshot())
}

// Snapshot returns the current health message without publishing it.
func (h *HealthReporter) Snapshot() HealthMessage {
	status, reason := h.determineStatus()
	return h.message(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus evaluates the current bridge status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	h.mu.RLock()
	lastDiscovery, lastError := h.lastDiscovery, h.lastError
	h.mu.RUnlock()

	switch {
	case lastDiscovery.IsZero() && lastError == "":
		return HealthStarting, "awaiting first discovery"
	case lastError != "":
		return HealthDegraded, "controller unreachable"
	case h.cfg.Publisher != nil && !h.cfg.Publisher.IsConnected():
		return HealthDegraded, "MQTT disconnected"
	default:
		return HealthHealthy, ""
	}
}

func (h *HealthReporter) message(status HealthStatus, reason string) HealthMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ctrl := &ControllerStatus{Status: "unknown", URL: h.cfg.ControllerURL, LastError: h.lastError}
	if !h.lastDiscovery.IsZero() {
		at := h.lastDiscovery
		ctrl.LastDiscovery = &at
		ctrl.Status = "reachable"
	}
	if h.lastError != "" {
		ctrl.Status = "unreachable"
	}

	return HealthMessage{
		Bridge:         h.cfg.BridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        h.cfg.Version,
		UptimeSeconds:  int64(time.Since(h.startTime).Seconds()),
		Controller:     ctrl,
		DevicesManaged: h.accessoryCount,
		MeteredOutlets: h.meteredCount,
		Reason:         reason,
	}
}

func (h *HealthReporter) publish(msg HealthMessage) error {
	if h.cfg.Publisher == nil {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(h.cfg.Topic, payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
