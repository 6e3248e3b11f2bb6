package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-pdu/internal/accessory"
	"github.com/nerrad567/gray-logic-pdu/internal/audit"
	"github.com/nerrad567/gray-logic-pdu/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-pdu/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-pdu/internal/unifi"
)

const (
	// commandTimeout bounds one power cycle issued from an MQTT command.
	commandTimeout = 15 * time.Second

	// storeTimeout bounds cache writes made outside a reconcile pass.
	storeTimeout = 5 * time.Second

	defaultQoS = 1
)

// Logger is the logging interface used by the bridge.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the interface for MQTT operations.
// *mqtt.Client satisfies it; tests use a mock.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// TelemetryWriter stores time-series readings. *influxdb.Client
// satisfies it.
type TelemetryWriter interface {
	WriteOutletTelemetry(r influxdb.OutletReading)
	WriteOutletState(accessoryID, deviceMAC string, index int, on bool)
}

// AuditRecorder stores command audit entries.
// *audit.SQLiteRepository satisfies it.
type AuditRecorder interface {
	Create(ctx context.Context, e *audit.Entry) error
}

// Directory gives the bridge access to the live accessories.
// *accessory.Reconciler satisfies it.
type Directory interface {
	Lookup(id accessory.Identity) (*accessory.Accessory, error)
	Accessories() []*accessory.Accessory
}

// Options holds configuration for creating a bridge.
type Options struct {
	// BridgeID identifies this bridge in health and discovery messages.
	BridgeID string

	Version string

	// ControllerURL is reported in health messages.
	ControllerURL string

	// Store is the accessory cache. Required.
	Store *Store

	// MQTT publishes state and receives commands. Optional.
	MQTT MQTTClient

	// QoS for every publish and subscription. Default: 1
	QoS byte

	// Telemetry receives readings and state changes. Optional.
	Telemetry TelemetryWriter

	// Audit records every MQTT command. Optional.
	Audit AuditRecorder

	// HealthInterval is the health publish cadence. Default: 30s
	HealthInterval time.Duration

	Logger Logger
}

// Bridge is the host side of the outlet bridge. It persists accessories in
// the SQLite cache, exposes them over MQTT and forwards readings to the
// time-series store. It implements accessory.Host and
// accessory.TelemetrySink.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	opts   Options
	topics mqtt.Topics
	health *HealthReporter

	dirMu      sync.RWMutex
	dir        Directory
	rediscover func(ctx context.Context) error

	listenersMu sync.RWMutex
	listeners   []Listener

	// Shutdown coordination
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a bridge. Call Attach and then Start.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.BridgeID == "" {
		opts.BridgeID = Protocol
	}
	if opts.QoS == 0 {
		opts.QoS = defaultQoS
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		opts:      opts,
		ctx:       ctx,
		ctxCancel: cancel,
		logger:    opts.Logger,
	}

	var publisher HealthPublisher
	if opts.MQTT != nil {
		publisher = opts.MQTT
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:      opts.BridgeID,
		Version:       opts.Version,
		ControllerURL: opts.ControllerURL,
		Interval:      opts.HealthInterval,
		Publisher:     publisher,
		Topic:         b.topics.Health(),
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}
	return b, nil
}

// Attach connects the bridge to the live accessories. rediscover, when
// non-nil, serves "discover" requests.
func (b *Bridge) Attach(dir Directory, rediscover func(ctx context.Context) error) {
	b.dirMu.Lock()
	b.dir = dir
	b.rediscover = rediscover
	b.dirMu.Unlock()
}

func (b *Bridge) directory() Directory {
	b.dirMu.RLock()
	defer b.dirMu.RUnlock()
	return b.dir
}

// LoadCache hands every cached accessory to restore. Call it once, before
// the first discovery pass.
func (b *Bridge) LoadCache(ctx context.Context, restore func(accessory.Record)) (int, error) {
	records, err := b.opts.Store.Load(ctx)
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		restore(rec)
	}
	b.logInfo("accessory cache loaded", "count", len(records))
	return len(records), nil
}

// Start subscribes to command and request topics and begins health
// reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if b.opts.MQTT != nil {
		if err := b.health.PublishStarting(); err != nil {
			b.logError("failed to publish starting status", err)
		}

		commandTopic := b.topics.AllCommands()
		if err := b.opts.MQTT.Subscribe(commandTopic, b.opts.QoS, b.handleCommandMessage); err != nil {
			return fmt.Errorf("subscribe to commands: %w", err)
		}
		b.logInfo("subscribed to commands", "topic", commandTopic)

		requestTopic := b.topics.AllRequests()
		if err := b.opts.MQTT.Subscribe(requestTopic, b.opts.QoS, b.handleRequestMessage); err != nil {
			return fmt.Errorf("subscribe to requests: %w", err)
		}
		b.logInfo("subscribed to requests", "topic", requestTopic)
	}

	b.health.Start(ctx)
	b.logInfo("bridge started", "bridge_id", b.opts.BridgeID, "mqtt", b.opts.MQTT != nil)
	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()
		b.health.Stop()
		b.logInfo("bridge stopped")
	})
}

// Health returns the current health status.
func (b *Bridge) Health() HealthMessage {
	return b.health.Snapshot()
}

// RegisterAccessories stores new accessories and publishes their state.
func (b *Bridge) RegisterAccessories(ctx context.Context, accessories []*accessory.Accessory) error {
	if err := b.opts.Store.Upsert(ctx, records(accessories)); err != nil {
		return err
	}
	for _, a := range accessories {
		b.publishState(a)
		b.logInfo("accessory registered", "id", a.ID(), "name", a.DisplayName())
	}
	return nil
}

// UpdateAccessories refreshes cached accessories and republishes state.
func (b *Bridge) UpdateAccessories(ctx context.Context, accessories []*accessory.Accessory) error {
	if err := b.opts.Store.Upsert(ctx, records(accessories)); err != nil {
		return err
	}
	for _, a := range accessories {
		b.publishState(a)
	}
	return nil
}

// UnregisterAccessories deletes accessories and clears their retained
// state.
func (b *Bridge) UnregisterAccessories(ctx context.Context, accessories []*accessory.Accessory) error {
	ids := make([]accessory.Identity, len(accessories))
	for i, a := range accessories {
		ids[i] = a.ID()
	}
	if err := b.opts.Store.Delete(ctx, ids); err != nil {
		return err
	}
	for _, a := range accessories {
		b.publish(b.topics.State(a.ID().String()), nil, true)
		b.emit(Event{Type: EventRemoved, DeviceID: a.ID().String(), Payload: a.Snapshot()})
		b.logInfo("accessory unregistered", "id", a.ID(), "name", a.DisplayName())
	}
	return nil
}

// NotifyState publishes and persists a confirmed relay state.
func (b *Bridge) NotifyState(a *accessory.Accessory) {
	st := a.State()
	c := a.Context()

	b.publishState(a)
	b.emit(Event{Type: EventStateChanged, DeviceID: a.ID().String(), Payload: NewStateMessage(a)})

	ctx, cancel := context.WithTimeout(b.ctx, storeTimeout)
	defer cancel()
	if err := b.opts.Store.SaveState(ctx, a.ID(), st.On); err != nil {
		b.logError("failed to persist outlet state", err)
	}

	if b.opts.Telemetry != nil {
		b.opts.Telemetry.WriteOutletState(a.ID().String(), c.DeviceMAC, c.OutletIndex, st.On)
	}
}

// RecordTelemetry publishes, persists and stores one monitor reading.
func (b *Bridge) RecordTelemetry(a *accessory.Accessory, t unifi.Telemetry) {
	now := time.Now().UTC()
	c := a.Context()

	msg := NewTelemetryMessage(a, t, now)
	b.publishJSON(b.topics.Telemetry(a.ID().String()), msg, false)
	b.emit(Event{Type: EventTelemetry, DeviceID: a.ID().String(), Payload: msg})

	ctx, cancel := context.WithTimeout(b.ctx, storeTimeout)
	defer cancel()
	if err := b.opts.Store.SaveTelemetry(ctx, a.ID(), t, now); err != nil {
		b.logError("failed to persist telemetry", err)
	}

	if b.opts.Telemetry != nil {
		b.opts.Telemetry.WriteOutletTelemetry(influxdb.OutletReading{
			AccessoryID: a.ID().String(),
			DeviceMAC:   c.DeviceMAC,
			OutletIndex: c.OutletIndex,
			OutletName:  c.OutletName,
			Voltage:     t.Voltage,
			Current:     t.Current,
			Power:       t.Power,
			PowerFactor: t.PowerFactor,
			At:          now,
		})
	}
}

// PassCompleted publishes the discovery list and updates health after a
// successful reconcile pass.
func (b *Bridge) PassCompleted(result accessory.ReconcileResult) {
	b.health.RecordDiscovery(nil)

	dir := b.directory()
	if dir == nil {
		return
	}
	accessories := dir.Accessories()

	metered := 0
	for _, a := range accessories {
		if a.Monitored() {
			metered++
		}
	}
	b.health.SetCounts(len(accessories), metered)

	msg := NewDiscoveryMessage(b.opts.BridgeID, accessories)
	b.publishJSON(b.topics.Discovery(), msg, true)
	b.emit(Event{Type: EventDiscovery, Payload: msg})
	if result.Changed() {
		if err := b.health.PublishNow(); err != nil {
			b.logError("failed to publish health", err)
		}
	}
}

// PassFailed records a failed discovery pass in the health status.
func (b *Bridge) PassFailed(err error) {
	b.health.RecordDiscovery(err)
}

// StoredTelemetry returns the last persisted reading of an accessory.
func (b *Bridge) StoredTelemetry(ctx context.Context, id accessory.Identity) (unifi.Telemetry, time.Time, bool, error) {
	return b.opts.Store.Telemetry(ctx, id)
}

func (b *Bridge) publishState(a *accessory.Accessory) {
	b.publishJSON(b.topics.State(a.ID().String()), NewStateMessage(a), true)
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) {
	if b.opts.MQTT == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		b.logError("failed to marshal message", err)
		return
	}
	b.publish(topic, payload, retained)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	if b.opts.MQTT == nil {
		return
	}
	if err := b.opts.MQTT.Publish(topic, payload, b.opts.QoS, retained); err != nil {
		b.logError("failed to publish", err, "topic", topic)
	}
}

func records(accessories []*accessory.Accessory) []accessory.Record {
	out := make([]accessory.Record, len(accessories))
	for i, a := range accessories {
		out[i] = a.Record()
	}
	return out
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	b.health.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
