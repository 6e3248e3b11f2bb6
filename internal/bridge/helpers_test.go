package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-pdu/internal/accessory"
	"github.com/nerrad567/gray-logic-pdu/internal/audit"
	"github.com/nerrad567/gray-logic-pdu/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-pdu/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-pdu/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-pdu/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-pdu/internal/unifi"
	"github.com/nerrad567/gray-logic-pdu/migrations"
)

const testMAC = "aa:bb:cc:dd:ee:01"

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	connected     bool
	handlers      map[string]mqtt.MessageHandler
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockPublish, len(m.published))
	copy(out, m.published)
	return out
}

func (m *MockMQTTClient) GetSubscriptions() []mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriptions
}

// SimulateMessage delivers payload to the handler subscribed to pattern.
func (m *MockMQTTClient) SimulateMessage(pattern, topic string, payload []byte) error {
	m.mu.Lock()
	handler := m.handlers[pattern]
	m.mu.Unlock()
	if handler == nil {
		return fmt.Errorf("no handler for %s", pattern)
	}
	return handler(topic, payload)
}

// LastOn returns the most recent publish to topic.
func (m *MockMQTTClient) LastOn(topic string) (mockPublish, bool) {
	published := m.GetPublished()
	for i := len(published) - 1; i >= 0; i-- {
		if published[i].Topic == topic {
			return published[i], true
		}
	}
	return mockPublish{}, false
}

// recordingWriter implements TelemetryWriter.
type recordingWriter struct {
	mu       sync.Mutex
	readings []influxdb.OutletReading
	states   []bool
}

func (w *recordingWriter) WriteOutletTelemetry(r influxdb.OutletReading) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.readings = append(w.readings, r)
}

func (w *recordingWriter) WriteOutletState(_, _ string, _ int, on bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.states = append(w.states, on)
}

func (w *recordingWriter) counts() (readings, states int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.readings), len(w.states)
}

// fakeService is an in-memory accessory.OutletService.
type fakeService struct {
	mu      sync.Mutex
	outlets map[int]unifi.Outlet
	cycles  int
}

func newFakeService(outlets ...unifi.Outlet) *fakeService {
	f := &fakeService{outlets: make(map[int]unifi.Outlet)}
	for _, o := range outlets {
		f.outlets[o.Index] = o
	}
	return f
}

func (f *fakeService) FetchDevice(_ context.Context, mac string) (unifi.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev := unifi.Device{MAC: mac}
	for _, o := range f.outlets {
		dev.OutletTable = append(dev.OutletTable, o)
	}
	return dev, nil
}

func (f *fakeService) GetOutlet(_ context.Context, _ string, index int) (unifi.Outlet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.outlets[index]
	if !ok {
		return unifi.Outlet{}, unifi.ErrOutletNotFound
	}
	return o, nil
}

func (f *fakeService) GetOutletTelemetry(ctx context.Context, mac string, index int) (unifi.Telemetry, bool, error) {
	o, err := f.GetOutlet(ctx, mac, index)
	if err != nil || !unifi.SupportsMetering(o) {
		return unifi.Telemetry{}, false, err
	}
	return unifi.TelemetryOf(o), true, nil
}

func (f *fakeService) PowerCycle(_ context.Context, _ string, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.outlets[index]
	if !ok {
		return unifi.ErrRequestFailed
	}
	f.cycles++
	o.RelayState = !o.RelayState
	f.outlets[index] = o
	return nil
}

func (f *fakeService) cycleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cycles
}

func plainOutlet(index int, name string) unifi.Outlet {
	return unifi.Outlet{Index: index, Name: name, Caps: 1}
}

func meteredOutlet(index int, name string) unifi.Outlet {
	return unifi.Outlet{Index: index, Name: name, RelayState: true, Caps: 3, Voltage: 120.1, Current: 0.5, Power: 60, PowerFactor: 0.98}
}

func discovered(outlets ...unifi.Outlet) []accessory.DiscoveredOutlet {
	out := make([]accessory.DiscoveredOutlet, len(outlets))
	for i, o := range outlets {
		out[i] = accessory.DiscoveredOutlet{DeviceMAC: testMAC, DeviceLabel: "Rack", Outlet: o}
	}
	return out
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if _, err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewStore(db)
}

// testHarness wires a bridge to a reconciler over a fake controller.
type testHarness struct {
	bridge     *Bridge
	mqtt       *MockMQTTClient
	writer     *recordingWriter
	store      *Store
	audit      *recordingAudit
	service    *fakeService
	reconciler *accessory.Reconciler
}

// recordingAudit captures audit entries in memory.
type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAudit) Create(_ context.Context, e *audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *e)
	return nil
}

func (r *recordingAudit) all() []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Entry(nil), r.entries...)
}

func newHarness(t *testing.T, outlets ...unifi.Outlet) *testHarness {
	t.Helper()

	h := &testHarness{
		mqtt:    NewMockMQTTClient(),
		writer:  &recordingWriter{},
		store:   openTestStore(t),
		audit:   &recordingAudit{},
		service: newFakeService(outlets...),
	}

	b, err := NewBridge(Options{
		BridgeID:  "pdu-test",
		Version:   "test",
		Store:     h.store,
		MQTT:      h.mqtt,
		Telemetry: h.writer,
		Audit:     h.audit,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	h.bridge = b
	t.Cleanup(b.Stop)

	r, err := accessory.NewReconciler(accessory.ReconcilerOptions{
		Service:           h.service,
		Host:              b,
		Sink:              b,
		DeviceCount:       1,
		TelemetryInterval: time.Hour,
		ConfirmDelay:      10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewReconciler() error = %v", err)
	}
	h.reconciler = r
	t.Cleanup(r.Close)

	b.Attach(r, func(ctx context.Context) error {
		dev, err := h.service.FetchDevice(ctx, testMAC)
		if err != nil {
			return err
		}
		result, err := r.Reconcile(ctx, discovered(unifi.SortedOutlets(dev)...))
		if err != nil {
			return err
		}
		b.PassCompleted(result)
		return nil
	})
	return h
}

func (h *testHarness) reconcile(t *testing.T, outlets ...unifi.Outlet) accessory.ReconcileResult {
	t.Helper()
	result, err := h.reconciler.Reconcile(context.Background(), discovered(outlets...))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	h.bridge.PassCompleted(result)
	return result
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func decode[T any](t *testing.T, payload []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		t.Fatalf("unmarshal %s: %v", payload, err)
	}
	return v
}
