package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-pdu/internal/accessory"
	"github.com/nerrad567/gray-logic-pdu/internal/audit"
	"github.com/nerrad567/gray-logic-pdu/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-pdu/internal/unifi"
)

var topics mqtt.Topics

func TestNewBridge_RequiresStore(t *testing.T) {
	if _, err := NewBridge(Options{}); err == nil {
		t.Fatal("NewBridge() without store should fail")
	}
}

func TestNewBridge_Defaults(t *testing.T) {
	b, err := NewBridge(Options{Store: openTestStore(t)})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	defer b.Stop()

	if b.opts.BridgeID != Protocol {
		t.Errorf("BridgeID = %q, want %q", b.opts.BridgeID, Protocol)
	}
	if b.opts.QoS != 1 {
		t.Errorf("QoS = %d, want 1", b.opts.QoS)
	}
}

func TestBridge_StartSubscribes(t *testing.T) {
	h := newHarness(t)
	if err := h.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	subs := h.mqtt.GetSubscriptions()
	if len(subs) != 2 {
		t.Fatalf("subscriptions = %d, want 2", len(subs))
	}
	if subs[0].Topic != topics.AllCommands() || subs[1].Topic != topics.AllRequests() {
		t.Errorf("subscriptions = %+v", subs)
	}

	pub, ok := h.mqtt.LastOn(topics.Health())
	if !ok {
		t.Fatal("no health message published")
	}
	if !pub.Retained {
		t.Error("health message should be retained")
	}
}

func TestBridge_RegisterPersistsAndPublishes(t *testing.T) {
	h := newHarness(t, plainOutlet(1, "Router"), plainOutlet(2, "Switch"))
	ctx := context.Background()

	result := h.reconcile(t, plainOutlet(1, "Router"), plainOutlet(2, "Switch"))
	if len(result.Added) != 2 {
		t.Fatalf("Added = %d, want 2", len(result.Added))
	}

	count, err := h.store.Count(ctx)
	if err != nil || count != 2 {
		t.Fatalf("Count() = %d, %v, want 2", count, err)
	}

	for _, id := range result.Added {
		pub, ok := h.mqtt.LastOn(topics.State(id.String()))
		if !ok {
			t.Fatalf("no state published for %s", id)
		}
		if !pub.Retained {
			t.Errorf("state for %s should be retained", id)
		}
		msg := decode[StateMessage](t, pub.Payload)
		if msg.DeviceMAC != testMAC || msg.Protocol != Protocol {
			t.Errorf("state message = %+v", msg)
		}
	}

	disc, ok := h.mqtt.LastOn(topics.Discovery())
	if !ok {
		t.Fatal("no discovery message published")
	}
	list := decode[DiscoveryMessage](t, disc.Payload)
	if len(list.Devices) != 2 {
		t.Errorf("discovery devices = %d, want 2", len(list.Devices))
	}
	if health := h.bridge.Health(); health.DevicesManaged != 2 || health.Status != HealthHealthy {
		t.Errorf("health = %+v", health)
	}
}

func TestBridge_UnregisterClearsRetainedState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.reconcile(t, plainOutlet(1, "Router"), plainOutlet(2, "Switch"))
	result := h.reconcile(t, plainOutlet(1, "Router"))

	if len(result.Removed) != 1 {
		t.Fatalf("Removed = %d, want 1", len(result.Removed))
	}
	removed := result.Removed[0]
	if removed != accessory.IdentityFor(testMAC, 2) {
		t.Errorf("removed %s, want outlet 2", removed)
	}

	pub, ok := h.mqtt.LastOn(topics.State(removed.String()))
	if !ok || len(pub.Payload) != 0 || !pub.Retained {
		t.Errorf("removed state publish = %+v, want empty retained payload", pub)
	}

	count, err := h.store.Count(ctx)
	if err != nil || count != 1 {
		t.Errorf("Count() = %d, %v, want 1", count, err)
	}
}

func TestBridge_LoadCacheRestoresAccessories(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id := accessory.IdentityFor(testMAC, 4)
	err := h.store.Upsert(ctx, []accessory.Record{{
		ID:          id,
		DisplayName: "NAS",
		Context:     accessory.Context{DeviceMAC: testMAC, OutletIndex: 4, OutletName: "NAS"},
		On:          true,
	}})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	n, err := h.bridge.LoadCache(ctx, h.reconciler.Restore)
	if err != nil || n != 1 {
		t.Fatalf("LoadCache() = %d, %v, want 1", n, err)
	}

	a, err := h.reconciler.Lookup(id)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if a.DisplayName() != "NAS" || !a.State().On {
		t.Errorf("restored accessory = %+v", a.Record())
	}
}

func TestBridge_CommandCyclesOutlet(t *testing.T) {
	h := newHarness(t, plainOutlet(1, "Router"))
	if err := h.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.reconcile(t, plainOutlet(1, "Router"))

	id := accessory.IdentityFor(testMAC, 1)
	err := h.mqtt.SimulateMessage(topics.AllCommands(), topics.Command(id.String()),
		[]byte(`{"id":"cmd-1","command":"on","source":"api"}`))
	if err != nil {
		t.Fatalf("command handler error = %v", err)
	}

	if h.service.cycleCount() != 1 {
		t.Errorf("cycles = %d, want 1", h.service.cycleCount())
	}

	pub, ok := h.mqtt.LastOn(topics.Ack(id.String()))
	if !ok {
		t.Fatal("no ack published")
	}
	ack := decode[AckMessage](t, pub.Payload)
	if ack.Status != AckAccepted || ack.CommandID != "cmd-1" || ack.DeviceID != id.String() {
		t.Errorf("ack = %+v", ack)
	}

	// The confirmation read lands after the configured delay.
	waitFor(t, "confirmed state", func() bool {
		_, states := h.writer.counts()
		return states == 1
	})
	records, err := h.store.Load(context.Background())
	if err != nil || len(records) != 1 || !records[0].On {
		t.Errorf("stored records = %+v, %v", records, err)
	}
}

func TestBridge_CommandErrors(t *testing.T) {
	h := newHarness(t, plainOutlet(1, "Router"))
	if err := h.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.reconcile(t, plainOutlet(1, "Router"))
	known := accessory.IdentityFor(testMAC, 1).String()
	unknown := accessory.IdentityFor(testMAC, 9).String()

	tests := []struct {
		name     string
		deviceID string
		payload  string
		wantCode string
	}{
		{"unknown accessory", unknown, `{"id":"c1","command":"on"}`, ErrCodeNotConfigured},
		{"malformed id", "not-a-uuid", `{"id":"c2","command":"on"}`, ErrCodeNotConfigured},
		{"unknown command", known, `{"id":"c3","command":"dim"}`, ErrCodeInvalidCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.mqtt.SimulateMessage(topics.AllCommands(), topics.Command(tt.deviceID), []byte(tt.payload))
			if err != nil {
				t.Fatalf("command handler error = %v", err)
			}
			pub, ok := h.mqtt.LastOn(topics.Ack(tt.deviceID))
			if !ok {
				t.Fatal("no ack published")
			}
			ack := decode[AckMessage](t, pub.Payload)
			if ack.Status != AckFailed || ack.Error == nil || ack.Error.Code != tt.wantCode {
				t.Errorf("ack = %+v, want code %s", ack, tt.wantCode)
			}
		})
	}

	if h.service.cycleCount() != 0 {
		t.Errorf("cycles = %d, want 0", h.service.cycleCount())
	}
}

func TestBridge_CommandAudited(t *testing.T) {
	h := newHarness(t, plainOutlet(1, "Router"))
	if err := h.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.reconcile(t, plainOutlet(1, "Router"))
	known := accessory.IdentityFor(testMAC, 1).String()

	if err := h.mqtt.SimulateMessage(topics.AllCommands(), topics.Command(known),
		[]byte(`{"id":"c1","command":"off","source":"scene"}`)); err != nil {
		t.Fatalf("command handler error = %v", err)
	}
	if err := h.mqtt.SimulateMessage(topics.AllCommands(), topics.Command(known),
		[]byte(`{"id":"c2","command":"dim"}`)); err != nil {
		t.Fatalf("command handler error = %v", err)
	}

	entries := h.audit.all()
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(entries))
	}
	ok := entries[0]
	if ok.Action != audit.ActionSwitch || ok.EntityID != known || ok.Actor != "scene" ||
		ok.Source != audit.SourceMQTT || ok.Outcome != audit.OutcomeAccepted || ok.Details["command_id"] != "c1" {
		t.Errorf("accepted entry = %+v", ok)
	}
	failed := entries[1]
	if failed.Outcome != audit.OutcomeFailed || failed.Details["code"] != ErrCodeInvalidCommand {
		t.Errorf("failed entry = %+v", failed)
	}
}

func TestBridge_CommandNotReadyBeforeDiscovery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := accessory.IdentityFor(testMAC, 1)
	if err := h.store.Upsert(ctx, []accessory.Record{{
		ID:          id,
		DisplayName: "Router",
		Context:     accessory.Context{DeviceMAC: testMAC, OutletIndex: 1},
	}}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if _, err := h.bridge.LoadCache(ctx, h.reconciler.Restore); err != nil {
		t.Fatalf("LoadCache() error = %v", err)
	}
	if err := h.bridge.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	err := h.mqtt.SimulateMessage(topics.AllCommands(), topics.Command(id.String()), []byte(`{"id":"c1","command":"off"}`))
	if err != nil {
		t.Fatalf("command handler error = %v", err)
	}
	pub, _ := h.mqtt.LastOn(topics.Ack(id.String()))
	ack := decode[AckMessage](t, pub.Payload)
	if ack.Error == nil || ack.Error.Code != ErrCodeNotReady {
		t.Errorf("ack = %+v, want NOT_READY", ack)
	}
}

func TestBridge_CommandInvalidJSON(t *testing.T) {
	h := newHarness(t)
	if err := h.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	err := h.mqtt.SimulateMessage(topics.AllCommands(), topics.Command("x"), []byte(`{`))
	if !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("error = %v, want ErrInvalidMessage", err)
	}
}

func TestBridge_Requests(t *testing.T) {
	h := newHarness(t, plainOutlet(1, "Router"), meteredOutlet(2, "NAS"))
	if err := h.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	nas := accessory.IdentityFor(testMAC, 2).String()

	send := func(t *testing.T, requestID, payload string) ResponseMessage {
		t.Helper()
		err := h.mqtt.SimulateMessage(topics.AllRequests(), topics.Request(requestID), []byte(payload))
		if err != nil {
			t.Fatalf("request handler error = %v", err)
		}
		pub, ok := h.mqtt.LastOn(topics.Response(requestID))
		if !ok {
			t.Fatal("no response published")
		}
		return decode[ResponseMessage](t, pub.Payload)
	}

	t.Run("discover", func(t *testing.T) {
		resp := send(t, "r1", `{"request_id":"r1","action":"discover"}`)
		if !resp.Success {
			t.Fatalf("response = %+v", resp)
		}
		if n := len(h.reconciler.Accessories()); n != 2 {
			t.Errorf("accessories = %d, want 2", n)
		}
	})

	t.Run("read_all", func(t *testing.T) {
		resp := send(t, "r2", `{"request_id":"r2","action":"read_all"}`)
		data, ok := resp.Data.(map[string]any)
		if !resp.Success || !ok || data["count"] != float64(2) {
			t.Errorf("response = %+v", resp)
		}
	})

	t.Run("read_state", func(t *testing.T) {
		resp := send(t, "r3", `{"request_id":"r3","action":"read_state","device_id":"`+nas+`"}`)
		if !resp.Success {
			t.Fatalf("response = %+v", resp)
		}
		data := resp.Data.(map[string]any)
		state := data["state"].(map[string]any)
		if state["on"] != true || state["telemetry"] == nil {
			t.Errorf("state = %+v", state)
		}
	})

	t.Run("read_state without device", func(t *testing.T) {
		resp := send(t, "r4", `{"action":"read_state"}`)
		if resp.Success || resp.Error.Code != ErrCodeInvalidParameters {
			t.Errorf("response = %+v", resp)
		}
		if resp.RequestID != "r4" {
			t.Errorf("RequestID = %q, want id from topic", resp.RequestID)
		}
	})

	t.Run("unknown action", func(t *testing.T) {
		resp := send(t, "r5", `{"request_id":"r5","action":"reboot"}`)
		if resp.Success || resp.Error.Code != ErrCodeInvalidCommand {
			t.Errorf("response = %+v", resp)
		}
	})
}

func TestBridge_RecordTelemetry(t *testing.T) {
	h := newHarness(t, meteredOutlet(2, "NAS"))
	ctx := context.Background()

	// The monitor takes its first reading as soon as the outlet is exposed.
	h.reconcile(t, meteredOutlet(2, "NAS"))
	waitFor(t, "first reading", func() bool {
		readings, _ := h.writer.counts()
		return readings >= 1
	})

	id := accessory.IdentityFor(testMAC, 2)
	reading, at, ok, err := h.bridge.StoredTelemetry(ctx, id)
	if err != nil || !ok {
		t.Fatalf("StoredTelemetry() = %v, %v", ok, err)
	}
	if reading.Power != 60 || reading.Voltage != 120.1 || at.IsZero() {
		t.Errorf("reading = %+v at %v", reading, at)
	}

	pub, ok := h.mqtt.LastOn(topics.Telemetry(id.String()))
	if !ok {
		t.Fatal("no telemetry published")
	}
	if pub.Retained {
		t.Error("telemetry should not be retained")
	}
	msg := decode[TelemetryMessage](t, pub.Payload)
	if msg.OutletIndex != 2 || msg.Telemetry.Power != 60 {
		t.Errorf("telemetry message = %+v", msg)
	}
	if health := h.bridge.Health(); health.MeteredOutlets != 1 {
		t.Errorf("MeteredOutlets = %d, want 1", health.MeteredOutlets)
	}
}

func TestBridge_WithoutMQTT(t *testing.T) {
	store := openTestStore(t)
	b, err := NewBridge(Options{Store: store})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	svc := newFakeService(plainOutlet(1, "Router"))
	r, err := accessory.NewReconciler(accessory.ReconcilerOptions{Service: svc, Host: b})
	if err != nil {
		t.Fatalf("NewReconciler() error = %v", err)
	}
	defer r.Close()
	b.Attach(r, nil)

	result, err := r.Reconcile(context.Background(), discovered(unifi.Outlet{Index: 1, Caps: 1}))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	b.PassCompleted(result)

	if count, _ := store.Count(context.Background()); count != 1 {
		t.Errorf("Count() = %d, want 1", count)
	}
}

func TestBridge_PassFailedDegradesHealth(t *testing.T) {
	h := newHarness(t)
	h.reconcile(t, plainOutlet(1, "Router"))
	h.bridge.PassFailed(errors.New("connection refused"))

	health := h.bridge.Health()
	if health.Status != HealthDegraded || health.Controller.Status != "unreachable" {
		t.Errorf("health = %+v", health)
	}
}

func TestBridge_Events(t *testing.T) {
	h := newHarness(t, meteredOutlet(2, "NAS"), plainOutlet(3, "Switch"))

	var (
		mu     sync.Mutex
		events []Event
	)
	h.bridge.AddListener(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	h.bridge.AddListener(nil)

	seen := func(typ, deviceID string) bool {
		mu.Lock()
		defer mu.Unlock()
		for _, ev := range events {
			if ev.Type == typ && ev.DeviceID == deviceID {
				return true
			}
		}
		return false
	}

	nas := accessory.IdentityFor(testMAC, 2).String()
	sw := accessory.IdentityFor(testMAC, 3).String()

	h.reconcile(t, meteredOutlet(2, "NAS"), plainOutlet(3, "Switch"))
	if !seen(EventDiscovery, "") {
		t.Error("no discovery event after pass")
	}
	waitFor(t, "telemetry event", func() bool { return seen(EventTelemetry, nas) })

	h.reconcile(t, meteredOutlet(2, "NAS"))
	if !seen(EventRemoved, sw) {
		t.Error("no removal event for dropped outlet")
	}

	a, err := h.reconciler.Lookup(accessory.IdentityFor(testMAC, 2))
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	h.bridge.NotifyState(a)
	if !seen(EventStateChanged, nas) {
		t.Error("no state event after NotifyState")
	}
}
