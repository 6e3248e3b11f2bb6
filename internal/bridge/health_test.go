package bridge

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestReporter(pub HealthPublisher) *HealthReporter {
	return NewHealthReporter(HealthReporterConfig{
		BridgeID:      "pdu-test",
		Version:       "1.0.0",
		ControllerURL: "https://unifi.local",
		Interval:      time.Hour,
		Publisher:     pub,
		Topic:         topics.Health(),
	})
}

func TestHealthReporter_Status(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(h *HealthReporter, m *MockMQTTClient)
		wantStatus HealthStatus
		wantCtrl   string
	}{
		{
			name:       "awaiting discovery",
			setup:      func(*HealthReporter, *MockMQTTClient) {},
			wantStatus: HealthStarting,
			wantCtrl:   "unknown",
		},
		{
			name: "healthy",
			setup: func(h *HealthReporter, _ *MockMQTTClient) {
				h.RecordDiscovery(nil)
			},
			wantStatus: HealthHealthy,
			wantCtrl:   "reachable",
		},
		{
			name: "controller unreachable",
			setup: func(h *HealthReporter, _ *MockMQTTClient) {
				h.RecordDiscovery(nil)
				h.RecordDiscovery(errors.New("timeout"))
			},
			wantStatus: HealthDegraded,
			wantCtrl:   "unreachable",
		},
		{
			name: "recovered",
			setup: func(h *HealthReporter, _ *MockMQTTClient) {
				h.RecordDiscovery(errors.New("timeout"))
				h.RecordDiscovery(nil)
			},
			wantStatus: HealthHealthy,
			wantCtrl:   "reachable",
		},
		{
			name: "mqtt disconnected",
			setup: func(h *HealthReporter, m *MockMQTTClient) {
				h.RecordDiscovery(nil)
				m.SetConnected(false)
			},
			wantStatus: HealthDegraded,
			wantCtrl:   "reachable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMockMQTTClient()
			h := newTestReporter(m)
			tt.setup(h, m)

			msg := h.Snapshot()
			if msg.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s (reason %q)", msg.Status, tt.wantStatus, msg.Reason)
			}
			if msg.Controller == nil || msg.Controller.Status != tt.wantCtrl {
				t.Errorf("Controller = %+v, want status %s", msg.Controller, tt.wantCtrl)
			}
		})
	}
}

func TestHealthReporter_Counts(t *testing.T) {
	h := newTestReporter(nil)
	h.SetCounts(5, 2)

	msg := h.Snapshot()
	if msg.DevicesManaged != 5 || msg.MeteredOutlets != 2 {
		t.Errorf("counts = %d/%d, want 5/2", msg.DevicesManaged, msg.MeteredOutlets)
	}
	if msg.Bridge != "pdu-test" || msg.Version != "1.0.0" {
		t.Errorf("identity = %s/%s", msg.Bridge, msg.Version)
	}
}

func TestHealthReporter_StartStop(t *testing.T) {
	m := NewMockMQTTClient()
	h := newTestReporter(m)

	h.Start(context.Background())
	waitFor(t, "initial health", func() bool { return len(m.GetPublished()) >= 1 })

	h.Stop()
	h.Stop()

	pub, ok := m.LastOn(topics.Health())
	if !ok {
		t.Fatal("no health published")
	}
	msg := decode[HealthMessage](t, pub.Payload)
	if msg.Status != HealthStopping {
		t.Errorf("final status = %s, want stopping", msg.Status)
	}
	if !pub.Retained || pub.QoS != 1 {
		t.Errorf("publish = %+v, want retained QoS 1", pub)
	}
}

func TestHealthReporter_NilPublisher(t *testing.T) {
	h := newTestReporter(nil)
	if err := h.PublishNow(); err != nil {
		t.Errorf("PublishNow() error = %v", err)
	}
	h.Start(context.Background())
	h.Stop()
}
