//go:build integration

package mqtt

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// Integration tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func TestIntegration_ConnectInvalidBroker(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestIntegration_CommandRoundtrip(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "pdubridge-int-roundtrip"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // test cleanup

	var (
		mu       sync.Mutex
		received []string
	)
	done := make(chan struct{}, 1)

	err = client.Subscribe(Topics{}.AllCommands(), 1, func(topic string, _ []byte) error {
		id, _ := LastSegment(topic)
		mu.Lock()
		received = append(received, id)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", client.SubscriptionCount())
	}

	if err := client.PublishJSON(Topics{}.Command("outlet-1"), map[string]bool{"on": true}, false); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for command")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0] != "outlet-1" {
		t.Errorf("received = %v, want [outlet-1]", received)
	}
}

func TestIntegration_DisconnectedOperations(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "pdubridge-int-closed"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close() //nolint:errcheck // closing to test disconnected state

	if err := client.Publish("graylogic/test", nil, 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() after Close = %v, want ErrNotConnected", err)
	}
	if err := client.Subscribe("graylogic/test", 1, func(string, []byte) error { return nil }); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() after Close = %v, want ErrNotConnected", err)
	}
}
