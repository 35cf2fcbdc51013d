//go:build integration

package mqtt

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// Integration tests against a running broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func connect(t *testing.T, clientID string) *Client {
	t.Helper()
	cfg := testConfig()
	cfg.Broker.ClientID = clientID
	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestIntegration_ConnectClose(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "experimentd-int-close"
	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close(), want false")
	}
}

func TestIntegration_ConnectRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999

	if _, err := Connect(cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestIntegration_SlotCommandRoundtrip(t *testing.T) {
	client := connect(t, "experimentd-int-roundtrip")

	var (
		mu       sync.Mutex
		received = make(map[string]string)
		done     = make(chan struct{}, 2)
	)
	err := client.Subscribe(Topics{}.AllSlotCommands(), 1, func(topic string, payload []byte) error {
		mu.Lock()
		received[topic] = string(payload)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if got := client.Subscriptions(); len(got) != 1 || got[0] != Topics{}.AllSlotCommands() {
		t.Errorf("Subscriptions() = %v", got)
	}

	for _, slot := range []string{"Laser", "Laser (2)"} {
		topic := Topics{}.SlotCommand("laser", slot)
		if err := client.PublishJSON(topic, map[string]string{"implementation": "FakeLaser"}, false); err != nil {
			t.Fatalf("PublishJSON() error = %v", err)
		}
	}

	for range 2 {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for commands")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if _, ok := received["experiment/command/slot/laser/laser-2"]; !ok {
		t.Errorf("received = %v", received)
	}

	if err := client.Unsubscribe(Topics{}.AllSlotCommands()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if got := client.Subscriptions(); len(got) != 0 {
		t.Errorf("Subscriptions() = %v after Unsubscribe", got)
	}
}

func TestIntegration_OnConnectCallback(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "experimentd-int-callback"
	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	called := make(chan struct{}, 1)
	client.SetOnConnect(func() { called <- struct{}{} })
	// Trigger the handler the way paho does after a reconnect.
	client.sessionUp()

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Error("OnConnect callback not invoked")
	}
}
