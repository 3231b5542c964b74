package bus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-capture/internal/config"
	"github.com/loqalabs/loqa-capture/internal/natsserver"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startBus(t *testing.T) *Client {
	t.Helper()
	cfg := config.BusConfig{Enabled: true, Embedded: true, Port: -1, ConnectTimeout: 2000}
	srv, err := natsserver.Start(cfg, newLogger())
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	cfg.Servers = []string{srv.ClientURL()}
	client, err := Connect(context.Background(), cfg, "bus-test", newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestConnectRequiresServers(t *testing.T) {
	if _, err := Connect(context.Background(), config.BusConfig{}, "bus-test", newLogger()); err == nil {
		t.Fatal("expected error without servers")
	}
}

func TestPublishJSON(t *testing.T) {
	client := startBus(t)
	sub, err := client.Conn().SubscribeSync("capture.test")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.PublishJSON("capture.test", map[string]string{"file_name": "a.wav"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(msg.Data, &got); err != nil || got["file_name"] != "a.wav" {
		t.Fatalf("unexpected payload %s (%v)", msg.Data, err)
	}
	if !client.Healthy() {
		t.Fatal("expected healthy client")
	}
}

func TestHandleRequests(t *testing.T) {
	client := startBus(t)
	err := client.HandleRequests("capture.control.echo", func(data []byte) any {
		return map[string]string{"echo": string(data)}
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	msg, err := client.Conn().Request("capture.control.echo", []byte("ping"), 2*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(msg.Data, &got); err != nil || got["echo"] != "ping" {
		t.Fatalf("unexpected reply %s (%v)", msg.Data, err)
	}
}
