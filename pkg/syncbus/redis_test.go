package syncbus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisTransportRoundTrip(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	tr := NewRedisTransport(client, "test:sync", nil)
	received := make(chan Event, 4)
	if err := tr.Start(ctx, func(e Event) { received <- e }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Close()

	want := Event{Type: EventNewPatient, Data: []byte(`{"id":"p1"}`), TimestampMs: 123, Source: "node_a"}
	if err := tr.Publish(ctx, want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-received:
		if got.Type != want.Type || got.Source != want.Source || got.TimestampMs != want.TimestampMs {
			t.Fatalf("got = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}
}

func TestRedisTransportSkipsMalformedPayloads(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	tr := NewRedisTransport(client, "test:sync", nil)
	received := make(chan Event, 4)
	if err := tr.Start(ctx, func(e Event) { received <- e }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Close()

	if err := client.Publish(ctx, "test:sync", "{not json").Err(); err != nil {
		t.Fatalf("raw publish: %v", err)
	}
	if err := tr.Publish(ctx, Event{Type: EventETAUpdate, Source: "node_b"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-received:
		if got.Type != EventETAUpdate {
			t.Fatalf("got = %+v, want the valid event only", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid event not received")
	}
}

func TestRedisTransportCloseStopsReceiving(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	tr := NewRedisTransport(client, "test:sync", nil)
	if err := tr.Start(ctx, func(Event) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Closing again is a no-op.
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
