package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/idxlabs/goidx/token"
)

func newRedisTest(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return rdb, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestRedisRoundtrip(t *testing.T) {
	rdb, done := newRedisTest(t)
	defer done()

	adapter := NewRedis(rdb, "app-tokens")
	ctx := context.Background()

	mapping, err := adapter.GetStorage(ctx)
	if err != nil {
		t.Fatalf("GetStorage on empty store failed: %v", err)
	}
	if len(mapping) != 0 {
		t.Fatalf("empty store returned %+v", mapping)
	}

	want := map[string]*token.Token{
		"accessToken": accessToken("at-1"),
		"idToken":     {Kind: token.KindID, Value: "id-1", ExpiresAt: time.Now().Add(time.Hour).Unix(), Scopes: []string{"openid"}},
	}
	if err := adapter.SetStorage(ctx, want); err != nil {
		t.Fatalf("SetStorage failed: %v", err)
	}

	got, err := adapter.GetStorage(ctx)
	if err != nil {
		t.Fatalf("GetStorage failed: %v", err)
	}
	if len(got) != 2 || got["accessToken"].Value != "at-1" || got["idToken"].Kind != token.KindID {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}

	if err := adapter.ClearStorage(ctx); err != nil {
		t.Fatalf("ClearStorage failed: %v", err)
	}
	got, err = adapter.GetStorage(ctx)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty after clear, got %+v, %v", got, err)
	}
}

func TestRedisWatchSkipsOwnWrites(t *testing.T) {
	rdb, done := newRedisTest(t)
	defer done()

	writer := NewRedis(rdb, "app-tokens")
	observer := NewRedis(rdb, "app-tokens")

	watchCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writerEvents, err := writer.Watch(watchCtx)
	if err != nil {
		t.Fatalf("writer Watch failed: %v", err)
	}
	observerEvents, err := observer.Watch(watchCtx)
	if err != nil {
		t.Fatalf("observer Watch failed: %v", err)
	}

	ctx := context.Background()
	if err := writer.SetStorage(ctx, map[string]*token.Token{"accessToken": accessToken("at-1")}); err != nil {
		t.Fatalf("SetStorage failed: %v", err)
	}

	select {
	case ev := <-observerEvents:
		if ev.Key != "app-tokens" || ev.OldValue != "" || ev.NewValue == "" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("observer received no change event")
	}

	select {
	case ev := <-writerEvents:
		t.Fatalf("writer received its own event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisNoPublishForNoopWrite(t *testing.T) {
	rdb, done := newRedisTest(t)
	defer done()

	writer := NewRedis(rdb, "app-tokens")
	observer := NewRedis(rdb, "app-tokens")

	ctx := context.Background()
	tok := accessToken("at-1")
	if err := writer.SetStorage(ctx, map[string]*token.Token{"accessToken": tok}); err != nil {
		t.Fatalf("SetStorage failed: %v", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events, err := observer.Watch(watchCtx)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	if err := writer.SetStorage(ctx, map[string]*token.Token{"accessToken": tok}); err != nil {
		t.Fatalf("SetStorage failed: %v", err)
	}

	select {
	case ev := <-events:
		t.Fatalf("no-op write published event: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}
