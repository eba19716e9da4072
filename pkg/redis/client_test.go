package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/workshop-backend/pkg/config"
)

func TestSetNXAndDel(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	ok, err := client.SetNX(ctx, "k", "owner-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first setnx to win, ok=%v err=%v", ok, err)
	}
	ok, err = client.SetNX(ctx, "k", "owner-2", time.Minute)
	if err != nil || ok {
		t.Fatalf("expected second setnx to lose, ok=%v err=%v", ok, err)
	}
	value, err := client.Get(ctx, "k")
	if err != nil || value != "owner-1" {
		t.Fatalf("unexpected value %q err=%v", value, err)
	}

	if err := client.Del(ctx, "k"); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if _, err := client.Get(ctx, "k"); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil after delete, got %v", err)
	}
}

func TestPublish(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	receivers, err := client.Publish(ctx, "workshop:low-stock", []byte(`{"sku":"RING-1"}`))
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if receivers != 1 {
		t.Fatalf("expected one receiver, got %d", receivers)
	}
	if got := mock.published["workshop:low-stock"]; len(got) != 1 || got[0] != `{"sku":"RING-1"}` {
		t.Fatalf("unexpected published payloads %v", got)
	}

	if _, err := client.Publish(ctx, " ", []byte("x")); err == nil {
		t.Fatalf("expected error for blank channel")
	}
}

func TestUninitializedClient(t *testing.T) {
	client := &Client{}
	if err := client.Ping(context.Background()); err == nil {
		t.Fatalf("expected error from zero client")
	}
	if _, err := client.Publish(context.Background(), "c", nil); err == nil {
		t.Fatalf("expected error from zero client")
	}
	if _, err := client.CompareAndDelete(context.Background(), "k", "owner"); err == nil {
		t.Fatalf("expected error from zero client")
	}
	if _, err := client.CompareAndExpire(context.Background(), "k", "owner", time.Minute); err == nil {
		t.Fatalf("expected error from zero client")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close on zero client should be a no-op, got %v", err)
	}
	if err := client.RegisterPoolMetrics(prometheus.NewRegistry()); err != nil {
		t.Fatalf("registering metrics without a live pool should be a no-op, got %v", err)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("bulk-stage", "abc"); got != "ws:idempotency:bulk-stage:abc" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.IdempotencyKey("scope", " "); got != "ws:idempotency:scope" {
		t.Fatalf("blank parts should be skipped, got %s", got)
	}
	if got := client.LockKey("cron-worker"); got != "ws:lock:cron-worker" {
		t.Fatalf("unexpected lock key %s", got)
	}
	if got := Key("notify", "low-stock", "", "RING-1"); got != "ws:notify:low-stock:RING-1" {
		t.Fatalf("unexpected key %s", got)
	}
}

func TestPoolCollectorExportsStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	stats := &redis.PoolStats{Hits: 12, Misses: 3, TotalConns: 5, IdleConns: 2}
	reg.MustRegister(newPoolCollector(func() *redis.PoolStats { return stats }))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	got := map[string]float64{}
	for _, family := range families {
		metric := family.GetMetric()[0]
		if c := metric.GetCounter(); c != nil {
			got[family.GetName()] = c.GetValue()
		} else {
			got[family.GetName()] = metric.GetGauge().GetValue()
		}
	}
	want := map[string]float64{
		"workshop_redis_pool_hits_total":       12,
		"workshop_redis_pool_misses_total":     3,
		"workshop_redis_pool_connections":      5,
		"workshop_redis_pool_idle_connections": 2,
	}
	for name, value := range want {
		if got[name] != value {
			t.Fatalf("%s: expected %v, got %v", name, value, got[name])
		}
	}
}

func TestOptionsFromConfig(t *testing.T) {
	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatalf("expected error without url or address")
	}

	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://localhost:6379/2", PoolSize: 7, DialTimeout: time.Second})
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if opts.DB != 2 || opts.PoolSize != 7 || opts.DialTimeout != time.Second {
		t.Fatalf("unexpected options %+v", opts)
	}

	opts, err = optionsFromConfig(config.RedisConfig{Address: "cache:6379", DB: 3})
	if err != nil {
		t.Fatalf("address config: %v", err)
	}
	if opts.Addr != "cache:6379" || opts.DB != 3 {
		t.Fatalf("unexpected options %+v", opts)
	}
}

type mockCmdable struct {
	data      map[string]string
	published map[string][]string
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data:      make(map[string]string),
		published: make(map[string][]string),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (m *mockCmdable) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	switch v := message.(type) {
	case []byte:
		m.published[channel] = append(m.published[channel], string(v))
	default:
		m.published[channel] = append(m.published[channel], fmt.Sprint(v))
	}
	return redis.NewIntResult(1, nil)
}
