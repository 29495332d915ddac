package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"BetSentinel/internal/bankroll"
	"BetSentinel/internal/ledger"
	"BetSentinel/internal/model"
)

// Views supplies the read models mirrored into Redis.
type Views interface {
	Status() bankroll.Status
	ListActiveAlerts() []model.RiskAlert
}

// RedisSink keeps a dashboard cache of the bankroll status and active alerts.
// Every event rewrites the cached values; the TTL expires them if the
// process stops publishing.
type RedisSink struct {
	client *redis.Client
	views  Views
	prefix string
	ttl    time.Duration
}

// RedisOptions configures NewRedisSink.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// NewRedisSink connects and pings the server.
func NewRedisSink(ctx context.Context, opts RedisOptions, views Views) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return &RedisSink{client: client, views: views, prefix: opts.Prefix, ttl: opts.TTL}, nil
}

func (r *RedisSink) Name() string { return "redis" }

func (r *RedisSink) Publish(ctx context.Context, e ledger.Event) error {
	entries, err := cacheEntries(r.prefix, e, r.views)
	if err != nil {
		return err
	}
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, en := range entries {
			pipe.Set(ctx, en.key, en.value, r.ttl)
		}
		return nil
	})
	return err
}

func (r *RedisSink) Close() error { return r.client.Close() }

type cacheEntry struct {
	key   string
	value []byte
}

func cacheEntries(prefix string, e ledger.Event, views Views) ([]cacheEntry, error) {
	status, err := json.Marshal(views.Status())
	if err != nil {
		return nil, fmt.Errorf("marshal status: %w", err)
	}
	alerts := views.ListActiveAlerts()
	if alerts == nil {
		alerts = []model.RiskAlert{}
	}
	active, err := json.Marshal(alerts)
	if err != nil {
		return nil, fmt.Errorf("marshal alerts: %w", err)
	}
	out := []cacheEntry{
		{key: prefix + ":bankroll:status", value: status},
		{key: prefix + ":alerts:active", value: active},
	}
	if e.Kind != EventAlertsChanged {
		out = append(out, cacheEntry{key: prefix + ":ledger:version", value: []byte(strconv.FormatUint(e.Version, 10))})
	}
	return out, nil
}
