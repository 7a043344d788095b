package recordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jconstantine618/ai-consulting-crm/internal/domain"
)

// Change announces that one collection was mutated.
type Change struct {
	Scope domain.Scope `json:"scope"`
	Kind  string       `json:"kind"`
}

// Notifier carries change announcements between processes sharing a database.
type Notifier interface {
	Publish(ctx context.Context, c Change) error
	StartForwarder(ctx context.Context, onChange func(Change)) error
	Close() error
}

const DefaultRedisChannel = "crm:changes"

type RedisNotifier struct {
	rdb     *goredis.Client
	channel string
	log     *zap.Logger
}

type RedisOption func(*RedisNotifier)

func WithChannel(name string) RedisOption {
	return func(n *RedisNotifier) {
		if name != "" {
			n.channel = name
		}
	}
}

func WithRedisLogger(l *zap.Logger) RedisOption {
	return func(n *RedisNotifier) {
		if l != nil {
			n.log = l
		}
	}
}

// DialRedis connects and pings a redis server.
func DialRedis(ctx context.Context, addr string) (*goredis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// NewRedisNotifier publishes changes on a redis pub/sub channel.
func NewRedisNotifier(rdb *goredis.Client, opts ...RedisOption) *RedisNotifier {
	n := &RedisNotifier{rdb: rdb, channel: DefaultRedisChannel, log: zap.NewNop()}
	for _, opt := range opts {
		opt(n)
	}
	n.log = n.log.With(zap.String("component", "redis_notifier"), zap.String("channel", n.channel))
	return n
}

func (n *RedisNotifier) Publish(ctx context.Context, c Change) error {
	if n == nil || n.rdb == nil {
		return fmt.Errorf("redis notifier not initialized")
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return n.rdb.Publish(ctx, n.channel, raw).Err()
}

func (n *RedisNotifier) StartForwarder(ctx context.Context, onChange func(Change)) error {
	if n == nil || n.rdb == nil {
		return fmt.Errorf("redis notifier not initialized")
	}
	if onChange == nil {
		return fmt.Errorf("onChange callback required")
	}
	sub := n.rdb.Subscribe(ctx, n.channel)
	// wait for the subscription confirmation
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(m.Payload), &c); err != nil {
					n.log.Warn("bad change payload", zap.Error(err))
					continue
				}
				onChange(c)
			}
		}
	}()
	return nil
}

func (n *RedisNotifier) Close() error {
	if n == nil || n.rdb == nil {
		return nil
	}
	return n.rdb.Close()
}
