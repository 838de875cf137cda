package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"gigflow/logger"
)

// Publisher delivers a committed outbox message downstream. Delivery is at
// least once; consumers dedupe on Message.ID.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// RedisPublisher fans messages out on Redis pub/sub, one channel per topic.
type RedisPublisher struct {
	rdb    *goredis.Client
	prefix string
}

func NewRedisPublisher(ctx context.Context, addr, prefix string) (*RedisPublisher, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("outbox: missing redis address")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("outbox: redis ping: %w", err)
	}

	return &RedisPublisher{rdb: rdb, prefix: prefix}, nil
}

// Channel returns the pub/sub channel a topic is published on.
func (p *RedisPublisher) Channel(topic string) string {
	return p.prefix + topic
}

func (p *RedisPublisher) Publish(ctx context.Context, msg Message) error {
	if p == nil || p.rdb == nil {
		return errors.New("outbox: redis publisher not initialized")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.Channel(msg.Topic), raw).Err()
}

func (p *RedisPublisher) Close() error {
	if p == nil || p.rdb == nil {
		return nil
	}
	return p.rdb.Close()
}

// LogPublisher writes messages to the log. Used when no broker is configured.
type LogPublisher struct {
	log *logger.Logger
}

func NewLogPublisher(log *logger.Logger) *LogPublisher {
	if log == nil {
		log = logger.Nop()
	}
	return &LogPublisher{log: log.With("service", "OutboxLogPublisher")}
}

func (p *LogPublisher) Publish(_ context.Context, msg Message) error {
	p.log.Info("outbox message published", "id", msg.ID, "topic", msg.Topic, "payload", string(msg.Payload))
	return nil
}
