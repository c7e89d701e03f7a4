package notify

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

const DefaultRedisPrefix = "promptq"

// Publisher is the subset of redis.UniversalClient the sink uses.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes each Delivery on <prefix>:<platform>:<channelID>.
type RedisSink struct {
	client Publisher
	prefix string
}

func NewRedisSink(client Publisher, prefix string) *RedisSink {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisSink{client: client, prefix: prefix}
}

// NewRedisClient opens a client for addr (host:port or a redis:// URL).
func NewRedisClient(addr, password string, db int) (redis.UniversalClient, error) {
	if addr == "" {
		return nil, errors.New("redis address is empty")
	}
	if opts, err := redis.ParseURL(addr); err == nil {
		if password != "" {
			opts.Password = password
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Password: password,
		DB:       db,
	}), nil
}

// Topic returns the channel name a delivery is published on.
func (s *RedisSink) Topic(platform, channelID string) string {
	return s.prefix + ":" + platform + ":" + channelID
}

func (s *RedisSink) Deliver(ctx context.Context, channelID, platform string, reply Reply) error {
	body, err := json.Marshal(newDelivery(channelID, platform, reply))
	if err != nil {
		return errors.Wrap(err, "encode redis delivery")
	}
	if err := s.client.Publish(ctx, s.Topic(platform, channelID), body).Err(); err != nil {
		return errors.Wrap(err, "redis publish")
	}
	return nil
}
