package rbac

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/snies/snies-admin/internal/authz"
)

// RedisPublisher publishes matrix changes on authz.InvalidationChannel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher builds a RedisPublisher.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client, channel: authz.InvalidationChannel}
}

// PublishChange implements Publisher. The payload is the role ID; listeners
// refetch every session regardless.
func (p *RedisPublisher) PublishChange(ctx context.Context, roleID int64) error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Publish(ctx, p.channel, strconv.FormatInt(roleID, 10)).Err()
}
