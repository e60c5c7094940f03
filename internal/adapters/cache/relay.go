package cache

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/ports"
)

const notificationChannelPrefix = "notifications:"

// RedisNotificationPublisher carries notifications between processes. Every API
// instance runs a NotificationRelay that feeds them into its local bus.
type RedisNotificationPublisher struct {
	client *redis.Client
}

func NewRedisNotificationPublisher(client *redis.Client) *RedisNotificationPublisher {
	return &RedisNotificationPublisher{client: client}
}

func (p *RedisNotificationPublisher) Publish(ctx context.Context, topic string, message []byte) error {
	return p.client.Publish(ctx, notificationChannelPrefix+topic, message).Err()
}

type NotificationRelay struct {
	logger *slog.Logger
	client *redis.Client
	local  ports.NotificationPublisher
}

func NewNotificationRelay(logger *slog.Logger, client *redis.Client, local ports.NotificationPublisher) *NotificationRelay {
	return &NotificationRelay{logger: logger, client: client, local: local}
}

func (r *NotificationRelay) Run(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, notificationChannelPrefix+"*")
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			topic := strings.TrimPrefix(msg.Channel, notificationChannelPrefix)
			if err := r.local.Publish(ctx, topic, []byte(msg.Payload)); err != nil {
				r.logger.WarnContext(ctx, "failed to relay notification",
					"module", "cache.notification_relay",
					"layer", "adapter",
					"operation", "relay",
					"outcome", "failure",
					"topic", topic,
					"error", err,
				)
			}
		}
	}
}
