package registry

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"

	"chatrelay/internal/event"
)

// PresenceChannel is the redis pub/sub channel carrying online-users
// snapshots. Publishing and subscribing on the same channel keeps local
// clients updated and lets other services observe presence transitions.
const PresenceChannel = "presence:online"

type onlineUsersPayload struct {
	UserIDs []int64 `json:"user_ids"`
}

// RedisPresence is the Broadcaster backed by redis pub/sub.
type RedisPresence struct {
	rdb *redis.Client
}

func NewRedisPresence(rdb *redis.Client) *RedisPresence {
	return &RedisPresence{rdb: rdb}
}

func (p *RedisPresence) PublishOnline(ctx context.Context, userIDs []int64) error {
	payload, _ := json.Marshal(onlineUsersPayload{UserIDs: userIDs})
	return p.rdb.Publish(ctx, PresenceChannel, payload).Err()
}

// Subscribe loops presence snapshots back into the registry as online_users
// events for every local connection. Blocks until ctx is cancelled.
func (p *RedisPresence) Subscribe(ctx context.Context, reg *Registry) {
	pubsub := p.rdb.Subscribe(ctx, PresenceChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				log.Println("registry: presence subscription closed")
				return
			}
			reg.BroadcastAll(event.Envelope{
				Type:    event.OnlineUsers,
				Payload: json.RawMessage(msg.Payload),
			})
		}
	}
}
