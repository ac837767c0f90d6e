package storage

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/idxlabs/goidx/token"
)

// Redis stores the serialized token mapping under one redis key and fans
// writes out over pub/sub so other processes can reconcile. Each adapter
// instance carries a unique origin id; its own publications are filtered
// out of Watch, so only foreign writes surface as change events.
type Redis struct {
	client     redis.UniversalClient
	storageKey string
	origin     string
}

type redisChange struct {
	Key      string `json:"key"`
	OldValue string `json:"old"`
	NewValue string `json:"new"`
	Origin   string `json:"origin"`
}

// NewRedis wraps a redis client as a token storage adapter.
func NewRedis(client redis.UniversalClient, storageKey string) *Redis {
	if storageKey == "" {
		storageKey = token.DefaultStorageKey
	}
	return &Redis{
		client:     client,
		storageKey: storageKey,
		origin:     uuid.NewString(),
	}
}

func (r *Redis) dataKey() string {
	return "goidx:tokens:" + r.storageKey
}

func (r *Redis) channel() string {
	return "goidx:tokens:" + r.storageKey + ":changes"
}

// GetStorage loads and decodes the stored mapping; a missing key is an
// empty mapping.
func (r *Redis) GetStorage(ctx context.Context) (map[string]*token.Token, error) {
	raw, err := r.client.Get(ctx, r.dataKey()).Result()
	if err == redis.Nil {
		return map[string]*token.Token{}, nil
	}
	if err != nil {
		return nil, err
	}
	var mapping map[string]*token.Token
	if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
		return nil, err
	}
	if mapping == nil {
		mapping = map[string]*token.Token{}
	}
	return mapping, nil
}

// SetStorage writes the mapping and publishes the old/new pair.
func (r *Redis) SetStorage(ctx context.Context, mapping map[string]*token.Token) error {
	oldValue, err := r.client.Get(ctx, r.dataKey()).Result()
	if err == redis.Nil {
		oldValue = ""
	} else if err != nil {
		return err
	}

	var newValue string
	if len(mapping) > 0 {
		data, err := json.Marshal(mapping)
		if err != nil {
			return err
		}
		newValue = string(data)
	}

	if newValue == "" {
		if err := r.client.Del(ctx, r.dataKey()).Err(); err != nil {
			return err
		}
	} else {
		if err := r.client.Set(ctx, r.dataKey(), newValue, 0).Err(); err != nil {
			return err
		}
	}

	return r.publish(ctx, oldValue, newValue)
}

// ClearStorage removes the mapping and publishes the removal.
func (r *Redis) ClearStorage(ctx context.Context) error {
	return r.SetStorage(ctx, nil)
}

func (r *Redis) publish(ctx context.Context, oldValue, newValue string) error {
	if oldValue == newValue {
		return nil
	}
	payload, err := json.Marshal(redisChange{
		Key:      r.storageKey,
		OldValue: oldValue,
		NewValue: newValue,
		Origin:   r.origin,
	})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel(), string(payload)).Err()
}

// Watch subscribes to the change channel and forwards foreign writes.
func (r *Redis) Watch(ctx context.Context) (<-chan token.ChangeEvent, error) {
	sub := r.client.Subscribe(ctx, r.channel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan token.ChangeEvent, 16)
	msgs := sub.Channel()

	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var change redisChange
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					log.Print("goidx: unparseable token change notification")
					continue
				}
				if change.Origin == r.origin {
					continue
				}
				select {
				case out <- token.ChangeEvent{
					Key:      change.Key,
					OldValue: change.OldValue,
					NewValue: change.NewValue,
				}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Unreliable is false: own-origin messages are filtered before delivery.
func (r *Redis) Unreliable() bool {
	return false
}
