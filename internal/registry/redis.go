package registry

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "inference-nodes:"

func nodeKey(nodeID string) string {
	return keyPrefix + nodeID
}

// RedisRegistry stores nodes as JSON values under TTL keys.
type RedisRegistry struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisRegistry(rdb *redis.Client, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{rdb: rdb, ttl: ttl}
}

func (r *RedisRegistry) Register(ctx context.Context, node Node) error {
	b, err := json.Marshal(node)
	if err != nil {
		return err
	}

	set, err := r.rdb.SetNX(ctx, nodeKey(node.ID), b, r.ttl).Result()
	if err != nil {
		return err
	}
	if !set {
		return ErrAlreadyRegistered
	}
	return nil
}

func (r *RedisRegistry) Heartbeat(ctx context.Context, nodeID string) error {
	_, err := r.rdb.GetEx(ctx, nodeKey(nodeID), r.ttl).Result()
	if err == redis.Nil {
		return ErrNotFound
	}
	return err
}

func (r *RedisRegistry) Lookup(ctx context.Context, nodeID string) (*Node, error) {
	val, err := r.rdb.Get(ctx, nodeKey(nodeID)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var node Node
	if err := json.Unmarshal([]byte(val), &node); err != nil {
		log.Printf("registry: node value is not JSON key=%s err=%v", nodeKey(nodeID), err)
		return nil, ErrNotFound
	}
	return &node, nil
}

func (r *RedisRegistry) FindByModel(ctx context.Context, model string) (*Node, error) {
	iter := r.rdb.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		val, err := r.rdb.Get(ctx, key).Result()
		if err == redis.Nil {
			// Expired between SCAN and GET.
			continue
		}
		if err != nil {
			return nil, err
		}

		var node Node
		if err := json.Unmarshal([]byte(val), &node); err != nil {
			log.Printf("registry: node value is not JSON key=%s err=%v", key, err)
			continue
		}

		if node.GptModel == model {
			return &node, nil
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return nil, ErrNotFound
}
