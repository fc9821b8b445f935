package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentmesh/trustgate/internal/models"
	"github.com/agentmesh/trustgate/internal/utils"
)

// ClientStore is the Redis implementation of the registry's durable store.
// Clients are kept as JSON snapshots with no TTL: the registry, not Redis,
// owns their lifecycle.
type ClientStore struct {
	redis *RedisClient
}

// NewClientStore creates a new ClientStore.
func NewClientStore(redis *RedisClient) *ClientStore {
	return &ClientStore{redis: redis}
}

// key returns the Redis key for a client snapshot.
func (s *ClientStore) key(clientID string) string {
	return fmt.Sprintf("trustgate:client:%s", clientID)
}

// Save stores the client snapshot.
func (s *ClientStore) Save(ctx context.Context, c *models.Client) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}
	return s.redis.Set(ctx, s.key(c.ClientID), string(data), 0)
}

// Load retrieves one client snapshot.
func (s *ClientStore) Load(ctx context.Context, clientID string) (*models.Client, error) {
	data, err := s.redis.Get(ctx, s.key(clientID))
	if err != nil {
		if IsNil(err) {
			return nil, utils.ErrNotFound
		}
		return nil, err
	}

	var c models.Client
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	return &c, nil
}

// LoadAll retrieves every persisted client snapshot.
func (s *ClientStore) LoadAll(ctx context.Context) ([]*models.Client, error) {
	keys, err := s.redis.ScanKeys(ctx, "trustgate:client:*")
	if err != nil {
		return nil, err
	}

	var clients []*models.Client
	for _, key := range keys {
		data, err := s.redis.Get(ctx, key)
		if err != nil {
			if IsNil(err) {
				continue
			}
			return nil, err
		}
		var c models.Client
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal client at %s: %w", key, err)
		}
		clients = append(clients, &c)
	}
	return clients, nil
}
