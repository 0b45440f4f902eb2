package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/felipepmaragno/vertex-gateway/internal/crypto"
	"github.com/redis/go-redis/v9"
)

const DefaultRedisKey = "vertexgw:bearer-token"

var errSealerMissing = errors.New("shared token is sealed but no encryption key is configured")

// NewRedisClient connects to redisURL and verifies the connection.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

type storedToken struct {
	Value  string    `json:"value"`
	Expiry time.Time `json:"expiry"`
	Sealed bool      `json:"sealed,omitempty"`
}

// RedisStore keeps the shared token under one key whose TTL matches the
// token's expiry. With a sealer configured the token is stored encrypted.
type RedisStore struct {
	client *redis.Client
	key    string
	sealer *crypto.Sealer
}

func NewRedisStore(client *redis.Client, key string, sealer *crypto.Sealer) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{
		client: client,
		key:    key,
		sealer: sealer,
	}
}

func (s *RedisStore) Load(ctx context.Context) (Token, bool, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, fmt.Errorf("get shared token: %w", err)
	}

	var stored storedToken
	if err := json.Unmarshal(data, &stored); err != nil {
		return Token{}, false, fmt.Errorf("decode shared token: %w", err)
	}

	value := stored.Value
	if stored.Sealed {
		if s.sealer == nil {
			return Token{}, false, errSealerMissing
		}
		value, err = s.sealer.Open(stored.Value, []byte(s.key))
		if err != nil {
			return Token{}, false, fmt.Errorf("open shared token: %w", err)
		}
	}

	return Token{Value: value, Expiry: stored.Expiry}, true, nil
}

func (s *RedisStore) Save(ctx context.Context, tok Token) error {
	ttl := time.Until(tok.Expiry)
	if ttl <= 0 {
		return nil
	}

	stored := storedToken{Value: tok.Value, Expiry: tok.Expiry}
	if s.sealer != nil {
		sealed, err := s.sealer.Seal(tok.Value, []byte(s.key))
		if err != nil {
			return fmt.Errorf("seal shared token: %w", err)
		}
		stored.Value = sealed
		stored.Sealed = true
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode shared token: %w", err)
	}

	return s.client.Set(ctx, s.key, data, ttl).Err()
}

// Clear removes the shared token.
func (s *RedisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

func (s *RedisStore) Name() string {
	return "redis"
}

// Check pings the server holding the shared token.
func (s *RedisStore) Check(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client the store was built on.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
