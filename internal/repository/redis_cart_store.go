package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/foodfusion/internal/model"
	"github.com/redis/go-redis/v9"
)

// CartKeyPrefix はカートスナップショットのキー接頭辞。
const CartKeyPrefix = "foodFusionCart"

// RedisCartStore はRedisを使用したカートストア。
// カート全体をJSONで1キーに保存し、保存のたびにTTLを延長する。
type RedisCartStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCartStore はRedisCartStoreを生成する。ttlが0以下の場合は期限なし。
func NewRedisCartStore(client redis.UniversalClient, ttl time.Duration) *RedisCartStore {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisCartStore{client: client, ttl: ttl}
}

// NewRedisClient はREDIS_URL形式の接続文字列からクライアントを生成し、疎通を確認する。
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// Load はカートを取得する。保存されていない場合はnilを返す。
func (s *RedisCartStore) Load(ctx context.Context, cartID string) (*model.Cart, error) {
	data, err := s.client.Get(ctx, cartKey(cartID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	var c model.Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return &c, nil
}

// Save はカート全体を保存する。
func (s *RedisCartStore) Save(ctx context.Context, cartID string, c model.Cart) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode cart snapshot: %w", err)
	}
	if err := s.client.Set(ctx, cartKey(cartID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}
	return nil
}

// Delete はカートを削除する。
func (s *RedisCartStore) Delete(ctx context.Context, cartID string) error {
	if err := s.client.Del(ctx, cartKey(cartID)).Err(); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return nil
}

func cartKey(cartID string) string {
	return fmt.Sprintf("%s:%s", CartKeyPrefix, cartID)
}

// compile-time interface check
var _ CartStore = (*RedisCartStore)(nil)
