package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hitoshi/foodfusion/internal/model"
)

// MemoryCartStore はプロセス内メモリを使用したカートストア。
// REDIS_URL未設定時とテストで使用する。Redisと同じくJSONスナップショットで保持する。
type MemoryCartStore struct {
	mu    sync.RWMutex
	carts map[string][]byte
}

// NewMemoryCartStore はMemoryCartStoreを生成する。
func NewMemoryCartStore() *MemoryCartStore {
	return &MemoryCartStore{carts: make(map[string][]byte)}
}

// Load はカートを取得する。保存されていない場合はnilを返す。
func (s *MemoryCartStore) Load(_ context.Context, cartID string) (*model.Cart, error) {
	s.mu.RLock()
	data, ok := s.carts[cartID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	var c model.Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return &c, nil
}

// Save はカート全体を保存する。
func (s *MemoryCartStore) Save(_ context.Context, cartID string, c model.Cart) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode cart snapshot: %w", err)
	}
	s.mu.Lock()
	s.carts[cartID] = data
	s.mu.Unlock()
	return nil
}

// Delete はカートを削除する。
func (s *MemoryCartStore) Delete(_ context.Context, cartID string) error {
	s.mu.Lock()
	delete(s.carts, cartID)
	s.mu.Unlock()
	return nil
}

// PutRaw は生のスナップショットを書き込む。破損データの扱いを検証するテスト用。
func (s *MemoryCartStore) PutRaw(cartID string, data []byte) {
	s.mu.Lock()
	s.carts[cartID] = data
	s.mu.Unlock()
}

// compile-time interface check
var _ CartStore = (*MemoryCartStore)(nil)
