package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/hitoshi/foodfusion/internal/metrics"
	"github.com/hitoshi/foodfusion/internal/model"
	"github.com/hitoshi/foodfusion/internal/repository"
	"github.com/hitoshi/foodfusion/internal/security"
)

// カート操作の種別。メトリクスのラベルに使う。
const (
	OpAdd     = "add"
	OpReplace = "replace"
	OpRemove  = "remove"
	OpUpdate  = "update_quantity"
	OpClear   = "clear"
)

// MsgCartCleared はカートを空にした際のトースト文言。
const MsgCartCleared = "Cart cleared"

// Result はカート変更操作の結果。
// Messageは永続化成功後に表示するトースト文言で、表示不要な操作では空。
type Result struct {
	Cart    model.Cart
	Message string
}

// Service はカートの永続化と副作用を担うサービス層。
// 同一カートIDへの変更はキー単位のロックで直列化する。
type Service struct {
	store     repository.CartStore
	sanitizer security.TextSanitizer
	metrics   metrics.MetricsCollector
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewService はServiceの新しいインスタンスを生成する。
// metricsやloggerがnilの場合は何も記録しない実装とslog.Default()を使う。
func NewService(
	store repository.CartStore,
	sanitizer security.TextSanitizer,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer(0)
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		sanitizer: sanitizer,
		metrics:   mc,
		logger:    logger,
		locks:     make(map[string]*keyLock),
	}
}

// Get は保存済みのカートを返す。保存されていない場合は空のカートを返す。
func (s *Service) Get(ctx context.Context, cartID string) (model.Cart, error) {
	unlock := s.lock(cartID)
	defer unlock()
	return s.load(ctx, cartID)
}

// AddItem は商品をカートに追加する。
// 別店舗の商品を保持している場合はCART_CROSS_RESTAURANTエラーを返し、カートは変更しない。
func (s *Service) AddItem(ctx context.Context, cartID string, item model.MenuItem, quantity int) (*Result, error) {
	item, err := s.cleanItem(item)
	if err != nil {
		return nil, err
	}
	if quantity < 1 {
		quantity = 1
	}

	return s.mutate(ctx, cartID, OpAdd, func(c model.Cart) (model.Cart, string, error) {
		next, err := Add(c, item, quantity)
		if err != nil {
			return c, "", err
		}
		return next, fmt.Sprintf("%d x %s added to cart.", quantity, item.Name), nil
	})
}

// Replace はカートを指定商品1行で置き換える。別店舗の商品を追加する際に使う。
func (s *Service) Replace(ctx context.Context, cartID string, item model.MenuItem, quantity int) (*Result, error) {
	item, err := s.cleanItem(item)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, cartID, OpReplace, func(model.Cart) (model.Cart, string, error) {
		return Replace(item, quantity), fmt.Sprintf("Added %s to your cart.", item.Name), nil
	})
}

// RemoveItem は指定商品の行を削除する。存在しない商品IDは無視する。
func (s *Service) RemoveItem(ctx context.Context, cartID, itemID string) (*Result, error) {
	return s.mutate(ctx, cartID, OpRemove, func(c model.Cart) (model.Cart, string, error) {
		return Remove(c, strings.TrimSpace(itemID)), "", nil
	})
}

// UpdateQuantity は指定商品の数量を設定する。0以下は削除として扱う。
func (s *Service) UpdateQuantity(ctx context.Context, cartID, itemID string, quantity int) (*Result, error) {
	return s.mutate(ctx, cartID, OpUpdate, func(c model.Cart) (model.Cart, string, error) {
		next, err := UpdateQuantity(c, strings.TrimSpace(itemID), quantity)
		return next, "", err
	})
}

// Clear はカートを空にする。
func (s *Service) Clear(ctx context.Context, cartID string) (*Result, error) {
	return s.mutate(ctx, cartID, OpClear, func(model.Cart) (model.Cart, string, error) {
		return Empty(), MsgCartCleared, nil
	})
}

// mutate はロード、遷移、保存を1つのキーロック内で行う。
// 遷移がエラーを返した場合は保存しない。
func (s *Service) mutate(
	ctx context.Context,
	cartID string,
	op string,
	apply func(model.Cart) (model.Cart, string, error),
) (*Result, error) {
	if cartID == "" {
		return nil, model.NewValidationError("cart id is required")
	}

	unlock := s.lock(cartID)
	defer unlock()

	current, err := s.load(ctx, cartID)
	if err != nil {
		s.metrics.RecordCartMutation(op, false)
		return nil, err
	}

	next, message, err := apply(current)
	if err != nil {
		s.metrics.RecordCartMutation(op, false)
		return nil, err
	}

	if err := s.store.Save(ctx, cartID, next); err != nil {
		s.metrics.RecordCartMutation(op, false)
		return nil, fmt.Errorf("カートの保存に失敗しました: %w", err)
	}

	s.metrics.RecordCartMutation(op, true)
	s.logger.Debug("カートを更新しました",
		slog.String("cart_id", cartID),
		slog.String("op", op),
		slog.Int("item_count", ItemCount(next)),
	)
	return &Result{Cart: next, Message: message}, nil
}

// load は保存済みスナップショットを復元する。
// 破損したスナップショットは空のカートとして扱う。
func (s *Service) load(ctx context.Context, cartID string) (model.Cart, error) {
	stored, err := s.store.Load(ctx, cartID)
	if err != nil {
		if errors.Is(err, repository.ErrCorruptSnapshot) {
			s.logger.Warn("破損したカートを破棄します",
				slog.String("cart_id", cartID),
				slog.String("error", err.Error()),
			)
			return Empty(), nil
		}
		return model.Cart{}, fmt.Errorf("カートの取得に失敗しました: %w", err)
	}
	if stored == nil {
		return Empty(), nil
	}
	return Normalize(*stored), nil
}

// cleanItem は商品入力を検証し、表示名をプレーンテキストに正規化する。
func (s *Service) cleanItem(item model.MenuItem) (model.MenuItem, error) {
	item.ID = strings.TrimSpace(item.ID)
	item.RestaurantID = strings.TrimSpace(item.RestaurantID)
	item.Name = s.sanitizer.Sanitize(item.Name)

	switch {
	case item.ID == "":
		return item, model.NewValidationError("item id is required")
	case item.RestaurantID == "":
		return item, model.NewValidationError("item restaurantId is required")
	case item.Name == "":
		return item, model.NewValidationError("item name is required")
	case item.Price.IsNegative():
		return item, model.NewValidationError("item price must not be negative")
	}
	return item, nil
}

// lock はカートID単位のロックを取得し、解放関数を返す。
// 参照がなくなったロックはマップから除く。
func (s *Service) lock(cartID string) func() {
	s.mu.Lock()
	l, ok := s.locks[cartID]
	if !ok {
		l = &keyLock{}
		s.locks[cartID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, cartID)
		}
		s.mu.Unlock()
	}
}
