// Package checkout は注文確定処理のステートマシンを提供する。
//
// 1回のチェックアウトは Idle → Processing → {Placed, Failed} と遷移する。
// Failedは即座にIdleへ戻る。Processing中のカートへの再要求はCHECKOUT_IN_PROGRESSで拒否する。
package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/foodfusion/internal/cart"
	"github.com/hitoshi/foodfusion/internal/metrics"
	"github.com/hitoshi/foodfusion/internal/model"
	"github.com/hitoshi/foodfusion/internal/notify"
	"github.com/hitoshi/foodfusion/internal/repository"
	"github.com/hitoshi/foodfusion/internal/timer"
)

// ユーザーに表示する文言
const (
	MsgLoginRequired    = "Please login to continue with your order"
	MsgCustomersOnly    = "Only customers can place orders"
	MsgSMSFailed        = "Failed to send SMS notification."
	MsgOrderPlacedToast = "Your order has been placed successfully!"
	MsgOrderPlaced      = "Your order has been placed successfully! We'll notify you when a driver accepts your order."
	MsgDriverAccepted   = "A driver has accepted your order and is heading to the restaurant."
	MsgPreparing        = "Your order is being prepared by the restaurant."
)

// DefaultRestaurantName は店舗名が不明な場合にSMS本文で使う名前。
const DefaultRestaurantName = "FoodFusion"

// OrdersPath は注文受付後にクライアントを誘導するパス。
const OrdersPath = "/orders"

// settleTimeout は確定処理で行う永続化の上限時間。
const settleTimeout = 10 * time.Second

// SMSSender は注文確定SMSの送信インターフェース。
type SMSSender interface {
	Send(ctx context.Context, to, body string) error
}

// CartAccess はチェックアウトが必要とするカート操作のインターフェース。
type CartAccess interface {
	Get(ctx context.Context, cartID string) (model.Cart, error)
	Clear(ctx context.Context, cartID string) (*cart.Result, error)
}

// RestaurantDirectory は店舗IDから表示名を引くインターフェース。
type RestaurantDirectory interface {
	Name(restaurantID string) (string, bool)
}

// StaticDirectory は設定から読み込んだ固定の店舗名一覧。
type StaticDirectory map[string]string

// Name は店舗名を返す。
func (d StaticDirectory) Name(restaurantID string) (string, bool) {
	name, ok := d[restaurantID]
	return name, ok && name != ""
}

// Config はOrchestratorの設定。
type Config struct {
	Recipient      string
	SettleDelay    time.Duration
	DriverDelay    time.Duration
	PreparingDelay time.Duration
}

// Result はチェックアウト要求の受付結果。
type Result struct {
	State    model.CheckoutState
	OrderID  string
	Redirect string
}

// Orchestrator はカート単位のチェックアウト状態を管理する。
type Orchestrator struct {
	carts     CartAccess
	sms       SMSSender
	orders    repository.OrderRepository
	hub       *notify.Hub
	scheduler timer.Scheduler
	directory RestaurantDirectory
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	cfg       Config

	mu      sync.Mutex
	states  map[string]model.CheckoutState
	timers  map[uint64]timer.Timer
	nextID  uint64
	stopped bool
}

// Deps はOrchestratorの依存関係。
type Deps struct {
	Carts     CartAccess
	SMS       SMSSender
	Orders    repository.OrderRepository
	Hub       *notify.Hub
	Scheduler timer.Scheduler
	Directory RestaurantDirectory
	Metrics   metrics.MetricsCollector
	Logger    *slog.Logger
}

// NewOrchestrator はOrchestratorの新しいインスタンスを生成する。
func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	if deps.Scheduler == nil {
		deps.Scheduler = timer.Real{}
	}
	if deps.Directory == nil {
		deps.Directory = StaticDirectory{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Orchestrator{
		carts:     deps.Carts,
		sms:       deps.SMS,
		orders:    deps.Orders,
		hub:       deps.Hub,
		scheduler: deps.Scheduler,
		directory: deps.Directory,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		cfg:       cfg,
		states:    make(map[string]model.CheckoutState),
		timers:    make(map[uint64]timer.Timer),
	}
}

// Checkout はチェックアウトを開始する。
// SMS送信に成功した場合はProcessingのまま受付結果を返し、SettleDelay後に注文を確定する。
// 未ログイン・顧客以外・空カートの場合は状態を変えずにエラーを返し、SMSは送信しない。
func (o *Orchestrator) Checkout(ctx context.Context, cartID string, user *model.SessionUser) (*Result, error) {
	if user == nil {
		o.metrics.RecordCheckout(metrics.CheckoutRejected)
		return nil, model.NewUnauthorizedError(MsgLoginRequired)
	}
	if user.Role != model.RoleCustomer {
		o.metrics.RecordCheckout(metrics.CheckoutRejected)
		return nil, model.NewForbiddenRoleError(MsgCustomersOnly)
	}

	prev, err := o.begin(cartID)
	if err != nil {
		o.metrics.RecordCheckout(metrics.CheckoutInProgress)
		return nil, err
	}

	snapshot, err := o.carts.Get(ctx, cartID)
	if err != nil {
		o.restore(cartID, prev)
		return nil, fmt.Errorf("カートの取得に失敗しました: %w", err)
	}
	if len(snapshot.Items) == 0 {
		o.restore(cartID, prev)
		o.metrics.RecordCheckout(metrics.CheckoutEmptyCart)
		return nil, model.NewCartEmptyError()
	}

	b := o.hub.For(user.ID)

	if err := o.sms.Send(ctx, o.cfg.Recipient, o.smsBody(snapshot)); err != nil {
		o.fail(cartID, b, err)
		return nil, model.NewSMSFailedError()
	}

	orderID := uuid.NewString()
	scheduled := o.schedule(o.cfg.SettleDelay, func() {
		o.settle(cartID, orderID, user, snapshot, b)
	})
	if !scheduled {
		o.restore(cartID, model.CheckoutIdle)
		return nil, model.NewInternalError()
	}

	o.logger.Info("注文を受け付けました",
		slog.String("cart_id", cartID),
		slog.String("order_id", orderID),
		slog.String("user_id", user.ID),
	)
	return &Result{State: model.CheckoutProcessing, OrderID: orderID, Redirect: OrdersPath}, nil
}

// Status はカートの現在のチェックアウト状態を返す。一度も処理していない場合はIdle。
func (o *Orchestrator) Status(cartID string) model.CheckoutState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if state, ok := o.states[cartID]; ok {
		return state
	}
	return model.CheckoutIdle
}

// Shutdown は保留中のタイマーをすべて停止し、処理中のカートをIdleに戻す。
// 停止したタイマー数を返す。以降のチェックアウトは受け付けない。
func (o *Orchestrator) Shutdown() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.stopped = true
	stopped := 0
	for id, t := range o.timers {
		if t.Stop() {
			stopped++
		}
		delete(o.timers, id)
	}
	for cartID, state := range o.states {
		if state == model.CheckoutProcessing {
			delete(o.states, cartID)
		}
	}
	return stopped
}

// begin は再入防止ガードを取得してProcessingに遷移する。直前の状態を返す。
func (o *Orchestrator) begin(cartID string) (model.CheckoutState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped {
		return "", model.NewInternalError()
	}
	prev, ok := o.states[cartID]
	if !ok {
		prev = model.CheckoutIdle
	}
	if prev == model.CheckoutProcessing {
		return prev, model.NewCheckoutInProgressError()
	}
	o.states[cartID] = model.CheckoutProcessing
	return prev, nil
}

// restore はガードを解放して状態を戻す。
func (o *Orchestrator) restore(cartID string, state model.CheckoutState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.setStateLocked(cartID, state)
}

func (o *Orchestrator) setStateLocked(cartID string, state model.CheckoutState) {
	if state == model.CheckoutIdle {
		delete(o.states, cartID)
		return
	}
	o.states[cartID] = state
}

// fail はSMS送信失敗を通知し、カートを残したままIdleに戻す。
func (o *Orchestrator) fail(cartID string, b *notify.Broadcaster, cause error) {
	o.mu.Lock()
	o.states[cartID] = model.CheckoutFailed
	o.mu.Unlock()

	o.logger.Warn("注文確定SMSの送信に失敗しました",
		slog.String("cart_id", cartID),
		slog.String("error", cause.Error()),
	)
	o.metrics.RecordCheckout(metrics.CheckoutSMSFailed)

	b.Publish(MsgSMSFailed, model.SeverityError)
	b.ShowToast(MsgSMSFailed, model.SeverityError)

	o.restore(cartID, model.CheckoutIdle)
}

// settle は注文を確定する。タイマーのゴルーチンから呼ばれる。
// ユーザーがログアウト済みでも注文の記録とカートのクリアは行い、通知だけを省く。
func (o *Orchestrator) settle(cartID, orderID string, user *model.SessionUser, snapshot model.Cart, b *notify.Broadcaster) {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()

	if o.orders != nil {
		order := &model.Order{
			ID:           orderID,
			CustomerID:   user.ID,
			RestaurantID: restaurantOf(snapshot),
			Items:        snapshot.Items,
			Total:        cart.Total(snapshot),
			Status:       model.OrderStatusPlaced,
			PlacedAt:     o.scheduler.Now(),
		}
		if err := o.orders.Create(ctx, order); err != nil {
			o.logger.Error("注文の記録に失敗しました",
				slog.String("order_id", orderID),
				slog.String("error", err.Error()),
			)
		}
	}

	if _, err := o.carts.Clear(ctx, cartID); err != nil {
		o.logger.Error("確定後のカートのクリアに失敗しました",
			slog.String("cart_id", cartID),
			slog.String("error", err.Error()),
		)
	}

	o.restore(cartID, model.CheckoutPlaced)
	o.metrics.RecordCheckout(metrics.CheckoutPlaced)
	o.logger.Info("注文を確定しました",
		slog.String("cart_id", cartID),
		slog.String("order_id", orderID),
	)

	if b.Closed() {
		return
	}
	b.ShowToast(MsgOrderPlacedToast, model.SeveritySuccess)
	b.Publish(MsgOrderPlaced, model.SeveritySuccess)

	o.schedule(o.cfg.DriverDelay, func() { publishIfOpen(b, MsgDriverAccepted) })
	o.schedule(o.cfg.PreparingDelay, func() { publishIfOpen(b, MsgPreparing) })
}

// publishIfOpen はログアウト済みでなければinfo通知を公開する。
func publishIfOpen(b *notify.Broadcaster, message string) {
	if b.Closed() {
		return
	}
	b.Publish(message, model.SeverityInfo)
}

// schedule はタイマーを登録する。発火したタイマーは管理対象から外す。
// Shutdown後はfalseを返す。
func (o *Orchestrator) schedule(d time.Duration, fn func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return false
	}

	o.nextID++
	id := o.nextID
	o.timers[id] = o.scheduler.AfterFunc(d, func() {
		o.mu.Lock()
		_, live := o.timers[id]
		delete(o.timers, id)
		o.mu.Unlock()
		if live {
			fn()
		}
	})
	return true
}

func (o *Orchestrator) smsBody(c model.Cart) string {
	name := DefaultRestaurantName
	if n, ok := o.directory.Name(restaurantOf(c)); ok {
		name = n
	}
	return fmt.Sprintf("Your order at %s has been placed successfully! Thank you for ordering with us.", name)
}

func restaurantOf(c model.Cart) string {
	if c.RestaurantID == nil {
		return ""
	}
	return *c.RestaurantID
}
