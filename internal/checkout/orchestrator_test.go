package checkout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/foodfusion/internal/cart"
	"github.com/hitoshi/foodfusion/internal/model"
	"github.com/hitoshi/foodfusion/internal/notify"
	"github.com/hitoshi/foodfusion/internal/repository"
	"github.com/hitoshi/foodfusion/internal/timer"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// mockSMSSender はSMSSenderのモック実装。
type mockSMSSender struct {
	calls  atomic.Int32
	mu     sync.Mutex
	bodies []string
	sendFn func(ctx context.Context, to, body string) error
}

func (m *mockSMSSender) Send(ctx context.Context, to, body string) error {
	m.calls.Add(1)
	m.mu.Lock()
	m.bodies = append(m.bodies, body)
	m.mu.Unlock()
	if m.sendFn != nil {
		return m.sendFn(ctx, to, body)
	}
	return nil
}

// mockOrderRepo はOrderRepositoryのモック実装。
type mockOrderRepo struct {
	mu     sync.Mutex
	orders []*model.Order
}

func (m *mockOrderRepo) Create(_ context.Context, order *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append(m.orders, order)
	return nil
}

func (m *mockOrderRepo) ListByCustomer(context.Context, string) ([]*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders, nil
}

type fixture struct {
	orch   *Orchestrator
	carts  *cart.Service
	sms    *mockSMSSender
	orders *mockOrderRepo
	hub    *notify.Hub
	clock  *timer.Manual
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		carts:  cart.NewService(repository.NewMemoryCartStore(), nil, nil, nil),
		sms:    &mockSMSSender{},
		orders: &mockOrderRepo{},
		clock:  timer.NewManual(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)),
	}
	f.hub = notify.NewHub(notify.Config{Now: f.clock.Now})
	f.orch = NewOrchestrator(Deps{
		Carts:     f.carts,
		SMS:       f.sms,
		Orders:    f.orders,
		Hub:       f.hub,
		Scheduler: f.clock,
		Directory: StaticDirectory{"r1": "Pizza Palace"},
	}, Config{
		Recipient:      "+94751170942",
		SettleDelay:    2 * time.Second,
		DriverDelay:    5 * time.Second,
		PreparingDelay: 8 * time.Second,
	})
	return f
}

// fillCart は {A:2@10, B:1@5} を r1 から追加する。
func (f *fixture) fillCart(t *testing.T, cartID string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, cartID, model.MenuItem{ID: "A", Name: "Margherita", Price: decimal.NewFromInt(10), RestaurantID: "r1"}, 2)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, cartID, model.MenuItem{ID: "B", Name: "Lemonade", Price: decimal.NewFromInt(5), RestaurantID: "r1"}, 1)
	require.NoError(t, err)
}

func customer() *model.SessionUser {
	return &model.SessionUser{ID: "u1", Name: "Jane", Email: "jane@example.com", Role: model.RoleCustomer}
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	require.True(t, errors.As(err, &apiErr), "err = %v", err)
	assert.Equal(t, code, apiErr.Code)
}

// 顧客以外のチェックアウトはカートを変更せず、SMSも送信しない。
func TestCheckout_RejectsWithoutTouchingCart(t *testing.T) {
	tests := []struct {
		name string
		user *model.SessionUser
		code string
		msg  string
	}{
		{name: "未ログイン", user: nil, code: model.ErrCodeUnauthorized, msg: MsgLoginRequired},
		{name: "店舗ユーザー", user: &model.SessionUser{ID: "u2", Role: model.RoleRestaurant}, code: model.ErrCodeForbiddenRole, msg: MsgCustomersOnly},
		{name: "配達ユーザー", user: &model.SessionUser{ID: "u3", Role: model.RoleDelivery}, code: model.ErrCodeForbiddenRole, msg: MsgCustomersOnly},
		{name: "管理者", user: &model.SessionUser{ID: "u4", Role: model.RoleAdmin}, code: model.ErrCodeForbiddenRole, msg: MsgCustomersOnly},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.fillCart(t, "k")

			_, err := f.orch.Checkout(context.Background(), "k", tt.user)
			requireCode(t, err, tt.code)
			var apiErr *model.APIError
			errors.As(err, &apiErr)
			assert.Equal(t, tt.msg, apiErr.Message)

			assert.Equal(t, int32(0), f.sms.calls.Load())
			assert.Equal(t, model.CheckoutIdle, f.orch.Status("k"))

			c, err := f.carts.Get(context.Background(), "k")
			require.NoError(t, err)
			assert.Len(t, c.Items, 2)
		})
	}
}

func TestCheckout_EmptyCart(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Checkout(context.Background(), "k", customer())
	requireCode(t, err, model.ErrCodeCartEmpty)
	assert.Equal(t, int32(0), f.sms.calls.Load())
	assert.Equal(t, model.CheckoutIdle, f.orch.Status("k"))
}

// SMSがsuccess:falseの場合、カートは両方の行を保持し、エラー通知が1件でIdleに戻る。
func TestCheckout_SMSFailureKeepsCart(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, "k")
	f.sms.sendFn = func(context.Context, string, string) error {
		return errors.New("sms delivery failed: provider down")
	}

	var toasts []model.Toast
	f.hub.For("u1").SubscribeToasts(func(tt model.Toast) { toasts = append(toasts, tt) })

	_, err := f.orch.Checkout(context.Background(), "k", customer())
	requireCode(t, err, model.ErrCodeSMSFailed)

	c, err := f.carts.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Len(t, c.Items, 2)

	log := f.hub.For("u1").List()
	require.Len(t, log, 1)
	assert.Equal(t, MsgSMSFailed, log[0].Message)
	assert.Equal(t, model.SeverityError, log[0].Severity)
	require.Len(t, toasts, 1)
	assert.Equal(t, model.SeverityError, toasts[0].Severity)

	assert.Equal(t, model.CheckoutIdle, f.orch.Status("k"))
	assert.Equal(t, 0, f.clock.Pending())
	assert.Empty(t, f.orders.orders)

	// 失敗後は再試行できる
	f.sms.sendFn = nil
	_, err = f.orch.Checkout(context.Background(), "k", customer())
	require.NoError(t, err)
}

// SMSがsuccess:trueの場合、カートは空になり、通知は即時1件と遅延2件の順で3件となる。
func TestCheckout_SuccessTimeline(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, "k")
	b := f.hub.For("u1")

	var toasts []model.Toast
	b.SubscribeToasts(func(tt model.Toast) { toasts = append(toasts, tt) })
	var received []string
	b.Subscribe(func(n model.Notification) { received = append(received, n.Message) })

	res, err := f.orch.Checkout(context.Background(), "k", customer())
	require.NoError(t, err)
	assert.Equal(t, model.CheckoutProcessing, res.State)
	assert.Equal(t, OrdersPath, res.Redirect)
	assert.NotEmpty(t, res.OrderID)
	assert.Equal(t, model.CheckoutProcessing, f.orch.Status("k"))

	require.Len(t, f.sms.bodies, 1)
	assert.Equal(t, "Your order at Pizza Palace has been placed successfully! Thank you for ordering with us.", f.sms.bodies[0])

	// 確定前はカートが残っている
	f.clock.Advance(1999 * time.Millisecond)
	c, _ := f.carts.Get(context.Background(), "k")
	assert.Len(t, c.Items, 2)
	assert.Empty(t, received)

	f.clock.Advance(time.Millisecond)
	c, _ = f.carts.Get(context.Background(), "k")
	assert.Empty(t, c.Items)
	assert.Nil(t, c.RestaurantID)
	assert.Equal(t, model.CheckoutPlaced, f.orch.Status("k"))
	assert.Equal(t, []string{MsgOrderPlaced}, received)
	require.Len(t, toasts, 1)
	assert.Equal(t, MsgOrderPlacedToast, toasts[0].Message)

	f.clock.Advance(5 * time.Second)
	assert.Equal(t, []string{MsgOrderPlaced, MsgDriverAccepted}, received)

	f.clock.Advance(3 * time.Second)
	assert.Equal(t, []string{MsgOrderPlaced, MsgDriverAccepted, MsgPreparing}, received)

	log := b.List()
	require.Len(t, log, 3)
	assert.Equal(t, model.SeveritySuccess, log[0].Severity)
	assert.Equal(t, model.SeverityInfo, log[1].Severity)
	assert.Equal(t, model.SeverityInfo, log[2].Severity)
	assert.Len(t, toasts, 1)

	require.Len(t, f.orders.orders, 1)
	order := f.orders.orders[0]
	assert.Equal(t, res.OrderID, order.ID)
	assert.Equal(t, "u1", order.CustomerID)
	assert.Equal(t, "r1", order.RestaurantID)
	assert.True(t, order.Total.Equal(decimal.NewFromInt(25)))
	assert.Len(t, order.Items, 2)
	assert.Equal(t, 0, f.clock.Pending())
}

// 連続した2回のチェックアウトではSMSは1回だけ送信される。
func TestCheckout_RapidDoubleSubmit(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, "k")

	entered := make(chan struct{})
	release := make(chan struct{})
	f.sms.sendFn = func(context.Context, string, string) error {
		close(entered)
		<-release
		return nil
	}

	var g errgroup.Group
	var firstErr error
	g.Go(func() error {
		_, firstErr = f.orch.Checkout(context.Background(), "k", customer())
		return nil
	})

	<-entered
	_, err := f.orch.Checkout(context.Background(), "k", customer())
	requireCode(t, err, model.ErrCodeCheckoutInProgress)

	close(release)
	require.NoError(t, g.Wait())
	require.NoError(t, firstErr)

	assert.Equal(t, int32(1), f.sms.calls.Load())
}

// 並行する多数の要求でもガードを取得できるのは1件のみ。
func TestCheckout_ConcurrentSubmitsSendOneSMS(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, "k")

	var accepted, inProgress atomic.Int32
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := f.orch.Checkout(context.Background(), "k", customer())
			var apiErr *model.APIError
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeCheckoutInProgress:
				inProgress.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(19), inProgress.Load())
	assert.Equal(t, int32(1), f.sms.calls.Load())
}

// 確定前にログアウトした場合、注文は確定するが通知は配信されない。
func TestCheckout_LogoutBeforeSettleSkipsNotifications(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, "k")
	old := f.hub.For("u1")

	_, err := f.orch.Checkout(context.Background(), "k", customer())
	require.NoError(t, err)

	f.hub.Close("u1")
	f.clock.Advance(10 * time.Second)

	c, _ := f.carts.Get(context.Background(), "k")
	assert.Empty(t, c.Items)
	assert.Len(t, f.orders.orders, 1)
	assert.Equal(t, model.CheckoutPlaced, f.orch.Status("k"))
	assert.True(t, old.Closed())
	assert.Empty(t, f.hub.For("u1").List())
}

// 確定後、遅延通知の前にログアウトした場合は残りの通知を配信しない。
func TestCheckout_LogoutBetweenDelayedNotifications(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, "k")

	_, err := f.orch.Checkout(context.Background(), "k", customer())
	require.NoError(t, err)

	f.clock.Advance(2 * time.Second)
	f.hub.Close("u1")
	f.clock.Advance(10 * time.Second)

	next := f.hub.For("u1")
	assert.Empty(t, next.List())
}

// Shutdownは保留中のタイマーを停止し、処理中の注文を確定させない。
func TestOrchestrator_ShutdownStopsPendingTimers(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, "k")

	_, err := f.orch.Checkout(context.Background(), "k", customer())
	require.NoError(t, err)

	assert.Equal(t, 1, f.orch.Shutdown())
	f.clock.Advance(time.Minute)

	c, _ := f.carts.Get(context.Background(), "k")
	assert.Len(t, c.Items, 2)
	assert.Empty(t, f.orders.orders)
	assert.Equal(t, model.CheckoutIdle, f.orch.Status("k"))

	_, err = f.orch.Checkout(context.Background(), "k", customer())
	requireCode(t, err, model.ErrCodeInternal)
}

// 確定済みのカートは再度チェックアウトできる。
func TestCheckout_AfterPlacedStartsNewRun(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, "k")

	_, err := f.orch.Checkout(context.Background(), "k", customer())
	require.NoError(t, err)
	f.clock.Advance(2 * time.Second)
	require.Equal(t, model.CheckoutPlaced, f.orch.Status("k"))

	f.fillCart(t, "k")
	_, err = f.orch.Checkout(context.Background(), "k", customer())
	require.NoError(t, err)
	assert.Equal(t, model.CheckoutProcessing, f.orch.Status("k"))
	assert.Equal(t, int32(2), f.sms.calls.Load())
}

func TestSMSBody_FallsBackToFoodFusion(t *testing.T) {
	f := newFixture(t)
	r := "r9"
	body := f.orch.smsBody(model.Cart{RestaurantID: &r})
	assert.Equal(t, "Your order at FoodFusion has been placed successfully! Thank you for ordering with us.", body)
}
