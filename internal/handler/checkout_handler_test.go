package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/foodfusion/internal/checkout"
	"github.com/hitoshi/foodfusion/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCheckoutService struct {
	checkoutFn func(ctx context.Context, cartID string, user *model.SessionUser) (*checkout.Result, error)
	statusFn   func(cartID string) model.CheckoutState
}

func (m *mockCheckoutService) Checkout(ctx context.Context, cartID string, user *model.SessionUser) (*checkout.Result, error) {
	if m.checkoutFn != nil {
		return m.checkoutFn(ctx, cartID, user)
	}
	return &checkout.Result{State: model.CheckoutProcessing}, nil
}

func (m *mockCheckoutService) Status(cartID string) model.CheckoutState {
	if m.statusFn != nil {
		return m.statusFn(cartID)
	}
	return model.CheckoutIdle
}

type mockOrderLister struct {
	listByCustomerFn func(ctx context.Context, customerID string) ([]*model.Order, error)
}

func (m *mockOrderLister) ListByCustomer(ctx context.Context, customerID string) ([]*model.Order, error) {
	if m.listByCustomerFn != nil {
		return m.listByCustomerFn(ctx, customerID)
	}
	return nil, nil
}

const testCartID = "6f1c2d3e-4a5b-4c6d-8e7f-001122334455"

func checkoutRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.AddCookie(&http.Cookie{Name: CartCookieName, Value: testCartID})
	return req
}

func TestCheckoutHandler_Checkout_Accepted(t *testing.T) {
	var gotCart string
	var gotUser *model.SessionUser
	svc := &mockCheckoutService{
		checkoutFn: func(ctx context.Context, cartID string, user *model.SessionUser) (*checkout.Result, error) {
			gotCart, gotUser = cartID, user
			return &checkout.Result{State: model.CheckoutProcessing, OrderID: "order-1"}, nil
		},
	}
	user := &model.SessionUser{ID: "u1", Role: model.RoleCustomer}

	w := httptest.NewRecorder()
	NewCheckoutHandler(svc, &mockOrderLister{}).Checkout(w, withUser(checkoutRequest(http.MethodPost, "/api/checkout"), user))

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, testCartID, gotCart)
	require.NotNil(t, gotUser)
	assert.Equal(t, "u1", gotUser.ID)

	var resp checkoutResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, model.CheckoutProcessing, resp.State)
	assert.Equal(t, "order-1", resp.OrderID)
}

// 未ログインの場合はユーザーなしで受付処理に渡し、判定を委ねる。
func TestCheckoutHandler_Checkout_AnonymousPassesNilUser(t *testing.T) {
	called := false
	svc := &mockCheckoutService{
		checkoutFn: func(ctx context.Context, cartID string, user *model.SessionUser) (*checkout.Result, error) {
			called = true
			assert.Nil(t, user)
			return &checkout.Result{State: model.CheckoutIdle, Redirect: "/login"}, model.NewUnauthorizedError("Please log in to place an order")
		},
	}

	w := httptest.NewRecorder()
	NewCheckoutHandler(svc, &mockOrderLister{}).Checkout(w, checkoutRequest(http.MethodPost, "/api/checkout"))

	assert.True(t, called)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCheckoutHandler_Checkout_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "顧客以外", err: model.NewForbiddenRoleError(""), wantStatus: http.StatusForbidden, wantCode: model.ErrCodeForbiddenRole},
		{name: "処理中", err: model.NewCheckoutInProgressError(), wantStatus: http.StatusConflict, wantCode: model.ErrCodeCheckoutInProgress},
		{name: "SMS失敗", err: model.NewSMSFailedError(), wantStatus: http.StatusBadGateway, wantCode: model.ErrCodeSMSFailed},
		{name: "空のカート", err: model.NewCartEmptyError(), wantStatus: http.StatusBadRequest, wantCode: model.ErrCodeCartEmpty},
		{name: "内部エラー", err: errors.New("scheduler stopped"), wantStatus: http.StatusInternalServerError, wantCode: model.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockCheckoutService{
				checkoutFn: func(context.Context, string, *model.SessionUser) (*checkout.Result, error) {
					return nil, tt.err
				},
			}
			w := httptest.NewRecorder()
			NewCheckoutHandler(svc, &mockOrderLister{}).Checkout(w, checkoutRequest(http.MethodPost, "/api/checkout"))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, w).Code)
		})
	}
}

// cart_id Cookieがない場合は保存されていない一時IDで受付処理を呼ぶ。
func TestCheckoutHandler_Checkout_WithoutCookie(t *testing.T) {
	svc := &mockCheckoutService{
		checkoutFn: func(ctx context.Context, cartID string, user *model.SessionUser) (*checkout.Result, error) {
			assert.NotEmpty(t, cartID)
			assert.NotEqual(t, testCartID, cartID)
			return nil, model.NewCartEmptyError()
		},
	}

	w := httptest.NewRecorder()
	NewCheckoutHandler(svc, &mockOrderLister{}).Checkout(w, httptest.NewRequest(http.MethodPost, "/api/checkout", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckoutHandler_Status(t *testing.T) {
	svc := &mockCheckoutService{
		statusFn: func(cartID string) model.CheckoutState {
			if cartID == testCartID {
				return model.CheckoutPlaced
			}
			return model.CheckoutIdle
		},
	}
	h := NewCheckoutHandler(svc, &mockOrderLister{})

	w := httptest.NewRecorder()
	h.Status(w, checkoutRequest(http.MethodGet, "/api/checkout/status"))
	var resp checkoutResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, model.CheckoutPlaced, resp.State)

	w = httptest.NewRecorder()
	h.Status(w, httptest.NewRequest(http.MethodGet, "/api/checkout/status", nil))
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, model.CheckoutIdle, resp.State)
}

func TestCheckoutHandler_ListOrders(t *testing.T) {
	placedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	orders := &mockOrderLister{
		listByCustomerFn: func(ctx context.Context, customerID string) ([]*model.Order, error) {
			if customerID != "u1" {
				return nil, nil
			}
			return []*model.Order{{
				ID:           "order-1",
				CustomerID:   "u1",
				RestaurantID: "r1",
				Items:        []model.CartLine{{ItemID: "A", Name: "Kottu", UnitPrice: decimal.NewFromInt(10), Quantity: 2, RestaurantID: "r1"}},
				Total:        decimal.NewFromInt(20),
				Status:       model.OrderStatusPlaced,
				PlacedAt:     placedAt,
			}}, nil
		},
	}
	h := NewCheckoutHandler(&mockCheckoutService{}, orders)

	w := httptest.NewRecorder()
	h.ListOrders(w, httptest.NewRequest(http.MethodGet, "/api/orders", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	h.ListOrders(w, withUser(httptest.NewRequest(http.MethodGet, "/api/orders", nil), &model.SessionUser{ID: "u1", Role: model.RoleCustomer}))
	require.Equal(t, http.StatusOK, w.Code)

	var resp []orderResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "order-1", resp[0].ID)
	assert.True(t, resp[0].Total.Equal(decimal.NewFromInt(20)))
	assert.True(t, resp[0].PlacedAt.Equal(placedAt))
}
