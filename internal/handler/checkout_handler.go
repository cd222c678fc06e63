package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/foodfusion/internal/checkout"
	"github.com/hitoshi/foodfusion/internal/middleware"
	"github.com/hitoshi/foodfusion/internal/model"
	"github.com/shopspring/decimal"
)

// CheckoutServiceInterface はチェックアウトハンドラーが必要とするインターフェース。
type CheckoutServiceInterface interface {
	Checkout(ctx context.Context, cartID string, user *model.SessionUser) (*checkout.Result, error)
	Status(cartID string) model.CheckoutState
}

// OrderLister は顧客の注文履歴を取得するインターフェース。
type OrderLister interface {
	ListByCustomer(ctx context.Context, customerID string) ([]*model.Order, error)
}

// CheckoutHandler はチェックアウトと注文履歴のHTTPハンドラー。
type CheckoutHandler struct {
	checkout CheckoutServiceInterface
	orders   OrderLister
}

// NewCheckoutHandler はCheckoutHandlerを生成する。
func NewCheckoutHandler(checkout CheckoutServiceInterface, orders OrderLister) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		orders:   orders,
	}
}

type checkoutResponse struct {
	State    model.CheckoutState `json:"state"`
	OrderID  string              `json:"orderId,omitempty"`
	Redirect string              `json:"redirect,omitempty"`
}

type orderResponse struct {
	ID           string            `json:"id"`
	RestaurantID string            `json:"restaurantId"`
	Items        []model.CartLine  `json:"items"`
	Total        decimal.Decimal   `json:"total"`
	Status       model.OrderStatus `json:"status"`
	PlacedAt     time.Time         `json:"placedAt"`
}

// Checkout はチェックアウトを開始する。
// 受付後の確定は非同期に行われるため202を返す。
// POST /api/checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var user *model.SessionUser
	if u, err := middleware.SessionUserFromContext(r.Context()); err == nil {
		user = u
	}

	// Cookieがなければカートは空なので、保存されない一時IDで空カートとして扱う
	cartID, ok := CartIDFromRequest(r)
	if !ok {
		cartID = uuid.NewString()
	}

	result, err := h.checkout.Checkout(r.Context(), cartID, user)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, checkoutResponse{
		State:    result.State,
		OrderID:  result.OrderID,
		Redirect: result.Redirect,
	})
}

// Status はカートのチェックアウト状態を返す。
// GET /api/checkout/status
func (h *CheckoutHandler) Status(w http.ResponseWriter, r *http.Request) {
	state := model.CheckoutIdle
	if cartID, ok := CartIDFromRequest(r); ok {
		state = h.checkout.Status(cartID)
	}
	writeJSON(w, http.StatusOK, checkoutResponse{State: state})
}

// ListOrders はログイン中の顧客の注文を新しい順に返す。
// GET /api/orders
func (h *CheckoutHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}

	orders, err := h.orders.ListByCustomer(r.Context(), user.ID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, orderResponse{
			ID:           o.ID,
			RestaurantID: o.RestaurantID,
			Items:        o.Items,
			Total:        o.Total,
			Status:       o.Status,
			PlacedAt:     o.PlacedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
