package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hitoshi/foodfusion/internal/cart"
	"github.com/hitoshi/foodfusion/internal/middleware"
	"github.com/hitoshi/foodfusion/internal/model"
	"github.com/shopspring/decimal"
)

// CartCookieName はブラウザ単位のカートIDを保持するCookieの名前。
const CartCookieName = "cart_id"

// CartServiceInterface はカートハンドラーが必要とするサービスインターフェース。
type CartServiceInterface interface {
	Get(ctx context.Context, cartID string) (model.Cart, error)
	AddItem(ctx context.Context, cartID string, item model.MenuItem, quantity int) (*cart.Result, error)
	Replace(ctx context.Context, cartID string, item model.MenuItem, quantity int) (*cart.Result, error)
	RemoveItem(ctx context.Context, cartID, itemID string) (*cart.Result, error)
	UpdateQuantity(ctx context.Context, cartID, itemID string, quantity int) (*cart.Result, error)
	Clear(ctx context.Context, cartID string) (*cart.Result, error)
}

// Toaster はログイン中ユーザーへのトースト送信インターフェース。
type Toaster interface {
	Toast(userID, message string, severity model.Severity) bool
}

// CartHandlerConfig はカートハンドラーの設定。
type CartHandlerConfig struct {
	CookieDomain string
	CookieSecure bool
	// CookieMaxAge はカートCookieの有効期間。ブラウザを閉じても残す。
	CookieMaxAge time.Duration
}

// CartHandler はカート操作のHTTPハンドラー。
// 未ログインでも利用でき、カートはcart_id Cookieで識別する。
type CartHandler struct {
	service CartServiceInterface
	toaster Toaster
	config  CartHandlerConfig
}

// NewCartHandler はCartHandlerを生成する。toasterがnilの場合はトーストを送らない。
func NewCartHandler(service CartServiceInterface, toaster Toaster, config CartHandlerConfig) *CartHandler {
	return &CartHandler{
		service: service,
		toaster: toaster,
		config:  config,
	}
}

type cartItemRequest struct {
	Item     model.MenuItem `json:"item"`
	Quantity int            `json:"quantity"`
}

type updateQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

// cartResponse はカートのAPIレスポンス。
type cartResponse struct {
	Items        []model.CartLine `json:"items"`
	RestaurantID *string          `json:"restaurantId"`
	Total        decimal.Decimal  `json:"total"`
	ItemCount    int              `json:"itemCount"`
	Message      string           `json:"message,omitempty"`
}

func toCartResponse(c model.Cart, message string) cartResponse {
	items := c.Items
	if items == nil {
		items = []model.CartLine{}
	}
	return cartResponse{
		Items:        items,
		RestaurantID: c.RestaurantID,
		Total:        cart.Total(c),
		ItemCount:    cart.ItemCount(c),
		Message:      message,
	}
}

// Get はカートを返す。
// GET /api/cart
func (h *CartHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.Get(r.Context(), h.cartID(w, r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c, ""))
}

// AddItem は商品をカートに追加する。別店舗の商品は409で拒否する。
// POST /api/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req cartItemRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	h.respond(w, r, func(cartID string) (*cart.Result, error) {
		return h.service.AddItem(r.Context(), cartID, req.Item, req.Quantity)
	})
}

// Replace はカートを空にしてから商品を追加する。
// PUT /api/cart
func (h *CartHandler) Replace(w http.ResponseWriter, r *http.Request) {
	var req cartItemRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	h.respond(w, r, func(cartID string) (*cart.Result, error) {
		return h.service.Replace(r.Context(), cartID, req.Item, req.Quantity)
	})
}

// UpdateQuantity は行の数量を設定する。0以下は削除と同じ。
// PATCH /api/cart/items/{itemId}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	var req updateQuantityRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if req.Quantity == nil {
		handleServiceError(w, r, model.NewValidationError("quantity is required"))
		return
	}
	itemID := chi.URLParam(r, "itemId")
	h.respond(w, r, func(cartID string) (*cart.Result, error) {
		return h.service.UpdateQuantity(r.Context(), cartID, itemID, *req.Quantity)
	})
}

// RemoveItem は行を削除する。存在しない商品の削除は何もしない。
// DELETE /api/cart/items/{itemId}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemId")
	h.respond(w, r, func(cartID string) (*cart.Result, error) {
		return h.service.RemoveItem(r.Context(), cartID, itemID)
	})
}

// Clear はカートを空にする。
// DELETE /api/cart
func (h *CartHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func(cartID string) (*cart.Result, error) {
		return h.service.Clear(r.Context(), cartID)
	})
}

// respond は操作を実行してカートを返す。ログイン中であればメッセージをトーストでも送る。
func (h *CartHandler) respond(w http.ResponseWriter, r *http.Request, op func(cartID string) (*cart.Result, error)) {
	res, err := op(h.cartID(w, r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if res.Message != "" && h.toaster != nil {
		if user, err := middleware.SessionUserFromContext(r.Context()); err == nil {
			h.toaster.Toast(user.ID, res.Message, model.SeveritySuccess)
		}
	}
	writeJSON(w, http.StatusOK, toCartResponse(res.Cart, res.Message))
}

// cartID はCookieからカートIDを取り出す。ない場合は新規に発行してCookieに設定する。
func (h *CartHandler) cartID(w http.ResponseWriter, r *http.Request) string {
	if id, ok := CartIDFromRequest(r); ok {
		return id
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     CartCookieName,
		Value:    id,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   int(h.config.CookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// CartIDFromRequest はcart_id Cookieの値を返す。UUIDとして解釈できない値は無視する。
func CartIDFromRequest(r *http.Request) (string, bool) {
	c, err := r.Cookie(CartCookieName)
	if err != nil {
		return "", false
	}
	id, err := uuid.Parse(c.Value)
	if err != nil {
		return "", false
	}
	return id.String(), true
}
