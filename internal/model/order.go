package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus は注文の状態を表す。
type OrderStatus string

const (
	// OrderStatusPlaced はSMS送信後に確定した注文。
	OrderStatusPlaced OrderStatus = "placed"
)

// Order は確定した注文を表す。
// 確定時点のカート内容をスナップショットとして保持する。
type Order struct {
	ID           string
	CustomerID   string
	RestaurantID string
	Items        []CartLine
	Total        decimal.Decimal
	Status       OrderStatus
	PlacedAt     time.Time
}

// CheckoutState は注文処理のステートマシンの状態を表す。
type CheckoutState string

const (
	CheckoutIdle       CheckoutState = "idle"
	CheckoutProcessing CheckoutState = "processing"
	CheckoutPlaced     CheckoutState = "placed"
	CheckoutFailed     CheckoutState = "failed"
)
