package model

import "github.com/shopspring/decimal"

// MenuItem はカートに追加される店舗のメニュー商品を表す。
type MenuItem struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	RestaurantID string          `json:"restaurantId"`
}

// CartLine はカート内の1行を表す。
// ItemIDはカート内で一意であり、Quantityは常に1以上。
type CartLine struct {
	ItemID       string          `json:"id"`
	Name         string          `json:"name"`
	UnitPrice    decimal.Decimal `json:"price"`
	Quantity     int             `json:"quantity"`
	RestaurantID string          `json:"restaurantId"`
}

// Subtotal は行の小計（単価×数量）を返す。
func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart はブラウザ単位で永続化されるショッピングカートを表す。
// RestaurantIDがnilであることとItemsが空であることは同値。
type Cart struct {
	Items        []CartLine `json:"items"`
	RestaurantID *string    `json:"restaurantId"`
}
