// Package cart はショッピングカートの状態遷移と永続化を提供する。
// カートは常に単一店舗の商品のみを保持する。
package cart

import (
	"github.com/hitoshi/foodfusion/internal/model"
	"github.com/shopspring/decimal"
)

// Add は商品をカートに追加した新しいカートを返す。
// quantityが1未満の場合は1として扱う。
// カートが別店舗の商品を保持している場合はマージせず、CART_CROSS_RESTAURANTエラーを返す。
func Add(c model.Cart, item model.MenuItem, quantity int) (model.Cart, error) {
	if quantity < 1 {
		quantity = 1
	}

	if c.RestaurantID != nil && len(c.Items) > 0 && *c.RestaurantID != item.RestaurantID {
		return c, model.NewCrossRestaurantError(*c.RestaurantID, item.RestaurantID)
	}

	next := clone(c)
	if len(next.Items) == 0 {
		restaurantID := item.RestaurantID
		next.RestaurantID = &restaurantID
	}

	for i := range next.Items {
		if next.Items[i].ItemID == item.ID {
			next.Items[i].Quantity += quantity
			return next, nil
		}
	}

	next.Items = append(next.Items, lineFor(item, quantity))
	return next, nil
}

// Replace はカートを指定商品1行のみに置き換える。
// 別店舗の商品を追加する際の明示的な解決手段。
func Replace(item model.MenuItem, quantity int) model.Cart {
	if quantity < 1 {
		quantity = 1
	}
	restaurantID := item.RestaurantID
	return model.Cart{
		Items:        []model.CartLine{lineFor(item, quantity)},
		RestaurantID: &restaurantID,
	}
}

// Remove は指定商品の行を削除する。存在しない商品IDは無視する。
// 最後の行を削除した場合は店舗をリセットする。
func Remove(c model.Cart, itemID string) model.Cart {
	next := model.Cart{RestaurantID: c.RestaurantID}
	for _, l := range c.Items {
		if l.ItemID != itemID {
			next.Items = append(next.Items, l)
		}
	}
	if len(next.Items) == 0 {
		return Empty()
	}
	return next
}

// UpdateQuantity は指定商品の数量を設定する。
// quantityが0以下の場合はRemoveと同じで、存在しない商品IDも無視する。
// 1以上の数量で存在しない商品IDを指定した場合はCART_ITEM_NOT_FOUNDエラー。
func UpdateQuantity(c model.Cart, itemID string, quantity int) (model.Cart, error) {
	if quantity <= 0 {
		return Remove(c, itemID), nil
	}
	if !Contains(c, itemID) {
		return c, model.NewCartItemNotFoundError(itemID)
	}

	next := clone(c)
	for i := range next.Items {
		if next.Items[i].ItemID == itemID {
			next.Items[i].Quantity = quantity
		}
	}
	return next, nil
}

// Empty は空のカートを返す。
func Empty() model.Cart {
	return model.Cart{Items: []model.CartLine{}}
}

// Contains はカートに指定商品の行があるかどうかを返す。
func Contains(c model.Cart, itemID string) bool {
	for _, l := range c.Items {
		if l.ItemID == itemID {
			return true
		}
	}
	return false
}

// Total はカートの合計金額（単価×数量の総和）を返す。
func Total(c model.Cart) decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Items {
		total = total.Add(l.Subtotal())
	}
	return total
}

// ItemCount はカート内の数量の総和を返す。
func ItemCount(c model.Cart) int {
	n := 0
	for _, l := range c.Items {
		n += l.Quantity
	}
	return n
}

// Normalize は永続化層から復元したカートの不変条件を整える。
// 数量が1未満の行と重複行、カートの店舗と異なる店舗の行を除き、行が無ければ店舗をリセットする。
// 店舗が未設定の場合は最初の有効な行の店舗を採用する。
func Normalize(c model.Cart) model.Cart {
	var restaurantID string
	if c.RestaurantID != nil {
		restaurantID = *c.RestaurantID
	}

	next := model.Cart{Items: []model.CartLine{}}
	seen := make(map[string]bool, len(c.Items))
	for _, l := range c.Items {
		if l.Quantity < 1 || seen[l.ItemID] {
			continue
		}
		if restaurantID == "" {
			restaurantID = l.RestaurantID
		}
		if l.RestaurantID != restaurantID {
			continue
		}
		seen[l.ItemID] = true
		next.Items = append(next.Items, l)
	}
	if len(next.Items) == 0 {
		return Empty()
	}
	next.RestaurantID = &restaurantID
	return next
}

func lineFor(item model.MenuItem, quantity int) model.CartLine {
	return model.CartLine{
		ItemID:       item.ID,
		Name:         item.Name,
		UnitPrice:    item.Price,
		Quantity:     quantity,
		RestaurantID: item.RestaurantID,
	}
}

func clone(c model.Cart) model.Cart {
	next := model.Cart{Items: make([]model.CartLine, len(c.Items))}
	copy(next.Items, c.Items)
	if c.RestaurantID != nil {
		restaurantID := *c.RestaurantID
		next.RestaurantID = &restaurantID
	}
	return next
}
