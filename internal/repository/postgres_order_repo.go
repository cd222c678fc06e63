package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/foodfusion/internal/model"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// PostgresOrderRepo はPostgreSQLを使用した注文リポジトリ。
type PostgresOrderRepo struct {
	db *sql.DB
}

// NewPostgresOrderRepo はPostgresOrderRepoを生成する。
func NewPostgresOrderRepo(db *sql.DB) *PostgresOrderRepo {
	return &PostgresOrderRepo{db: db}
}

// Create は注文と注文明細を同一トランザクションで作成する。
func (r *PostgresOrderRepo) Create(ctx context.Context, order *model.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO orders (id, customer_id, restaurant_id, total, status, placed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		order.ID, order.CustomerID, order.RestaurantID, order.Total, string(order.Status), order.PlacedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i, line := range order.Items {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO order_items (order_id, position, item_id, name, unit_price, quantity)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			order.ID, i, line.ItemID, line.Name, line.UnitPrice, line.Quantity,
		)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListByCustomer は顧客の注文を確定日時の新しい順に返す。
func (r *PostgresOrderRepo) ListByCustomer(ctx context.Context, customerID string) ([]*model.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, customer_id, restaurant_id, total, status, placed_at
		 FROM orders
		 WHERE customer_id = $1
		 ORDER BY placed_at DESC`,
		customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []*model.Order
	byID := make(map[string]*model.Order)
	var ids []string
	for rows.Next() {
		o := &model.Order{}
		var status string
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.RestaurantID, &o.Total, &status, &o.PlacedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		o.Status = model.OrderStatus(status)
		orders = append(orders, o)
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}
	if len(ids) == 0 {
		return orders, nil
	}

	if err := r.attachItems(ctx, ids, byID); err != nil {
		return nil, err
	}
	return orders, nil
}

// attachItems は注文明細を一括取得して各注文に割り当てる。
func (r *PostgresOrderRepo) attachItems(ctx context.Context, ids []string, byID map[string]*model.Order) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT oi.order_id, oi.item_id, oi.name, oi.unit_price, oi.quantity, o.restaurant_id
		 FROM order_items oi
		 JOIN orders o ON o.id = oi.order_id
		 WHERE oi.order_id = ANY($1::uuid[])
		 ORDER BY oi.order_id, oi.position`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("failed to list order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var orderID string
		var line model.CartLine
		var price decimal.Decimal
		if err := rows.Scan(&orderID, &line.ItemID, &line.Name, &price, &line.Quantity, &line.RestaurantID); err != nil {
			return fmt.Errorf("failed to scan order item: %w", err)
		}
		line.UnitPrice = price
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, line)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate order items: %w", err)
	}
	return nil
}

// compile-time interface check
var _ OrderRepository = (*PostgresOrderRepo)(nil)
