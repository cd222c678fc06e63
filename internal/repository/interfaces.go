// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hitoshi/foodfusion/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmailAndRole はメールアドレスとロールでユーザーを検索する。
	// emailは小文字に正規化済みであること。同一メールでもロールごとに別アカウントとなる。
	// 見つからない場合はnilを返す。
	FindByEmailAndRole(ctx context.Context, email string, role model.Role) (*model.User, error)

	// Create はユーザーを作成する。同一メール・同一ロールが存在する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// List は全ユーザーを作成日時の新しい順に返す。
	List(ctx context.Context) ([]*model.User, error)

	// UpdateStatus はユーザーのアカウント状態を更新し、更新後のユーザーを返す。
	// 見つからない場合はnilを返す。
	UpdateStatus(ctx context.Context, id string, status model.UserStatus) (*model.User, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired はbefore時点で期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// OrderRepository は確定注文の永続化インターフェース。
type OrderRepository interface {
	// Create は注文と注文明細を同一トランザクションで作成する。
	Create(ctx context.Context, order *model.Order) error
	// ListByCustomer は顧客の注文を確定日時の新しい順に返す。
	ListByCustomer(ctx context.Context, customerID string) ([]*model.Order, error)
}

// ErrDuplicate は一意制約に違反する作成を行った場合のエラー。
var ErrDuplicate = errors.New("duplicate record")

// ErrCorruptSnapshot は保存済みカートを復元できない場合のエラー。
var ErrCorruptSnapshot = errors.New("corrupt cart snapshot")

// CartStore はブラウザ単位のカートスナップショットの永続化インターフェース。
// スナップショットは {items, restaurantId} 全体を1つの値として保存する。
type CartStore interface {
	// Load はカートを取得する。保存されていない場合はnilを返す。
	// 復元できない場合はErrCorruptSnapshotをラップしたエラーを返す。
	Load(ctx context.Context, cartID string) (*model.Cart, error)
	// Save はカート全体を保存する。
	Save(ctx context.Context, cartID string, cart model.Cart) error
	// Delete はカートを削除する。
	Delete(ctx context.Context, cartID string) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
