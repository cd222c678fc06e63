// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの役割を表す。
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleRestaurant Role = "restaurant"
	RoleDelivery   Role = "delivery"
	RoleAdmin      Role = "admin"
)

// IsRegistrable は自己登録が許可されたロールかどうかを返す。
// adminは環境変数からのシードでのみ作成される。
func (r Role) IsRegistrable() bool {
	switch r {
	case RoleCustomer, RoleRestaurant, RoleDelivery:
		return true
	default:
		return false
	}
}

// UserStatus はアカウントの承認状態を表す。
type UserStatus string

const (
	UserStatusPending   UserStatus = "pending"
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
)

// IsValid は定義済みの状態かどうかを返す。
func (s UserStatus) IsValid() bool {
	switch s {
	case UserStatusPending, UserStatusActive, UserStatusSuspended:
		return true
	default:
		return false
	}
}

// User はサービス利用ユーザーを表す。
// 同一メールアドレスでもロールが異なれば別ユーザーとして扱う。
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SessionUser はログイン中のユーザー識別情報を表す。
// ブラウザタブの生存期間中のみ保持され、ログアウトで破棄される。
type SessionUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// ToSessionUser はUserからセッション上の識別情報を取り出す。
func (u *User) ToSessionUser() SessionUser {
	return SessionUser{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
		Role:  u.Role,
	}
}

// Session はユーザーのログインセッションを表す。
// IDはトークンのjtiと一致する。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
