// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, cart, network, not_found, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation         = "VALIDATION_FAILED"
	ErrCodeUserAlreadyExists  = "USER_ALREADY_EXISTS"
	ErrCodeInvalidStatus      = "INVALID_STATUS"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeForbiddenRole      = "FORBIDDEN_ROLE"
	ErrCodeAccountNotActive   = "ACCOUNT_NOT_ACTIVE"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeCartEmpty          = "CART_EMPTY"
	ErrCodeCartItemNotFound   = "CART_ITEM_NOT_FOUND"
	ErrCodeCrossRestaurant    = "CART_CROSS_RESTAURANT"
	ErrCodeCheckoutInProgress = "CHECKOUT_IN_PROGRESS"
	ErrCodeSMSFailed          = "SMS_FAILED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  reason,
		Category: "validation",
		Action:   "Check the submitted fields and try again.",
	}
}

// NewUserAlreadyExistsError は同一メール・同一ロールのユーザーが既に存在する場合のエラーを生成する。
func NewUserAlreadyExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeUserAlreadyExists,
		Message:  "User already exists",
		Category: "validation",
		Action:   "Log in with the existing account or use another email address.",
	}
}

// NewInvalidStatusError は管理者が不正なアカウント状態を指定した場合のエラーを生成する。
func NewInvalidStatusError(status string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidStatus,
		Message:  fmt.Sprintf("Invalid status: %s", status),
		Category: "validation",
		Action:   "Use one of pending, active or suspended.",
	}
}

// NewUnauthorizedError は未ログイン状態で保護された操作を行った場合のエラーを生成する。
func NewUnauthorizedError(message string) *APIError {
	if message == "" {
		message = "Authentication required"
	}
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  message,
		Category: "auth",
		Action:   "Log in and try again.",
	}
}

// NewInvalidCredentialsError はパスワード不一致のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid credentials",
		Category: "auth",
		Action:   "Check your email address and password.",
	}
}

// NewForbiddenRoleError はロールが操作を許可されていない場合のエラーを生成する。
func NewForbiddenRoleError(message string) *APIError {
	if message == "" {
		message = "You are not allowed to perform this action"
	}
	return &APIError{
		Code:     ErrCodeForbiddenRole,
		Message:  message,
		Category: "auth",
		Action:   "Log in with an account that has the required role.",
	}
}

// NewAccountNotActiveError は承認前または停止中のアカウントでログインした場合のエラーを生成する。
func NewAccountNotActiveError(status UserStatus) *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotActive,
		Message:  fmt.Sprintf("Your account is %s", status),
		Category: "auth",
		Action:   "Wait for an administrator to approve your account.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "not_found",
		Action:   "Register an account first.",
	}
}

// NewCartEmptyError は空のカートで注文しようとした場合のエラーを生成する。
func NewCartEmptyError() *APIError {
	return &APIError{
		Code:     ErrCodeCartEmpty,
		Message:  "Your cart is empty",
		Category: "validation",
		Action:   "Add items to your cart before checking out.",
	}
}

// NewCartItemNotFoundError はカートに存在しない商品を指定した場合のエラーを生成する。
func NewCartItemNotFoundError(itemID string) *APIError {
	return &APIError{
		Code:     ErrCodeCartItemNotFound,
		Message:  fmt.Sprintf("Item is not in your cart: %s", itemID),
		Category: "not_found",
		Action:   "Reload your cart and try again.",
	}
}

// NewCrossRestaurantError は別店舗の商品をカートに追加しようとした場合のエラーを生成する。
// カートは自動的にマージされず、置き換えを明示的に要求する必要がある。
func NewCrossRestaurantError(cartRestaurantID, itemRestaurantID string) *APIError {
	return &APIError{
		Code: ErrCodeCrossRestaurant,
		Message: fmt.Sprintf(
			"Your cart contains items from restaurant %s. Adding an item from restaurant %s requires clearing it.",
			cartRestaurantID, itemRestaurantID,
		),
		Category: "cart",
		Action:   "Clear and add",
	}
}

// NewCheckoutInProgressError は注文処理中に再度注文しようとした場合のエラーを生成する。
func NewCheckoutInProgressError() *APIError {
	return &APIError{
		Code:     ErrCodeCheckoutInProgress,
		Message:  "Your order is already being processed",
		Category: "cart",
		Action:   "Wait for the current order to complete.",
	}
}

// NewSMSFailedError はSMS送信に失敗した場合のエラーを生成する。
func NewSMSFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeSMSFailed,
		Message:  "Failed to send SMS notification.",
		Category: "network",
		Action:   "Your cart has been kept. Please try again.",
	}
}

// NewInternalError は内部エラーのユーザー向け表現を生成する。
// 詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "An internal error occurred.",
		Category: "system",
		Action:   "Please wait a moment and try again.",
	}
}
