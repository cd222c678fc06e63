package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/foodfusion/internal/model"
)

// SessionCookieName はログインセッションのトークンを保持するCookieの名前。
// Max-Ageを付けないため、ブラウザを閉じると破棄される。
const SessionCookieName = "session_token"

// contextKey はコンテキストキーの型。
type contextKey string

const (
	sessionUserKey contextKey = "session_user"
	sessionIDKey   contextKey = "session_id"
	bearerAuthKey  contextKey = "bearer_auth"
)

// Authenticator はトークンからログイン中のユーザーを解決するインターフェース。
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.SessionUser, string, error)
}

// NewAuthMiddleware は認証必須のミドルウェアを返す。
// トークンはAuthorizationヘッダー（Bearer）、セッションCookie、?token=クエリの順に探す。
// クエリはブラウザのWebSocketがヘッダーを付けられないための経路。
// 有効なトークンがない場合は401を返す。
func NewAuthMiddleware(authn Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, err := authenticate(r, authn)
			if err != nil {
				writeAuthError(w, r, err)
				return
			}
			if ctx == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError(""))
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewOptionalAuthMiddleware はトークンがあれば検証してユーザーを注入し、なければそのまま通すミドルウェアを返す。
// 無効なトークンは未ログインとして扱う。
func NewOptionalAuthMiddleware(authn Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, err := authenticate(r, authn)
			if err != nil {
				var apiErr *model.APIError
				if !errors.As(err, &apiErr) {
					slog.Error("optional authentication failed",
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)
				}
				next.ServeHTTP(w, r)
				return
			}
			if ctx != nil {
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole はログイン中のユーザーが指定ロールのいずれかを持つ場合のみ通すミドルウェアを返す。
// NewAuthMiddlewareの後に配置する。
func RequireRole(roles ...model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := SessionUserFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError(""))
				return
			}
			for _, role := range roles {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			slog.Warn("role not permitted",
				slog.String("user_id", user.ID),
				slog.String("role", string(user.Role)),
				slog.String("path", r.URL.Path),
			)
			WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenRoleError(""))
		})
	}
}

// authenticate はリクエストからトークンを取り出して検証する。
// トークンがない場合は(nil, nil)を返す。
func authenticate(r *http.Request, authn Authenticator) (context.Context, error) {
	token, bearer := extractToken(r)
	if token == "" {
		return nil, nil
	}

	user, sessionID, err := authn.Authenticate(r.Context(), token)
	if err != nil {
		return nil, err
	}

	setRequestUserID(r.Context(), user.ID)
	ctx := ContextWithSessionUser(r.Context(), user, sessionID)
	if bearer {
		ctx = context.WithValue(ctx, bearerAuthKey, true)
	}
	return ctx, nil
}

// extractToken はトークンと、それがAuthorizationヘッダー由来かどうかを返す。
func extractToken(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token), true
		}
	}
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value, false
	}
	return r.URL.Query().Get("token"), false
}

// writeAuthError は認証エラーを401で返す。APIError以外の失敗は詳細をログのみに記録する。
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		WriteErrorResponse(w, http.StatusUnauthorized, apiErr)
		return
	}
	slog.Error("authentication failed",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	WriteInternalServerError(w)
}

// SessionUserFromContext はコンテキストからログイン中のユーザーを取得する。
func SessionUserFromContext(ctx context.Context) (*model.SessionUser, error) {
	user, ok := ctx.Value(sessionUserKey).(*model.SessionUser)
	if !ok || user == nil {
		return nil, errors.New("session user not found in context")
	}
	return user, nil
}

// SessionIDFromContext はコンテキストからセッションIDを取得する。
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}

// UserIDFromContext はコンテキストからログイン中のユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	user, err := SessionUserFromContext(ctx)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

// ContextWithSessionUser はユーザーとセッションIDをコンテキストに設定する。
// テストやミドルウェア内部で使用する。
func ContextWithSessionUser(ctx context.Context, user *model.SessionUser, sessionID string) context.Context {
	ctx = context.WithValue(ctx, sessionUserKey, user)
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// isBearerAuthenticated はAuthorizationヘッダーで認証されたリクエストかどうかを返す。
func isBearerAuthenticated(ctx context.Context) bool {
	v, _ := ctx.Value(bearerAuthKey).(bool)
	return v
}
