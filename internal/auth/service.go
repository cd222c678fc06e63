// Package auth はユーザー登録、ログイン、セッション管理を提供する。
// ログインはメールアドレス・パスワード・ロールの組で行い、HS256のJWTを発行する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/foodfusion/internal/model"
	"github.com/hitoshi/foodfusion/internal/repository"
	"github.com/hitoshi/foodfusion/internal/security"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 8

// MsgRegistered は登録完了時の案内文言。
const MsgRegistered = "Registration successful! Your account is awaiting admin approval."

// SessionCloser はログアウト時にユーザーの通知チャネルを閉じるインターフェース。
type SessionCloser interface {
	Close(userID string)
}

// RegisterInput はユーザー登録の入力。
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Role     model.Role
}

// LoginInput はログインの入力。
type LoginInput struct {
	Email    string
	Password string
	Role     model.Role
}

// LoginResult はログイン成功時の結果。
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Session   *model.Session
	User      model.SessionUser
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	tokens      *TokenManager
	closer      SessionCloser
	sanitizer   security.TextSanitizer
	now         func() time.Time
}

// NewService はServiceを生成する。closerがnilの場合はログアウト時に何も閉じない。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	tokens *TokenManager,
	closer SessionCloser,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		tokens:      tokens,
		closer:      closer,
		sanitizer:   security.NewTextSanitizer(100),
		now:         time.Now,
	}
}

// Register はユーザーを登録する。登録直後の状態はpendingで、管理者の承認までログインできない。
// 同一メール・同一ロールのユーザーが存在する場合はUSER_ALREADY_EXISTSを返す。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	name := s.sanitizer.Sanitize(in.Name)
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	switch {
	case name == "":
		return nil, model.NewValidationError("name is required")
	case len(in.Password) < MinPasswordLength:
		return nil, model.NewValidationError(fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	case !in.Role.IsRegistrable():
		return nil, model.NewValidationError("role must be one of customer, restaurant or delivery")
	}

	existing, err := s.userRepo.FindByEmailAndRole(ctx, email, in.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		return nil, model.NewUserAlreadyExistsError()
	}

	user, err := s.createUser(ctx, name, email, in.Password, in.Role, model.UserStatusPending)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, model.NewUserAlreadyExistsError()
	}
	if err != nil {
		return nil, err
	}

	slog.Info("new user registered",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)
	return user, nil
}

// Login はメールアドレス・パスワード・ロールで認証し、セッションとトークンを発行する。
// ユーザーが存在しない場合はUSER_NOT_FOUND、パスワード不一致はINVALID_CREDENTIALS、
// 承認前・停止中のアカウントはACCOUNT_NOT_ACTIVEを返す。
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if in.Password == "" {
		return nil, model.NewValidationError("password is required")
	}
	if in.Role != model.RoleAdmin && !in.Role.IsRegistrable() {
		return nil, model.NewValidationError("role is invalid")
	}

	user, err := s.userRepo.FindByEmailAndRole(ctx, email, in.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	ok, err := CheckPassword(user.PasswordHash, in.Password)
	if err != nil {
		return nil, err
	}
	if !ok {
		slog.Warn("login failed: invalid credentials", slog.String("user_id", user.ID))
		return nil, model.NewInvalidCredentialsError()
	}
	if user.Status != model.UserStatusActive {
		return nil, model.NewAccountNotActiveError(user.Status)
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	token, err := s.tokens.Issue(user, session.ID, session.ExpiresAt)
	if err != nil {
		return nil, err
	}

	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)
	return &LoginResult{
		Token:     token,
		ExpiresAt: session.ExpiresAt,
		Session:   session,
		User:      user.ToSessionUser(),
	}, nil
}

// Logout はセッションを破棄し、ユーザーの通知チャネルを閉じる。
func (s *Service) Logout(ctx context.Context, sessionID, userID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if s.closer != nil && userID != "" {
		s.closer.Close(userID)
	}

	slog.Info("user logged out", slog.String("user_id", userID))
	return nil
}

// Authenticate はトークンを検証し、有効なセッションに紐づくユーザーとセッションIDを返す。
// セッションが削除済み・期限切れ、またはユーザーが有効でない場合はUNAUTHORIZEDを返す。
func (s *Service) Authenticate(ctx context.Context, token string) (*model.SessionUser, string, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, "", model.NewUnauthorizedError("Invalid or expired token")
	}

	session, err := s.sessionRepo.FindByID(ctx, claims.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.UserID != claims.UserID {
		return nil, "", model.NewUnauthorizedError("Session has expired")
	}

	user, err := s.GetCurrentUser(ctx, session.UserID)
	if err != nil {
		return nil, "", err
	}
	if user.Status != model.UserStatusActive {
		return nil, "", model.NewUnauthorizedError("Account is not active")
	}

	su := user.ToSessionUser()
	return &su, session.ID, nil
}

// GetCurrentUser はユーザーIDから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUnauthorizedError("User no longer exists")
	}
	return user, nil
}

// SeedAdmin は管理者アカウントが存在しなければactive状態で作成する。
// emailが空の場合は何もしない。作成した場合にtrueを返す。
func (s *Service) SeedAdmin(ctx context.Context, email, password string) (bool, error) {
	if strings.TrimSpace(email) == "" {
		return false, nil
	}
	normalized, err := normalizeEmail(email)
	if err != nil {
		return false, fmt.Errorf("invalid admin email: %w", err)
	}
	if len(password) < MinPasswordLength {
		return false, fmt.Errorf("admin password must be at least %d characters", MinPasswordLength)
	}

	existing, err := s.userRepo.FindByEmailAndRole(ctx, normalized, model.RoleAdmin)
	if err != nil {
		return false, fmt.Errorf("failed to find admin: %w", err)
	}
	if existing != nil {
		return false, nil
	}

	user, err := s.createUser(ctx, "Administrator", normalized, password, model.RoleAdmin, model.UserStatusActive)
	if errors.Is(err, repository.ErrDuplicate) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	slog.Info("admin account seeded", slog.String("user_id", user.ID))
	return true, nil
}

func (s *Service) createUser(ctx context.Context, name, email, password string, role model.Role, status model.UserStatus) (*model.User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(s.tokens.TTL()),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// normalizeEmail はメールアドレスを検証し、前後の空白を除いて小文字化する。
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", model.NewValidationError("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", model.NewValidationError("email is invalid")
	}
	return email, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
