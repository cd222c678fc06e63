// Package user は管理者によるユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/foodfusion/internal/model"
	"github.com/hitoshi/foodfusion/internal/repository"
)

// SessionCloser はユーザーの通知チャネルを閉じるインターフェース。
type SessionCloser interface {
	Close(userID string)
}

// Service はユーザー管理のサービス層。
// アカウントの承認・停止のビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	closer      SessionCloser
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	closer SessionCloser,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		closer:      closer,
	}
}

// ListUsers は全ユーザーを返す。
func (s *Service) ListUsers(ctx context.Context) ([]*model.User, error) {
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	return users, nil
}

// UpdateStatus はユーザーのアカウント状態を変更する。
// pending・active・suspended以外はINVALID_STATUS、存在しないユーザーはUSER_NOT_FOUND。
// active以外に変更した場合は既存セッションを削除し、ログイン中の利用を止める。
func (s *Service) UpdateStatus(ctx context.Context, userID string, status model.UserStatus) (*model.User, error) {
	if !status.IsValid() {
		return nil, model.NewInvalidStatusError(string(status))
	}

	updated, err := s.userRepo.UpdateStatus(ctx, userID, status)
	if err != nil {
		return nil, fmt.Errorf("ユーザー状態の更新に失敗しました: %w", err)
	}
	if updated == nil {
		return nil, model.NewUserNotFoundError()
	}

	if status != model.UserStatusActive {
		if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
			return nil, fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
		if s.closer != nil {
			s.closer.Close(userID)
		}
	}

	slog.Info("ユーザー状態を更新しました",
		slog.String("user_id", userID),
		slog.String("status", string(status)),
	)
	return updated, nil
}
