package user

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/foodfusion/internal/model"
	"github.com/hitoshi/foodfusion/internal/repository"
)

// --- モック ---

type mockUserRepo struct {
	listFn         func(ctx context.Context) ([]*model.User, error)
	updateStatusFn func(ctx context.Context, id string, status model.UserStatus) (*model.User, error)
}

func (m *mockUserRepo) FindByID(context.Context, string) (*model.User, error) { return nil, nil }
func (m *mockUserRepo) FindByEmailAndRole(context.Context, string, model.Role) (*model.User, error) {
	return nil, nil
}
func (m *mockUserRepo) Create(context.Context, *model.User) error { return nil }
func (m *mockUserRepo) List(ctx context.Context) ([]*model.User, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}
func (m *mockUserRepo) UpdateStatus(ctx context.Context, id string, status model.UserStatus) (*model.User, error) {
	return m.updateStatusFn(ctx, id, status)
}

type mockSessionRepo struct {
	deleteByUserIDFn func(ctx context.Context, userID string) error
}

func (m *mockSessionRepo) Create(context.Context, *model.Session) error { return nil }
func (m *mockSessionRepo) FindByID(context.Context, string) (*model.Session, error) {
	return nil, nil
}
func (m *mockSessionRepo) DeleteByID(context.Context, string) error { return nil }
func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	return m.deleteByUserIDFn(ctx, userID)
}
func (m *mockSessionRepo) DeleteExpired(context.Context, time.Time) (int64, error) { return 0, nil }

type mockCloser struct {
	closed []string
}

func (m *mockCloser) Close(userID string) { m.closed = append(m.closed, userID) }

var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)

func errorCode(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// --- テスト ---

func TestUpdateStatus_ActivateKeepsSessions(t *testing.T) {
	sessionsDeleted := false
	closer := &mockCloser{}
	svc := NewService(
		&mockUserRepo{updateStatusFn: func(_ context.Context, id string, status model.UserStatus) (*model.User, error) {
			return &model.User{ID: id, Status: status}, nil
		}},
		&mockSessionRepo{deleteByUserIDFn: func(context.Context, string) error {
			sessionsDeleted = true
			return nil
		}},
		closer,
	)

	user, err := svc.UpdateStatus(context.Background(), "u1", model.UserStatusActive)
	if err != nil {
		t.Fatalf("UpdateStatus returned error: %v", err)
	}
	if user.Status != model.UserStatusActive {
		t.Errorf("Status = %q, want active", user.Status)
	}
	if sessionsDeleted || len(closer.closed) != 0 {
		t.Error("activation should not revoke sessions")
	}
}

// 停止するとセッション削除と通知チャネルのクローズが行われる。
func TestUpdateStatus_SuspendRevokesSessions(t *testing.T) {
	var deletedFor string
	closer := &mockCloser{}
	svc := NewService(
		&mockUserRepo{updateStatusFn: func(_ context.Context, id string, status model.UserStatus) (*model.User, error) {
			return &model.User{ID: id, Status: status}, nil
		}},
		&mockSessionRepo{deleteByUserIDFn: func(_ context.Context, userID string) error {
			deletedFor = userID
			return nil
		}},
		closer,
	)

	if _, err := svc.UpdateStatus(context.Background(), "u1", model.UserStatusSuspended); err != nil {
		t.Fatalf("UpdateStatus returned error: %v", err)
	}
	if deletedFor != "u1" {
		t.Errorf("sessions deleted for %q, want u1", deletedFor)
	}
	if len(closer.closed) != 1 || closer.closed[0] != "u1" {
		t.Errorf("closed = %v, want [u1]", closer.closed)
	}
}

func TestUpdateStatus_InvalidStatus(t *testing.T) {
	svc := NewService(&mockUserRepo{updateStatusFn: func(context.Context, string, model.UserStatus) (*model.User, error) {
		t.Fatal("repository should not be called")
		return nil, nil
	}}, nil, nil)

	_, err := svc.UpdateStatus(context.Background(), "u1", "banned")
	if code := errorCode(err); code != model.ErrCodeInvalidStatus {
		t.Errorf("code = %q, want INVALID_STATUS", code)
	}
}

func TestUpdateStatus_UserNotFound(t *testing.T) {
	svc := NewService(&mockUserRepo{updateStatusFn: func(context.Context, string, model.UserStatus) (*model.User, error) {
		return nil, nil
	}}, nil, nil)

	_, err := svc.UpdateStatus(context.Background(), "missing", model.UserStatusActive)
	if code := errorCode(err); code != model.ErrCodeUserNotFound {
		t.Errorf("code = %q, want USER_NOT_FOUND", code)
	}
}

func TestUpdateStatus_RepositoryError(t *testing.T) {
	repoErr := errors.New("db down")
	svc := NewService(&mockUserRepo{updateStatusFn: func(context.Context, string, model.UserStatus) (*model.User, error) {
		return nil, repoErr
	}}, nil, nil)

	_, err := svc.UpdateStatus(context.Background(), "u1", model.UserStatusActive)
	if !errors.Is(err, repoErr) {
		t.Errorf("err = %v, want wrapped repoErr", err)
	}
}

func TestListUsers(t *testing.T) {
	svc := NewService(&mockUserRepo{listFn: func(context.Context) ([]*model.User, error) {
		return []*model.User{{ID: "u1"}, {ID: "u2"}}, nil
	}}, nil, nil)

	users, err := svc.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("ListUsers returned error: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("len = %d, want 2", len(users))
	}
}
