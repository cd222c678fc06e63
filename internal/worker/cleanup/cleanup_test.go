package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/foodfusion/internal/metrics"
)

// mockDeleter はExpiredSessionDeleterのモック実装。
type mockDeleter struct {
	mu       sync.Mutex
	calls    int
	before   time.Time
	deleteFn func(ctx context.Context, before time.Time) (int64, error)
}

func (m *mockDeleter) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	m.calls++
	m.before = before
	m.mu.Unlock()
	if m.deleteFn != nil {
		return m.deleteFn(ctx, before)
	}
	return 0, nil
}

func (m *mockDeleter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type recordingMetrics struct {
	metrics.Nop
	mu      sync.Mutex
	cleaned []int64
}

func (m *recordingMetrics) RecordSessionsCleaned(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleaned = append(m.cleaned, count)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func TestCleanupJob_Run_DeletesUpToNow(t *testing.T) {
	var buf bytes.Buffer
	now := time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)
	deleter := &mockDeleter{
		deleteFn: func(context.Context, time.Time) (int64, error) { return 42, nil },
	}
	mc := &recordingMetrics{}
	job := NewCleanupJob(deleter, newTestLogger(&buf), mc)
	job.now = func() time.Time { return now }

	deleted, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if deleted != 42 {
		t.Errorf("deleted = %d, want 42", deleted)
	}
	if !deleter.before.Equal(now) {
		t.Errorf("before = %v, want %v", deleter.before, now)
	}
	if len(mc.cleaned) != 1 || mc.cleaned[0] != 42 {
		t.Errorf("RecordSessionsCleaned = %v, want [42]", mc.cleaned)
	}
}

func TestCleanupJob_Run_LogsDeletedCount(t *testing.T) {
	var buf bytes.Buffer
	deleter := &mockDeleter{
		deleteFn: func(context.Context, time.Time) (int64, error) { return 7, nil },
	}
	job := NewCleanupJob(deleter, newTestLogger(&buf), nil)

	_, _ = job.Run(context.Background())

	found := false
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry["deleted_count"] == float64(7) {
			if _, ok := entry["duration_ms"]; !ok {
				t.Error("ログに duration_ms が含まれていない")
			}
			found = true
		}
	}
	if !found {
		t.Errorf("ログに deleted_count=7 が記録されていない。ログ出力: %s", buf.String())
	}
}

// 削除対象がなくてもエラーにならない。
func TestCleanupJob_Run_NothingToDelete(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockDeleter{}, newTestLogger(&buf), nil)

	deleted, err := job.Run(context.Background())
	if err != nil || deleted != 0 {
		t.Errorf("Run() = %d, %v; want 0, nil", deleted, err)
	}
}

func TestCleanupJob_Run_ReturnsWrappedError(t *testing.T) {
	var buf bytes.Buffer
	dbErr := errors.New("connection refused")
	deleter := &mockDeleter{
		deleteFn: func(context.Context, time.Time) (int64, error) { return 0, dbErr },
	}
	mc := &recordingMetrics{}
	job := NewCleanupJob(deleter, newTestLogger(&buf), mc)

	_, err := job.Run(context.Background())
	if !errors.Is(err, dbErr) {
		t.Fatalf("err = %v, want wrapped %v", err, dbErr)
	}
	if len(mc.cleaned) != 0 {
		t.Error("失敗時にメトリクスを記録してはならない")
	}
	if !strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Errorf("ERRORレベルのログが出力されていない: %s", buf.String())
	}
}

// Startは起動直後に1回実行し、キャンセルで停止する。
func TestCleanupJob_Start_RunsImmediatelyAndStops(t *testing.T) {
	var buf bytes.Buffer
	deleter := &mockDeleter{}
	job := NewCleanupJob(deleter, newTestLogger(&buf), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for deleter.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start がキャンセル後に停止しなかった")
	}
	if deleter.callCount() != 1 {
		t.Errorf("DeleteExpired 呼び出し回数 = %d, want 1", deleter.callCount())
	}
}

func TestCleanupJob_Start_RepeatsOnInterval(t *testing.T) {
	var buf bytes.Buffer
	deleter := &mockDeleter{}
	job := NewCleanupJob(deleter, newTestLogger(&buf), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go job.Start(ctx, 10*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for deleter.callCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if deleter.callCount() < 3 {
		t.Errorf("DeleteExpired 呼び出し回数 = %d, want >= 3", deleter.callCount())
	}
}
