// Package timer は遅延実行のための時刻源を提供する。
// 本番ではtime.AfterFuncを、テストでは仮想時刻で進めるManualを使う。
package timer

import (
	"sort"
	"sync"
	"time"
)

// Timer は予約済みの遅延実行を表す。
type Timer interface {
	// Stop は未発火の予約を取り消す。取り消せた場合にtrueを返す。
	Stop() bool
}

// Scheduler は現在時刻の取得と遅延実行の予約を行う。
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real はシステム時計を使うScheduler。
type Real struct{}

// Now は現在時刻を返す。
func (Real) Now() time.Time { return time.Now() }

// AfterFunc はdの経過後に別goroutineでfを実行する。
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Manual はAdvanceで明示的に時刻を進める仮想時計。
// 発火した関数はAdvanceを呼んだgoroutine上で予定時刻順に同期実行される。
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	m       *Manual
	at      time.Time
	seq     int
	f       func()
	stopped bool
	fired   bool
}

// NewManual は指定時刻から始まるManualを生成する。
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now は仮想時刻を返す。
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc は仮想時刻でdの経過後にfを実行する予約を登録する。
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{m: m, at: m.now.Add(d), seq: m.seq, f: f}
	m.timers = append(m.timers, t)
	return t
}

// Advance は仮想時刻をdだけ進め、期限の来た予約を順に実行する。
// 実行中の関数が新たに登録した予約も、期限内であれば同じ呼び出しで実行する。
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		next := m.nextDueLocked(target)
		if next == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = next.at
		next.fired = true
		m.mu.Unlock()

		next.f()
	}
}

// Pending は未発火かつ未取消の予約数を返す。
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

func (m *Manual) nextDueLocked(target time.Time) *manualTimer {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.fired && !t.stopped {
			live = append(live, t)
		}
	}
	m.timers = live

	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].at.Equal(m.timers[j].at) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].at.Before(m.timers[j].at)
	})

	if len(m.timers) == 0 || m.timers[0].at.After(target) {
		return nil
	}
	return m.timers[0]
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}
