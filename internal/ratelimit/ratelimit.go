// Package ratelimit は呼び出し元キーごとの固定ウィンドウ型レート制限を提供する。
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultMax は1ウィンドウあたりの既定の最大呼び出し回数。
	DefaultMax = 20
	// DefaultWindow は既定のウィンドウ幅。
	DefaultWindow = 60 * time.Second
)

// Entry はキーごとのカウンタ状態。
type Entry struct {
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
}

// Store はレート制限エントリの保存先。
// Getはエントリが存在しない場合にnilを返す。
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error
}

// Decision は1回の判定結果。
type Decision struct {
	Limited bool
	Count   int
	// RetryAfter は現在のウィンドウが終わるまでの残り時間。制限されていない場合は0。
	RetryAfter time.Duration
}

// FixedWindow は固定ウィンドウのカウンタによるレート制限。
//
//   - キーの初回呼び出し: count=1, windowStart=now で記録し、制限しない
//   - ウィンドウ内の呼び出し: countを加算し、count > max で制限する
//   - ウィンドウ経過後の呼び出し: count=1, windowStart=now にリセットし、制限しない
type FixedWindow struct {
	store  Store
	max    int
	window time.Duration
	now    func() time.Time

	// 同一プロセス内での読み取りと書き込みの間の競合を防ぐ。
	mu sync.Mutex
}

// Option はFixedWindowの設定を変更する。
type Option func(*FixedWindow)

// WithClock は現在時刻の取得関数を差し替える。テスト用。
func WithClock(now func() time.Time) Option {
	return func(f *FixedWindow) {
		f.now = now
	}
}

// NewFixedWindow はFixedWindowを生成する。
// max, windowが0以下の場合は既定値を使う。
func NewFixedWindow(store Store, max int, window time.Duration, opts ...Option) *FixedWindow {
	if max <= 0 {
		max = DefaultMax
	}
	if window <= 0 {
		window = DefaultWindow
	}
	f := &FixedWindow{
		store:  store,
		max:    max,
		window: window,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// IsRateLimited はkeyの呼び出しを1回記録し、制限超過かを返す。
func (f *FixedWindow) IsRateLimited(ctx context.Context, key string) (bool, error) {
	d, err := f.Check(ctx, key)
	if err != nil {
		return false, err
	}
	return d.Limited, nil
}

// Check はkeyの呼び出しを1回記録し、判定結果を返す。
func (f *FixedWindow) Check(ctx context.Context, key string) (Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()

	entry, err := f.store.Get(ctx, key)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to load rate limit entry: %w", err)
	}

	if entry == nil || now.Sub(entry.WindowStart) > f.window {
		entry = &Entry{Count: 1, WindowStart: now}
	} else {
		entry.Count++
	}

	// ウィンドウ終了まで保持すればよい。境界での取りこぼしを避けるため1秒余分に残す。
	remaining := f.window - now.Sub(entry.WindowStart)
	if err := f.store.Set(ctx, key, *entry, remaining+time.Second); err != nil {
		return Decision{}, fmt.Errorf("failed to save rate limit entry: %w", err)
	}

	d := Decision{Count: entry.Count}
	if entry.Count > f.max {
		d.Limited = true
		d.RetryAfter = remaining
		if d.RetryAfter < time.Second {
			d.RetryAfter = time.Second
		}
	}
	return d, nil
}

// Key はツール名と呼び出し元IDからレート制限キーを組み立てる。
func Key(tool, callerID string) string {
	return tool + ":" + callerID
}
