package httpapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter はキー（ユーザーID）ごとのトークンバケット
// limit 回 / window を上限とし、バーストも limit まで許可する
// window 以上使われていないキーは満タンと同じ状態なので、定期的に破棄する
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	every     rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter は window あたり limit 回を許可する RateLimiter を作成する
// limit が0以下の場合は制限しない
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		every:    rate.Inf,
		burst:    0,
		idleTTL:  window,
		now:      time.Now,
	}
	if limit > 0 && window > 0 {
		rl.every = rate.Every(window / time.Duration(limit))
		rl.burst = limit
	}
	return rl
}

// Allow はリクエストを許可するかを判定する
// 拒否した場合は次に許可されるまでの待ち時間を返す
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	if rl.every == rate.Inf {
		return true, 0
	}

	now := rl.now()

	rl.mu.Lock()
	rl.sweep(now)
	entry, ok := rl.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.every, rl.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = now
	limiter := entry.limiter
	rl.mu.Unlock()

	reservation := limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, 0
	}
	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Len は保持しているキー数を返す
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// sweep は idleTTL 以上使われていないキーを破棄する。走査は idleTTL に1回まで
// rl.mu を保持した状態で呼ぶこと
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.idleTTL {
		return
	}
	rl.lastSweep = now
	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) >= rl.idleTTL {
			delete(rl.limiters, key)
		}
	}
}
