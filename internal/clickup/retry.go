package clickup

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// defaultMaxRetries は429/5xx応答の再試行回数。チャットの応答を待たせすぎないよう小さく保つ。
	defaultMaxRetries = 2
	// defaultRetryBase は指数バックオフの初回遅延。
	defaultRetryBase = 250 * time.Millisecond
	// maxRetryDelay は1回の待ち時間の上限。Retry-Afterがこれを超える場合は使わない。
	maxRetryDelay = 2 * time.Second
	// maxRetryAfter はRetry-Afterとして解釈する上限。これを超える値はこの値に丸める。
	maxRetryAfter = 24 * time.Hour
)

// Retryable は再試行で回復しうる応答（429, 5xx）かを返す。
// 401/403/404などは再試行しても結果が変わらない。
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// backoffDelay はattempt回目（0始まり）の再試行までの待ち時間を返す。
// baseから2倍ずつ増加し、maxRetryDelayで頭打ちになる。
func backoffDelay(attempt int, base time.Duration) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}

// parseRetryAfter は秒数形式のRetry-Afterを解釈する。HTTP日付形式や不正値は0を返す。
// 乗算がオーバーフローしないよう、秒数はmaxRetryAfterで頭打ちにしてから変換する。
func parseRetryAfter(value string) time.Duration {
	secs, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	if secs > int64(maxRetryAfter/time.Second) {
		return maxRetryAfter
	}
	return time.Duration(secs) * time.Second
}
