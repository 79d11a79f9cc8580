package handler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ecomlabs/toolsportal/internal/auth"
	"github.com/ecomlabs/toolsportal/internal/metrics"
	"github.com/ecomlabs/toolsportal/internal/model"
	"github.com/ecomlabs/toolsportal/internal/ratelimit"
)

// opsStatusTool はレート制限キーに使うツール名。
const opsStatusTool = "ops-status"

// StatusService はクライアント・スコープのステータス集計を返す。opsstatus.Service が実装する。
type StatusService interface {
	Summary(ctx context.Context, client, scope string) (*model.OpsStatusSummary, error)
}

// RateLimitChecker は呼び出しを1回記録し判定する。ratelimit.FixedWindow が実装する。
type RateLimitChecker interface {
	Check(ctx context.Context, key string) (ratelimit.Decision, error)
}

// rateLimitedError は制限解除までの待ち時間を持つレート制限エラー。
type rateLimitedError struct {
	retryAfter time.Duration
}

func (e *rateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.retryAfter)
}

func (e *rateLimitedError) Unwrap() error {
	return model.ErrRateLimited
}

// OpsStatusRunner はステータスAPIとops chatが共有するステータス取得手順。
//
// 判定順: 入力検証 → プロフィールとロール（admin） → レート制限 → 集計。
type OpsStatusRunner struct {
	profiles auth.ProfileFinder
	limiter  RateLimitChecker
	service  StatusService
	metrics  metrics.MetricsCollector
}

// NewOpsStatusRunner はOpsStatusRunnerを生成する。
func NewOpsStatusRunner(profiles auth.ProfileFinder, limiter RateLimitChecker, service StatusService, collector metrics.MetricsCollector) *OpsStatusRunner {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &OpsStatusRunner{
		profiles: profiles,
		limiter:  limiter,
		service:  service,
		metrics:  collector,
	}
}

// Run はセッションの権限とレート制限を確認してからステータス集計を返す。
// エラーはmodelのエラー分類をラップする。レート制限時のエラーは待ち時間を保持する。
func (r *OpsStatusRunner) Run(ctx context.Context, session *model.Session, client, scope string) (*model.OpsStatusSummary, error) {
	client = strings.TrimSpace(client)
	scope = strings.TrimSpace(scope)
	if client == "" || scope == "" {
		return nil, fmt.Errorf("%w: client and scope are required", model.ErrInvalidInput)
	}

	profile, err := auth.RequireRole(ctx, session, r.profiles, model.RoleAdmin)
	if err != nil {
		return nil, err
	}

	decision, err := r.limiter.Check(ctx, ratelimit.Key(opsStatusTool, profile.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to check rate limit: %w", err)
	}
	if decision.Limited {
		r.metrics.RecordRateLimited(opsStatusTool)
		slog.Warn("rate limit exceeded",
			slog.String("user_id", profile.ID),
			slog.String("limit_type", opsStatusTool),
			slog.Int("count", decision.Count),
		)
		return nil, &rateLimitedError{retryAfter: decision.RetryAfter}
	}

	return r.service.Summary(ctx, client, scope)
}
