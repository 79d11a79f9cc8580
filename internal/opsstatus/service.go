// Package opsstatus はクライアント・スコープ単位のタスク状況集計を提供する。
// データソース（フィクスチャまたはClickUp）から集計を取得し、スキーマ検証してから返す。
package opsstatus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ecomlabs/toolsportal/internal/metrics"
	"github.com/ecomlabs/toolsportal/internal/model"
)

// Source はステータス集計のデータソース。
type Source interface {
	// Name はメトリクスとログに使うデータソース名を返す。
	Name() string
	// Fetch はclient/scopeに該当するタスクを集計する。
	Fetch(ctx context.Context, client, scope string) (*model.OpsStatusSummary, error)
}

// Service はステータス集計のサービス層。
type Service struct {
	source  Source
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewService はServiceを生成する。collectorがnilの場合は何も記録しない。
func NewService(source Source, collector metrics.MetricsCollector) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		source:  source,
		metrics: collector,
		now:     time.Now,
	}
}

// SourceName は使用中のデータソース名を返す。
func (s *Service) SourceName() string {
	return s.source.Name()
}

// Summary はclient/scopeのステータス集計を取得する。
//
// 空のclient/scopeは ErrInvalidInput、データソースの失敗は ErrUpstreamFailure、
// スキーマ検証の失敗は ErrSchemaMismatch をラップして返す。
func (s *Service) Summary(ctx context.Context, client, scope string) (*model.OpsStatusSummary, error) {
	client = strings.TrimSpace(client)
	scope = strings.TrimSpace(scope)
	if client == "" || scope == "" {
		return nil, fmt.Errorf("%w: client and scope are required", model.ErrInvalidInput)
	}

	start := s.now()
	summary, err := s.source.Fetch(ctx, client, scope)
	s.metrics.RecordUpstreamLatency(s.source.Name(), s.now().Sub(start))
	if err != nil {
		slog.Error("failed to fetch ops status",
			slog.String("source", s.source.Name()),
			slog.String("client", client),
			slog.String("scope", scope),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, model.ErrSchemaMismatch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", model.ErrUpstreamFailure, s.source.Name(), err)
	}

	if err := summary.Validate(); err != nil {
		slog.Error("ops status summary failed validation",
			slog.String("source", s.source.Name()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return summary, nil
}
