package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ecomlabs/toolsportal/internal/middleware"
	"github.com/ecomlabs/toolsportal/internal/model"
)

// statusResponse はステータスAPIの成功レスポンス。
type statusResponse struct {
	Summary *model.OpsStatusSummary `json:"summary"`
}

// OpsStatusHandler はステータスJSON APIのハンドラー。
type OpsStatusHandler struct {
	runner *OpsStatusRunner
}

// NewOpsStatusHandler はOpsStatusHandlerを生成する。
func NewOpsStatusHandler(runner *OpsStatusRunner) *OpsStatusHandler {
	return &OpsStatusHandler{runner: runner}
}

// GetStatus はクライアント・スコープのステータス集計を返す。
// GET /api/ops/clickup/status?client=acme&scope=ppc
//
// 400: client/scopeが空, 401: 未認証, 403: admin以外, 429: レート制限, 502: 取得失敗
func (h *OpsStatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	session := middleware.SessionFromContext(r.Context())

	summary, err := h.runner.Run(r.Context(), session, q.Get("client"), q.Get("scope"))
	if err != nil {
		writeStatusError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(statusResponse{Summary: summary})
}

// writeStatusError はエラー分類に応じたJSONエラーを書き込む。
func writeStatusError(w http.ResponseWriter, err error) {
	var limited *rateLimitedError
	if errors.As(err, &limited) {
		middleware.WriteRateLimitedResponse(w, limited.retryAfter)
		return
	}

	apiErr := model.ToAPIError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		slog.Error("ops status request failed", slog.String("error", err.Error()))
	}
	middleware.WriteErrorResponse(w, apiErr)
}
