package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ecomlabs/toolsportal/internal/model"
)

// ErrorResponseBody はJSON APIエラーレスポンスのフォーマット。
type ErrorResponseBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WriteErrorResponse はAPIErrorのステータスで {"error","code"} を書き込む。
func WriteErrorResponse(w http.ResponseWriter, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Error: apiErr.Message,
		Code:  apiErr.Code,
	})
}

// WriteRateLimitedResponse はRetry-Afterヘッダー付きで429を書き込む。
// retryAfterは秒に切り上げ、最低1秒とする。
func WriteRateLimitedResponse(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int((retryAfter + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	WriteErrorResponse(w, model.NewRateLimitedError())
}

// WriteInternalServerError は内部サーバーエラーのレスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, model.NewInternalError())
}
