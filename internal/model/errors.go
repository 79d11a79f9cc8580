package model

import (
	"errors"
	"fmt"
	"net/http"
)

// エラー分類。サービス層は以下をラップして返し、呼び出し側はerrors.Isで判定する。
var (
	// ErrUnauthenticated はセッションまたはプロフィールが存在しないことを示す。
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden はロールが不足していることを示す。
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInput はリクエストパラメータが不正であることを示す。
	ErrInvalidInput = errors.New("invalid input")
	// ErrRateLimited はレート制限を超過したことを示す。
	ErrRateLimited = errors.New("rate limited")
	// ErrUpstreamFailure はIdPやタスクトラッカーなど外部サービスの失敗を示す。
	ErrUpstreamFailure = errors.New("upstream failure")
	// ErrSchemaMismatch は保存済み・取得済みデータがスキーマ検証に失敗したことを示す。
	ErrSchemaMismatch = errors.New("schema mismatch")
)

// APIError はJSON APIのエラーレスポンスを表す。
type APIError struct {
	Status  int    // HTTPステータスコード
	Code    string // エラーコード
	Message string // エラーメッセージ
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidQuery    = "INVALID_QUERY"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeUpstreamFailure = "UPSTREAM_FAILURE"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// NewInvalidQueryError はクエリパラメータ不正エラーを生成する。
func NewInvalidQueryError() *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: ErrCodeInvalidQuery, Message: "Invalid query"}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{Status: http.StatusUnauthorized, Code: ErrCodeUnauthorized, Message: "Unauthorized"}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{Status: http.StatusForbidden, Code: ErrCodeForbidden, Message: "Forbidden"}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{Status: http.StatusTooManyRequests, Code: ErrCodeRateLimited, Message: "Too many requests"}
}

// NewUpstreamFailureError は外部サービス失敗エラーを生成する。
func NewUpstreamFailureError() *APIError {
	return &APIError{Status: http.StatusBadGateway, Code: ErrCodeUpstreamFailure, Message: "Unable to fetch status"}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{Status: http.StatusInternalServerError, Code: ErrCodeInternal, Message: "Internal server error"}
}

// ToAPIError はエラー分類をAPIErrorに変換する。
// 分類に該当しないエラーは内部エラーとして扱う。
func ToAPIError(err error) *APIError {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, ErrInvalidInput):
		return NewInvalidQueryError()
	case errors.Is(err, ErrUnauthenticated):
		return NewUnauthorizedError()
	case errors.Is(err, ErrForbidden):
		return NewForbiddenError()
	case errors.Is(err, ErrRateLimited):
		return NewRateLimitedError()
	case errors.Is(err, ErrUpstreamFailure), errors.Is(err, ErrSchemaMismatch):
		return NewUpstreamFailureError()
	default:
		return NewInternalError()
	}
}
