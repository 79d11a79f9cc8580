// Package clickup はClickUp API v2のクライアントを提供する。
package clickup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL はClickUp API v2のベースURL。
	DefaultBaseURL = "https://api.clickup.com/api/v2"
	// defaultRequestsPerMinute はClickUpの無料プランのレート上限に合わせた送信ペース。
	defaultRequestsPerMinute = 100
	// maxErrorBodyBytes はエラーレスポンスから読み取る最大バイト数。
	maxErrorBodyBytes = 64 * 1024
)

// ErrMissingToken はAPIトークンが設定されていないことを示す。
var ErrMissingToken = errors.New("missing ClickUp API token")

// Client はClickUp APIのクライアント。
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	retryBase  time.Duration
}

// Option はClientの設定を変更する。
type Option func(*Client)

// WithBaseURL はベースURLを差し替える。末尾の/は取り除く。
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient はHTTPクライアントを差し替える。
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithRateLimit は1分あたりの最大リクエスト数を設定する。0以下の場合は制限しない。
func WithRateLimit(perMinute int) Option {
	return func(c *Client) {
		if perMinute <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
}

// WithRetry は429/5xx応答の再試行回数と初回の待ち時間を設定する。maxRetriesが0以下なら再試行しない。
func WithRetry(maxRetries int, baseDelay time.Duration) Option {
	return func(c *Client) {
		if maxRetries < 0 {
			maxRetries = 0
		}
		c.maxRetries = maxRetries
		if baseDelay > 0 {
			c.retryBase = baseDelay
		}
	}
}

// NewClient はClientを生成する。tokenが空の場合はErrMissingTokenを返す。
func NewClient(token string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	c := &Client{
		token:      token,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(
			rate.Every(time.Minute/defaultRequestsPerMinute), defaultRequestsPerMinute),
		maxRetries: defaultMaxRetries,
		retryBase:  defaultRetryBase,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetListTasks はリストに属するタスクをサブタスク込みで取得する。
func (c *Client) GetListTasks(ctx context.Context, listID string) (*TasksResponse, error) {
	if listID == "" {
		return nil, fmt.Errorf("list id is required")
	}
	path := "/list/" + url.PathEscape(listID) + "/task?subtasks=true"

	var resp TasksResponse
	if err := c.request(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTeamFilteredTasks はワークスペース全体からparamsで絞り込んだタスクを取得する。
// paramsはそのままクエリ文字列として送る（tags[], statuses[], page など）。
func (c *Client) GetTeamFilteredTasks(ctx context.Context, teamID string, params url.Values) (*TasksResponse, error) {
	if teamID == "" {
		return nil, fmt.Errorf("team id is required")
	}
	path := "/team/" + url.PathEscape(teamID) + "/task"
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var resp TasksResponse
	if err := c.request(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTimeEntries はワークスペースの時間記録をstartからendまでの範囲で取得する。
// assigneeIDsを指定すると、そのユーザーの記録に絞り込む（他人の記録の参照には管理者権限が必要）。
func (c *Client) GetTimeEntries(ctx context.Context, teamID string, start, end time.Time, assigneeIDs []int64) (*TimeEntriesResponse, error) {
	if teamID == "" {
		return nil, fmt.Errorf("team id is required")
	}
	params := url.Values{}
	params.Set("start_date", strconv.FormatInt(start.UnixMilli(), 10))
	params.Set("end_date", strconv.FormatInt(end.UnixMilli(), 10))
	if len(assigneeIDs) > 0 {
		ids := make([]string, len(assigneeIDs))
		for i, id := range assigneeIDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		params.Set("assignee", strings.Join(ids, ","))
	}
	path := "/team/" + url.PathEscape(teamID) + "/time_entries?" + params.Encode()

	var resp TimeEntriesResponse
	if err := c.request(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// request はGETリクエストを送信し、レスポンスJSONをoutにデコードする。
// 429と5xxはmaxRetries回まで指数バックオフで再試行する。
func (c *Client) request(ctx context.Context, path string, out any) error {
	for attempt := 0; ; attempt++ {
		err := c.send(ctx, path, out)

		var apiErr *APIError
		if err == nil || attempt >= c.maxRetries || !errors.As(err, &apiErr) || !apiErr.Retryable() {
			return err
		}

		delay := backoffDelay(attempt, c.retryBase)
		if apiErr.RetryAfter > 0 && apiErr.RetryAfter <= maxRetryDelay {
			delay = apiErr.RetryAfter
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("failed to wait for retry: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

func (c *Client) send(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call ClickUp API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode ClickUp response: %w", err)
	}
	return nil
}

// APIError はClickUp APIが2xx以外を返したことを表す。
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration // Retry-Afterヘッダーの値。なければ0
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("clickup request failed (%d): %s", e.StatusCode, e.Message)
}

// errorMessage はエラーレスポンスからメッセージを取り出す。
// JSONのmessage、err の順に使い、JSONでなければ本文をそのまま返す。
func errorMessage(body []byte) string {
	var payload struct {
		Err     string `json:"err"`
		ECode   string `json:"ECODE"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(body))
	}
	switch {
	case payload.Message != "":
		return payload.Message
	case payload.Err != "":
		return payload.Err
	default:
		return "ClickUp API error"
	}
}
