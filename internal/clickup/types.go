package clickup

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// TasksResponse はタスク一覧APIのレスポンス。
type TasksResponse struct {
	Tasks    []Task `json:"tasks"`
	LastPage bool   `json:"last_page"`
}

// Task はClickUpのタスク。ポータルで使うフィールドのみを持つ。
type Task struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Status    Status  `json:"status"`
	Assignees []User  `json:"assignees"`
	Tags      []Tag   `json:"tags"`
	DueDate   *string `json:"due_date"` // UNIXミリ秒の文字列。未設定はnull
}

// Status はタスクのステータス。
type Status struct {
	Status     string `json:"status"`
	Type       string `json:"type"`
	OrderIndex int    `json:"orderindex"`
}

// User はタスクの担当者。
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Tag はタスクに付与されたタグ。
type Tag struct {
	Name string `json:"name"`
}

// Name は担当者の表示名を返す。ユーザー名がなければメールアドレスを使う。
func (u User) Name() string {
	if strings.TrimSpace(u.Username) != "" {
		return u.Username
	}
	return u.Email
}

// Due は期限を返す。未設定または解釈できない場合はfalse。
func (t *Task) Due() (time.Time, bool) {
	if t.DueDate == nil || *t.DueDate == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(*t.DueDate, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

// HasTag はタグを大文字小文字を区別せずに検索する。
func (t *Task) HasTag(name string) bool {
	for _, tag := range t.Tags {
		if strings.EqualFold(tag.Name, name) {
			return true
		}
	}
	return false
}

// TimeEntriesResponse は時間記録一覧APIのレスポンス。
type TimeEntriesResponse struct {
	Data []TimeEntry `json:"data"`
}

// TimeEntry は1件の時間記録。タスクに紐付かない記録はTaskがnilになる。
type TimeEntry struct {
	ID       string         `json:"id"`
	Task     *TimeEntryTask `json:"task"`
	User     User           `json:"user"`
	Start    json.Number    `json:"start"`    // UNIXミリ秒
	Duration json.Number    `json:"duration"` // ミリ秒。計測中のタイマーは負の値
}

// TimeEntryTask は時間記録が紐付くタスク。
type TimeEntryTask struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Hours は記録時間を時間単位で返す。計測中または解釈できない場合は0。
func (e *TimeEntry) Hours() float64 {
	ms, err := e.Duration.Int64()
	if err != nil || ms <= 0 {
		return 0
	}
	return time.Duration(ms * int64(time.Millisecond)).Hours()
}

// TaskID は紐付くタスクのIDを返す。タスクに紐付かない記録は空文字。
func (e *TimeEntry) TaskID() string {
	if e.Task == nil {
		return ""
	}
	return e.Task.ID
}
