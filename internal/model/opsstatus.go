package model

import (
	"fmt"
	"strings"
)

// OpsCommand はops chatで受け付けるコマンドを表す。
// 現在は "status <client> <scope>" のみ。
type OpsCommand struct {
	Type   string
	Client string
	Scope  string
}

// OpsStatusTask はタスクトラッカー上の1タスク。
type OpsStatusTask struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Assignees     []string `json:"assignees"`
	Due           string   `json:"due"`
	HoursThisWeek *float64 `json:"hoursThisWeek,omitempty"`
}

// OpsStatusColumn はカンバンの1列。Countは常にTasksの件数と一致する。
type OpsStatusColumn struct {
	Name  string          `json:"name"`
	Count int             `json:"count"`
	Tasks []OpsStatusTask `json:"tasks"`
}

// OpsDueBucket は期限ごとにまとめたタスク群。
type OpsDueBucket struct {
	Bucket string          `json:"bucket"`
	Tasks  []OpsStatusTask `json:"tasks"`
}

// OpsAssigneeLoad は担当者ごとの今週の稼働時間と想定時間。
type OpsAssigneeLoad struct {
	Name     string  `json:"name"`
	Hours    float64 `json:"hours"`
	Expected float64 `json:"expected"`
}

// OpsStatusSummary はクライアント・スコープ単位のステータス集計。
// リクエストごとに再構築され、永続化されない。
type OpsStatusSummary struct {
	Columns      []OpsStatusColumn `json:"columns"`
	DueSoon      []OpsDueBucket    `json:"dueSoon"`
	AssigneeLoad []OpsAssigneeLoad `json:"assigneeLoad"`
}

// TotalTasks は全列のCountの合計を返す。
func (s *OpsStatusSummary) TotalTasks() int {
	total := 0
	for _, c := range s.Columns {
		total += c.Count
	}
	return total
}

// Validate はサマリーがスキーマに適合するかを検証する。
func (s *OpsStatusSummary) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: summary is nil", ErrSchemaMismatch)
	}
	for _, c := range s.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("%w: column without name", ErrSchemaMismatch)
		}
		if c.Count != len(c.Tasks) {
			return fmt.Errorf("%w: column %q count %d does not match %d tasks",
				ErrSchemaMismatch, c.Name, c.Count, len(c.Tasks))
		}
		if err := validateTasks(c.Tasks); err != nil {
			return err
		}
	}
	for _, b := range s.DueSoon {
		if strings.TrimSpace(b.Bucket) == "" {
			return fmt.Errorf("%w: due bucket without name", ErrSchemaMismatch)
		}
		if err := validateTasks(b.Tasks); err != nil {
			return err
		}
	}
	for _, l := range s.AssigneeLoad {
		if l.Name == "" || l.Hours < 0 || l.Expected < 0 {
			return fmt.Errorf("%w: invalid assignee load %+v", ErrSchemaMismatch, l)
		}
	}
	return nil
}

func validateTasks(tasks []OpsStatusTask) error {
	for _, t := range tasks {
		if t.ID == "" || t.Name == "" {
			return fmt.Errorf("%w: task requires id and name", ErrSchemaMismatch)
		}
		if t.Assignees == nil {
			return fmt.Errorf("%w: task %s has nil assignees", ErrSchemaMismatch, t.ID)
		}
	}
	return nil
}

// ParseOpsCommand はチャット入力を空白で分割しコマンドとして解釈する。
// 形式は "status <client> <scope>"。client/scopeが欠けている場合はエラー。
func ParseOpsCommand(input string) (*OpsCommand, error) {
	fields := strings.Fields(input)
	if len(fields) < 3 || fields[0] != "status" {
		return nil, fmt.Errorf("%w: expected \"status <client> <scope>\"", ErrInvalidInput)
	}
	return &OpsCommand{Type: "status", Client: fields[1], Scope: fields[2]}, nil
}

// Hours はfloat64のポインタを返すヘルパー。
func Hours(h float64) *float64 {
	return &h
}
