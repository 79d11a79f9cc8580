package opsstatus

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"time"

	"github.com/ecomlabs/toolsportal/internal/clickup"
	"github.com/ecomlabs/toolsportal/internal/model"
	"github.com/ecomlabs/toolsportal/internal/security"
)

// 期限バケット名。
const (
	BucketOverdue     = "Overdue"
	BucketDueThisWeek = "Due this week"
	BucketDueNextWeek = "Due next week"
)

const (
	dueDateLayout = "2006-01-02"
	// maxPages はClickUpから取得する最大ページ数（1ページ100件）。
	maxPages = 5
	// maxTextRunes はタスク名・担当者名・列名の最大文字数。
	maxTextRunes = 200
)

// TaskFetcher はClickUpのタスク検索と時間記録のAPI。*clickup.Client が実装する。
type TaskFetcher interface {
	GetTeamFilteredTasks(ctx context.Context, teamID string, params url.Values) (*clickup.TasksResponse, error)
	GetTimeEntries(ctx context.Context, teamID string, start, end time.Time, assigneeIDs []int64) (*clickup.TimeEntriesResponse, error)
}

// ClickUpSource はClickUpのタスクから集計を組み立てるデータソース。
// clientタグで検索し、scopeタグも付いたタスクのみを対象とする。
type ClickUpSource struct {
	fetcher       TaskFetcher
	teamID        string
	expectedHours float64
	sanitizer     security.TextSanitizer
	now           func() time.Time
}

// NewClickUpSource はClickUpSourceを生成する。
func NewClickUpSource(fetcher TaskFetcher, teamID string, expectedHours float64, sanitizer security.TextSanitizer) *ClickUpSource {
	return &ClickUpSource{
		fetcher:       fetcher,
		teamID:        teamID,
		expectedHours: expectedHours,
		sanitizer:     sanitizer,
		now:           time.Now,
	}
}

// Name はデータソース名を返す。
func (s *ClickUpSource) Name() string {
	return "clickup"
}

// Fetch はClickUpからタスクを取得して集計する。
func (s *ClickUpSource) Fetch(ctx context.Context, client, scope string) (*model.OpsStatusSummary, error) {
	tasks, err := s.fetchTasks(ctx, client)
	if err != nil {
		return nil, err
	}

	scoped := make([]clickup.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.HasTag(scope) {
			scoped = append(scoped, t)
		}
	}

	weekHours, err := s.fetchWeekHours(ctx, scoped)
	if err != nil {
		return nil, err
	}

	return s.summarize(scoped, weekHours), nil
}

// fetchWeekHours は今週（月曜0時UTCから現在まで）の記録時間をタスクIDごとに合計する。
// 対象タスクの担当者の記録のみを取得する。
func (s *ClickUpSource) fetchWeekHours(ctx context.Context, tasks []clickup.Task) (map[string]float64, error) {
	hours := map[string]float64{}

	var assigneeIDs []int64
	seen := map[int64]bool{}
	for _, t := range tasks {
		for _, a := range t.Assignees {
			if !seen[a.ID] {
				seen[a.ID] = true
				assigneeIDs = append(assigneeIDs, a.ID)
			}
		}
	}
	if len(assigneeIDs) == 0 {
		return hours, nil
	}

	now := s.now().UTC()
	resp, err := s.fetcher.GetTimeEntries(ctx, s.teamID, startOfWeek(startOfDay(now)), now, assigneeIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch time entries: %w", err)
	}
	for i := range resp.Data {
		entry := &resp.Data[i]
		if id := entry.TaskID(); id != "" {
			hours[id] += entry.Hours()
		}
	}
	return hours, nil
}

// fetchTasks はclientタグの付いた未完了タスクを全ページ取得する。
func (s *ClickUpSource) fetchTasks(ctx context.Context, client string) ([]clickup.Task, error) {
	var all []clickup.Task
	for page := 0; page < maxPages; page++ {
		params := url.Values{}
		params.Add("tags[]", client)
		params.Set("include_closed", "false")
		params.Set("subtasks", "true")
		params.Set("page", strconv.Itoa(page))

		resp, err := s.fetcher.GetTeamFilteredTasks(ctx, s.teamID, params)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch tasks page %d: %w", page, err)
		}
		all = append(all, resp.Tasks...)
		if resp.LastPage || len(resp.Tasks) == 0 {
			break
		}
	}
	return all, nil
}

// summarize はタスクを列・期限バケット・担当者負荷に集計する。
// weekHoursはタスクIDごとの今週の記録時間。列と担当者はタスクに最初に現れた順に並ぶ。
func (s *ClickUpSource) summarize(tasks []clickup.Task, weekHours map[string]float64) *model.OpsStatusSummary {
	summary := &model.OpsStatusSummary{
		Columns:      []model.OpsStatusColumn{},
		DueSoon:      []model.OpsDueBucket{},
		AssigneeLoad: []model.OpsAssigneeLoad{},
	}

	columnIndex := map[string]int{}
	buckets := map[string][]model.OpsStatusTask{}
	loadIndex := map[string]int{}

	today := startOfDay(s.now())
	thisWeek := startOfWeek(today)
	nextWeek := thisWeek.AddDate(0, 0, 7)
	weekAfter := nextWeek.AddDate(0, 0, 7)

	for i := range tasks {
		task := &tasks[i]
		hours := weekHours[task.ID]
		converted := s.convertTask(task, hours)

		status := s.sanitizer.Sanitize(task.Status.Status, maxTextRunes)
		if status == "" {
			status = "No status"
		}
		idx, ok := columnIndex[status]
		if !ok {
			idx = len(summary.Columns)
			columnIndex[status] = idx
			summary.Columns = append(summary.Columns, model.OpsStatusColumn{Name: status, Tasks: []model.OpsStatusTask{}})
		}
		summary.Columns[idx].Tasks = append(summary.Columns[idx].Tasks, converted)
		summary.Columns[idx].Count = len(summary.Columns[idx].Tasks)

		if due, ok := task.Due(); ok {
			switch {
			case due.Before(today):
				buckets[BucketOverdue] = append(buckets[BucketOverdue], converted)
			case due.Before(nextWeek):
				buckets[BucketDueThisWeek] = append(buckets[BucketDueThisWeek], converted)
			case due.Before(weekAfter):
				buckets[BucketDueNextWeek] = append(buckets[BucketDueNextWeek], converted)
			}
		}

		// 今週の記録時間は担当者で均等に按分する
		for _, name := range converted.Assignees {
			li, ok := loadIndex[name]
			if !ok {
				li = len(summary.AssigneeLoad)
				loadIndex[name] = li
				summary.AssigneeLoad = append(summary.AssigneeLoad, model.OpsAssigneeLoad{Name: name, Expected: s.expectedHours})
			}
			summary.AssigneeLoad[li].Hours += hours / float64(len(converted.Assignees))
		}
	}

	for _, name := range []string{BucketOverdue, BucketDueThisWeek, BucketDueNextWeek} {
		if len(buckets[name]) > 0 {
			summary.DueSoon = append(summary.DueSoon, model.OpsDueBucket{Bucket: name, Tasks: buckets[name]})
		}
	}
	for i := range summary.AssigneeLoad {
		summary.AssigneeLoad[i].Hours = roundTenth(summary.AssigneeLoad[i].Hours)
	}

	return summary
}

func (s *ClickUpSource) convertTask(task *clickup.Task, hoursThisWeek float64) model.OpsStatusTask {
	converted := model.OpsStatusTask{
		ID:        task.ID,
		Name:      s.sanitizer.Sanitize(task.Name, maxTextRunes),
		Assignees: make([]string, 0, len(task.Assignees)),
	}
	if converted.Name == "" {
		converted.Name = "(untitled)"
	}
	for _, a := range task.Assignees {
		if name := s.sanitizer.Sanitize(a.Name(), maxTextRunes); name != "" {
			converted.Assignees = append(converted.Assignees, name)
		}
	}
	if due, ok := task.Due(); ok {
		converted.Due = due.Format(dueDateLayout)
	}
	if hoursThisWeek > 0 {
		converted.HoursThisWeek = model.Hours(roundTenth(hoursThisWeek))
	}
	return converted
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// startOfWeek は月曜始まりの週の初日を返す。
func startOfWeek(day time.Time) time.Time {
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

// compile-time interface check
var (
	_ Source      = (*ClickUpSource)(nil)
	_ TaskFetcher = (*clickup.Client)(nil)
)
