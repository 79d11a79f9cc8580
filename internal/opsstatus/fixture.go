package opsstatus

import (
	"context"
	"fmt"
	"time"

	"github.com/ecomlabs/toolsportal/internal/model"
)

// FixtureSource はClickUp未設定時に使う決定的なサンプル集計を返す。
// 期限はnowの週を基準に算出する。
type FixtureSource struct {
	now func() time.Time
}

// NewFixtureSource はFixtureSourceを生成する。
func NewFixtureSource() *FixtureSource {
	return &FixtureSource{now: time.Now}
}

// Name はデータソース名を返す。
func (f *FixtureSource) Name() string {
	return "fixture"
}

// Fetch はclient/scopeをタスクIDに埋め込んだサンプル集計を返す。
func (f *FixtureSource) Fetch(_ context.Context, client, scope string) (*model.OpsStatusSummary, error) {
	today := startOfDay(f.now())
	due := func(days int) string {
		return today.AddDate(0, 0, days).Format(dueDateLayout)
	}
	id := func(n int) string {
		return fmt.Sprintf("%s-%s-%d", client, scope, n)
	}

	audit := model.OpsStatusTask{ID: id(1), Name: fmt.Sprintf("Audit %s account structure", client), Assignees: []string{"Alex"}, Due: due(4)}
	feedCleanup := model.OpsStatusTask{ID: id(5), Name: "Clean up product feed titles", Assignees: []string{"Alex"}, Due: due(6)}
	budgets := model.OpsStatusTask{ID: id(6), Name: "Draft next month budget split", Assignees: []string{}, Due: due(9)}
	experiment := model.OpsStatusTask{ID: id(2), Name: "Launch experiment set B", Assignees: []string{"Jordan", "Priya"}, Due: due(2), HoursThisWeek: model.Hours(6.5)}
	negatives := model.OpsStatusTask{ID: id(7), Name: "Refresh negative keyword lists", Assignees: []string{"Priya"}, Due: due(3), HoursThisWeek: model.Hours(3)}
	adCopy := model.OpsStatusTask{ID: id(3), Name: "QA refreshed ad copy", Assignees: []string{"Morgan"}, Due: due(1)}
	assets := model.OpsStatusTask{ID: id(4), Name: "Awaiting client assets", Assignees: []string{"Taylor"}, Due: due(7)}

	return &model.OpsStatusSummary{
		Columns: []model.OpsStatusColumn{
			{Name: "Ready", Count: 3, Tasks: []model.OpsStatusTask{audit, feedCleanup, budgets}},
			{Name: "In progress", Count: 2, Tasks: []model.OpsStatusTask{experiment, negatives}},
			{Name: "Review", Count: 1, Tasks: []model.OpsStatusTask{adCopy}},
			{Name: "Blocked", Count: 1, Tasks: []model.OpsStatusTask{assets}},
		},
		DueSoon: []model.OpsDueBucket{
			{Bucket: BucketDueThisWeek, Tasks: []model.OpsStatusTask{adCopy, experiment, negatives}},
		},
		AssigneeLoad: []model.OpsAssigneeLoad{
			{Name: "Jordan", Hours: 18, Expected: 24},
			{Name: "Priya", Hours: 22, Expected: 24},
			{Name: "Alex", Hours: 12, Expected: 24},
		},
	}, nil
}

// compile-time interface check
var _ Source = (*FixtureSource)(nil)
