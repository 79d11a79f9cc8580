package view

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/net/html"

	"github.com/ecomlabs/toolsportal/internal/chat"
	"github.com/ecomlabs/toolsportal/internal/model"
)

// --- HTML検査ヘルパー ---

func parseBody(t *testing.T, rec *httptest.ResponseRecorder) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(rec.Body.String()))
	if err != nil {
		t.Fatalf("failed to parse rendered HTML: %v", err)
	}
	return doc
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" {
			for _, c := range strings.Fields(a.Val) {
				if c == class {
					return true
				}
			}
		}
	}
	return false
}

func findByClass(n *html.Node, class string) []*html.Node {
	var found []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && hasClass(n, class) {
			found = append(found, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return found
}

func findByTag(n *html.Node, tag string) []*html.Node {
	var found []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag {
			found = append(found, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return found
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func newTestRenderer(t *testing.T) *HTMLRenderer {
	t.Helper()
	r, err := NewHTMLRenderer()
	if err != nil {
		t.Fatalf("NewHTMLRenderer returned error: %v", err)
	}
	return r
}

func testProfile() *model.Profile {
	return &model.Profile{
		ID:          "6f1c1a52-4d7e-4b1a-9a8e-0d4e2f6b9c10",
		Email:       "jordan@ecomlabs.ca",
		DisplayName: "Jordan Lee",
		Role:        model.RoleAdmin,
	}
}

// --- テスト ---

func TestRender_UnknownPage(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := newTestRenderer(t).Render(rec, http.StatusOK, "missing", nil); err == nil {
		t.Error("expected error for unknown page")
	}
	if rec.Body.Len() != 0 {
		t.Error("nothing should be written on error")
	}
}

func TestRender_Login_DomainError(t *testing.T) {
	rec := httptest.NewRecorder()
	data := LoginPage{ErrorMessage: DomainErrorMessage("ecomlabs.ca"), Next: "/tools/ops/chat"}

	if err := newTestRenderer(t).Render(rec, http.StatusOK, PageLogin, data); err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}

	doc := parseBody(t, rec)
	errs := findByClass(doc, "error")
	if len(errs) != 1 || textContent(errs[0]) != "Please sign in with your @ecomlabs.ca Google account." {
		t.Errorf("error message nodes = %d", len(errs))
	}
	if len(findByClass(doc, "site-nav")) != 0 {
		t.Error("navigation should not be shown without a profile")
	}

	var next string
	for _, in := range findByTag(doc, "input") {
		if attr(in, "name") == "next" {
			next = attr(in, "value")
		}
	}
	if next != "/tools/ops/chat" {
		t.Errorf("next = %q, want /tools/ops/chat", next)
	}
}

func TestRender_Login_NoError(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := newTestRenderer(t).Render(rec, http.StatusOK, PageLogin, LoginPage{}); err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if len(findByClass(parseBody(t, rec), "error")) != 0 {
		t.Error("no error message expected")
	}
}

func TestRender_Dashboard_Greeting(t *testing.T) {
	tests := []struct {
		name    string
		profile *model.Profile
		want    string
	}{
		{"display name", testProfile(), "Hi Jordan Lee"},
		{"email fallback", &model.Profile{ID: "x", Email: "priya@ecomlabs.ca"}, "Hi priya@ecomlabs.ca"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			data := DashboardPage{Page: Page{Profile: tt.profile, CSRFToken: "tok"}}
			if err := newTestRenderer(t).Render(rec, http.StatusOK, PageDashboard, data); err != nil {
				t.Fatalf("Render returned error: %v", err)
			}

			doc := parseBody(t, rec)
			h1 := findByTag(doc, "h1")
			if len(h1) != 1 || textContent(h1[0]) != tt.want {
				t.Errorf("greeting = %q, want %q", textContent(h1[0]), tt.want)
			}

			var csrf string
			for _, in := range findByTag(doc, "input") {
				if attr(in, "name") == "csrf_token" {
					csrf = attr(in, "value")
				}
			}
			if csrf != "tok" {
				t.Errorf("sign-out csrf_token = %q, want tok", csrf)
			}
		})
	}
}

func TestGreeting_NoProfile(t *testing.T) {
	if got := greeting(nil); got != "there" {
		t.Errorf("greeting(nil) = %q, want there", got)
	}
}

func TestRender_Forbidden_Status(t *testing.T) {
	rec := httptest.NewRecorder()
	data := ForbiddenPage{Page: Page{Profile: testProfile()}}
	if err := newTestRenderer(t).Render(rec, http.StatusForbidden, PageForbidden, data); err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "You do not have access to this tool") {
		t.Error("forbidden message missing")
	}
}

func TestRender_OpsChat_Empty(t *testing.T) {
	rec := httptest.NewRecorder()
	data := OpsChatPage{Page: Page{Profile: testProfile()}}
	if err := newTestRenderer(t).Render(rec, http.StatusOK, PageOpsChat, data); err != nil {
		t.Fatalf("Render returned error: %v", err)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "Type a command to begin.") {
		t.Error("empty transcript hint missing")
	}
	if !strings.Contains(body, "Run a status command to see the latest board.") {
		t.Error("empty board hint missing")
	}
}

func TestRender_OpsChat_TranscriptAndBoard(t *testing.T) {
	summary := &model.OpsStatusSummary{
		Columns: []model.OpsStatusColumn{
			{Name: "Ready", Count: 1, Tasks: []model.OpsStatusTask{
				{ID: "t-1", Name: "<b>Audit</b>", Assignees: []string{}, Due: "2024-05-15"},
			}},
			{Name: "In progress", Count: 1, Tasks: []model.OpsStatusTask{
				{ID: "t-2", Name: "Launch", Assignees: []string{"Jordan", "Priya"}, Due: "2024-05-13", HoursThisWeek: model.Hours(6.5)},
			}},
			{Name: "Blocked", Count: 0, Tasks: []model.OpsStatusTask{}},
		},
	}
	data := OpsChatPage{
		Page: Page{Profile: testProfile()},
		Messages: []chat.Message{
			{ID: "01", Role: chat.RoleUser, Name: "Jordan Lee", Content: "status acme ppc"},
			{ID: "02", Role: chat.RoleAssistant, Content: "Found 2 tasks across 3 columns for ACME (PPC).", Summary: summary},
		},
		Summary: summary,
	}

	rec := httptest.NewRecorder()
	if err := newTestRenderer(t).Render(rec, http.StatusOK, PageOpsChat, data); err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	doc := parseBody(t, rec)

	bubbles := findByClass(doc, "chat-bubble")
	if len(bubbles) != 2 {
		t.Fatalf("bubbles = %d, want 2", len(bubbles))
	}
	if !hasClass(bubbles[0], "chat-bubble-user") || !hasClass(bubbles[1], "chat-bubble-assistant") {
		t.Error("bubble alignment classes are wrong")
	}
	if names := findByClass(bubbles[0], "chat-bubble-name"); len(names) != 1 || textContent(names[0]) != "Jordan Lee" {
		t.Error("user bubble should show the name")
	}
	if names := findByClass(bubbles[1], "chat-bubble-name"); len(names) != 0 {
		t.Error("assistant bubble without name should not render a name")
	}

	columns := findByClass(doc, "kanban-column")
	if len(columns) != 3 {
		t.Fatalf("columns = %d, want 3", len(columns))
	}
	if got := textContent(findByClass(columns[0], "kanban-column-count")[0]); got != "1" {
		t.Errorf("count = %q, want 1", got)
	}

	ready := findByClass(columns[0], "kanban-task")[0]
	if got := textContent(findByClass(ready, "kanban-task-name")[0]); got != "<b>Audit</b>" {
		t.Errorf("task name = %q, want escaped text", got)
	}
	if got := textContent(findByClass(ready, "kanban-task-meta")[0]); got != "Unassigned · Due 2024-05-15" {
		t.Errorf("meta = %q", got)
	}
	if len(findByClass(ready, "kanban-task-hours")) != 0 {
		t.Error("hours line should be omitted without hoursThisWeek")
	}

	progress := findByClass(columns[1], "kanban-task")[0]
	if got := textContent(findByClass(progress, "kanban-task-meta")[0]); got != "Jordan, Priya · Due 2024-05-13" {
		t.Errorf("meta = %q", got)
	}
	if got := textContent(findByClass(progress, "kanban-task-hours")[0]); got != "6.5h this week" {
		t.Errorf("hours = %q, want 6.5h this week", got)
	}

	if empty := findByClass(columns[2], "kanban-empty"); len(empty) != 1 || textContent(empty[0]) != "No tasks." {
		t.Error("empty column should show No tasks.")
	}
}

func TestHours_OneDecimal(t *testing.T) {
	if got := hours(model.Hours(6)); got != "6.0" {
		t.Errorf("hours(6) = %q, want 6.0", got)
	}
	if got := hours(nil); got != "" {
		t.Errorf("hours(nil) = %q, want empty", got)
	}
}

func TestStaticHandler_ServesStylesheet(t *testing.T) {
	rec := httptest.NewRecorder()
	StaticHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/portal.css", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), ".kanban-board") {
		t.Error("stylesheet content missing")
	}
}
