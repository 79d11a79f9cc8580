package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ecomlabs/toolsportal/internal/chat"
	"github.com/ecomlabs/toolsportal/internal/middleware"
	"github.com/ecomlabs/toolsportal/internal/model"
	"github.com/ecomlabs/toolsportal/internal/view"
)

const (
	opsChatPath = "/tools/ops/chat"

	usageMessage = "Use the format: status <client> <scope>."
)

// ChatStore はセッションごとのチャット履歴。chat.Store が実装する。
type ChatStore interface {
	Append(sessionID string, msg chat.Message) chat.Message
	Messages(sessionID string) []chat.Message
	LatestSummary(sessionID string) *model.OpsStatusSummary
}

// OpsChatHandler はops chatページのハンドラー。
// 入力はフォームPOSTで受け取り、処理後にGETへリダイレクトする。
type OpsChatHandler struct {
	runner   *OpsStatusRunner
	store    ChatStore
	renderer view.Renderer
}

// NewOpsChatHandler はOpsChatHandlerを生成する。
func NewOpsChatHandler(runner *OpsStatusRunner, store ChatStore, renderer view.Renderer) *OpsChatHandler {
	return &OpsChatHandler{
		runner:   runner,
		store:    store,
		renderer: renderer,
	}
}

// Show はチャット履歴と最新のステータスボードを表示する。
// GET /tools/ops/chat
func (h *OpsChatHandler) Show(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := middleware.SessionFromContext(ctx)
	if session == nil {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	data := view.OpsChatPage{
		Page: view.Page{
			Profile:   middleware.ProfileFromContext(ctx),
			CSRFToken: middleware.CSRFTokenFromContext(ctx),
		},
		Messages: h.store.Messages(session.ID),
		Summary:  h.store.LatestSummary(session.ID),
	}
	if err := h.renderer.Render(w, http.StatusOK, view.PageOpsChat, data); err != nil {
		slog.Error("failed to render ops chat page", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// Send はチャット入力を解釈し、応答を履歴に追加する。
// POST /tools/ops/chat (message=status acme ppc)
func (h *OpsChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := middleware.SessionFromContext(ctx)
	if session == nil {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	input := strings.TrimSpace(r.PostFormValue("message"))
	if input == "" {
		http.Redirect(w, r, opsChatPath, http.StatusSeeOther)
		return
	}

	var name string
	if profile := middleware.ProfileFromContext(ctx); profile != nil {
		name = profile.Label()
	}
	h.store.Append(session.ID, chat.Message{Role: chat.RoleUser, Name: name, Content: input})
	h.store.Append(session.ID, h.reply(r, session, input))

	http.Redirect(w, r, opsChatPath, http.StatusSeeOther)
}

// reply は入力に対するassistantの応答を組み立てる。
func (h *OpsChatHandler) reply(r *http.Request, session *model.Session, input string) chat.Message {
	cmd, err := model.ParseOpsCommand(input)
	if err != nil {
		return chat.Message{Role: chat.RoleAssistant, Content: usageMessage}
	}

	summary, err := h.runner.Run(r.Context(), session, cmd.Client, cmd.Scope)
	if err != nil {
		if !errors.Is(err, model.ErrRateLimited) && !errors.Is(err, model.ErrForbidden) {
			slog.Error("ops chat status command failed",
				slog.String("client", cmd.Client),
				slog.String("scope", cmd.Scope),
				slog.String("error", err.Error()),
			)
		}
		return chat.Message{Role: chat.RoleAssistant, Content: model.ToAPIError(err).Message}
	}

	return chat.Message{
		Role:    chat.RoleAssistant,
		Content: summaryMessage(summary, cmd),
		Summary: summary,
	}
}

// summaryMessage は集計結果の要約文を返す。
func summaryMessage(summary *model.OpsStatusSummary, cmd *model.OpsCommand) string {
	return fmt.Sprintf("Found %d tasks across %d columns for %s (%s).",
		summary.TotalTasks(), len(summary.Columns),
		strings.ToUpper(cmd.Client), strings.ToUpper(cmd.Scope),
	)
}
