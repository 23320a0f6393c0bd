package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/smartbot/internal/app"
	"github.com/sakif/smartbot/internal/apperror"
	"github.com/sakif/smartbot/internal/chat"
	"github.com/sakif/smartbot/internal/model"
)

type chatView struct {
	Stores   []string
	Messages []chat.Message
}

// ChatHandler serves the chat page and the JSON comparison endpoint. Both
// sit behind the authenticated and has-selection guards.
type ChatHandler struct {
	views  *Views
	logger *slog.Logger
}

func NewChatHandler(views *Views, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{views: views, logger: logger}
}

func (h *ChatHandler) page(a *app.App, errMsg string) Page {
	return Page{
		Title:  "Chat",
		Alerts: a.TakeAlerts(),
		Error:  errMsg,
		Data: chatView{
			Stores:   a.Catalog.Names(a.Selection.Has),
			Messages: a.Chat.Messages(),
		},
	}
}

// HandleChat renders the conversation.
//
// HTTP: GET /chat
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	a := clientApp(w, r)
	if a == nil {
		return
	}
	h.views.render(w, http.StatusOK, pageChat, h.page(a, ""))
}

// HandleSend posts a message and redirects back to the conversation.
// Comparison failures arrive as an apology message, not an error.
//
// HTTP: POST /chat
func (h *ChatHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	a := clientApp(w, r)
	if a == nil {
		return
	}
	_, err := a.Chat.Send(r.Context(), r.PostFormValue("message"), a.Selection)
	if errors.Is(err, chat.ErrBusy) {
		h.views.render(w, http.StatusConflict, pageChat, h.page(a, "Still working on your last question."))
		return
	}
	redirect(w, r, "/chat")
}

// CompareRequest is the body of POST /api/compare.
type CompareRequest struct {
	Prompt string `json:"prompt"`
}

// HandleCompare is the JSON form of HandleSend. It answers with the AI
// message.
//
// HTTP: POST /api/compare
func (h *ChatHandler) HandleCompare(w http.ResponseWriter, r *http.Request) {
	a := clientApp(w, r)
	if a == nil {
		return
	}

	var req CompareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid compare request body", slog.String("error", err.Error()))
		writeError(w, apperror.ValidationFailed("body", "invalid request body"))
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, apperror.ValidationFailed("prompt", "prompt is required"))
		return
	}

	reply, err := a.Chat.Send(r.Context(), req.Prompt, a.Selection)
	if err != nil {
		if errors.Is(err, chat.ErrBusy) {
			writeError(w, &apperror.AppError{Err: apperror.ErrConflict, Message: "a comparison is already in progress"})
			return
		}
		writeError(w, err)
		return
	}
	if reply == nil {
		// signed out while the comparison ran
		writeError(w, &apperror.AppError{Err: apperror.ErrConflict, Message: "the conversation was reset"})
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// MeResponse describes the signed-in client.
type MeResponse struct {
	Profile   *model.Profile `json:"profile"`
	Selection []string       `json:"selection"`
}

// HandleMe returns the committed profile and the selected store ids.
//
// HTTP: GET /api/me (authenticated)
func HandleMe(w http.ResponseWriter, r *http.Request) {
	a := clientApp(w, r)
	if a == nil {
		return
	}
	s := a.Session.Snapshot()
	if !s.Authenticated() {
		writeError(w, apperror.Unauthorized("not signed in"))
		return
	}
	writeJSON(w, http.StatusOK, MeResponse{Profile: s.Profile, Selection: a.Selection.IDs()})
}

// HandleHealth reports liveness.
//
// HTTP: GET /healthz
func HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
