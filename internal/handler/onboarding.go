package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/smartbot/internal/app"
	"github.com/sakif/smartbot/internal/model"
)

// Onboarding form actions.
const (
	actionToggle    = "toggle"
	actionSelectAll = "select-all"
	actionContinue  = "continue"
)

type storeOption struct {
	model.Store
	Selected bool
}

type onboardingView struct {
	Stores      []storeOption
	Count       int
	AllSelected bool
}

// OnboardingHandler lets a signed-in user choose the stores to compare.
type OnboardingHandler struct {
	views  *Views
	logger *slog.Logger
}

func NewOnboardingHandler(views *Views, logger *slog.Logger) *OnboardingHandler {
	return &OnboardingHandler{views: views, logger: logger}
}

func (h *OnboardingHandler) view(a *app.App) onboardingView {
	stores := a.Catalog.Stores()
	v := onboardingView{Stores: make([]storeOption, 0, len(stores)), Count: a.Selection.Len()}
	for _, s := range stores {
		v.Stores = append(v.Stores, storeOption{Store: s, Selected: a.Selection.Has(s.ID)})
	}
	v.AllSelected = v.Count == a.Catalog.Len()
	return v
}

// HandleOnboarding renders the store picker.
//
// HTTP: GET /onboarding
func (h *OnboardingHandler) HandleOnboarding(w http.ResponseWriter, r *http.Request) {
	a := clientApp(w, r)
	if a == nil {
		return
	}
	h.views.render(w, http.StatusOK, pageOnboarding, Page{
		Title:  "Choose stores",
		Alerts: a.TakeAlerts(),
		Data:   h.view(a),
	})
}

// HandleSelect applies one picker action and redirects back, or on to the
// chat once at least one store is selected.
//
// HTTP: POST /onboarding (action=toggle&store=ID | action=select-all | action=continue)
func (h *OnboardingHandler) HandleSelect(w http.ResponseWriter, r *http.Request) {
	a := clientApp(w, r)
	if a == nil {
		return
	}

	switch action := r.PostFormValue("action"); action {
	case actionToggle:
		id := r.PostFormValue("store")
		if id == "" {
			http.Error(w, "missing store", http.StatusBadRequest)
			return
		}
		a.Selection.Toggle(id)
	case actionSelectAll:
		a.Selection.SelectAll(a.Catalog.IDs())
	case actionContinue:
		if a.HasSelection() {
			redirect(w, r, "/chat")
			return
		}
		h.views.render(w, http.StatusUnprocessableEntity, pageOnboarding, Page{
			Title: "Choose stores",
			Error: "Please select at least one store to continue.",
			Data:  h.view(a),
		})
		return
	default:
		h.logger.Warn("unknown onboarding action", slog.String("action", action))
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}
	redirect(w, r, "/onboarding")
}
