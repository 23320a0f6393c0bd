package guard

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func TestCheck(t *testing.T) {
	assert.Equal(t, Decision{Allowed: true}, Check(true, "/login"))
	assert.Equal(t, Decision{RedirectTo: "/login"}, Check(false, "/login"))
}

// funnel mirrors the production nesting: authenticated, then a non-empty
// selection.
func funnel(authed, selected *bool) http.Handler {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(Require(func(*http.Request) bool { return *authed }, "/login", nil))
		r.Get("/onboarding", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("onboarding"))
		})
		r.Group(func(r chi.Router) {
			r.Use(Require(func(*http.Request) bool { return *selected }, "/onboarding", nil))
			r.Get("/chat", func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("chat"))
			})
		})
	})
	return r
}

func TestRequire_Funnel(t *testing.T) {
	tests := []struct {
		name     string
		authed   bool
		selected bool
		path     string
		wantCode int
		wantLoc  string
		wantBody string
	}{
		{"anonymous chat", false, false, "/chat", http.StatusSeeOther, "/login", ""},
		{"anonymous onboarding", false, false, "/onboarding", http.StatusSeeOther, "/login", ""},
		{"outer short-circuits inner", false, true, "/chat", http.StatusSeeOther, "/login", ""},
		{"authed without selection", true, false, "/chat", http.StatusSeeOther, "/onboarding", ""},
		{"authed onboarding", true, false, "/onboarding", http.StatusOK, "", "onboarding"},
		{"authed with selection", true, true, "/chat", http.StatusOK, "", "chat"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authed, selected := tt.authed, tt.selected
			rec := httptest.NewRecorder()
			funnel(&authed, &selected).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantLoc, rec.Header().Get("Location"))
			if tt.wantCode == http.StatusSeeOther {
				assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
			} else {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestRequire_JSONClients(t *testing.T) {
	h := Require(func(*http.Request) bool { return false }, "/login", nil)(http.NotFoundHandler())
	req := httptest.NewRequest(http.MethodPost, "/api/compare", nil)
	req.Header.Set("Accept", "application/json")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}
