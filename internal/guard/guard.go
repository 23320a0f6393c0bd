// Package guard gates views behind predicates and redirects when a
// predicate fails.
package guard

import (
	"net/http"

	"github.com/sakif/smartbot/internal/metrics"
)

// Decision is the outcome of a guard check.
type Decision struct {
	Allowed    bool
	RedirectTo string
}

// Check allows when isAllowed is true and otherwise redirects to
// redirectTo.
func Check(isAllowed bool, redirectTo string) Decision {
	if isAllowed {
		return Decision{Allowed: true}
	}
	return Decision{RedirectTo: redirectTo}
}

// Predicate decides whether r may proceed.
type Predicate func(r *http.Request) bool

// Redirect answers with 303 See Other. The denied URL never becomes a
// history entry: the browser follows the redirect and stores only the
// target. no-store keeps the denied response out of the back/forward cache.
func Redirect(w http.ResponseWriter, r *http.Request, target string) {
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// Require builds middleware that runs the wrapped handler only when allow
// passes. Requests asking for JSON get 401 with a Location header instead
// of a redirect.
func Require(allow Predicate, redirectTo string, rec metrics.Recorder) func(http.Handler) http.Handler {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := Check(allow(r), redirectTo)
			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}
			rec.RecordGuardRedirect(d.RedirectTo)
			if wantsJSON(r) {
				w.Header().Set("Location", d.RedirectTo)
				w.Header().Set("Cache-Control", "no-store")
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			Redirect(w, r, d.RedirectTo)
		})
	}
}

func wantsJSON(r *http.Request) bool {
	return r.Header.Get("Accept") == "application/json" ||
		r.Header.Get("Content-Type") == "application/json"
}
