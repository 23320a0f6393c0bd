package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/xid"

	"github.com/sakif/smartbot/internal/app"
	"github.com/sakif/smartbot/internal/forms"
	"github.com/sakif/smartbot/internal/guard"
	"github.com/sakif/smartbot/internal/identity"
	"github.com/sakif/smartbot/internal/service"
)

const oauthStateCookie = "sb_oauth_state"

// AuthHandler serves the sign-in, registration and password reset pages
// and the OAuth redirect pair.
//
// No handler here touches session state. A successful flow changes the
// client's gateway principal; the session store sees that through its
// subscription, and the registry middleware waits for it on the next
// request.
type AuthHandler struct {
	views     *Views
	auth      *service.AuthService
	providers []string
	secure    bool
	logger    *slog.Logger
}

// NewAuthHandler creates an AuthHandler. providers lists the OAuth
// providers to offer on the login and register pages.
func NewAuthHandler(views *Views, auth *service.AuthService, providers []string, secureCookies bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		views:     views,
		auth:      auth,
		providers: providers,
		secure:    secureCookies,
		logger:    logger,
	}
}

func (h *AuthHandler) page(a *app.App, title string, values map[string]string) Page {
	return Page{
		Title:     title,
		Alerts:    a.TakeAlerts(),
		Values:    values,
		Providers: h.providers,
	}
}

// finish stores the gateway's current token and follows the outcome.
func (h *AuthHandler) finish(w http.ResponseWriter, r *http.Request, a *app.App, out service.Outcome) {
	app.SetTokenCookie(w, a.Gateway.IDToken(), h.secure)
	// An empty banner clears one left over from an earlier flow.
	a.SetBanner(out.Banner)
	redirect(w, r, out.RedirectTo)
}

// HandleLoginPage renders the sign-in form with any pending alert or
// banner. A signed-in client with no banner to show goes straight to
// onboarding.
//
// HTTP: GET /login
func (h *AuthHandler) HandleLoginPage(w http.ResponseWriter, r *http.Request) {
	a := clientApp(w, r)
	if a == nil {
		return
	}
	banner := a.TakeBanner()
	if banner == "" && a.Authenticated() {
		guard.Redirect(w, r, service.PathOnboarding)
		return
	}
	p := h.page(a, "Sign in", nil)
	p.Banner = banner
	h.views.render(w, http.StatusOK, pageLogin, p)
}

// HandleLogin signs in with email and password.
//
// HTTP: POST /login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	a := clientApp(w, r)
	if a == nil {
		return
	}
	f := forms.Login{
		Email:    r.PostFormValue(forms.FieldEmail),
		Password: r.PostFormValue(forms.FieldPassword),
	}
	out, err := h.auth.Login(r.Context(), a.Gateway, f)
	if err != nil {
		h.views.renderForm(w, pageLogin, h.page(a, "Sign in", map[string]string{forms.FieldEmail: f.Email}), err)
		return
	}
	h.finish(w, r, a, out)
}

// HTTP: GET /register
func (h *AuthHandler) HandleRegisterPage(w http.ResponseWriter, r *http.Request) {
	a := clientApp(w, r)
	if a == nil {
		return
	}
	h.views.render(w, http.StatusOK, pageRegister, h.page(a, "Create an account", nil))
}

// HandleRegister creates an account and returns to the login page with a
// banner; the new user signs in explicitly.
//
// HTTP: POST /register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	a := clientApp(w, r)
	if a == nil {
		return
	}
	f := forms.Register{
		FullName:        r.PostFormValue(forms.FieldFullName),
		Email:           r.PostFormValue(forms.FieldEmail),
		Password:        r.PostFormValue(forms.FieldPassword),
		ConfirmPassword: r.PostFormValue(forms.FieldConfirmPassword),
	}
	out, err := h.auth.Register(r.Context(), a.Gateway, f)
	if err != nil {
		values := map[string]string{forms.FieldFullName: f.FullName, forms.FieldEmail: f.Email}
		h.views.renderForm(w, pageRegister, h.page(a, "Create an account", values), err)
		return
	}
	h.finish(w, r, a, out)
}

// HTTP: GET /forgot-password
func (h *AuthHandler) HandleForgotPasswordPage(w http.ResponseWriter, r *http.Request) {
	a := clientApp(w, r)
	if a == nil {
		return
	}
	h.views.render(w, http.StatusOK, pageForgotPassword, h.page(a, "Forgot password", nil))
}

// HandleForgotPassword sends a reset code and moves to code entry.
//
// HTTP: POST /forgot-password
func (h *AuthHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	a := clientApp(w, r)
	if a == nil {
		return
	}
	f := forms.ForgotPassword{Email: r.PostFormValue(forms.FieldEmail)}
	out, err := h.auth.ForgotPassword(r.Context(), a.Gateway, f)
	if err != nil {
		h.views.renderForm(w, pageForgotPassword, h.page(a, "Forgot password", map[string]string{forms.FieldEmail: f.Email}), err)
		return
	}
	a.BeginReset(f.Email)
	redirect(w, r, out.RedirectTo)
}

// HandleVerifyCodePage renders code entry for the reset this client
// started. The ?email= query is informational; the address always comes
// from the client's own reset state.
//
// HTTP: GET /verify-code?email=
func (h *AuthHandler) HandleVerifyCodePage(w http.ResponseWriter, r *http.Request) {
	a := clientApp(w, r)
	if a == nil {
		return
	}
	email, _ := a.ResetState()
	if email == "" {
		redirect(w, r, "/forgot-password")
		return
	}
	h.views.render(w, http.StatusOK, pageVerifyCode, h.page(a, "Verify code", map[string]string{forms.FieldEmail: email}))
}

// HandleVerifyCode checks the emailed code against the reset this client
// started. Clients without one are sent back to /forgot-password.
//
// HTTP: POST /verify-code
func (h *AuthHandler) HandleVerifyCode(w http.ResponseWriter, r *http.Request) {
	a := clientApp(w, r)
	if a == nil {
		return
	}
	email, _ := a.ResetState()
	if email == "" {
		redirect(w, r, "/forgot-password")
		return
	}
	f := forms.Verification{Code: r.PostFormValue(forms.FieldCode)}
	out, err := h.auth.VerifyCode(r.Context(), a.Gateway, email, f)
	if err != nil {
		h.views.renderForm(w, pageVerifyCode, h.page(a, "Verify code", map[string]string{forms.FieldEmail: email}), err)
		return
	}
	a.CodeVerified(f.Code)
	redirect(w, r, out.RedirectTo)
}

// HandleResetPasswordPage is only reachable with a verified code.
//
// HTTP: GET /reset-password
func (h *AuthHandler) HandleResetPasswordPage(w http.ResponseWriter, r *http.Request) {
	a := clientApp(w, r)
	if a == nil {
		return
	}
	if _, code := a.ResetState(); code == "" {
		redirect(w, r, "/forgot-password")
		return
	}
	h.views.render(w, http.StatusOK, pageResetPassword, h.page(a, "Reset password", nil))
}

// HandleResetPassword sets the new password and returns to the login page.
//
// HTTP: POST /reset-password
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	a := clientApp(w, r)
	if a == nil {
		return
	}
	email, code := a.ResetState()
	f := forms.ResetPassword{
		Password:        r.PostFormValue(forms.FieldPassword),
		ConfirmPassword: r.PostFormValue(forms.FieldConfirmPassword),
	}
	out, err := h.auth.ResetPassword(r.Context(), a.Gateway, email, code, f)
	if err != nil {
		h.views.renderForm(w, pageResetPassword, h.page(a, "Reset password", nil), err)
		return
	}
	a.EndReset()
	h.finish(w, r, a, out)
}

// HandleOAuthLogin redirects to the provider's consent screen. The state
// value round-trips through a short-lived cookie and is checked on
// callback.
//
// HTTP: GET /auth/{provider}/login
func (h *AuthHandler) HandleOAuthLogin(w http.ResponseWriter, r *http.Request) {
	a := clientApp(w, r)
	if a == nil {
		return
	}
	provider := chi.URLParam(r, "provider")
	state := xid.New().String()

	target, err := a.Gateway.AuthCodeURL(provider, state)
	if err != nil {
		h.logger.Warn("oauth login unavailable",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		p := h.page(a, "Sign in", nil)
		p.Error = identity.Message(err)
		h.views.render(w, http.StatusNotFound, pageLogin, p)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// HandleOAuthCallback completes the provider sign-in. A denied consent
// arrives as ?error= and is reported like any other provider failure.
//
// HTTP: GET /auth/{provider}/callback?code=&state=
func (h *AuthHandler) HandleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	a := clientApp(w, r)
	if a == nil {
		return
	}
	q := r.URL.Query()

	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || q.Get("state") != stateCookie.Value {
		h.logger.Warn("oauth callback: state mismatch")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Path: "/auth/", MaxAge: -1})

	cred := identity.OAuthCredential{
		Provider: chi.URLParam(r, "provider"),
		Code:     q.Get("code"),
		Denied:   q.Get("error"),
	}
	out, err := h.auth.OAuthCallback(r.Context(), a.Gateway, cred)
	if err != nil {
		h.views.renderForm(w, pageLogin, h.page(a, "Sign in", nil), err)
		return
	}
	h.finish(w, r, a, out)
}

// HandleLogout signs the client out. POST only: a prefetched GET must not
// end a session.
//
// HTTP: POST /logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	a := clientApp(w, r)
	if a == nil {
		return
	}
	out, err := h.auth.Logout(r.Context(), a.Gateway)
	if err != nil {
		h.views.renderForm(w, pageLogin, h.page(a, "Sign in", nil), err)
		return
	}
	h.finish(w, r, a, out)
}
