// Package app holds the per-client application instance and the registry
// that owns every live instance.
//
// An App is everything one browser tab keeps in memory: its identity
// gateway connection, session store, store selection and chat history. It
// is created on the client's first request and closed when it idles out of
// the registry or the server shuts down.
package app

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/smartbot/internal/catalog"
	"github.com/sakif/smartbot/internal/chat"
	"github.com/sakif/smartbot/internal/comparison"
	"github.com/sakif/smartbot/internal/identity"
	"github.com/sakif/smartbot/internal/metrics"
	"github.com/sakif/smartbot/internal/selection"
	"github.com/sakif/smartbot/internal/session"
)

// Deps are the process-wide collaborators every App shares.
type Deps struct {
	Catalog        *catalog.Catalog
	Comparison     comparison.Service
	SessionTimeout time.Duration
	ChatTimeout    time.Duration
	Metrics        metrics.Recorder
	Logger         *slog.Logger
}

// App is one client's application instance.
//
// The exported fields are fixed at construction and safe to read from any
// request goroutine; each of them does its own locking. The unexported
// client state below mu (alerts, banner, reset flow) is only reached
// through methods.
//
// WHY ONE APP PER CLIENT?
// Everything here would live in browser memory in a single-page app: the
// signed-in principal, the chosen stores, the conversation. Keeping one
// instance per client id gives every browser its own copy without any of
// it ever being shared between users.
type App struct {
	ID        string
	Gateway   identity.Gateway
	Session   *session.Store
	Selection *selection.Set
	Chat      *chat.Conversation
	Catalog   *catalog.Catalog

	unwatch   func()
	closeOnce sync.Once

	mu          sync.Mutex
	principalID string
	alerts      []string
	banner      string
	reset       resetState
}

// resetState tracks the forgot → verify → reset flow. email is set by
// BeginReset; code only once the gateway accepted it.
type resetState struct {
	email string
	code  string
}

// New builds an App around gw. The session store subscribes immediately.
func New(id string, gw identity.Gateway, deps Deps) *App {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("clientID", id))

	a := &App{
		ID:        id,
		Gateway:   gw,
		Selection: selection.New(),
		Catalog:   deps.Catalog,
		Chat:      chat.NewConversation(deps.Comparison, deps.Catalog, deps.ChatTimeout, logger),
	}
	a.Session = session.New(gw, session.Options{
		Logger:  logger,
		Metrics: deps.Metrics,
		Timeout: deps.SessionTimeout,
		Alert:   a.pushAlert,
	})
	a.unwatch = a.Session.Watch(a.onCommit)

	// The first commit may have landed before Watch.
	if snap := a.Session.Snapshot(); !snap.Loading {
		a.onCommit(snap)
	}
	return a
}

// onCommit drops client state that belongs to a previous user.
func (a *App) onCommit(s session.Session) {
	id := ""
	if s.Principal != nil {
		id = s.Principal.ID
	}

	a.mu.Lock()
	changed := id != a.principalID
	a.principalID = id
	if changed {
		a.reset = resetState{}
	}
	a.mu.Unlock()

	if changed || id == "" {
		a.Selection.Clear()
		a.Chat.Reset()
	}
}

// Close stops the session store. Safe to call more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.unwatch()
		a.Session.Close()
	})
}

func (a *App) pushAlert(msg string) {
	a.mu.Lock()
	a.alerts = append(a.alerts, msg)
	a.mu.Unlock()
}

// TakeAlerts returns and clears pending alerts.
func (a *App) TakeAlerts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.alerts
	a.alerts = nil
	return out
}

// SetBanner stores a one-shot message for the next login page render.
func (a *App) SetBanner(msg string) {
	a.mu.Lock()
	a.banner = msg
	a.mu.Unlock()
}

// TakeBanner returns and clears the banner.
func (a *App) TakeBanner() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.banner
	a.banner = ""
	return b
}

// BeginReset remembers the email a reset code was sent to.
func (a *App) BeginReset(email string) {
	a.mu.Lock()
	a.reset = resetState{email: email}
	a.mu.Unlock()
}

// CodeVerified remembers the code that passed verification.
func (a *App) CodeVerified(code string) {
	a.mu.Lock()
	a.reset.code = code
	a.mu.Unlock()
}

// ResetState returns the email and verified code of the reset in progress.
func (a *App) ResetState() (email, code string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reset.email, a.reset.code
}

// EndReset forgets the reset in progress.
func (a *App) EndReset() {
	a.mu.Lock()
	a.reset = resetState{}
	a.mu.Unlock()
}

// Authenticated reports whether the committed session holds a valid user.
func (a *App) Authenticated() bool {
	return a.Session.Snapshot().Authenticated()
}

// HasSelection reports whether at least one store is selected.
func (a *App) HasSelection() bool {
	return a.Selection.Len() > 0
}
