package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/xid"

	"github.com/sakif/smartbot/internal/identity"
	"github.com/sakif/smartbot/internal/metrics"
	"github.com/sakif/smartbot/internal/session"
)

// Cookie names.
const (
	ClientCookie = "sb_client"
	TokenCookie  = "sb_token"
)

// ConnectFunc opens a gateway connection for a new client, restoring the
// principal from token when it is valid.
type ConnectFunc func(ctx context.Context, token string) identity.Gateway

// Registry keeps one App per client id. Idle Apps expire after the TTL and
// the least recently used App is evicted at capacity; either way it is
// closed.
type Registry struct {
	connect ConnectFunc
	deps    Deps
	logger  *slog.Logger
	metrics metrics.Recorder

	mu     sync.Mutex // serializes get-or-create
	apps   *expirable.LRU[string, *App]
	live   atomic.Int64
	closer sync.WaitGroup
}

func NewRegistry(connect ConnectFunc, deps Deps, size int, ttl time.Duration) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	r := &Registry{
		connect: connect,
		deps:    deps,
		logger:  deps.Logger,
		metrics: deps.Metrics,
	}
	r.apps = expirable.NewLRU[string, *App](size, r.onEvict, ttl)
	return r
}

// onEvict runs under the LRU's lock, so the App is closed elsewhere.
func (r *Registry) onEvict(id string, a *App) {
	n := r.live.Add(-1)
	r.metrics.SetActiveApps(int(n))
	r.closer.Add(1)
	go func() {
		defer r.closer.Done()
		a.Close()
		r.logger.Debug("client app closed", slog.String("clientID", id))
	}()
}

// Get returns the App for id, creating it when absent.
func (r *Registry) Get(ctx context.Context, id, token string) *App {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.apps.Get(id); ok {
		return a
	}
	a := New(id, r.connect(ctx, token), r.deps)
	r.apps.Add(id, a)
	n := r.live.Add(1)
	r.metrics.SetActiveApps(int(n))
	r.logger.Debug("client app created", slog.String("clientID", id))
	return a
}

// Len reports the number of live Apps.
func (r *Registry) Len() int {
	return r.apps.Len()
}

// Close closes every App and waits for them.
func (r *Registry) Close() {
	r.apps.Purge()
	r.closer.Wait()
}

type contextKey string

const appKey contextKey = "app"

// WithApp stores a in ctx.
func WithApp(ctx context.Context, a *App) context.Context {
	return context.WithValue(ctx, appKey, a)
}

// FromContext returns the App stored by Middleware.
func FromContext(ctx context.Context) (*App, bool) {
	a, ok := ctx.Value(appKey).(*App)
	return a, ok && a != nil
}

// Middleware attaches the client's App to the request, issuing a client
// id cookie on first contact. It waits for the session store to settle so
// nothing downstream reads a loading session.
func (r *Registry) Middleware(secureCookies bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			id := ""
			if c, err := req.Cookie(ClientCookie); err == nil {
				if parsed, err := xid.FromString(c.Value); err == nil {
					id = parsed.String()
				}
			}
			if id == "" {
				id = xid.New().String()
				http.SetCookie(w, &http.Cookie{
					Name:     ClientCookie,
					Value:    id,
					Path:     "/",
					HttpOnly: true,
					Secure:   secureCookies,
					SameSite: http.SameSiteLaxMode,
				})
			}
			token := ""
			if c, err := req.Cookie(TokenCookie); err == nil {
				token = c.Value
			}

			a, err := r.settled(req.Context(), id, token)
			if err != nil {
				r.logger.Error("session did not settle",
					slog.String("clientID", id),
					slog.String("error", err.Error()),
				)
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
			if current := a.Gateway.IDToken(); current != token {
				SetTokenCookie(w, current, secureCookies)
			}
			next.ServeHTTP(w, req.WithContext(WithApp(req.Context(), a)))
		})
	}
}

// SetTokenCookie stores the gateway's ID token so a later App for the same
// browser can restore the principal. An empty token deletes the cookie.
func SetTokenCookie(w http.ResponseWriter, token string, secure bool) {
	c := &http.Cookie{
		Name:     TokenCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	if token == "" {
		c.MaxAge = -1
	}
	http.SetCookie(w, c)
}

// settled fetches the App and waits for its session. An App closed by
// eviction between the two is replaced once.
func (r *Registry) settled(ctx context.Context, id, token string) (*App, error) {
	for attempt := 0; ; attempt++ {
		a := r.Get(ctx, id, token)
		_, err := a.Session.Wait(ctx)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, session.ErrClosed) || attempt > 0 {
			return nil, err
		}
	}
}
