package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/smartbot/internal/catalog"
	"github.com/sakif/smartbot/internal/comparison"
	"github.com/sakif/smartbot/internal/identity"
	"github.com/sakif/smartbot/internal/model"
	"github.com/sakif/smartbot/internal/session"
)

// stubGateway publishes principals on demand and answers profile reads
// with a "user" profile.
type stubGateway struct {
	identity.Gateway

	mu        sync.Mutex
	current   *model.Principal
	subs      map[int]identity.AuthChangeFunc
	next      int
	upsertErr error
	token     string
}

func newStubGateway(p *model.Principal) *stubGateway {
	return &stubGateway{current: p, subs: map[int]identity.AuthChangeFunc{}}
}

func (g *stubGateway) SubscribeToAuthChanges(fn identity.AuthChangeFunc) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.next
	g.next++
	g.subs[id] = fn
	fn(g.current)
	return func() {
		g.mu.Lock()
		delete(g.subs, id)
		g.mu.Unlock()
	}
}

func (g *stubGateway) publish(p *model.Principal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current = p
	for _, fn := range g.subs {
		fn(p)
	}
}

func (g *stubGateway) GetProfile(context.Context, string) (*model.Profile, error) {
	return nil, nil
}

func (g *stubGateway) UpsertProfile(_ context.Context, p model.Profile) (*model.Profile, error) {
	if g.upsertErr != nil {
		return nil, g.upsertErr
	}
	return &p, nil
}

func (g *stubGateway) Logout(context.Context) error {
	g.publish(nil)
	return nil
}

func testDeps() Deps {
	return Deps{
		Catalog:        catalog.Default(),
		Comparison:     &comparison.Mock{},
		SessionTimeout: time.Second,
		ChatTimeout:    time.Second,
	}
}

func settle(t *testing.T, a *App) session.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := a.Session.Wait(ctx)
	require.NoError(t, err)
	return s
}

func TestApp_ClearsSelectionOnSignOut(t *testing.T) {
	gw := newStubGateway(&model.Principal{ID: "alice"})
	a := New("c1", gw, testDeps())
	defer a.Close()

	require.True(t, settle(t, a).Authenticated())
	a.Selection.Toggle("1")
	_, err := a.Chat.Send(context.Background(), "rice", a.Selection)
	require.NoError(t, err)

	gw.publish(nil)
	settle(t, a)

	assert.False(t, a.Authenticated())
	assert.False(t, a.HasSelection())
	assert.Len(t, a.Chat.Messages(), 1)
}

func TestApp_ClearsSelectionOnPrincipalChange(t *testing.T) {
	gw := newStubGateway(&model.Principal{ID: "alice"})
	a := New("c1", gw, testDeps())
	defer a.Close()
	settle(t, a)

	a.Selection.Toggle("2")
	gw.publish(&model.Principal{ID: "bob"})
	s := settle(t, a)

	require.NotNil(t, s.Principal)
	assert.Equal(t, "bob", s.Principal.ID)
	assert.Eventually(t, func() bool { return !a.HasSelection() }, time.Second, time.Millisecond)
}

func TestApp_UpsertFailureRaisesAlert(t *testing.T) {
	gw := newStubGateway(&model.Principal{ID: "alice"})
	gw.upsertErr = errors.New("denied")
	a := New("c1", gw, testDeps())

	assert.False(t, settle(t, a).Authenticated())
	a.Close()
	assert.Equal(t, []string{session.SyncFailedAlert}, a.TakeAlerts())
	assert.Empty(t, a.TakeAlerts())
}

func TestApp_ResetStateAndBanner(t *testing.T) {
	a := New("c1", newStubGateway(nil), testDeps())
	defer a.Close()
	settle(t, a)

	a.BeginReset("ada@example.com")
	a.CodeVerified("123456")
	email, code := a.ResetState()
	assert.Equal(t, "ada@example.com", email)
	assert.Equal(t, "123456", code)
	a.EndReset()
	email, _ = a.ResetState()
	assert.Empty(t, email)

	a.SetBanner("hi")
	assert.Equal(t, "hi", a.TakeBanner())
	assert.Empty(t, a.TakeBanner())
}

func newTestRegistry(size int) (*Registry, *[]*stubGateway) {
	var gateways []*stubGateway
	r := NewRegistry(func(_ context.Context, token string) identity.Gateway {
		gw := newStubGateway(nil)
		gw.token = token
		gateways = append(gateways, gw)
		return gw
	}, testDeps(), size, time.Hour)
	return r, &gateways
}

func (g *stubGateway) IDToken() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.token
}

func (g *stubGateway) setToken(token string) {
	g.mu.Lock()
	g.token = token
	g.mu.Unlock()
}

func (g *stubGateway) subscribers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

func TestRegistry_ReusesAndEvicts(t *testing.T) {
	r, gateways := newTestRegistry(1)
	defer r.Close()
	ctx := context.Background()

	first := r.Get(ctx, "a", "")
	assert.Same(t, first, r.Get(ctx, "a", ""))
	require.Len(t, *gateways, 1)

	r.Get(ctx, "b", "")
	assert.Equal(t, 1, r.Len())

	evicted := (*gateways)[0]
	require.Eventually(t, func() bool { return evicted.subscribers() == 0 },
		time.Second, time.Millisecond, "evicted app must unsubscribe from its gateway")

	assert.NotSame(t, first, r.Get(ctx, "a", ""))
}

func TestRegistry_CloseClosesEverything(t *testing.T) {
	r, gateways := newTestRegistry(10)
	ctx := context.Background()
	r.Get(ctx, "a", "")
	r.Get(ctx, "b", "")

	r.Close()
	assert.Equal(t, 0, r.Len())
	for _, gw := range *gateways {
		assert.Equal(t, 0, gw.subscribers())
	}
}

func TestMiddleware_IssuesClientCookieAndAttachesApp(t *testing.T) {
	r, _ := newTestRegistry(10)
	defer r.Close()

	var seen *App
	h := r.Middleware(false)(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		seen, _ = FromContext(req.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
	require.NotNil(t, seen)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, ClientCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, seen.ID, cookies[0].Value)

	// A returning client keeps its App and gets no new cookie.
	first := seen
	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Same(t, first, seen)
	assert.Empty(t, rec.Result().Cookies())
}

func TestMiddleware_RejectsForgedClientID(t *testing.T) {
	r, _ := newTestRegistry(10)
	defer r.Close()

	var seen *App
	h := r.Middleware(false)(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		seen, _ = FromContext(req.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: ClientCookie, Value: "../../etc"})
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, seen)
	assert.NotEqual(t, "../../etc", seen.ID)
}

func TestMiddleware_SyncsTokenCookie(t *testing.T) {
	r, gateways := newTestRegistry(10)
	defer r.Close()
	h := r.Middleware(false)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	client := &http.Cookie{Name: ClientCookie, Value: xid.New().String()}
	req := httptest.NewRequest(http.MethodGet, "/onboarding", nil)
	req.AddCookie(client)
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: "restored"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Result().Cookies(), "matching token needs no cookie")
	require.Len(t, *gateways, 1)

	(*gateways)[0].setToken("")
	req = httptest.NewRequest(http.MethodGet, "/onboarding", nil)
	req.AddCookie(client)
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: "restored"})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, TokenCookie, cookies[0].Name)
	assert.Equal(t, -1, cookies[0].MaxAge, "signed-out gateway deletes the token cookie")
}
