package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sakif/smartbot/internal/identity"
	"github.com/sakif/smartbot/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =========================================================================
// FAKE GATEWAY
// =========================================================================

// fakeGateway implements identity.Gateway. Only the subscription, profile
// and logout methods carry behaviour; the rest are never called by Store.
type fakeGateway struct {
	identity.Gateway

	notifyMu sync.Mutex
	mu       sync.Mutex
	current  *model.Principal
	subs     map[int]identity.AuthChangeFunc
	nextSub  int

	getProfile    func(ctx context.Context, id string) (*model.Profile, error)
	upsertProfile func(ctx context.Context, p model.Profile) (*model.Profile, error)

	logouts  atomic.Int32
	upserted atomic.Int32
}

func newFakeGateway(current *model.Principal) *fakeGateway {
	return &fakeGateway{
		current: current,
		subs:    map[int]identity.AuthChangeFunc{},
		getProfile: func(context.Context, string) (*model.Profile, error) {
			return nil, nil
		},
		upsertProfile: func(_ context.Context, p model.Profile) (*model.Profile, error) {
			return &p, nil
		},
	}
}

func (g *fakeGateway) SubscribeToAuthChanges(fn identity.AuthChangeFunc) func() {
	g.notifyMu.Lock()
	defer g.notifyMu.Unlock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = fn
	g.mu.Lock()
	cur := g.current
	g.mu.Unlock()
	fn(cur)
	return func() {
		g.notifyMu.Lock()
		delete(g.subs, id)
		g.notifyMu.Unlock()
	}
}

// publish sets the current principal and notifies subscribers.
func (g *fakeGateway) publish(p *model.Principal) {
	g.notifyMu.Lock()
	defer g.notifyMu.Unlock()
	g.mu.Lock()
	g.current = p
	g.mu.Unlock()
	for _, fn := range g.subs {
		fn(p)
	}
}

func (g *fakeGateway) subscribers() int {
	g.notifyMu.Lock()
	defer g.notifyMu.Unlock()
	return len(g.subs)
}

func (g *fakeGateway) Logout(context.Context) error {
	g.logouts.Add(1)
	g.publish(nil)
	return nil
}

func (g *fakeGateway) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	return g.getProfile(ctx, id)
}

func (g *fakeGateway) UpsertProfile(ctx context.Context, p model.Profile) (*model.Profile, error) {
	g.upserted.Add(1)
	return g.upsertProfile(ctx, p)
}

// =========================================================================
// HELPERS
// =========================================================================

var alice = &model.Principal{ID: "alice", Email: "alice@example.com", DisplayName: "Alice"}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, gw *fakeGateway, opts Options) *Store {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	s := New(gw, opts)
	t.Cleanup(s.Close)
	return s
}

func waitSettled(t *testing.T, s *Store) Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sess, err := s.Wait(ctx)
	require.NoError(t, err)
	require.False(t, sess.Loading)
	return sess
}

func userProfile(id string) *model.Profile {
	return &model.Profile{ID: id, Email: id + "@example.com", Role: model.RoleUser, Username: id}
}

// =========================================================================
// RECONCILIATION
// =========================================================================

func TestStore_SignedOutAtStart(t *testing.T) {
	gw := newFakeGateway(nil)
	s := newTestStore(t, gw, Options{})

	sess := waitSettled(t, s)
	assert.Nil(t, sess.Principal)
	assert.Nil(t, sess.Profile)
	assert.False(t, sess.Authenticated())
	assert.Zero(t, gw.logouts.Load())
}

func TestStore_ExistingProfile(t *testing.T) {
	gw := newFakeGateway(alice)
	gw.getProfile = func(context.Context, string) (*model.Profile, error) {
		return userProfile("alice"), nil
	}
	s := newTestStore(t, gw, Options{})

	sess := waitSettled(t, s)
	require.True(t, sess.Authenticated())
	assert.Equal(t, "alice", sess.Principal.ID)
	assert.Equal(t, "alice", sess.Profile.ID)
	assert.Zero(t, gw.upserted.Load(), "existing profile must not be rewritten")
}

func TestStore_MissingProfileIsCreated(t *testing.T) {
	gw := newFakeGateway(alice)
	var written model.Profile
	gw.upsertProfile = func(_ context.Context, p model.Profile) (*model.Profile, error) {
		written = p
		return &p, nil
	}
	s := newTestStore(t, gw, Options{})

	sess := waitSettled(t, s)
	require.True(t, sess.Authenticated())
	assert.Equal(t, model.Profile{
		ID: "alice", Email: "alice@example.com", Role: model.RoleUser, Username: "Alice",
	}, written)
}

func TestStore_FetchErrorFallsThroughToCreate(t *testing.T) {
	gw := newFakeGateway(alice)
	gw.getProfile = func(context.Context, string) (*model.Profile, error) {
		return nil, errors.New("connection reset")
	}
	s := newTestStore(t, gw, Options{})

	sess := waitSettled(t, s)
	assert.True(t, sess.Authenticated())
	assert.Equal(t, int32(1), gw.upserted.Load())
}

func TestStore_UpsertFailureSignsOutOnce(t *testing.T) {
	gw := newFakeGateway(alice)
	gw.upsertProfile = func(context.Context, model.Profile) (*model.Profile, error) {
		return nil, errors.New("permission denied")
	}
	var alerts []string
	var alertMu sync.Mutex
	s := newTestStore(t, gw, Options{Alert: func(msg string) {
		alertMu.Lock()
		alerts = append(alerts, msg)
		alertMu.Unlock()
	}})

	sess := waitSettled(t, s)
	assert.Nil(t, sess.Principal)
	assert.Nil(t, sess.Profile)

	s.Close()
	assert.Equal(t, int32(1), gw.logouts.Load())
	assert.Equal(t, []string{SyncFailedAlert}, alerts)
}

func TestStore_WrongRoleSignsOut(t *testing.T) {
	gw := newFakeGateway(alice)
	gw.getProfile = func(context.Context, string) (*model.Profile, error) {
		return &model.Profile{ID: "alice", Role: "admin"}, nil
	}
	s := newTestStore(t, gw, Options{})

	sess := waitSettled(t, s)
	assert.Nil(t, sess.Principal)
	assert.Nil(t, sess.Profile)

	s.Close()
	assert.Equal(t, int32(1), gw.logouts.Load())
}

func TestStore_UpsertReturningNothingSignsOut(t *testing.T) {
	gw := newFakeGateway(alice)
	gw.upsertProfile = func(context.Context, model.Profile) (*model.Profile, error) {
		return nil, nil
	}
	s := newTestStore(t, gw, Options{})

	sess := waitSettled(t, s)
	assert.False(t, sess.Authenticated())
	s.Close()
	assert.Equal(t, int32(1), gw.logouts.Load())
}

func TestStore_PanicClearsSession(t *testing.T) {
	gw := newFakeGateway(alice)
	gw.getProfile = func(context.Context, string) (*model.Profile, error) {
		panic("driver bug")
	}
	s := newTestStore(t, gw, Options{})

	sess := waitSettled(t, s)
	assert.Nil(t, sess.Principal)
	s.Close()
	assert.Equal(t, int32(1), gw.logouts.Load())
}

func TestStore_HungGatewayTimesOut(t *testing.T) {
	gw := newFakeGateway(alice)
	gw.getProfile = func(ctx context.Context, _ string) (*model.Profile, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	gw.upsertProfile = func(ctx context.Context, _ model.Profile) (*model.Profile, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s := newTestStore(t, gw, Options{Timeout: 20 * time.Millisecond})

	sess := waitSettled(t, s)
	assert.False(t, sess.Authenticated())
}

// =========================================================================
// ORDERING AND LIFECYCLE
// =========================================================================

func TestStore_LatestEventWins(t *testing.T) {
	gw := newFakeGateway(nil)
	release := make(chan struct{})
	gw.getProfile = func(_ context.Context, id string) (*model.Profile, error) {
		if id == "slow" {
			<-release
		}
		return userProfile(id), nil
	}
	s := newTestStore(t, gw, Options{})
	waitSettled(t, s)

	gw.publish(&model.Principal{ID: "slow"})
	assert.True(t, s.Snapshot().Loading)
	gw.publish(&model.Principal{ID: "fast"})

	sess := waitSettled(t, s)
	require.NotNil(t, sess.Principal)
	assert.Equal(t, "fast", sess.Principal.ID)

	close(release)
	s.Close()
	assert.Equal(t, "fast", s.Snapshot().Principal.ID, "stale reconciliation must not commit")
}

func TestStore_SignOutSupersedesInFlight(t *testing.T) {
	gw := newFakeGateway(nil)
	release := make(chan struct{})
	gw.getProfile = func(context.Context, string) (*model.Profile, error) {
		<-release
		return userProfile("alice"), nil
	}
	s := newTestStore(t, gw, Options{})
	waitSettled(t, s)

	gw.publish(alice)
	gw.publish(nil)
	sess := waitSettled(t, s)
	assert.Nil(t, sess.Principal)

	close(release)
	s.Close()
	assert.Nil(t, s.Snapshot().Principal)
	assert.Zero(t, gw.logouts.Load())
}

func TestStore_LoadingFalseAfterEverySequence(t *testing.T) {
	gw := newFakeGateway(nil)
	var calls atomic.Int32
	gw.getProfile = func(_ context.Context, id string) (*model.Profile, error) {
		if calls.Add(1)%2 == 0 {
			return nil, errors.New("flaky")
		}
		return userProfile(id), nil
	}
	s := newTestStore(t, gw, Options{})

	for _, p := range []*model.Principal{alice, nil, {ID: "bob"}, {ID: "carol"}, nil, alice} {
		gw.publish(p)
		sess := waitSettled(t, s)
		assert.False(t, sess.Loading)
	}
}

func TestStore_CloseUnsubscribesAndCancels(t *testing.T) {
	gw := newFakeGateway(alice)
	started := make(chan struct{})
	gw.getProfile = func(ctx context.Context, _ string) (*model.Profile, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s := New(gw, Options{Logger: quietLogger()})
	<-started
	require.Equal(t, 1, gw.subscribers())

	s.Close()
	s.Close()
	assert.Equal(t, 0, gw.subscribers())
	assert.True(t, s.Snapshot().Loading, "nothing commits after Close")
	assert.Zero(t, gw.logouts.Load(), "a cancelled reconciliation has no side effects")

	_, err := s.Wait(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStore_WaitHonoursContext(t *testing.T) {
	gw := newFakeGateway(alice)
	gw.getProfile = func(ctx context.Context, _ string) (*model.Profile, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s := newTestStore(t, gw, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := s.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStore_WatchSeesCommitsInOrder(t *testing.T) {
	gw := newFakeGateway(nil)
	gw.getProfile = func(_ context.Context, id string) (*model.Profile, error) {
		return userProfile(id), nil
	}
	s := newTestStore(t, gw, Options{})
	waitSettled(t, s)

	var mu sync.Mutex
	var seen []string
	unwatch := s.Watch(func(sess Session) {
		mu.Lock()
		defer mu.Unlock()
		if sess.Principal == nil {
			seen = append(seen, "")
			return
		}
		seen = append(seen, sess.Principal.ID)
	})

	gw.publish(alice)
	waitSettled(t, s)
	gw.publish(nil)
	waitSettled(t, s)
	unwatch()
	gw.publish(alice)
	waitSettled(t, s)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"alice", ""}, seen)
}
