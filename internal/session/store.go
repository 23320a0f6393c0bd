// Package session reconciles identity gateway auth changes against the
// profile table and holds the resulting session for one client.
//
// Every auth change, whether from a form submission or from the provider
// itself, reaches the Store through the gateway subscription. Nothing else
// writes session state.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/smartbot/internal/identity"
	"github.com/sakif/smartbot/internal/metrics"
	"github.com/sakif/smartbot/internal/model"
)

// SyncFailedAlert is shown when the profile for a new principal could not
// be written.
const SyncFailedAlert = "Auth Error: Could not synchronize your account. Please contact support."

const defaultTimeout = 10 * time.Second

// ErrClosed is returned by Wait after Close.
var ErrClosed = errors.New("session: store closed")

// Session is a committed snapshot. Principal and Profile are both nil or
// both set.
type Session struct {
	Principal *model.Principal
	Profile   *model.Profile
	Loading   bool
}

// Authenticated reports whether the session holds a valid user.
func (s Session) Authenticated() bool {
	return !s.Loading && s.Principal != nil && s.Profile != nil
}

func (s Session) clone() Session {
	out := Session{Loading: s.Loading}
	if s.Principal != nil {
		p := *s.Principal
		out.Principal = &p
	}
	if s.Profile != nil {
		p := *s.Profile
		out.Profile = &p
	}
	return out
}

// Options configures a Store. Every field is optional.
type Options struct {
	Logger  *slog.Logger
	Metrics metrics.Recorder
	// Timeout bounds each reconciliation's gateway calls. Zero means 10s.
	Timeout time.Duration
	// Alert shows msg to the user. Optional.
	Alert func(msg string)
}

// Store owns one client's session.
//
// WHY A SEQUENCE NUMBER AND NOT A LOCK AROUND RECONCILIATION?
// Holding a lock across GetProfile/UpsertProfile would block the gateway's
// notification callback behind network I/O, and a slow reconciliation for
// an old principal would delay the sign-out that replaced it. Instead
// every event is numbered and a reconciliation that finishes after a newer
// event simply discards its result.
//
// Each auth change is stamped with a sequence number and reconciled on its
// own goroutine; only the reconciliation holding the latest number may
// commit. Callbacks from the gateway never block on gateway I/O.
type Store struct {
	gw      identity.Gateway
	logger  *slog.Logger
	metrics metrics.Recorder
	timeout time.Duration
	alert   func(string)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup

	// notifyMu serializes commits, watcher callbacks included.
	notifyMu sync.Mutex

	mu          sync.Mutex
	state       Session
	seq         uint64
	closed      bool
	ready       chan struct{} // closed while state.Loading is false
	nextWatch   int
	watchers    map[int]func(Session)
	unsubscribe func()
}

// New subscribes to gw and returns a Store already reconciling the
// gateway's current principal.
func New(gw identity.Gateway, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Alert == nil {
		opts.Alert = func(string) {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		gw:       gw,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		timeout:  opts.Timeout,
		alert:    opts.Alert,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    Session{Loading: true},
		ready:    make(chan struct{}),
		watchers: make(map[int]func(Session)),
	}

	unsub := gw.SubscribeToAuthChanges(s.handleAuthChange)
	s.mu.Lock()
	s.unsubscribe = unsub
	s.mu.Unlock()
	return s
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Wait blocks until no reconciliation is pending and returns the committed
// session.
func (s *Store) Wait(ctx context.Context) (Session, error) {
	for {
		s.mu.Lock()
		if !s.state.Loading {
			snap := s.state.clone()
			s.mu.Unlock()
			return snap, nil
		}
		ready := s.ready
		s.mu.Unlock()

		select {
		case <-ready:
		case <-s.done:
			return Session{}, ErrClosed
		case <-ctx.Done():
			return Session{}, fmt.Errorf("session: waiting for reconciliation: %w", ctx.Err())
		}
	}
}

// Watch registers fn to receive every committed session. The returned
// func removes it.
func (s *Store) Watch(fn func(Session)) func() {
	s.mu.Lock()
	id := s.nextWatch
	s.nextWatch++
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// Close unsubscribes from the gateway, cancels in-flight reconciliations
// and waits for them to return. Nothing commits after Close.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsub := s.unsubscribe
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	s.cancel()
	s.wg.Wait()
	close(s.done)
}

func (s *Store) handleAuthChange(p *model.Principal) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.seq++
	seq := s.seq

	if p == nil {
		s.mu.Unlock()
		s.commit(seq, Session{})
		s.metrics.RecordReconcile(metrics.OutcomeSignedOut)
		return
	}

	if !s.state.Loading {
		s.state.Loading = true
		s.ready = make(chan struct{})
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.reconcile(seq, *p)
}

func (s *Store) reconcile(seq uint64, p model.Principal) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	logger := s.logger.With(slog.String("principalID", p.ID))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("session reconciliation panicked", slog.Any("panic", r))
			s.clear(seq, metrics.OutcomeFailed)
		}
	}()

	profile, err := s.gw.GetProfile(ctx, p.ID)
	if err != nil {
		logger.Warn("fetching profile failed, treating as absent",
			slog.String("error", err.Error()),
		)
		profile = nil
	}

	if profile == nil {
		profile, err = s.gw.UpsertProfile(ctx, model.Profile{
			ID:       p.ID,
			Email:    p.Email,
			Role:     model.RoleUser,
			Username: p.DisplayName,
		})
		if err != nil {
			if s.stale(seq) {
				s.metrics.RecordReconcile(metrics.OutcomeSuperseded)
				return
			}
			logger.Error("profile upsert failed, signing out",
				slog.String("error", err.Error()),
			)
			s.alert(SyncFailedAlert)
			s.clear(seq, metrics.OutcomeUpsertFailed)
			return
		}
	}

	if profile == nil || profile.Role != model.RoleUser {
		role := ""
		if profile != nil {
			role = profile.Role
		}
		logger.Warn("profile role not permitted, signing out", slog.String("role", role))
		s.clear(seq, metrics.OutcomeWrongRole)
		return
	}

	if s.commit(seq, Session{Principal: &p, Profile: profile}) {
		s.metrics.RecordReconcile(metrics.OutcomeValid)
	} else {
		s.metrics.RecordReconcile(metrics.OutcomeSuperseded)
	}
}

// clear signs the principal out at the gateway and commits the empty
// session. A superseded reconciliation does neither.
func (s *Store) clear(seq uint64, outcome string) {
	if s.stale(seq) {
		s.metrics.RecordReconcile(metrics.OutcomeSuperseded)
		return
	}
	s.metrics.RecordReconcile(outcome)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.gw.Logout(ctx); err != nil {
		s.logger.Error("gateway logout failed", slog.String("error", err.Error()))
	}

	// Logout usually publishes a sign-out that has already committed the
	// same state under a newer sequence number.
	s.commit(seq, Session{})
}

func (s *Store) stale(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed || seq != s.seq
}

// commit runs watchers with next and then installs it, provided seq is
// still the latest event at both points. Watchers have therefore finished
// before any Wait caller sees the state. It reports whether next was
// installed.
func (s *Store) commit(seq uint64, next Session) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	next = next.clone()
	next.Loading = false

	s.mu.Lock()
	if s.closed || seq != s.seq {
		s.mu.Unlock()
		return false
	}
	watchers := make([]func(Session), 0, len(s.watchers))
	for _, fn := range s.watchers {
		watchers = append(watchers, fn)
	}
	s.mu.Unlock()

	for _, fn := range watchers {
		fn(next.clone())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || seq != s.seq {
		return false
	}
	s.state = next
	select {
	case <-s.ready:
	default:
		close(s.ready)
	}
	return true
}
