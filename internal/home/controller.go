// Package home decides what a client sees when the home page loads: the
// onboarding wizard, or personalized recommended and trending movies built
// from a remote profile or locally cached preferences.
//
// The Controller runs its sequence once per identity. Identity changes arrive
// either from the session manager's event stream (Watch) or from a
// request that needs a settled answer (Settle).
package home

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/Ehm-Ehs/project-nexus/internal/auth"
	"github.com/Ehm-Ehs/project-nexus/internal/movies"
	"github.com/Ehm-Ehs/project-nexus/internal/persist"
	"github.com/Ehm-Ehs/project-nexus/internal/recommend"
)

// Phase is the controller's position in the initialization sequence.
type Phase string

const (
	PhaseIdle                  Phase = "idle"
	PhaseWaitingForAuth        Phase = "waiting-for-auth"
	PhaseCheckingRemoteProfile Phase = "checking-remote-profile"
	PhaseUsingLocalProfile     Phase = "using-local-profile"
	PhaseOnboardingRequired    Phase = "onboarding-required"
	PhaseReady                 Phase = "ready"
)

// Terminal reports whether the sequence has finished for the current identity.
func (p Phase) Terminal() bool {
	return p == PhaseOnboardingRequired || p == PhaseReady
}

// User-visible messages.
const (
	topicProfile      = "profile"
	msgLoadingProfile = "Loading your profile..."
	msgWelcomeBack    = "Welcome back!"
	msgNoProfile      = "Profile not found"
	msgOffline        = "Network error. Please check your connection."
	msgProfileFailed  = "Failed to load profile"
)

// Session is the part of the auth manager the controller depends on.
type Session interface {
	State() auth.State
	Current() (auth.Identity, bool)
	Await(ctx context.Context) (auth.Identity, bool, error)
	EnsureAnonymous(ctx context.Context) (auth.Identity, error)
	Subscribe() (<-chan auth.Event, func())
}

// Store is the part of the persistence facade the controller depends on.
type Store interface {
	Profile(ctx context.Context, uid string) (movies.Profile, bool, error)
	HydrateFromProfile(ctx context.Context, profile movies.Profile) error
	OnboardingComplete(ctx context.Context) bool
	MarkOnboardingComplete(ctx context.Context) error
	LocalPreferences(ctx context.Context) (movies.UserPreferences, bool)
	SaveLocalPreferences(ctx context.Context, prefs movies.UserPreferences) error
	SavePreferences(ctx context.Context, prefs movies.UserPreferences) error
}

// Recommender builds the personalized result sets.
type Recommender interface {
	PersonalizedDiscovery(ctx context.Context, prefs movies.UserPreferences) (recommend.Result, error)
	PersonalizedTrending(ctx context.Context, prefs movies.UserPreferences) (recommend.Result, error)
}

var (
	_ Session     = (*auth.Manager)(nil)
	_ Store       = (*persist.Facade)(nil)
	_ Recommender = (*recommend.Builder)(nil)
)

// Snapshot is what the home page renders.
type Snapshot struct {
	Phase           Phase                   `json:"phase"`
	Identity        *auth.Identity          `json:"identity,omitempty"`
	Preferences     *movies.UserPreferences `json:"preferences,omitempty"`
	Recommended     recommend.Result        `json:"recommended"`
	Trending        recommend.Result        `json:"trending"`
	ShowOnboarding  bool                    `json:"showOnboarding"`
	CheckingProfile bool                    `json:"checkingProfile"`
	Loading         bool                    `json:"loading"`
}

// Controller runs the home initialization sequence for one client.
type Controller struct {
	session  Session
	store    Store
	recs     Recommender
	notifier Notifier
	logger   *slog.Logger

	// run serializes sequences so a second identity change waits for the
	// first instead of racing it.
	run sync.Mutex

	mu      sync.Mutex
	snap    Snapshot
	handled string // identity key of the last sequence started
	gen     uint64 // bumped on every identity change; stale results are dropped
}

// Option configures a Controller.
type Option func(*Controller)

// WithNotifier sets the notification sink.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) {
		c.notifier = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// NewController creates a Controller in the Idle phase.
func NewController(session Session, store Store, recs Recommender, opts ...Option) *Controller {
	c := &Controller{
		session:  session,
		store:    store,
		recs:     recs,
		notifier: NotifierFunc(func(Notification) {}),
		logger:   slog.Default(),
		snap:     Snapshot{Phase: PhaseIdle, Loading: true},
		handled:  noKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

func (c *Controller) snapshot() Snapshot {
	s := c.snap
	if s.Identity != nil {
		id := *s.Identity
		s.Identity = &id
	}
	if s.Preferences != nil {
		p := *s.Preferences
		s.Preferences = &p
	}
	s.Recommended.Movies = slices.Clone(s.Recommended.Movies)
	s.Trending.Movies = slices.Clone(s.Trending.Movies)
	return s
}

// Watch runs the sequence for every settled identity change until ctx is
// done or the session manager closes the stream.
func (c *Controller) Watch(ctx context.Context) {
	events, cancel := c.session.Subscribe()
	defer cancel()

	// Events published before Subscribe are not replayed.
	if st := c.session.State(); st.Settled() {
		id, ok := c.session.Current()
		c.Initialize(ctx, auth.Event{State: st, Identity: id, Present: ok})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.Initialize(ctx, ev)
		}
	}
}

// Settle waits for the session manager, runs the sequence for the current
// identity if it has not run yet, and returns the resulting snapshot. When
// no identity exists it creates an anonymous one and runs the sequence for it.
func (c *Controller) Settle(ctx context.Context) (Snapshot, error) {
	id, ok, err := c.session.Await(ctx)
	if err != nil {
		return c.Snapshot(), err
	}
	c.Initialize(ctx, auth.Event{State: c.session.State(), Identity: id, Present: ok})

	if !ok {
		id, ok = c.session.Current()
		if ok {
			c.Initialize(ctx, auth.Event{State: c.session.State(), Identity: id, Present: true})
		}
	}
	return c.Snapshot(), nil
}

const noKey = "\x00"

func identityKey(ev auth.Event) string {
	if !ev.Present {
		return ""
	}
	if ev.Identity.Anonymous {
		return "anon:" + ev.Identity.UID
	}
	return "user:" + ev.Identity.UID
}

// Initialize runs the sequence for ev. It does nothing while the session
// manager is still initializing, and nothing for an identity it has already
// handled.
func (c *Controller) Initialize(ctx context.Context, ev auth.Event) {
	if !ev.State.Settled() {
		c.update(func(s *Snapshot) { s.Phase = PhaseWaitingForAuth })
		return
	}

	c.run.Lock()
	defer c.run.Unlock()

	if !ev.Present {
		// Stale: an identity was created after this event was published.
		if _, ok := c.session.Current(); ok {
			return
		}
	}

	key := identityKey(ev)
	c.mu.Lock()
	if c.handled == key {
		c.mu.Unlock()
		return
	}
	c.handled = key
	c.gen++
	gen := c.gen
	c.snap = Snapshot{Phase: PhaseWaitingForAuth, Loading: true}
	c.mu.Unlock()

	if !ev.Present {
		// The follow-up identity event re-runs the sequence.
		if _, err := c.session.EnsureAnonymous(ctx); err != nil {
			c.logger.Error("creating anonymous session", "error", err)
			c.mu.Lock()
			c.handled = noKey
			c.mu.Unlock()
			c.notifier.Notify(Notification{Level: LevelError, Message: "Could not start a session", Offline: persist.IsOffline(err)})
		}
		return
	}

	id := ev.Identity
	c.update(func(s *Snapshot) { s.Identity = &id })

	if id.Anonymous {
		onboarded := c.store.OnboardingComplete(ctx)
		c.update(func(s *Snapshot) {
			s.Phase = PhaseUsingLocalProfile
			s.ShowOnboarding = !onboarded
		})
	} else if c.loadRemoteProfile(ctx, gen, id) {
		return
	}

	c.fallBackToLocal(ctx, gen)
}

// loadRemoteProfile handles an authenticated identity. It reports true when
// the profile was found and the sequence is complete.
func (c *Controller) loadRemoteProfile(ctx context.Context, gen uint64, id auth.Identity) bool {
	c.update(func(s *Snapshot) {
		s.Phase = PhaseCheckingRemoteProfile
		s.CheckingProfile = true
	})
	c.notifier.Notify(Notification{Topic: topicProfile, Level: LevelLoading, Message: msgLoadingProfile})
	defer c.update(func(s *Snapshot) { s.CheckingProfile = false })

	profile, found, err := c.store.Profile(ctx, id.UID)
	switch {
	case err != nil:
		offline := persist.IsOffline(err)
		msg := msgProfileFailed
		if offline {
			msg = msgOffline
		}
		c.logger.Warn("loading remote profile", "uid", id.UID, "offline", offline, "error", err)
		c.notifier.Notify(Notification{Topic: topicProfile, Level: LevelError, Message: msg, Offline: offline})
		c.update(func(s *Snapshot) { s.ShowOnboarding = false })
		return false

	case found:
		c.notifier.Notify(Notification{Topic: topicProfile, Level: LevelSuccess, Message: msgWelcomeBack})
		if err := c.store.HydrateFromProfile(ctx, profile); err != nil {
			c.logger.Warn("caching remote profile locally", "uid", id.UID, "error", err)
		}
		prefs := profile.UserPreferences
		c.update(func(s *Snapshot) {
			s.Preferences = &prefs
			s.ShowOnboarding = false
		})
		c.fetchContent(ctx, gen, prefs)
		c.finish(gen)
		return true

	default:
		c.notifier.Notify(Notification{Topic: topicProfile, Level: LevelError, Message: msgNoProfile})
		c.update(func(s *Snapshot) { s.ShowOnboarding = true })
		return false
	}
}

// fallBackToLocal is the tail of the sequence: onboarding when the device has
// never completed it, otherwise content built from cached preferences.
func (c *Controller) fallBackToLocal(ctx context.Context, gen uint64) {
	if !c.store.OnboardingComplete(ctx) {
		c.update(func(s *Snapshot) { s.ShowOnboarding = true })
	} else if prefs, ok := c.store.LocalPreferences(ctx); ok {
		c.update(func(s *Snapshot) {
			s.Phase = PhaseUsingLocalProfile
			s.Preferences = &prefs
		})
		c.fetchContent(ctx, gen, prefs)
	}
	c.finish(gen)
}

func (c *Controller) finish(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.snap.Loading = false
	if c.snap.ShowOnboarding {
		c.snap.Phase = PhaseOnboardingRequired
	} else {
		c.snap.Phase = PhaseReady
	}
}

// fetchContent issues the recommended and trending queries concurrently and
// applies each result as soon as it arrives. A failure of one leaves the
// other untouched. Failures are logged, never surfaced.
func (c *Controller) fetchContent(ctx context.Context, gen uint64, prefs movies.UserPreferences) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		res, err := c.recs.PersonalizedDiscovery(ctx, prefs)
		if err != nil {
			c.logger.Warn("fetching recommended movies", "error", err)
			return
		}
		c.apply(gen, func(s *Snapshot) { s.Recommended = res })
	}()
	go func() {
		defer wg.Done()
		res, err := c.recs.PersonalizedTrending(ctx, prefs)
		if err != nil {
			c.logger.Warn("fetching trending movies", "error", err)
			return
		}
		c.apply(gen, func(s *Snapshot) { s.Trending = res })
	}()
	wg.Wait()
}

// CompleteOnboarding stores the preferences collected by the wizard, marks
// onboarding complete, closes the wizard and refreshes personalized content.
// The wizard is closed even when storing fails; the storage error is returned.
func (c *Controller) CompleteOnboarding(ctx context.Context, prefs movies.UserPreferences) (Snapshot, error) {
	prefs = prefs.Normalize()

	var errs []error
	if err := c.store.SaveLocalPreferences(ctx, prefs); err != nil {
		errs = append(errs, err)
	}
	if err := c.store.SavePreferences(ctx, prefs); err != nil {
		errs = append(errs, err)
	}
	if err := c.store.MarkOnboardingComplete(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		c.logger.Error("saving onboarding preferences", "error", err)
	}

	c.mu.Lock()
	gen := c.gen
	c.snap.Preferences = &prefs
	c.snap.ShowOnboarding = false
	c.snap.Phase = PhaseReady
	c.snap.Loading = false
	c.mu.Unlock()

	c.fetchContent(ctx, gen, prefs)
	return c.Snapshot(), errors.Join(errs...)
}

// Refresh re-issues the personalized queries for the current preferences.
func (c *Controller) Refresh(ctx context.Context) Snapshot {
	c.mu.Lock()
	gen := c.gen
	prefs := c.snap.Preferences
	c.mu.Unlock()

	if prefs != nil {
		c.fetchContent(ctx, gen, *prefs)
	}
	return c.Snapshot()
}

func (c *Controller) update(fn func(*Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.snap)
}

// apply runs fn unless the identity changed since gen was taken.
func (c *Controller) apply(gen uint64, fn func(*Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		fn(&c.snap)
	}
}
