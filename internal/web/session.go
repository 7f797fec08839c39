// Package web provides the HTTP server, HTML pages and JSON API of movieflix.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ehm-Ehs/project-nexus/internal/auth"
	"github.com/Ehm-Ehs/project-nexus/internal/home"
	"github.com/Ehm-Ehs/project-nexus/internal/library"
	"github.com/Ehm-Ehs/project-nexus/internal/localstore"
	"github.com/Ehm-Ehs/project-nexus/internal/onboarding"
	"github.com/Ehm-Ehs/project-nexus/internal/persist"
)

const (
	deviceCookieName  = "device_id"
	sessionCookieName = "session_id"
	stateCookieName   = "oauth_state"

	deviceCookieTTL = 365 * 24 * time.Hour
	stateCookieTTL  = 5 * time.Minute

	// DefaultClientTTL is how long an idle client context is kept.
	DefaultClientTTL = 2 * time.Hour
)

// Client is everything the server holds for one device: its session manager
// and the components bound to that session.
type Client struct {
	DeviceID  string
	Auth      *auth.Manager
	Store     *persist.Facade
	Home      *home.Controller
	Wizard    *onboarding.Wizard
	Favorites *library.Favorites
	Lists     *library.Lists
	Inbox     *home.Inbox

	mu       sync.Mutex
	lastSeen time.Time
	stop     context.CancelFunc
}

func (c *Client) touch(now time.Time) {
	c.mu.Lock()
	c.lastSeen = now
	c.mu.Unlock()
}

func (c *Client) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

func (c *Client) close() {
	c.stop()
	c.Auth.Close()
}

// ClientDeps are the shared backends every client context is built on.
type ClientDeps struct {
	Accounts    auth.AccountStore
	KV          localstore.KV
	Remote      persist.Remote // nil keeps all data on the device
	Recommender home.Recommender
	SessionTTL  time.Duration
	Logger      *slog.Logger
}

// ClientRegistry creates client contexts on first use and disposes of them
// after they have been idle for the TTL.
type ClientRegistry struct {
	deps ClientDeps
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	clients map[string]*Client
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry(deps ClientDeps, ttl time.Duration) *ClientRegistry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultClientTTL
	}
	return &ClientRegistry{
		deps:    deps,
		ttl:     ttl,
		now:     time.Now,
		clients: make(map[string]*Client),
	}
}

// Get returns the client for deviceID, creating it and restoring sessionID
// into it when the device has no live context.
func (r *ClientRegistry) Get(ctx context.Context, deviceID, sessionID string) *Client {
	r.mu.Lock()
	c, ok := r.clients[deviceID]
	if !ok {
		c = r.newClient(deviceID)
		r.clients[deviceID] = c
	}
	r.mu.Unlock()

	c.touch(r.now())
	if !ok {
		if err := c.Auth.Restore(ctx, sessionID); err != nil {
			r.deps.Logger.Warn("restoring client session", "device", deviceID, "error", err)
		}
	}
	return c
}

func (r *ClientRegistry) newClient(deviceID string) *Client {
	logger := r.deps.Logger.With("device", deviceID)

	opts := []auth.ManagerOption{auth.WithLogger(logger)}
	if r.deps.SessionTTL > 0 {
		opts = append(opts, auth.WithSessionTTL(r.deps.SessionTTL))
	}
	manager := auth.NewManager(r.deps.Accounts, opts...)

	local := localstore.NewStore(r.deps.KV, deviceID, logger)
	facade := persist.New(local, r.deps.Remote, manager, persist.WithLogger(logger))
	manager.OnUpgrade(func(ctx context.Context, _ auth.Identity) error {
		return facade.MigrateLocalToRemote(ctx)
	})

	inbox := home.NewInbox(home.DefaultInboxSize)
	controller := home.NewController(manager, facade, r.deps.Recommender,
		home.WithNotifier(inbox),
		home.WithLogger(logger),
	)

	watchCtx, stop := context.WithCancel(context.Background())
	go controller.Watch(watchCtx)

	return &Client{
		DeviceID:  deviceID,
		Auth:      manager,
		Store:     facade,
		Home:      controller,
		Wizard:    onboarding.NewWizard(),
		Favorites: library.NewFavorites(facade),
		Lists:     library.NewLists(facade),
		Inbox:     inbox,
		stop:      stop,
	}
}

// Len returns the number of live clients.
func (r *ClientRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Sweep disposes of clients idle for longer than the TTL.
func (r *ClientRegistry) Sweep() int {
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	var idle []*Client
	for id, c := range r.clients {
		if c.idleSince().Before(cutoff) {
			idle = append(idle, c)
			delete(r.clients, id)
		}
	}
	r.mu.Unlock()

	for _, c := range idle {
		c.close()
	}
	return len(idle)
}

// Run sweeps idle clients periodically until ctx is done.
func (r *ClientRegistry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.ttl / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.deps.Logger.Info("disposed idle clients", "count", n)
			}
		}
	}
}

// Close disposes of every client.
func (r *ClientRegistry) Close() {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// ============================================================================
// Cookies
// ============================================================================

// deviceID returns the device cookie, issuing a new one when absent.
func deviceID(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(deviceCookieName); err == nil {
		if _, err := uuid.Parse(cookie.Value); err == nil {
			return cookie.Value
		}
	}
	id := uuid.NewString()
	setCookie(w, deviceCookieName, id, deviceCookieTTL)
	return id
}

func sessionID(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// syncSessionCookie makes the session cookie match the client's session.
func syncSessionCookie(w http.ResponseWriter, r *http.Request, c *Client) {
	id := c.Auth.SessionID()
	if id == sessionID(r) {
		return
	}
	if id == "" {
		clearCookie(w, sessionCookieName)
		return
	}
	setCookie(w, sessionCookieName, id, auth.DefaultSessionTTL)
}

func setCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	})
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

type clientKey struct{}

func withClient(ctx context.Context, c *Client) context.Context {
	return context.WithValue(ctx, clientKey{}, c)
}

// clientFrom returns the client attached by the clients middleware.
func clientFrom(ctx context.Context) *Client {
	c, _ := ctx.Value(clientKey{}).(*Client)
	return c
}
