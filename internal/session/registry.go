package session

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownSession is returned when an operation names a connection that is
// not (or no longer) registered.
var ErrUnknownSession = errors.New("unknown session")

// Session is the server-side record of one live connection: who it is and
// which channel it is currently subscribed to.
type Session struct {
	ConnID   string
	Username string
	Channel  string

	// seq orders sessions by registration for deterministic snapshots.
	seq uint64
}

// Registry owns the set of currently connected sessions, keyed by
// connection id. All methods are safe for concurrent use, and every
// mutation is atomic with respect to Snapshot — a presence broadcast never
// observes a half-applied change.
type Registry struct {
	mu             sync.Mutex
	sessions       map[string]*Session
	defaultChannel string
	usernameMaxLen int
	nextSeq        uint64

	// guestNum is injectable for deterministic tests; defaults to rand.Intn.
	guestNum func(n int) int
}

// NewRegistry creates a Registry. New sessions start in defaultChannel;
// usernames are capped to usernameMaxLen runes.
func NewRegistry(defaultChannel string, usernameMaxLen int) *Registry {
	return &Registry{
		sessions:       make(map[string]*Session),
		defaultChannel: defaultChannel,
		usernameMaxLen: usernameMaxLen,
		guestNum:       rand.Intn,
	}
}

// Register stores a new session for connID and returns the resolved
// username: rawUsername trimmed and capped, or a generated guest name if
// empty after sanitization. Registering an already-known connID replaces
// the previous session.
func (r *Registry) Register(connID, rawUsername string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	username := capRunes(strings.TrimSpace(rawUsername), r.usernameMaxLen)
	if username == "" {
		username = fmt.Sprintf("guest-%d", r.guestNum(1000))
	}

	r.nextSeq++
	r.sessions[connID] = &Session{
		ConnID:   connID,
		Username: username,
		Channel:  r.defaultChannel,
		seq:      r.nextSeq,
	}
	return username
}

// Unregister removes the session for connID and reports whether one was
// present. Safe to call more than once for the same connection.
func (r *Registry) Unregister(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[connID]
	delete(r.sessions, connID)
	return ok
}

// SetChannel updates the session's subscribed channel. It does not check
// that the channel exists — that is the caller's job, against the channel
// store. Returns ErrUnknownSession if connID is not registered.
func (r *Registry) SetChannel(connID, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[connID]
	if !ok {
		return fmt.Errorf("set channel for %q: %w", connID, ErrUnknownSession)
	}
	s.Channel = channel
	return nil
}

// Get returns a copy of the session for connID, and whether it exists.
func (r *Registry) Get(connID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[connID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Snapshot returns all currently registered usernames in registration
// order, plus the count. The count is derived from the list, so the two
// can never drift apart. Duplicate display names are kept — uniqueness is
// not enforced.
func (r *Registry) Snapshot() (users []string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })

	users = make([]string, len(all))
	for i, s := range all {
		users[i] = s.Username
	}
	return users, len(users)
}

// SetUsernameLimit updates the username length cap for future Register
// calls. Existing sessions are not renamed.
func (r *Registry) SetUsernameLimit(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usernameMaxLen = n
}

// capRunes truncates s to at most n runes.
func capRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
