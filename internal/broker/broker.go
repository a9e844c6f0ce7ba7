package broker

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/talkhouse/talkhouse/internal/channel"
	"github.com/talkhouse/talkhouse/internal/config"
	"github.com/talkhouse/talkhouse/internal/session"
)

// Transport is the connection-facing boundary the Broker sends through.
// It is implemented by the websocket hub; tests substitute a recorder.
type Transport interface {
	// SendTo delivers one event to a single connection.
	SendTo(connID, event string, payload any)

	// BroadcastToGroup delivers one event to every connection currently
	// subscribed to the named channel.
	BroadcastToGroup(channelName, event string, payload any)

	// BroadcastToAll delivers one event to every connection.
	BroadcastToAll(event string, payload any)

	// Subscribe / Unsubscribe move a connection in and out of a channel's
	// broadcast group.
	Subscribe(connID, channelName string)
	Unsubscribe(connID, channelName string)
}

// Broker orchestrates connect/join/send/disconnect against the channel
// store and session registry, and decides what to send to whom. It holds
// no per-connection state of its own — sessions live in the registry.
type Broker struct {
	store     *channel.Store
	sessions  *session.Registry
	transport Transport
	log       *slog.Logger

	msgMaxLen atomic.Int64

	// chLocks serializes append+broadcast per channel so history order and
	// delivery order always agree. Different channels proceed in parallel.
	chLocks map[string]*sync.Mutex

	now   func() time.Time // injectable for deterministic tests
	newID func() string
}

// New creates a Broker wired to the given store, registry and transport.
func New(store *channel.Store, sessions *session.Registry, transport Transport, limits config.LimitsConfig, log *slog.Logger) *Broker {
	b := &Broker{
		store:     store,
		sessions:  sessions,
		transport: transport,
		log:       log,
		chLocks:   make(map[string]*sync.Mutex),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	b.msgMaxLen.Store(int64(limits.MessageMaxLen))
	for _, name := range store.Names() {
		b.chLocks[name] = &sync.Mutex{}
	}
	return b
}

// Connect handles a new connection: register the session, send the
// bootstrap payload to that connection, subscribe it to the default
// channel's group, and broadcast the updated presence to everyone.
func (b *Broker) Connect(connID, rawUsername string) {
	username := b.sessions.Register(connID, rawUsername)

	b.transport.SendTo(connID, EventBootstrap, Bootstrap{
		Username: username,
		Channels: b.store.List(),
	})

	sess, ok := b.sessions.Get(connID)
	if !ok {
		// Disconnect raced the bootstrap; nothing left to do.
		return
	}
	b.transport.Subscribe(connID, sess.Channel)

	b.log.Info("session connected", "conn", connID, "username", username)
	b.broadcastPresence()
}

// Join handles a channel-switch request. An unknown channel produces a
// single error toast to the requester and changes nothing; otherwise the
// connection moves to the new channel's group and receives that channel's
// recent history. Nobody else is notified.
func (b *Broker) Join(connID, rawChannel string) {
	name := strings.ToLower(b.sanitize(rawChannel))
	if !b.store.Exists(name) {
		display := name
		if display == "" {
			display = "unknown"
		}
		b.transport.SendTo(connID, EventToast, Toast{
			Type:    "error",
			Message: fmt.Sprintf("Channel #%s does not exist", display),
		})
		return
	}

	sess, ok := b.sessions.Get(connID)
	if !ok {
		return
	}

	b.transport.Unsubscribe(connID, sess.Channel)
	if err := b.sessions.SetChannel(connID, name); err != nil {
		// Session vanished between Get and SetChannel (disconnect race).
		return
	}
	b.transport.Subscribe(connID, name)

	b.transport.SendTo(connID, EventHistory, channel.History{
		Name:     name,
		Messages: b.store.Recent(name),
	})
	b.log.Info("channel joined", "conn", connID, "channel", name)
}

// Send handles a message-send request. Unregistered connections and texts
// that sanitize to empty are dropped silently. Otherwise the message is
// appended to the session's current channel and broadcast to that
// channel's group.
func (b *Broker) Send(connID, rawText string) {
	sess, ok := b.sessions.Get(connID)
	if !ok {
		return
	}

	text := b.sanitize(rawText)
	if text == "" {
		return
	}

	msg := channel.Message{
		ID:        b.newID(),
		Channel:   sess.Channel,
		Author:    sess.Username,
		Text:      text,
		Timestamp: b.now().UTC(),
	}

	// Append and broadcast under the channel's lock so that two concurrent
	// sends to the same channel store and deliver in the same order.
	mu := b.chLocks[sess.Channel]
	mu.Lock()
	defer mu.Unlock()

	if err := b.store.Append(sess.Channel, msg); err != nil {
		// Cannot happen while sessions only ever point at configured
		// channels; log rather than crash if that invariant breaks.
		b.log.Error("append failed", "channel", sess.Channel, "err", err)
		return
	}
	b.transport.BroadcastToGroup(sess.Channel, EventMessageNew, msg)
}

// Disconnect handles connection loss: drop the session and broadcast the
// updated presence. Duplicate signals for the same connection are ignored.
func (b *Broker) Disconnect(connID string) {
	if !b.sessions.Unregister(connID) {
		return
	}
	b.log.Info("session disconnected", "conn", connID)
	b.broadcastPresence()
}

// ApplyLimits updates the reloadable input caps on a running broker.
func (b *Broker) ApplyLimits(limits config.LimitsConfig) {
	b.msgMaxLen.Store(int64(limits.MessageMaxLen))
	b.sessions.SetUsernameLimit(limits.UsernameMaxLen)
	b.log.Info("limits applied",
		"message_max_len", limits.MessageMaxLen,
		"username_max_len", limits.UsernameMaxLen)
}

// broadcastPresence sends the current username list to every connection,
// regardless of channel.
func (b *Broker) broadcastPresence() {
	users, count := b.sessions.Snapshot()
	b.transport.BroadcastToAll(EventPresence, Presence{Count: count, Users: users})
}

// sanitize trims surrounding whitespace and caps the result to the
// configured message length, counted in runes.
func (b *Broker) sanitize(raw string) string {
	s := strings.TrimSpace(raw)
	max := int(b.msgMaxLen.Load())
	runes := []rune(s)
	if len(runes) > max {
		s = string(runes[:max])
	}
	return s
}
