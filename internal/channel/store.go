package channel

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrUnknownChannel is returned when a message names a channel that was not
// configured at startup.
var ErrUnknownChannel = errors.New("unknown channel")

// Message is one chat message as stored and as sent on the wire.
// Messages are immutable once created.
type Message struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// History is one channel's name together with its recent messages, capped
// to the client-visible window. This is the shape sent to clients on
// bootstrap and on channel switch.
type History struct {
	Name     string    `json:"name"`
	Messages []Message `json:"messages"`
}

// Stat is one channel's name and total stored message count, as reported
// by GET /api/channels.
type Stat struct {
	Name         string `json:"name"`
	MessageCount int    `json:"messageCount"`
}

// history is the mutable per-channel state. Each channel has its own lock,
// so appends to different channels never contend.
type history struct {
	mu       sync.Mutex
	messages []Message
}

// Store owns the fixed set of channels and each channel's bounded message
// history. The channel set is created once and never mutated, which keeps
// the outer map read-only and safe for concurrent lookups.
type Store struct {
	names     []string // config order, drives List/Stats ordering
	channels  map[string]*history
	retention int
	window    int
}

// NewStore creates a Store for the given channel names. Retention is the
// per-channel in-memory cap (FIFO eviction past it); window is the number
// of recent messages List returns per channel and must not exceed retention.
func NewStore(names []string, retention, window int) *Store {
	s := &Store{
		names:     append([]string(nil), names...),
		channels:  make(map[string]*history, len(names)),
		retention: retention,
		window:    window,
	}
	for _, name := range names {
		s.channels[name] = &history{}
	}
	return s
}

// Exists reports whether name is a configured channel.
func (s *Store) Exists(name string) bool {
	_, ok := s.channels[name]
	return ok
}

// Names returns the configured channel names in config order.
func (s *Store) Names() []string {
	return append([]string(nil), s.names...)
}

// Append adds msg to the named channel's history, evicting the oldest
// message when the retention cap is exceeded. Returns ErrUnknownChannel if
// name is not a configured channel.
func (s *Store) Append(name string, msg Message) error {
	h, ok := s.channels[name]
	if !ok {
		return fmt.Errorf("append to %q: %w", name, ErrUnknownChannel)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
	if len(h.messages) > s.retention {
		// Rolling window, not an archive: drop the oldest entry. Copy so the
		// backing array does not pin evicted messages forever.
		h.messages = append(h.messages[:0:0], h.messages[1:]...)
	}
	return nil
}

// List returns every channel with its most recent messages, capped to the
// client-visible window, in config order. The returned message slices are
// copies and safe to hand to encoders.
func (s *Store) List() []History {
	out := make([]History, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, History{Name: name, Messages: s.Recent(name)})
	}
	return out
}

// Recent returns a copy of the named channel's most recent messages, capped
// to the client-visible window. Returns nil for an unknown channel.
func (s *Store) Recent(name string) []Message {
	h, ok := s.channels[name]
	if !ok {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := h.messages
	if len(msgs) > s.window {
		msgs = msgs[len(msgs)-s.window:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Stats returns each channel's total stored message count in config order.
// Counts reflect the full retained history, not the client window.
func (s *Store) Stats() []Stat {
	out := make([]Stat, 0, len(s.names))
	for _, name := range s.names {
		h := s.channels[name]
		h.mu.Lock()
		n := len(h.messages)
		h.mu.Unlock()
		out = append(out, Stat{Name: name, MessageCount: n})
	}
	return out
}
