// Package session tracks the set of currently connected users and their
// active channel.
//
// Registry is keyed by the transport's connection id. Register sanitizes
// the candidate username (trim, rune cap, guest-NNN fallback when empty)
// and starts the session in the default channel; Unregister is idempotent.
// Snapshot returns the live username list in registration order together
// with its count — the presence view is always derived, never stored.
package session
