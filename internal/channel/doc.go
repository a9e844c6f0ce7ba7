// Package channel manages the fixed channel set and each channel's bounded
// in-memory message history.
//
// NewStore(names, retention, window) creates the Store. Channels exist for
// the lifetime of the process — none are added or removed after startup, so
// the store's structure is immutable and only per-channel histories are
// guarded by locks. Append evicts the oldest message once a channel holds
// more than retention messages (rolling window); List and Recent cap what
// they return to the smaller client-visible window.
package channel
