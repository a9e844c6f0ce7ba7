// Package config loads the broker configuration from the `server:` section
// of config.yaml.
//
// Config fields:
//   - HTTPPort        — port for the REST API and WebSocket endpoint (default 8080)
//   - Channels        — fixed channel set, lowercased (default general/random/announcements)
//   - DefaultChannel  — channel new sessions start in (default "general")
//   - History.Retention — per-channel in-memory cap, FIFO eviction (default 300)
//   - History.Window  — recent messages sent on bootstrap/switch (default 100, ≤ Retention)
//   - Limits.MessageMaxLen / Limits.UsernameMaxLen — input caps in runes (500 / 24)
//
// Load(path) applies defaults before unmarshalling, then normalizes channel
// names and validates. Watch(ctx, path, onChange) reloads the file on change
// so the running server can pick up the reloadable subset (Limits); the
// channel set and port are fixed for the process lifetime.
package config
