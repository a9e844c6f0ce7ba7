package broker

import "github.com/talkhouse/talkhouse/internal/channel"

// Outbound event names. These are part of the wire contract with clients.
const (
	EventBootstrap  = "bootstrap"
	EventHistory    = "channel:history"
	EventMessageNew = "message:new"
	EventPresence   = "presence:update"
	EventToast      = "toast"
)

// Bootstrap is sent once to each connection right after it registers: the
// resolved username plus every channel's recent history.
type Bootstrap struct {
	Username string            `json:"username"`
	Channels []channel.History `json:"channels"`
}

// Presence is broadcast to every connection on each connect and disconnect.
// Count always equals len(Users).
type Presence struct {
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// Toast is a user-visible notification sent to a single connection.
type Toast struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
