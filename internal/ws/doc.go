// Package ws implements the WebSocket transport for the broker.
//
// Hub manages the set of connected clients and the per-channel broadcast
// groups, and forwards inbound client events to its EventHandler (the
// broker). It implements the broker's Transport interface: unicast SendTo,
// per-channel BroadcastToGroup, global BroadcastToAll, and the
// Subscribe/Unsubscribe group moves.
//
// Frames in both directions are JSON envelopes:
//
//	{ "event": "message:send", "data": { "text": "hi" } }
//	{ "event": "channel:join", "data": "random" }
//
// The candidate username arrives as a ?username= query parameter on the
// upgrade request. Inbound frames are bounded at 8 KiB — enough for a
// maximal message:send envelope even fully \u-escaped; anything larger
// closes the connection. A client whose send buffer stays full is
// disconnected.
// The upgrader accepts all origins; apply CORS restrictions at the reverse
// proxy level.
package ws
