// Package broker implements the session/channel/presence protocol core.
//
// The Broker is driven by the transport's connection lifecycle — Connect,
// Join, Send, Disconnect — and pushes events back out through the Transport
// interface. Fan-out rules:
//
//   - bootstrap, channel:history, toast — unicast to the requester only
//   - message:new — broadcast to the message's channel group
//   - presence:update — broadcast to every connection, on each connect
//     and disconnect
//
// Error handling is deliberately quiet: a join naming an unknown channel
// gets an error toast and nothing else changes; events for unregistered
// connections (disconnect races) and message texts that sanitize to empty
// are dropped without a reply. No client input is ever fatal.
package broker
