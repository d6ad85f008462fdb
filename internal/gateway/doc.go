// Package gateway bridges registered client agents onto the bus over
// WebSocket. An agent connects with its client name, receives the check
// commands fanned into its private delivery channel, and submits check
// results that the gateway forwards to the result work queue. Messages are
// acknowledged only after a successful write to the socket, so an agent that
// drops mid-delivery sees the command again on reconnect.
package gateway
