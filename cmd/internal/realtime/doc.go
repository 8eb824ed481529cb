// Package realtime is the WebSocket front door: it binds sessions to
// addresses, routes chat messages between connected sessions, feeds the
// archive intake and streams archive query results back to the requester.
package realtime
