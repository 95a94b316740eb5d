// Package ws streams network delegate events to WebSocket clients.
//
// Each client gets a uuid and a bounded send queue. Events are encoded
// with sonic on the IO sequence and dropped for clients that fall behind.
//
// Client messages:
//   - ping: answered with pong
//   - subscribe: {"events": ["onCompleted", ...]} limits the stream; an
//     empty list restores every event
//
// Server messages:
//   - system: sent once with the client id
//   - event: {"event": name, "details": {...}}
//   - subscribed, pong, error
//
//	hub := ws.NewHub(ctx.Delegate(), metrics, logger)
//	router.GET("/events", hub.HandleConnection)
package ws
