// Package weft provides a manifest-driven request/action engine.
//
// A manifest declares connectors (named data collections), channels
// (real-time broadcast topics watching those connectors), and routes.
// View routes compose connector data for a renderer; action routes
// execute small step programs that mutate connector state, broadcast
// the results to WebSocket subscribers, and can suspend mid-run to
// await a round-trip "bridge call" answered by a remote responder.
//
// The step interpreter is in package 'core', expression evaluation in
// 'expr', storage backends in 'connector', the WebSocket hub in 'bus',
// sessions in 'auth', and the HTTP front in 'dispatch'.  The serving
// command is cmd/weftd.
package weft
