// Package api implements the HTTP REST API and WebSocket server.
//
// It exposes the component container to front-ends:
//   - slot listing with active implementation and contract icon
//   - per-slot settings fields, candidate implementations and activation
//   - a WebSocket endpoint for live slot state
//   - Prometheus metrics and a JSON system status
//
// # WebSocket
//
// Clients send Request frames. "watch" with a list of "<contract>/<slot>"
// keys (empty for every slot) starts slot.changed events for those slots and
// is acknowledged with their current state. "activate" takes the same
// arguments as PUT /slots. Answers carry the request's ref.
//
//	{"op": "watch", "ref": "1", "slots": ["laser/Laser"]}
//	{"kind": "ack", "ref": "1", "data": {"slots": [...]}}
//	{"kind": "slot.changed", "data": {"contract": "laser", "slot": "Laser", ...}}
//
// # Security
//
// When security.jwt.secret is set, every route except health and metrics
// requires an HS256 bearer token. WebSocket connections authenticate with a
// single-use ticket from POST /api/v1/auth/ws-ticket so the token never
// appears in a URL.
//
// # Errors
//
// Container errors map onto status codes: unknown slot or implementation
// 404, settings of the wrong type 400, settings failing validation 422, a
// failed constructor 502 (the slot is left disabled) and a closed container
// 503.
//
//	server, err := api.New(api.Deps{Config: cfg.API, Container: c, Logger: logger})
//	if err != nil {
//	    return err
//	}
//	if err := server.Start(ctx); err != nil {
//	    return err
//	}
//	defer server.Close()
package api
