// Package gateway serves the assistant over HTTP.
//
// # Overview
//
// The Gateway owns the store, the model router, the specialist registry and
// the turn coordinator, and exposes them through one HTTP server. A small
// gRPC server carries only the standard health service so load balancers
// and orchestrators can probe readiness.
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil { ... }
//	err = gw.Run(ctx) // blocks until ctx is cancelled
//
// Tests build a gateway around a mock store and scripted model with
// NewWithDeps.
//
// # HTTP API
//
//	GET    /health                    liveness
//	GET    /health/ready              store ping
//	GET    /db/status                 driver and connectivity
//	GET    /api/threads               paginated thread list
//	GET    /api/threads/search        title and date search
//	POST   /api/thread                create an empty thread
//	GET    /api/thread/{id}           thread with ui_msgs
//	DELETE /api/thread/{id}           soft delete
//	GET    /api/thread/{id}/export    markdown or HTML transcript
//	POST   /api/answer                start a turn, SSE progress stream
//	POST   /api/chart                 chart for a turn's query results
//	GET    /api/models                configured models
//	GET    /api/insights              specialists and their tools
//	GET    /api/stats/usage           token usage for the caller
//	GET    /api/events                SSE thread lifecycle feed
//
// GET /api/answer accepts the same fields as query parameters.
//
// # Answer Stream
//
// Every frame is "data: <json>\n\n". The stream opens with a heartbeat,
// repeats heartbeats while the turn is idle, and ends after exactly one
// final or error frame. A client that disconnects does not stop the turn.
//
// # Identity
//
// With auth.jwt_secret set, /api routes require a bearer token and the
// token subject is the user. Without it the "user" parameter is trusted,
// falling back to auth.default_user.
//
// # Shutdown
//
// Shutdown cancels running turns first so their streams end with an error
// frame, closes event feeds, then stops the servers and closes the store.
package gateway
