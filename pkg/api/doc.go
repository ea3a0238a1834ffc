// Package api provides ssbabeld's read-only introspection HTTP server.
//
// Base path: /
//
// Info and health endpoints (GET)
//
//	/-/health   liveness probe
//	/-/ready    readiness probe
//	/-/info     service name, version, commit
//
// Everything else the daemon exposes (pending resends, tracked xroutes,
// per-neighbour replay state) is registered by pkg/api/server on top of
// these shared routes and middlewares.
package api
