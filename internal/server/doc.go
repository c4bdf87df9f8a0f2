// Package server hosts the Fiber HTTP service: the request-id middleware,
// the /api/images handler that fronts the thumbnail manager, static assets
// under /public, the HTML error view and the JSON 404 fallback.
// Diagnostics endpoints live in server/routes and are attached through
// AppOptions.Mounts so that the 404 handler always stays last in the stack.
package server
