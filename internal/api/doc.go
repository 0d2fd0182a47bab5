// Package api contains transport-facing service implementations.
//
// The http subpackage exposes the engine's commands and read models over a
// small JSON API. Handlers stay thin: they parse the request, call the
// engine or a query facade, and translate domain errors to status codes.
package api
