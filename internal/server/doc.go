// Package server hosts the Fiber HTTP service, the request middleware chain and
// the scope registry that maps request Hosts to offline worker controllers.
// It also bootstraps per-scope cache storage and controllers at startup and
// exposes router constructors that main and the proxy package reuse.
package server
