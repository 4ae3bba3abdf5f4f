// Package worker implements the offline request-caching worker of a scope:
// the cache version registry, the precache installer, the generation garbage
// collector, the request classifier with its three strategies, and the
// lifecycle controller that moves a generation through
// installing → installed → activating → activated (or redundant).
//
// Everything here is independent of the HTTP server: requests and responses
// are plain net/http values, the network is an injected Network, and cache
// storage is a *cachestorage.Storage, so each component can be exercised with
// fakes in unit tests.
package worker
