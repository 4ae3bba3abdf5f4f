// Package cachestorage implements the per-origin named cache storage used by
// the offline worker. A Storage groups several named caches (the precache and
// runtime stores of a generation, plus any stale stores left by previous
// generations); each cache maps a request key (path + query) to a serialized
// HTTP response. Drivers (bolt, sqlite, memory) only implement the Backend
// primitives, while this package owns key derivation, response encoding and
// the same-origin guard, so stores never hold foreign-origin entries.
package cachestorage
