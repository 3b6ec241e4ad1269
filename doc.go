// Package gencache implements a generational cache service: one persistent
// key/value store shared by any number of connected clients.
//
// Every mutation goes through a serial, coalescing batch. A batch applies all
// pending writes and touches in one store transaction, advances the global
// generation when a client has connected since the last batch, and then tells
// every client what changed in at most one "updated" and one "expired"
// notification.
//
// Eviction uses generations instead of timers. Each row carries the
// generation at which it was last touched. The generation ticks up by one per
// advance until it reaches the threshold T; the next advance halves it and
// sweeps the table, halving every untouched row. A row whose generation
// reaches zero is deleted. An untouched entry stamped at T is therefore
// deleted by sweep floor(log2 T)+1 (for a power-of-two T that is
// ceil(log2 T)+1), and any fetch or write resets it to the current
// generation.
//
// Components:
//   - store.Store: the two persisted tables (bigcache, redis, postgres,
//     optionally fronted by readcache).
//   - codec.Codec[V]: V <-> []byte.
//   - Client: anything that can accept a Notification without blocking;
//     package transport provides a gRPC implementation.
//
// Fetches read the store directly and answer before the batch that records
// the touch has committed. A fetch racing a write may therefore return the
// old value; the write's batch broadcasts the new one right after.
package gencache
