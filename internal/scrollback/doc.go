// Package scrollback stores terminal output as a bounded, append-only line
// log for replay and search.
//
// The central type is [Buffer], a thread-safe FIFO of [Line] values. Each
// appended line receives a monotonically increasing sequence number that is
// never reused, so consumers (notably the search engine) can refer to lines
// stably even while older lines are being evicted.
//
// # Concurrency
//
// A Buffer has exactly one writer — the transport data-ingest path calling
// [Buffer.Append] — and any number of concurrent readers via
// [Buffer.Snapshot]. Appends never block readers beyond the brief critical
// section, and readers never observe a torn line. Snapshots are full copies;
// a search over a snapshot stays consistent regardless of how much output
// arrives while it runs.
//
// # Bounds
//
// Capacity is fixed at construction (default 10,000 lines). Once exceeded,
// the oldest lines are evicted first. Individual lines are capped at
// [MaxLineLength] bytes and silently truncated beyond that; this is
// documented lossy behavior, not an error.
package scrollback
