// Package bucketguard implements in-process token bucket rate limiting on top of
// the Generic Cell Rate Algorithm (GCRA). A bucket keeps a single "theoretical
// arrival time" cursor that is advanced with compare-and-swap, so admission
// checks are lock-free and allocation-free.
//
// Limiter guards a single global rate. KeyedLimiter multiplexes independent
// buckets per key behind a bounded (LRU and/or idle-expiry) or unbounded store.
// Both support immediate, blocking and asynchronous acquisition.
// Find an optional demo under cmd/.
package bucketguard
