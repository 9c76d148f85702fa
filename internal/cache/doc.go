// Package cache implements the Response Cache component.
//
// The Response Cache:
//   - Stores upstream exchange responses keyed by a request fingerprint
//   - Expires entries lazily once their TTL has elapsed (no sweep required)
//   - Bounds the number of live entries, evicting least-recently-used first
//   - Purges expired entries before evicting any live one
//   - Never returns errors to callers; faults are logged and degrade to a miss
package cache
