// Package service answers market data queries through the response cache.
//
// Every query is reduced to a fingerprint. A cache hit is served without
// touching the exchange; a miss calls the exchange adapter once per
// fingerprint no matter how many requests are waiting on it, and stores the
// result. Empty results are reported as not found and never cached.
package service
