// Package ratelimiter implements a distributed token-bucket rate limiter
// with server-side atomic mutation and an elevated-rate-limit (ERL) carry
// forward promotion scheme.
//
// The primary entry point is Client:
//
//	res, err := client.Take(ctx, ratelimiter.TakeRequest{Type: "api", Key: "user_123"})
//
// The returned Result reports whether the call was conformant, how many
// tokens remain, and a reset time suitable for a Retry-After-style header.
//
// # Overview
//
// Each (bucket type, key) pair owns a bucket:
//
//   - A bucket holds up to Size tokens.
//   - A refilling bucket earns PerInterval tokens every Interval of wall
//     clock time, continuously (not in discrete steps).
//   - A fixed bucket never refills on its own; only Put restores tokens.
//   - Take consumes count tokens if and only if the projected content is
//     at least count; otherwise the bucket is left untouched and the call
//     is reported non-conformant.
//
// # Bucket Types and Overrides
//
// A bucket type is configured once (Configure/ConfigureBucket) as a base
// RateExpr plus an ordered list of overrides: a literal Key match, or a
// case-insensitive regular-expression Match, each with an optional expiry
// (Until). The first matching override — literal first, then regex in
// definition order — replaces the base rate for that key; a caller-supplied
// ConfigOverride on an individual request replaces both.
//
// # Elevated Rate Limits
//
// A bucket type with an Elevated sub-expression supports promotion: when a
// standard Take would be denied and ERL is not already active for the key's
// ERLIsActiveKey, TakeElevated checks whether the elevated capacity — after
// carrying forward tokens already spent under the standard regime — would
// admit the request. If so, ERL activates for ERLActivationPeriodSeconds
// and the elevated ceiling applies for the remainder of that window. The
// AllowERL flag on TakeElevatedRequest gates whether a given call is
// permitted to trigger this promotion at all.
//
// # Backends
//
// The package provides two Store implementations behind the same surface:
//
//   - MemoryStore: an in-process store backed by two Go maps. This is
//     useful for unit tests, local development, and single-instance
//     deployments. Because its state is local to the process, it does not
//     enforce a global limit across multiple replicas.
//
//   - RedisStore: a distributed store backed by Redis (or Redis Cluster).
//     It runs each bucket mutation as a single Lua script, which makes the
//     read/compute/write cycle atomic and safe to share across many
//     application instances. The script reads "now" from the store's own
//     TIME command, not the client's clock, so replicas with skewed system
//     clocks still agree on bucket state.
//
// Recommendation: use RedisStore in production when you need a limit shared
// across replicas, and MemoryStore in tests as a fast, dependency-free
// stand-in.
//
// # Concurrency
//
// Client and MemoryStore are safe for concurrent use by multiple goroutines.
// RedisStore delegates concurrency safety to Redis and the go-redis client;
// atomicity of a single bucket's read-compute-write cycle is guaranteed by
// running it as one Lua script, not by any locking on the Go side.
//
// # Context and Error Policy
//
// Every Store method accepts a context.Context, and RedisStore passes it
// through to the underlying script execution. This package does not impose
// a fail-open vs. fail-closed policy: if the store is unreachable or the
// context expires, Take/Put/Get return a non-nil error and the caller
// decides whether to deny the request or let it through.
//
// # Skip-Call Cache
//
// A bucket type may set SkipNCalls to elide store round trips on a hot
// path: Take services up to SkipNCalls consecutive calls from a client-side
// cache of the last real result, then flushes a single scaled deduction
// (count multiplied by SkipNCalls+1) back to the store. This trades a
// bounded amount of over-admission for fewer round trips; it is off by
// default (SkipNCalls: 0).
//
// # Configuration
//
// RedisStore and Client are configured with the functional options
// pattern:
//
//	client, _ := ratelimiter.NewRedisClient(redisClient,
//		ratelimiter.WithPrefix("myapp:rate:"),
//		ratelimiter.WithTimeout(125*time.Millisecond),
//		ratelimiter.WithRecorder(myMetrics),
//		ratelimiter.WithLogger(myLogger),
//	)
//
// Supported options:
//
//   - WithPrefix(string): sets the Redis key prefix (default "ratelimit:").
//   - WithTimeout(time.Duration): sets the per-call context timeout against
//     the store (default 125ms).
//   - WithRecorder(MetricsRecorder): injects a custom metrics backend.
//   - WithLogger(zerolog.Logger): injects a structured logger.
//   - WithGlobalTTL(time.Duration): overrides the default state-key TTL for bucket
//     types that don't derive one from their own rate.
package ratelimiter
