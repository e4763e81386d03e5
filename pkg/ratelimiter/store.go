package ratelimiter

import "context"

// takeOutcome is the raw result of an atomic take, before the client
// dispatch layer turns it into a public Result.
type takeOutcome struct {
	Remaining  int64
	Conformant bool
	NowMS      int64
	ResetMS    int64
}

// takeElevatedOutcome extends takeOutcome with the ERL activation flag
// observed at the end of the elevated routine.
type takeElevatedOutcome struct {
	takeOutcome
	ERLActive bool
}

type putOutcome struct {
	Remaining int64
	NowMS     int64
	ResetMS   int64
}

type getOutcome struct {
	Remaining int64
	ResetMS   int64
}

// Store is the atomic-bucket-mutation backend plus a reset sweep.
// RedisStore executes them as Lua scripts against a shared Redis instance
// or cluster; MemoryStore runs the same algorithms in-process for tests
// and single-node deployments.
type Store interface {
	// Take runs the standard atomic take against stateKey.
	Take(ctx context.Context, stateKey string, d *BucketDescriptor, count int64) (takeOutcome, error)

	// TakeElevated runs the ERL-aware atomic take against stateKey and
	// erlKey. d.Elevated must be non-nil. If allowActivate is false, an
	// inactive bucket never promotes to ERL on this call even if the
	// elevated capacity would admit the request.
	TakeElevated(ctx context.Context, stateKey, erlKey string, d *BucketDescriptor, count int64, allowActivate bool) (takeElevatedOutcome, error)

	// Put restores tokens.
	Put(ctx context.Context, stateKey string, d *BucketDescriptor, count int64) (putOutcome, error)

	// Get projects current bucket content without mutating it.
	Get(ctx context.Context, stateKey string, d *BucketDescriptor) (getOutcome, error)

	// ResetAll flushes every key under the store's namespace.
	ResetAll(ctx context.Context) error

	Close() error
}
