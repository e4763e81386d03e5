package ratelimiter

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client is the dispatch surface: it owns the compiled bucket-type
// registry, the skip-call cache, and a Store that executes bucket
// mutations. It is per-instance state with a clear lifecycle — compiled at
// construction/Configure, dropped at Close — and must not be shared across
// goroutines that each assume exclusive ownership of the registry; reads
// and writes of the registry itself are safe for concurrent use.
type Client struct {
	mu    sync.RWMutex
	types map[string]*TypeDescriptor

	skip  *skipCallCache
	store Store
	opts  options
}

// NewClient builds a Client directly over a Store — the seam used by
// NewRedisClient/NewMemoryClient, and usable directly by tests or callers
// with their own Store implementation.
func NewClient(store Store, opts ...Option) *Client {
	o := defaultOptions()
	for _, f := range opts {
		f(&o)
	}
	return &Client{
		types: make(map[string]*TypeDescriptor),
		skip:  newSkipCallCache(),
		store: store,
		opts:  o,
	}
}

// NewRedisClient builds a Client backed by RedisStore over an
// already-constructed redis.UniversalClient. It pings the client once at
// construction to fail fast on a dead connection; subsequent connection
// issues surface as StoreErrors from individual calls.
func NewRedisClient(client redis.UniversalClient, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, f := range opts {
		f(&o)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, newStoreError("ping", err)
	}

	store := NewRedisStore(client, o.forStore())
	return &Client{
		types: make(map[string]*TypeDescriptor),
		skip:  newSkipCallCache(),
		store: store,
		opts:  o,
	}, nil
}

// NewMemoryClient builds a Client backed by MemoryStore, for tests and
// single-instance use.
func NewMemoryClient(opts ...Option) *Client {
	o := defaultOptions()
	for _, f := range opts {
		f(&o)
	}
	return &Client{
		types: make(map[string]*TypeDescriptor),
		skip:  newSkipCallCache(),
		store: NewMemoryStore(),
		opts:  o,
	}
}

// Configure replaces the entire bucket-type registry. It is a pure
// function of buckets plus wall-clock (for dropping already-expired
// overrides).
func (c *Client) Configure(buckets map[string]BucketTypeDef) error {
	now := time.Now()
	compiled := make(map[string]*TypeDescriptor, len(buckets))
	for name, def := range buckets {
		td, err := compileType(def, now, c.opts.globalTTLSec)
		if err != nil {
			return err
		}
		compiled[name] = td
	}

	c.mu.Lock()
	c.types = compiled
	c.mu.Unlock()
	return nil
}

// ConfigureBucket compiles and installs (or replaces) a single bucket
// type, leaving the rest of the registry untouched.
func (c *Client) ConfigureBucket(typeName string, def BucketTypeDef) error {
	td, err := compileType(def, time.Now(), c.opts.globalTTLSec)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.types[typeName] = td
	c.mu.Unlock()
	return nil
}

func (c *Client) lookupType(typeName string) (*TypeDescriptor, error) {
	if typeName == "" {
		return nil, newValidationError(ErrCodeMissingType, "type is required")
	}
	c.mu.RLock()
	td, ok := c.types[typeName]
	c.mu.RUnlock()
	if !ok {
		return nil, newValidationError(ErrCodeUnknownType, "unknown bucket type %q", typeName)
	}
	return td, nil
}

func validateOverride(o RateExpr) error {
	if o.Size == nil && o.PerSecond == nil && o.PerMinute == nil &&
		o.PerHour == nil && o.PerDay == nil && o.Interval == nil && o.PerInterval == nil {
		return newValidationError(ErrCodeMalformedOverride, "configOverride must set size or an interval shortcut")
	}
	return nil
}

// resolve runs validation for any request shape sharing type/key/
// configOverride.
func (c *Client) resolve(typeName, key string, override *RateExpr) (*BucketDescriptor, error) {
	if key == "" {
		return nil, newValidationError(ErrCodeMissingKey, "key is required")
	}
	if override != nil {
		if err := validateOverride(*override); err != nil {
			return nil, err
		}
	}
	td, err := c.lookupType(typeName)
	if err != nil {
		return nil, err
	}
	return td.resolve(key, override), nil
}

func stateKeyFor(typeName, key string) string {
	return typeName + ":" + key
}

func ceilMSToSeconds(ms int64) int64 {
	if ms <= 0 {
		return 0
	}
	return (ms + 999) / 1000
}

// Take dispatches to the store's standard atomic take (or the skip-call cache).
func (c *Client) Take(ctx context.Context, req TakeRequest) (Result, error) {
	desc, err := c.resolve(req.Type, req.Key, req.ConfigOverride)
	if err != nil {
		return Result{}, err
	}

	count := req.Count.resolve(desc.Size)
	if count < 0 {
		return Result{}, newValidationError(ErrCodeMalformedCount, "count must be 'all' or a non-negative integer, got %d", count)
	}

	if desc.Unlimited {
		return Result{Conformant: true, Remaining: desc.Size, Reset: time.Now().Unix(), Limit: desc.Size}, nil
	}

	stateKey := stateKeyFor(req.Type, req.Key)
	doTake := func(n int64) (Result, error) {
		out, err := c.store.Take(ctx, stateKey, desc, n)
		if err != nil {
			return Result{}, err
		}
		return Result{
			Conformant: out.Conformant,
			Remaining:  out.Remaining,
			Reset:      ceilMSToSeconds(out.ResetMS),
			Limit:      desc.Size,
		}, nil
	}

	return c.skip.take(stateKey, desc.SkipNCalls, count, doTake)
}

// TakeElevated dispatches to the store's ERL-aware atomic take.
func (c *Client) TakeElevated(ctx context.Context, req TakeElevatedRequest) (Result, error) {
	if req.ERLIsActiveKey == "" {
		return Result{}, newValidationError(ErrCodeMissingERLKey, "erlIsActiveKey is required for elevated limits")
	}

	desc, err := c.resolve(req.Type, req.Key, req.ConfigOverride)
	if err != nil {
		return Result{}, err
	}
	if !desc.HasElevated() {
		return Result{}, newValidationError(ErrCodeNoElevatedConfig, "attempted to takeElevated() for a bucket with no elevated config")
	}

	count := req.Count.resolve(desc.Size)
	if count < 0 {
		return Result{}, newValidationError(ErrCodeMalformedCount, "count must be 'all' or a non-negative integer, got %d", count)
	}

	if desc.Unlimited {
		return Result{Conformant: true, Remaining: desc.Size, Reset: time.Now().Unix(), Limit: desc.Size}, nil
	}

	stateKey := stateKeyFor(req.Type, req.Key)
	erlKey := req.ERLIsActiveKey
	allowActivate := req.AllowERL

	doTake := func(n int64) (Result, error) {
		out, err := c.store.TakeElevated(ctx, stateKey, erlKey, desc, n, allowActivate)
		if err != nil {
			return Result{}, err
		}
		limit := desc.Size
		if out.ERLActive {
			limit = desc.Elevated.Size
		}
		return Result{
			Conformant:   out.Conformant,
			Remaining:    out.Remaining,
			Reset:        ceilMSToSeconds(out.ResetMS),
			Limit:        limit,
			ERLActivated: out.ERLActive,
		}, nil
	}

	return c.skip.take(stateKey, desc.SkipNCalls, count, doTake)
}

func resolvePutCount(count *CountArg, size int64) (int64, error) {
	if count == nil {
		return size, nil
	}
	return count.resolve(size), nil
}

// Put dispatches to the store's atomic put.
func (c *Client) Put(ctx context.Context, req PutRequest) (PutResult, error) {
	desc, err := c.resolve(req.Type, req.Key, req.ConfigOverride)
	if err != nil {
		return PutResult{}, err
	}

	count, err := resolvePutCount(req.Count, desc.Size)
	if err != nil {
		return PutResult{}, err
	}

	if desc.Unlimited {
		return PutResult{Remaining: desc.Size, Reset: time.Now().Unix(), Limit: desc.Size}, nil
	}

	stateKey := stateKeyFor(req.Type, req.Key)
	out, err := c.store.Put(ctx, stateKey, desc, count)
	if err != nil {
		return PutResult{}, err
	}
	return PutResult{Remaining: out.Remaining, Reset: ceilMSToSeconds(out.ResetMS), Limit: desc.Size}, nil
}

// Get dispatches to the store's read-only projection. It never mutates bucket state.
func (c *Client) Get(ctx context.Context, req GetRequest) (GetResult, error) {
	desc, err := c.resolve(req.Type, req.Key, req.ConfigOverride)
	if err != nil {
		return GetResult{}, err
	}

	if desc.Unlimited {
		return GetResult{Remaining: desc.Size, Reset: time.Now().Unix(), Limit: desc.Size}, nil
	}

	stateKey := stateKeyFor(req.Type, req.Key)
	out, err := c.store.Get(ctx, stateKey, desc)
	if err != nil {
		return GetResult{}, err
	}
	return GetResult{Remaining: out.Remaining, Reset: ceilMSToSeconds(out.ResetMS), Limit: desc.Size}, nil
}

// Wait is a thin reentrant wrapper over Take: it calls Take, and if the
// request is not yet conformant, sleeps for the minimal wait before the
// bucket should have refilled enough tokens, then retries. It is unbounded
// by default, but honors ctx cancellation at every sleep rather than
// retrying forever regardless of the caller's context.
func (c *Client) Wait(ctx context.Context, req TakeRequest) (Result, error) {
	for {
		res, err := c.Take(ctx, req)
		if err != nil {
			return Result{}, err
		}
		if res.Conformant {
			res.Delayed = false
			return res, nil
		}

		desc, err := c.resolve(req.Type, req.Key, req.ConfigOverride)
		if err != nil {
			return Result{}, err
		}
		count := req.Count.resolve(desc.Size)
		minWait := minWaitDuration(count, res.Remaining, desc)

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(minWait):
		}

		// Loop back to Take; mark the eventual success as delayed.
		res, err = c.Take(ctx, req)
		if err != nil {
			return Result{}, err
		}
		res.Delayed = true
		if res.Conformant {
			return res, nil
		}
		// Still short: keep retrying, now knowing we've already delayed.
		for !res.Conformant {
			minWait = minWaitDuration(count, res.Remaining, desc)
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(minWait):
			}
			res, err = c.Take(ctx, req)
			if err != nil {
				return Result{}, err
			}
		}
		res.Delayed = true
		return res, nil
	}
}

func minWaitDuration(count, remaining int64, desc *BucketDescriptor) time.Duration {
	if desc.PerInterval <= 0 || desc.IntervalMS <= 0 {
		// Fixed bucket: nothing will refill on its own; a short backoff
		// avoids a tight loop while still being reentrant.
		return 50 * time.Millisecond
	}
	missing := count - remaining
	if missing <= 0 {
		return 0
	}
	ms := (missing * desc.IntervalMS) / desc.PerInterval
	if (missing*desc.IntervalMS)%desc.PerInterval != 0 {
		ms++
	}
	return time.Duration(ms) * time.Millisecond
}

// ResetAll flushes the whole store namespace.
func (c *Client) ResetAll(ctx context.Context) error {
	return c.store.ResetAll(ctx)
}

// Close releases the underlying store's resources. The registry and caches
// are dropped with the Client itself.
func (c *Client) Close() error {
	return c.store.Close()
}
