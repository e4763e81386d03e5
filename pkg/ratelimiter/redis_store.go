package ratelimiter

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisStore executes each bucket mutation as a Lua script against a
// shared Redis instance or cluster. It is the production Store: every
// mutation is a single round trip, atomic at the store, and reads "now"
// from the store's own TIME command rather than the client's clock, so
// replicas with skewed system clocks still agree on bucket state.
type RedisStore struct {
	client  redis.UniversalClient
	scripts *scripts
	prefix  string
	timeout time.Duration

	recorder MetricsRecorder
	logger   zerolog.Logger
}

// NewRedisStore wires a RedisStore over an already-constructed
// redis.UniversalClient (works for both *redis.Client and
// *redis.ClusterClient) — connection, TLS, and cluster-topology concerns
// stay entirely on the caller's side.
func NewRedisStore(client redis.UniversalClient, opts storeOptions) *RedisStore {
	return &RedisStore{
		client:   client,
		scripts:  newScripts(),
		prefix:   opts.prefix,
		timeout:  opts.timeout,
		recorder: opts.recorder,
		logger:   opts.logger,
	}
}

func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *RedisStore) run(ctx context.Context, op string, script *redis.Script, keys []string, args ...any) ([]any, error) {
	start := time.Now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	prefixedKeys := make([]string, len(keys))
	for i, k := range keys {
		prefixedKeys[i] = s.prefix + k
	}

	res, err := script.Run(ctx, s.client, prefixedKeys, args...).Result()

	s.recorder.Observe("ratelimiter.latency", time.Since(start).Seconds(), map[string]string{"op": op})
	if err != nil {
		s.recorder.Add("ratelimiter.errors", 1, map[string]string{"op": op})
		s.logger.Warn().Err(err).Str("op", op).Msg("ratelimiter: script failed")
		return nil, newStoreError(op, err)
	}
	s.recorder.Add("ratelimiter.calls", 1, map[string]string{"op": op})

	values, ok := res.([]any)
	if !ok {
		return nil, newStoreError(op, errUnexpectedScriptReply)
	}
	return values, nil
}

func (s *RedisStore) Take(ctx context.Context, stateKey string, d *BucketDescriptor, count int64) (takeOutcome, error) {
	if d.Unlimited {
		now := time.Now().UnixMilli()
		return takeOutcome{Remaining: d.Size, Conformant: true, NowMS: now, ResetMS: now}, nil
	}
	values, err := s.run(ctx, "take", s.scripts.take, []string{stateKey},
		d.TokensPerMS, d.Size, count, d.TTLSeconds, d.DripIntervalMS)
	if err != nil {
		return takeOutcome{}, err
	}
	if len(values) != 4 {
		return takeOutcome{}, newStoreError("take", errUnexpectedScriptReply)
	}
	newR, err := parseFloatReply(values[0])
	if err != nil {
		return takeOutcome{}, newStoreError("take", err)
	}
	nowMS, err := parseIntReply(values[2])
	if err != nil {
		return takeOutcome{}, newStoreError("take", err)
	}
	resetMS, err := parseIntReply(values[3])
	if err != nil {
		return takeOutcome{}, newStoreError("take", err)
	}
	return takeOutcome{
		Remaining:  int64(newR),
		Conformant: parseBoolReply(values[1]),
		NowMS:      nowMS,
		ResetMS:    resetMS,
	}, nil
}

func (s *RedisStore) TakeElevated(ctx context.Context, stateKey, erlKey string, d *BucketDescriptor, count int64, allowActivate bool) (takeElevatedOutcome, error) {
	e := d.Elevated
	allowActivateArg := "0"
	if allowActivate {
		allowActivateArg = "1"
	}
	values, err := s.run(ctx, "take_elevated", s.scripts.takeElevated, []string{stateKey, erlKey},
		d.TokensPerMS, d.Size, count, d.TTLSeconds, d.DripIntervalMS,
		e.TokensPerMS, e.Size, e.DripIntervalMS, e.ERLActivationPeriodSeconds, allowActivateArg)
	if err != nil {
		return takeElevatedOutcome{}, err
	}
	if len(values) != 5 {
		return takeElevatedOutcome{}, newStoreError("take_elevated", errUnexpectedScriptReply)
	}
	newR, err := parseFloatReply(values[0])
	if err != nil {
		return takeElevatedOutcome{}, newStoreError("take_elevated", err)
	}
	nowMS, err := parseIntReply(values[2])
	if err != nil {
		return takeElevatedOutcome{}, newStoreError("take_elevated", err)
	}
	resetMS, err := parseIntReply(values[3])
	if err != nil {
		return takeElevatedOutcome{}, newStoreError("take_elevated", err)
	}
	out := takeElevatedOutcome{
		takeOutcome: takeOutcome{
			Remaining:  int64(newR),
			Conformant: parseBoolReply(values[1]),
			NowMS:      nowMS,
			ResetMS:    resetMS,
		},
		ERLActive: parseBoolReply(values[4]),
	}
	if out.ERLActive {
		s.logger.Debug().Str("key", stateKey).Msg("ratelimiter: ERL active for this take")
	}
	return out, nil
}

func (s *RedisStore) Put(ctx context.Context, stateKey string, d *BucketDescriptor, count int64) (putOutcome, error) {
	unlimited := "0"
	if d.Unlimited {
		unlimited = "1"
	}
	values, err := s.run(ctx, "put", s.scripts.put, []string{stateKey},
		count, d.Size, d.TTLSeconds, d.DripIntervalMS, unlimited)
	if err != nil {
		return putOutcome{}, err
	}
	if len(values) != 3 {
		return putOutcome{}, newStoreError("put", errUnexpectedScriptReply)
	}
	newR, err := parseFloatReply(values[0])
	if err != nil {
		return putOutcome{}, newStoreError("put", err)
	}
	nowMS, err := parseIntReply(values[1])
	if err != nil {
		return putOutcome{}, newStoreError("put", err)
	}
	resetMS, err := parseIntReply(values[2])
	if err != nil {
		return putOutcome{}, newStoreError("put", err)
	}
	return putOutcome{Remaining: int64(newR), NowMS: nowMS, ResetMS: resetMS}, nil
}

func (s *RedisStore) Get(ctx context.Context, stateKey string, d *BucketDescriptor) (getOutcome, error) {
	if d.Unlimited {
		return getOutcome{Remaining: d.Size, ResetMS: 0}, nil
	}
	unlimited := "0"
	values, err := s.run(ctx, "get", s.scripts.get, []string{stateKey},
		d.TokensPerMS, d.Size, d.DripIntervalMS, unlimited)
	if err != nil {
		return getOutcome{}, err
	}
	if len(values) != 2 {
		return getOutcome{}, newStoreError("get", errUnexpectedScriptReply)
	}
	remaining, err := parseFloatReply(values[0])
	if err != nil {
		return getOutcome{}, newStoreError("get", err)
	}
	resetMS, err := parseIntReply(values[1])
	if err != nil {
		return getOutcome{}, newStoreError("get", err)
	}
	return getOutcome{Remaining: int64(remaining), ResetMS: resetMS}, nil
}

// ResetAll flushes every key under this store's prefix. Against a cluster
// client it iterates masters; against a single node it scans and deletes
// by prefix.
func (s *RedisStore) ResetAll(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	sweep := func(c *redis.Client) error {
		pattern := s.prefix + "*"
		iter := c.Scan(ctx, 0, pattern, 1000).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
			if len(keys) >= 1000 {
				if err := c.Del(ctx, keys...).Err(); err != nil {
					return err
				}
				keys = keys[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return err
		}
		if len(keys) > 0 {
			return c.Del(ctx, keys...).Err()
		}
		return nil
	}

	if cluster, ok := s.client.(*redis.ClusterClient); ok {
		return newStoreError("reset_all", cluster.ForEachMaster(ctx, func(ctx context.Context, c *redis.Client) error {
			return sweep(c)
		}))
	}
	if single, ok := s.client.(*redis.Client); ok {
		return newStoreError("reset_all", sweep(single))
	}
	return newStoreError("reset_all", errUnsupportedClientForResetAll)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func parseFloatReply(v any) (float64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, errUnexpectedScriptReply
	}
	return strconv.ParseFloat(s, 64)
}

func parseIntReply(v any) (int64, error) {
	f, err := parseFloatReply(v)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

func parseBoolReply(v any) bool {
	s, ok := v.(string)
	return ok && s == "1"
}
