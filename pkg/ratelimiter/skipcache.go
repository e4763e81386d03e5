package ratelimiter

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// skipCallCacheSize bounds the skip-call cache: capacity 50, LRU.
const skipCallCacheSize = 50

type skipEntry struct {
	result  Result
	skipped int64
}

// skipCallCache lets Take elide up to k successive store round-trips per
// key, compensating on the next real call by multiplying the deferred
// token count. It is safe for concurrent use — the whole
// lookup-decide-update sequence for a key happens under a single lock,
// since golang-lru.Cache is not safe for compound read-modify-write
// operations on its own.
type skipCallCache struct {
	mu    sync.Mutex
	cache *lru.Cache
}

func newSkipCallCache() *skipCallCache {
	c, err := lru.New(skipCallCacheSize)
	if err != nil {
		// lru.New only fails for a non-positive size, which
		// skipCallCacheSize never is.
		panic(err)
	}
	return &skipCallCache{cache: c}
}

// take runs doTake under the skip-call policy for skipN (the descriptor's
// SkipNCalls). doTake must perform the real store round trip, scaled to
// whatever count it is called with.
func (s *skipCallCache) take(cacheKey string, skipN int64, count int64, doTake func(count int64) (Result, error)) (Result, error) {
	if skipN <= 0 {
		return doTake(count)
	}

	s.mu.Lock()
	v, ok := s.cache.Get(cacheKey)
	if !ok {
		s.mu.Unlock()
		res, err := doTake(count)
		if err != nil {
			return Result{}, err
		}
		s.mu.Lock()
		s.cache.Add(cacheKey, &skipEntry{result: res, skipped: 0})
		s.mu.Unlock()
		return res, nil
	}

	entry := v.(*skipEntry)
	if entry.skipped < skipN {
		entry.skipped++
		res := entry.result
		s.mu.Unlock()
		return res, nil
	}
	s.mu.Unlock()

	res, err := doTake(count * (skipN + 1))
	if err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	s.cache.Add(cacheKey, &skipEntry{result: res, skipped: 0})
	s.mu.Unlock()
	return res, nil
}
