package ratelimiter

import (
	"context"
	"math"
	"sync"
	"time"
)

type bucketState struct {
	d       int64 // last-drip, ms
	r       float64
	expires time.Time
}

type erlState struct {
	expires time.Time
}

// MemoryStore runs the same algorithms as RedisStore against a
// process-local map instead of Redis. It is useful for tests and
// single-instance deployments that don't need a bucket shared across
// replicas.
//
// MemoryStore is safe for concurrent use; a single mutex guards the whole
// map, matching the scope of the atomicity the Lua scripts give RedisStore
// (one key's mutation at a time, not global ordering across keys).
type MemoryStore struct {
	mu    sync.Mutex
	state map[string]*bucketState
	erl   map[string]*erlState

	now func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: make(map[string]*bucketState),
		erl:   make(map[string]*erlState),
		now:   time.Now,
	}
}

func (m *MemoryStore) nowMS() int64 {
	return m.now().UnixMilli()
}

func (m *MemoryStore) readState(key string, nowMS int64) (*bucketState, bool) {
	st, ok := m.state[key]
	if !ok {
		return nil, false
	}
	if !st.expires.IsZero() && m.now().After(st.expires) {
		delete(m.state, key)
		return nil, false
	}
	return st, true
}

func (m *MemoryStore) writeState(key string, d int64, r float64, ttlSeconds int64) {
	m.state[key] = &bucketState{
		d:       d,
		r:       r,
		expires: m.now().Add(time.Duration(ttlSeconds) * time.Second),
	}
}

func contentOf(st *bucketState, present bool, nowMS int64, tokensPerMS, size float64) float64 {
	switch {
	case present && tokensPerMS > 0:
		elapsed := nowMS - st.d
		if elapsed < 0 {
			elapsed = 0
		}
		return math.Min(st.r+float64(elapsed)*tokensPerMS, size)
	case present:
		return st.r
	default:
		return size
	}
}

func resetMSFor(nowMS int64, size, remaining, dripIntervalMS float64) int64 {
	if dripIntervalMS <= 0 {
		return 0
	}
	return int64(math.Ceil(float64(nowMS) + (size-remaining)*dripIntervalMS))
}

func (m *MemoryStore) Take(_ context.Context, stateKey string, d *BucketDescriptor, count int64) (takeOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	nowMS := m.nowMS()

	if d.Unlimited {
		return takeOutcome{Remaining: d.Size, Conformant: true, NowMS: nowMS, ResetMS: nowMS}, nil
	}

	st, present := m.readState(stateKey, nowMS)
	content := contentOf(st, present, nowMS, d.TokensPerMS, float64(d.Size))

	conformant := content >= float64(count)
	newR := content
	if conformant {
		newR = math.Min(content-float64(count), float64(d.Size))
	}

	m.writeState(stateKey, nowMS, newR, d.TTLSeconds)

	return takeOutcome{
		Remaining:  int64(newR),
		Conformant: conformant,
		NowMS:      nowMS,
		ResetMS:    resetMSFor(nowMS, float64(d.Size), newR, d.DripIntervalMS),
	}, nil
}

func (m *MemoryStore) TakeElevated(_ context.Context, stateKey, erlKey string, d *BucketDescriptor, count int64, allowActivate bool) (takeElevatedOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	nowMS := m.nowMS()
	e := d.Elevated

	erlOn := false
	if es, ok := m.erl[erlKey]; ok {
		if m.now().After(es.expires) {
			delete(m.erl, erlKey)
		} else {
			erlOn = true
		}
	}

	st, present := m.readState(stateKey, nowMS)

	var content float64
	if erlOn {
		content = contentOf(st, present, nowMS, e.TokensPerMS, float64(e.Size))
	} else {
		content = contentOf(st, present, nowMS, d.TokensPerMS, float64(d.Size))
	}

	enough := content >= float64(count)

	if !enough && !erlOn && allowActivate {
		used := float64(d.Size) - content
		content2 := float64(e.Size) - used
		if content2 >= float64(count) {
			erlOn = true
			m.erl[erlKey] = &erlState{expires: m.now().Add(time.Duration(e.ERLActivationPeriodSeconds) * time.Second)}
			enough = true
			content = content2
		}
	}

	capacity := float64(d.Size)
	if erlOn {
		capacity = float64(e.Size)
	}

	newR := content
	if enough {
		newR = math.Min(content-float64(count), capacity)
	}

	m.writeState(stateKey, nowMS, newR, d.TTLSeconds)

	resetSize, resetDrip := float64(d.Size), d.DripIntervalMS
	if erlOn {
		resetSize, resetDrip = float64(e.Size), e.DripIntervalMS
	}

	return takeElevatedOutcome{
		takeOutcome: takeOutcome{
			Remaining:  int64(newR),
			Conformant: enough,
			NowMS:      nowMS,
			ResetMS:    resetMSFor(nowMS, resetSize, newR, resetDrip),
		},
		ERLActive: erlOn,
	}, nil
}

func (m *MemoryStore) Put(_ context.Context, stateKey string, d *BucketDescriptor, count int64) (putOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	nowMS := m.nowMS()

	if d.Unlimited {
		return putOutcome{Remaining: d.Size, NowMS: nowMS, ResetMS: nowMS}, nil
	}

	st, present := m.readState(stateKey, nowMS)
	current := float64(d.Size)
	if present {
		current = st.r
	}

	newR := math.Min(current+float64(count), float64(d.Size))
	m.writeState(stateKey, nowMS, newR, d.TTLSeconds)

	return putOutcome{
		Remaining: int64(newR),
		NowMS:     nowMS,
		ResetMS:   resetMSFor(nowMS, float64(d.Size), newR, d.DripIntervalMS),
	}, nil
}

func (m *MemoryStore) Get(_ context.Context, stateKey string, d *BucketDescriptor) (getOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d.Unlimited {
		return getOutcome{Remaining: d.Size}, nil
	}

	nowMS := m.nowMS()
	st, present := m.readState(stateKey, nowMS)
	content := contentOf(st, present, nowMS, d.TokensPerMS, float64(d.Size))

	return getOutcome{
		Remaining: int64(content),
		ResetMS:   resetMSFor(nowMS, float64(d.Size), content, d.DripIntervalMS),
	}, nil
}

func (m *MemoryStore) ResetAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = make(map[string]*bucketState)
	m.erl = make(map[string]*erlState)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
