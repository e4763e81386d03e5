package ratelimiter

import (
	"time"

	"github.com/rs/zerolog"
)

// defaultDispatchTimeout bounds the whole store round trip by default.
const defaultDispatchTimeout = 125 * time.Millisecond

type options struct {
	prefix       string
	timeout      time.Duration
	recorder     MetricsRecorder
	logger       zerolog.Logger
	globalTTLSec int64
	pingInterval time.Duration
}

func defaultOptions() options {
	return options{
		prefix:       "ratelimit:",
		timeout:      defaultDispatchTimeout,
		recorder:     &NoOpMetricsRecorder{},
		logger:       zerolog.Nop(),
		globalTTLSec: defaultTTLSeconds,
	}
}

// Option configures a Client (or a standalone RedisStore/MemoryStore)
// using the functional-options pattern.
type Option func(*options)

// WithPrefix sets the key prefix applied to every store key. Default
// "ratelimit:".
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithTimeout bounds every store round trip. Default 125ms.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithRecorder injects a custom MetricsRecorder. Default is a no-op.
func WithRecorder(r MetricsRecorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithLogger injects a zerolog.Logger. RedisStore logs each failed script
// run at warn level and, at debug level, each elevated take that reports
// ERL active. NOSCRIPT reloads happen inside go-redis and are not logged.
// Default is a no-op logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithGlobalTTL overrides the fallback TTL used for fixed buckets that
// don't derive their own TTL from a refill rate. It is threaded through
// Configure/ConfigureBucket into every compiled BucketDescriptor's
// TTLSeconds. Default 7 days.
func WithGlobalTTL(d time.Duration) Option {
	return func(o *options) { o.globalTTLSec = int64(d.Seconds()) }
}

// WithPingInterval is accepted for configuration-surface parity but is a
// no-op here: liveness probing and reconnection policy are the
// responsibility of whatever constructs the redis.UniversalClient passed
// to NewRedisClient, not of this package.
func WithPingInterval(d time.Duration) Option {
	return func(o *options) { o.pingInterval = d }
}

// storeOptions is the subset of options a Store implementation needs.
type storeOptions struct {
	prefix   string
	timeout  time.Duration
	recorder MetricsRecorder
	logger   zerolog.Logger
}

func (o options) forStore() storeOptions {
	return storeOptions{prefix: o.prefix, timeout: o.timeout, recorder: o.recorder, logger: o.logger}
}
