package ratelimiter

import "math"

const (
	msPerSecond = 1_000
	msPerMinute = 60_000
	msPerHour   = 3_600_000
	msPerDay    = 86_400_000

	// defaultTTLSeconds is the out-of-the-box globalTTLSec fallback,
	// used by defaultOptions and overridable via WithGlobalTTL.
	defaultTTLSeconds = 7 * 24 * 3600

	defaultERLActivationPeriodSeconds = 900
)

// normalize turns a raw RateExpr into a compiled BucketDescriptor.
// globalTTLSec is the fallback TTL (seconds) for a bucket that never
// refills on its own; it comes from the Client's WithGlobalTTL option
// (or its default) and is threaded in by the caller rather than read
// from a package constant, so normalize stays a pure function of its
// inputs.
func normalize(raw RateExpr, globalTTLSec int64) *BucketDescriptor {
	d := &BucketDescriptor{
		Unlimited: raw.Unlimited,
	}

	if raw.SkipNCalls != nil {
		d.SkipNCalls = *raw.SkipNCalls
	}

	if raw.ERLActivationPeriodSeconds != nil {
		d.ERLActivationPeriodSeconds = *raw.ERLActivationPeriodSeconds
	} else {
		d.ERLActivationPeriodSeconds = defaultERLActivationPeriodSeconds
	}

	var intervalMS, perInterval int64
	if raw.Interval != nil {
		intervalMS = *raw.Interval
	}
	if raw.PerInterval != nil {
		perInterval = *raw.PerInterval
	}

	// Rate shortcuts, applied in fixed order; the last one present wins.
	if raw.PerSecond != nil {
		intervalMS, perInterval = msPerSecond, *raw.PerSecond
	}
	if raw.PerMinute != nil {
		intervalMS, perInterval = msPerMinute, *raw.PerMinute
	}
	if raw.PerHour != nil {
		intervalMS, perInterval = msPerHour, *raw.PerHour
	}
	if raw.PerDay != nil {
		intervalMS, perInterval = msPerDay, *raw.PerDay
	}

	if raw.Size != nil {
		d.Size = *raw.Size
	} else {
		d.Size = perInterval
	}

	if perInterval > 0 && intervalMS > 0 {
		d.IntervalMS = intervalMS
		d.PerInterval = perInterval
		d.TokensPerMS = float64(perInterval) / float64(intervalMS)
		d.DripIntervalMS = float64(intervalMS) / float64(perInterval)
		d.TTLSeconds = int64(math.Ceil(float64(d.Size) * float64(intervalMS) / float64(perInterval) / 1000))
	} else {
		d.TTLSeconds = globalTTLSec
	}

	if raw.Elevated != nil {
		d.Elevated = normalize(*raw.Elevated, globalTTLSec)
	}

	return d
}
