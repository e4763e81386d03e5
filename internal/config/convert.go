package config

import (
	"fmt"
	"time"

	"github.com/distlimit/ratelimiter/pkg/ratelimiter"
)

func (e RateExpr) toRateExpr() ratelimiter.RateExpr {
	out := ratelimiter.RateExpr{
		PerSecond:                  e.PerSecond,
		PerMinute:                  e.PerMinute,
		PerHour:                    e.PerHour,
		PerDay:                     e.PerDay,
		Interval:                   e.Interval,
		PerInterval:                e.PerInterval,
		Size:                       e.Size,
		Unlimited:                  e.Unlimited,
		SkipNCalls:                 e.SkipNCalls,
		ERLActivationPeriodSeconds: e.ERLActivationPeriodSeconds,
	}
	if e.Elevated != nil {
		elevated := e.Elevated.toRateExpr()
		out.Elevated = &elevated
	}
	return out
}

func (o Override) toOverrideDef() (ratelimiter.OverrideDef, error) {
	out := ratelimiter.OverrideDef{
		RateExpr: o.RateExpr.toRateExpr(),
		Key:      o.Key,
		Match:    o.Match,
	}
	if o.Until != nil {
		t, err := time.Parse(time.RFC3339, *o.Until)
		if err != nil {
			return ratelimiter.OverrideDef{}, fmt.Errorf("config: parsing until %q: %w", *o.Until, err)
		}
		out.Until = &t
	}
	return out, nil
}

// ToBucketTypeDef converts a YAML-decoded BucketType into the
// ratelimiter.BucketTypeDef that Client.Configure expects.
func (bt BucketType) ToBucketTypeDef() (ratelimiter.BucketTypeDef, error) {
	out := ratelimiter.BucketTypeDef{RateExpr: bt.RateExpr.toRateExpr()}
	for i, o := range bt.Overrides {
		def, err := o.toOverrideDef()
		if err != nil {
			return ratelimiter.BucketTypeDef{}, fmt.Errorf("config: override %d: %w", i, err)
		}
		out.Overrides = append(out.Overrides, def)
	}
	return out, nil
}

// ToBucketTypeDefs converts every entry of Root.Buckets.
func (r *Root) ToBucketTypeDefs() (map[string]ratelimiter.BucketTypeDef, error) {
	out := make(map[string]ratelimiter.BucketTypeDef, len(r.Buckets))
	for name, bt := range r.Buckets {
		def, err := bt.ToBucketTypeDef()
		if err != nil {
			return nil, fmt.Errorf("config: bucket %q: %w", name, err)
		}
		out[name] = def
	}
	return out, nil
}
