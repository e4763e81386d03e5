package ratelimiter

// resolve picks the effective descriptor for a request's key and optional
// caller-supplied override, in order: caller override, literal override,
// cached regex match, first regex match (caching the hit), type default.
func (td *TypeDescriptor) resolve(key string, configOverride *RateExpr) *BucketDescriptor {
	if configOverride != nil {
		return normalize(*configOverride, td.globalTTLSec)
	}

	if desc, ok := td.LiteralOverrides[key]; ok {
		return desc
	}

	if td.overridesCache != nil {
		if v, ok := td.overridesCache.Get(key); ok {
			return v.(*BucketDescriptor)
		}
	}

	for _, ro := range td.RegexOverrides {
		if ro.pattern.MatchString(key) {
			if td.overridesCache != nil {
				td.overridesCache.Add(key, ro.desc)
			}
			return ro.desc
		}
	}

	return td.Base
}
