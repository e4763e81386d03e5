package ratelimiter

import (
	"fmt"
	"regexp"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// overridesCacheSize bounds the regex-override match cache: capacity 50,
// LRU, no negative caching.
const overridesCacheSize = 50

type regexOverride struct {
	pattern *regexp.Regexp
	desc    *BucketDescriptor
}

// TypeDescriptor is a compiled bucket type: a base BucketDescriptor plus
// its overrides. It is immutable once built by compileType;
// ConfigureBucket replaces it wholesale rather than mutating it in place.
type TypeDescriptor struct {
	Base             *BucketDescriptor
	LiteralOverrides map[string]*BucketDescriptor
	RegexOverrides   []regexOverride

	// overridesCache memoizes key -> matched regex override. It is
	// allocated lazily, only when at least one regex override survives
	// compilation. Entries are never invalidated except by a future
	// ConfigureBucket/Configure call replacing the whole TypeDescriptor —
	// an override whose Until expires after compile time remains live in
	// the cache until then. This is documented, not a bug.
	overridesCache *lru.Cache

	// globalTTLSec is carried so resolve() can normalize a caller-supplied
	// configOverride with the same fallback TTL the rest of this type was
	// compiled with.
	globalTTLSec int64
}

// compileType compiles a bucket type's base rate and overrides. now is the
// wall-clock reference used to drop already-expired overrides; it is
// passed in (rather than read internally) so Configure/ConfigureBucket
// apply a single consistent timestamp across every type being compiled in
// one call. globalTTLSec is the configured fallback TTL threaded down
// into normalize for every non-refilling descriptor this type produces.
func compileType(def BucketTypeDef, now time.Time, globalTTLSec int64) (*TypeDescriptor, error) {
	td := &TypeDescriptor{
		Base:             normalize(def.RateExpr, globalTTLSec),
		LiteralOverrides: make(map[string]*BucketDescriptor),
		globalTTLSec:     globalTTLSec,
	}

	var needsCache bool
	for i, o := range def.Overrides {
		if o.Until != nil && o.Until.Before(now) {
			continue
		}
		desc := normalize(o.RateExpr, globalTTLSec)
		switch {
		case o.Match != nil:
			re, err := regexp.Compile("(?i)" + *o.Match)
			if err != nil {
				return nil, newValidationError(ErrCodeMalformedMatch, "override %d: invalid match pattern %q: %v", i, *o.Match, err)
			}
			td.RegexOverrides = append(td.RegexOverrides, regexOverride{pattern: re, desc: desc})
			needsCache = true
		case o.Key != nil:
			td.LiteralOverrides[*o.Key] = desc
		default:
			return nil, newValidationError(ErrCodeMalformedOverride, "override %d: must set either Key or Match", i)
		}
	}

	if needsCache {
		c, err := lru.New(overridesCacheSize)
		if err != nil {
			return nil, fmt.Errorf("ratelimiter: allocating overrides cache: %w", err)
		}
		td.overridesCache = c
	}

	return td, nil
}
