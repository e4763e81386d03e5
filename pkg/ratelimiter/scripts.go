package ratelimiter

import (
	_ "embed"

	"github.com/redis/go-redis/v9"
)

//go:embed scripts/take.lua
var takeScriptSource string

//go:embed scripts/take_elevated.lua
var takeElevatedScriptSource string

//go:embed scripts/put.lua
var putScriptSource string

//go:embed scripts/get.lua
var getScriptSource string

// scripts bundles the atomic routines, each wrapped in a
// *redis.Script so go-redis transparently EVALSHAs (falling back to a full
// EVAL and reloading the cache on NOSCRIPT) instead of a manual
// ScriptLoad+EvalSha pairing.
type scripts struct {
	take         *redis.Script
	takeElevated *redis.Script
	put          *redis.Script
	get          *redis.Script
}

func newScripts() *scripts {
	return &scripts{
		take:         redis.NewScript(takeScriptSource),
		takeElevated: redis.NewScript(takeElevatedScriptSource),
		put:          redis.NewScript(putScriptSource),
		get:          redis.NewScript(getScriptSource),
	}
}
