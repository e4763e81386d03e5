package ratelimiter

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileTypeLiteralOverride(t *testing.T) {
	key := "vip_user"
	td, err := compileType(BucketTypeDef{
		RateExpr: RateExpr{PerMinute: i64(10)},
		Overrides: []OverrideDef{
			{RateExpr: RateExpr{PerMinute: i64(1000)}, Key: &key},
		},
	}, time.Now(), defaultTTLSeconds)
	require.NoError(t, err)

	desc, ok := td.LiteralOverrides["vip_user"]
	require.True(t, ok)
	assert.Equal(t, int64(1000), desc.Size)
}

func TestCompileTypeRegexOverride(t *testing.T) {
	pattern := "^admin_"
	td, err := compileType(BucketTypeDef{
		RateExpr: RateExpr{PerMinute: i64(10)},
		Overrides: []OverrideDef{
			{RateExpr: RateExpr{PerMinute: i64(5000)}, Match: &pattern},
		},
	}, time.Now(), defaultTTLSeconds)
	require.NoError(t, err)

	require.Len(t, td.RegexOverrides, 1)
	require.NotNil(t, td.overridesCache)

	desc := td.resolve("ADMIN_bob", nil)
	assert.Equal(t, int64(5000), desc.Size)
}

func TestCompileTypeDropsExpiredOverride(t *testing.T) {
	key := "promo"
	past := time.Now().Add(-time.Hour)
	td, err := compileType(BucketTypeDef{
		RateExpr: RateExpr{PerMinute: i64(10)},
		Overrides: []OverrideDef{
			{RateExpr: RateExpr{PerMinute: i64(9999)}, Key: &key, Until: &past},
		},
	}, time.Now(), defaultTTLSeconds)
	require.NoError(t, err)

	_, ok := td.LiteralOverrides["promo"]
	assert.False(t, ok)
}

func TestCompileTypeKeepsOverrideNotYetExpired(t *testing.T) {
	key := "promo"
	future := time.Now().Add(time.Hour)
	td, err := compileType(BucketTypeDef{
		RateExpr: RateExpr{PerMinute: i64(10)},
		Overrides: []OverrideDef{
			{RateExpr: RateExpr{PerMinute: i64(9999)}, Key: &key, Until: &future},
		},
	}, time.Now(), defaultTTLSeconds)
	require.NoError(t, err)

	desc, ok := td.LiteralOverrides["promo"]
	require.True(t, ok)
	assert.Equal(t, int64(9999), desc.Size)
}

func TestCompileTypeRejectsOverrideWithNoSelector(t *testing.T) {
	_, err := compileType(BucketTypeDef{
		RateExpr:  RateExpr{PerMinute: i64(10)},
		Overrides: []OverrideDef{{RateExpr: RateExpr{PerMinute: i64(5)}}},
	}, time.Now(), defaultTTLSeconds)
	require.Error(t, err)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, ErrCodeMalformedOverride, ve.Code)
}

func TestCompileTypeRejectsInvalidRegex(t *testing.T) {
	bad := "(unterminated"
	_, err := compileType(BucketTypeDef{
		RateExpr:  RateExpr{PerMinute: i64(10)},
		Overrides: []OverrideDef{{RateExpr: RateExpr{PerMinute: i64(5)}, Match: &bad}},
	}, time.Now(), defaultTTLSeconds)
	require.Error(t, err)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, ErrCodeMalformedMatch, ve.Code)
}
