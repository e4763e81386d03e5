package ratelimiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, buckets map[string]BucketTypeDef) *Client {
	t.Helper()
	c := NewMemoryClient()
	require.NoError(t, c.Configure(buckets))
	return c
}

func TestClientTakeBasicConformance(t *testing.T) {
	c := newTestClient(t, map[string]BucketTypeDef{
		"api": {RateExpr: RateExpr{Size: i64(2)}},
	})
	ctx := context.Background()

	res, err := c.Take(ctx, TakeRequest{Type: "api", Key: "u1", Count: Count(1)})
	require.NoError(t, err)
	assert.True(t, res.Conformant)
	assert.Equal(t, int64(1), res.Remaining)
	assert.Equal(t, int64(2), res.Limit)

	res, err = c.Take(ctx, TakeRequest{Type: "api", Key: "u1", Count: Count(1)})
	require.NoError(t, err)
	assert.True(t, res.Conformant)
	assert.Equal(t, int64(0), res.Remaining)

	res, err = c.Take(ctx, TakeRequest{Type: "api", Key: "u1", Count: Count(1)})
	require.NoError(t, err)
	assert.False(t, res.Conformant)
	assert.Equal(t, int64(0), res.Remaining)
}

func TestClientTakeDefaultCountIsOne(t *testing.T) {
	c := newTestClient(t, map[string]BucketTypeDef{
		"api": {RateExpr: RateExpr{Size: i64(1)}},
	})
	res, err := c.Take(context.Background(), TakeRequest{Type: "api", Key: "u1"})
	require.NoError(t, err)
	assert.True(t, res.Conformant)
	assert.Equal(t, int64(0), res.Remaining)
}

func TestClientTakeCountAllDrainsBucket(t *testing.T) {
	c := newTestClient(t, map[string]BucketTypeDef{
		"api": {RateExpr: RateExpr{Size: i64(5)}},
	})
	res, err := c.Take(context.Background(), TakeRequest{Type: "api", Key: "u1", Count: CountAll()})
	require.NoError(t, err)
	assert.True(t, res.Conformant)
	assert.Equal(t, int64(0), res.Remaining)
}

func TestClientTakeUnknownTypeErrors(t *testing.T) {
	c := NewMemoryClient()
	_, err := c.Take(context.Background(), TakeRequest{Type: "nope", Key: "u1"})
	require.Error(t, err)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, ErrCodeUnknownType, ve.Code)
}

func TestClientTakeMissingKeyErrors(t *testing.T) {
	c := newTestClient(t, map[string]BucketTypeDef{"api": {RateExpr: RateExpr{Size: i64(5)}}})
	_, err := c.Take(context.Background(), TakeRequest{Type: "api"})
	require.Error(t, err)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, ErrCodeMissingKey, ve.Code)
}

func TestClientTakeNegativeCountErrors(t *testing.T) {
	c := newTestClient(t, map[string]BucketTypeDef{"api": {RateExpr: RateExpr{Size: i64(5)}}})
	_, err := c.Take(context.Background(), TakeRequest{Type: "api", Key: "u1", Count: Count(-1)})
	require.Error(t, err)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, ErrCodeMalformedCount, ve.Code)
}

func TestClientTakeUnlimitedNeverDenies(t *testing.T) {
	c := newTestClient(t, map[string]BucketTypeDef{
		"api": {RateExpr: RateExpr{Unlimited: true, Size: i64(1)}},
	})
	res, err := c.Take(context.Background(), TakeRequest{Type: "api", Key: "u1", Count: Count(9999)})
	require.NoError(t, err)
	assert.True(t, res.Conformant)
}

func TestClientConfigOverrideBypassesType(t *testing.T) {
	c := newTestClient(t, map[string]BucketTypeDef{
		"api": {RateExpr: RateExpr{Size: i64(1)}},
	})
	override := RateExpr{Size: i64(10)}
	res, err := c.Take(context.Background(), TakeRequest{
		Type: "api", Key: "u1", Count: Count(5), ConfigOverride: &override,
	})
	require.NoError(t, err)
	assert.True(t, res.Conformant)
	assert.Equal(t, int64(10), res.Limit)
}

func TestClientConfigOverrideMustSetSomething(t *testing.T) {
	c := newTestClient(t, map[string]BucketTypeDef{
		"api": {RateExpr: RateExpr{Size: i64(1)}},
	})
	override := RateExpr{}
	_, err := c.Take(context.Background(), TakeRequest{Type: "api", Key: "u1", ConfigOverride: &override})
	require.Error(t, err)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, ErrCodeMalformedOverride, ve.Code)
}

func TestClientWithGlobalTTLAppliesToFixedBuckets(t *testing.T) {
	c := NewMemoryClient(WithGlobalTTL(30 * time.Second))
	require.NoError(t, c.Configure(map[string]BucketTypeDef{
		"api": {RateExpr: RateExpr{Size: i64(5)}},
	}))

	td, err := c.lookupType("api")
	require.NoError(t, err)
	assert.Equal(t, int64(30), td.Base.TTLSeconds)
}

func TestClientWithGlobalTTLAppliesToConfigOverride(t *testing.T) {
	c := NewMemoryClient(WithGlobalTTL(45 * time.Second))
	require.NoError(t, c.Configure(map[string]BucketTypeDef{
		"api": {RateExpr: RateExpr{PerMinute: i64(60)}},
	}))

	override := RateExpr{Size: i64(10)}
	desc, err := c.resolve("api", "u1", &override)
	require.NoError(t, err)
	assert.Equal(t, int64(45), desc.TTLSeconds)
}

func TestClientLiteralOverrideAppliesForMatchingKey(t *testing.T) {
	key := "vip"
	c := newTestClient(t, map[string]BucketTypeDef{
		"api": {
			RateExpr: RateExpr{Size: i64(1)},
			Overrides: []OverrideDef{
				{RateExpr: RateExpr{Size: i64(100)}, Key: &key},
			},
		},
	})

	res, err := c.Take(context.Background(), TakeRequest{Type: "api", Key: "vip", Count: Count(50)})
	require.NoError(t, err)
	assert.True(t, res.Conformant)
	assert.Equal(t, int64(100), res.Limit)

	res, err = c.Take(context.Background(), TakeRequest{Type: "api", Key: "regular", Count: Count(0)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Limit)
}

func TestClientTakeElevatedRequiresERLKey(t *testing.T) {
	c := newTestClient(t, map[string]BucketTypeDef{
		"api": {RateExpr: RateExpr{Size: i64(1), Elevated: &RateExpr{Size: i64(10)}}},
	})
	_, err := c.TakeElevated(context.Background(), TakeElevatedRequest{
		TakeRequest: TakeRequest{Type: "api", Key: "u1"},
	})
	require.Error(t, err)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, ErrCodeMissingERLKey, ve.Code)
}

func TestClientTakeElevatedRequiresElevatedConfig(t *testing.T) {
	c := newTestClient(t, map[string]BucketTypeDef{
		"api": {RateExpr: RateExpr{Size: i64(1)}},
	})
	_, err := c.TakeElevated(context.Background(), TakeElevatedRequest{
		TakeRequest:    TakeRequest{Type: "api", Key: "u1"},
		ERLIsActiveKey: "erl:u1",
	})
	require.Error(t, err)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, ErrCodeNoElevatedConfig, ve.Code)
}

func TestClientTakeElevatedPromotesWhenAllowed(t *testing.T) {
	c := newTestClient(t, map[string]BucketTypeDef{
		"api": {RateExpr: RateExpr{Size: i64(2), Elevated: &RateExpr{Size: i64(20)}}},
	})
	ctx := context.Background()

	_, err := c.Take(ctx, TakeRequest{Type: "api", Key: "u1", Count: Count(2)})
	require.NoError(t, err)

	res, err := c.TakeElevated(ctx, TakeElevatedRequest{
		TakeRequest:    TakeRequest{Type: "api", Key: "u1", Count: Count(1)},
		ERLIsActiveKey: "erl:u1",
		AllowERL:       true,
	})
	require.NoError(t, err)
	assert.True(t, res.ERLActivated)
	assert.True(t, res.Conformant)
	assert.Equal(t, int64(20), res.Limit)
}

func TestClientTakeElevatedDoesNotPromoteWhenDisallowed(t *testing.T) {
	c := newTestClient(t, map[string]BucketTypeDef{
		"api": {RateExpr: RateExpr{Size: i64(2), Elevated: &RateExpr{Size: i64(20)}}},
	})
	ctx := context.Background()

	_, err := c.Take(ctx, TakeRequest{Type: "api", Key: "u1", Count: Count(2)})
	require.NoError(t, err)

	res, err := c.TakeElevated(ctx, TakeElevatedRequest{
		TakeRequest:    TakeRequest{Type: "api", Key: "u1", Count: Count(1)},
		ERLIsActiveKey: "erl:u1",
		AllowERL:       false,
	})
	require.NoError(t, err)
	assert.False(t, res.ERLActivated)
	assert.False(t, res.Conformant)
}

func TestClientPutRestoresTokens(t *testing.T) {
	c := newTestClient(t, map[string]BucketTypeDef{
		"api": {RateExpr: RateExpr{Size: i64(5)}},
	})
	ctx := context.Background()

	_, err := c.Take(ctx, TakeRequest{Type: "api", Key: "u1", Count: CountAll()})
	require.NoError(t, err)

	res, err := c.Put(ctx, PutRequest{Type: "api", Key: "u1", Count: Count(2)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Remaining)
}

func TestClientGetDoesNotMutate(t *testing.T) {
	c := newTestClient(t, map[string]BucketTypeDef{
		"api": {RateExpr: RateExpr{Size: i64(5)}},
	})
	ctx := context.Background()

	_, err := c.Take(ctx, TakeRequest{Type: "api", Key: "u1", Count: Count(2)})
	require.NoError(t, err)

	g1, err := c.Get(ctx, GetRequest{Type: "api", Key: "u1"})
	require.NoError(t, err)
	g2, err := c.Get(ctx, GetRequest{Type: "api", Key: "u1"})
	require.NoError(t, err)
	assert.Equal(t, g1, g2)
	assert.Equal(t, int64(3), g1.Remaining)
}

func TestClientWaitRetriesUntilConformant(t *testing.T) {
	c := newTestClient(t, map[string]BucketTypeDef{
		"api": {RateExpr: RateExpr{PerSecond: i64(100)}}, // size 100, drips fast
	})
	ctx := context.Background()

	_, err := c.Take(ctx, TakeRequest{Type: "api", Key: "u1", Count: Count(100)})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	res, err := c.Wait(waitCtx, TakeRequest{Type: "api", Key: "u1", Count: Count(1)})
	require.NoError(t, err)
	assert.True(t, res.Conformant)
	assert.True(t, res.Delayed)
}

func TestClientWaitHonorsContextCancellation(t *testing.T) {
	c := newTestClient(t, map[string]BucketTypeDef{
		"api": {RateExpr: RateExpr{Size: i64(1)}}, // fixed, never refills
	})
	ctx := context.Background()

	_, err := c.Take(ctx, TakeRequest{Type: "api", Key: "u1", Count: CountAll()})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	_, err = c.Wait(waitCtx, TakeRequest{Type: "api", Key: "u1", Count: Count(1)})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientResetAllClearsEveryBucket(t *testing.T) {
	c := newTestClient(t, map[string]BucketTypeDef{
		"api": {RateExpr: RateExpr{Size: i64(5)}},
	})
	ctx := context.Background()

	_, err := c.Take(ctx, TakeRequest{Type: "api", Key: "u1", Count: CountAll()})
	require.NoError(t, err)
	require.NoError(t, c.ResetAll(ctx))

	res, err := c.Get(ctx, GetRequest{Type: "api", Key: "u1"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Remaining)
}

func TestClientConfigureBucketReplacesSingleType(t *testing.T) {
	c := newTestClient(t, map[string]BucketTypeDef{
		"api":   {RateExpr: RateExpr{Size: i64(1)}},
		"other": {RateExpr: RateExpr{Size: i64(2)}},
	})
	require.NoError(t, c.ConfigureBucket("api", BucketTypeDef{RateExpr: RateExpr{Size: i64(99)}}))

	res, err := c.Get(context.Background(), GetRequest{Type: "api", Key: "u1"})
	require.NoError(t, err)
	assert.Equal(t, int64(99), res.Remaining)

	res, err = c.Get(context.Background(), GetRequest{Type: "other", Key: "u1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Remaining)
}
