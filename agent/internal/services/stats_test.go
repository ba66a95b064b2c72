package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"callwatch/agent/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var statsNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func seedCall(t *testing.T, ctx context.Context, store interface {
	UpsertAlert(context.Context, *models.Alert) error
	InsertUserCall(context.Context, *models.UserCall) error
}, userID int64, address string, initialMC float64, bonded bool, age time.Duration) {
	t.Helper()
	created := statsNow.Add(-age)
	require.NoError(t, store.UpsertAlert(ctx, &models.Alert{
		Address:          address,
		InitialMarketCap: initialMC,
		Bonded:           bonded,
		CreatedAt:        created,
		NextCheckAt:      created,
	}))
	require.NoError(t, store.InsertUserCall(ctx, &models.UserCall{
		UserID:           userID,
		Address:          address,
		CreatedAt:        created,
		InitialMarketCap: initialMC,
	}))
}

func TestStatsCalculate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// AAAA1 runs 7.5x and past the bonding threshold, BBBB2 2.5x, CCCC3 was
	// bonded at call time, DDDD4 had no market data, EEEE5 dropped. FFFF6 is
	// outside the window and GGGG7 belongs to someone else.
	seedCall(t, ctx, store, 7, "AAAA1", 10_000, false, time.Hour)
	seedCall(t, ctx, store, 7, "BBBB2", 20_000, false, 2*time.Hour)
	seedCall(t, ctx, store, 7, "CCCC3", 50_000, true, 3*time.Hour)
	seedCall(t, ctx, store, 7, "DDDD4", 0, false, 4*time.Hour)
	seedCall(t, ctx, store, 7, "EEEE5", 30_000, false, 5*time.Hour)
	seedCall(t, ctx, store, 7, "FFFF6", 10_000, false, 40*24*time.Hour)
	seedCall(t, ctx, store, 8, "GGGG7", 10_000, false, time.Hour)

	market := newFakeMarket(map[string]float64{
		"AAAA1": 75_000,
		"BBBB2": 50_000,
		"CCCC3": 50_000,
		"DDDD4": 80_000,
		"EEEE5": 1_000,
		"FFFF6": 1_000_000,
		"GGGG7": 1_000_000,
	})
	svc := NewStatsService(store, market, 30*24*time.Hour, 5, testLogger(t))
	svc.now = func() time.Time { return statsNow }

	stats := svc.Calculate(ctx, 7)
	assert.Equal(t, Stats{
		UserID:        7,
		HitRate5x:     20,
		HitRate2x:     40,
		MigrationRate: 50,
		TotalCalls:    5,
		Successful5x:  1,
		Successful2x:  2,
		TotalUnbonded: 4,
		Migrated:      2,
	}, stats)
	assert.Zero(t, market.callCount("FFFF6"))
	assert.Zero(t, market.callCount("GGGG7"))
}

func TestStatsBelowMinimumCalls(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedCall(t, ctx, store, 7, "AAAA1", 10_000, false, time.Hour)

	market := newFakeMarket(map[string]float64{"AAAA1": 100_000})
	svc := NewStatsService(store, market, 30*24*time.Hour, 5, testLogger(t))
	svc.now = func() time.Time { return statsNow }

	assert.Equal(t, Stats{UserID: 7, TotalCalls: 1}, svc.Calculate(ctx, 7))
	assert.Zero(t, market.callCount("AAAA1"))
}

func TestStatsWithoutCallsAndNoMinimum(t *testing.T) {
	svc := NewStatsService(newTestStore(t), newFakeMarket(map[string]float64{}), 30*24*time.Hour, 0, testLogger(t))
	svc.now = func() time.Time { return statsNow }

	stats := svc.Calculate(context.Background(), 9)
	assert.Equal(t, Stats{UserID: 9}, stats)
	_, err := json.Marshal(stats)
	assert.NoError(t, err)
}

func TestStatsExpiredAlertCountsOnlyInTotal(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	for _, a := range []string{"AAAA1", "BBBB2", "CCCC3", "DDDD4", "EEEE5"} {
		seedCall(t, ctx, store, 7, a, 10_000, false, time.Hour)
	}
	require.NoError(t, store.DeleteAlert(ctx, "AAAA1"))

	market := newFakeMarket(map[string]float64{"AAAA1": 100_000})
	svc := NewStatsService(store, market, 30*24*time.Hour, 5, testLogger(t))
	svc.now = func() time.Time { return statsNow }

	stats := svc.Calculate(ctx, 7)
	assert.Equal(t, 5, stats.TotalCalls)
	assert.Zero(t, stats.Successful2x)
	assert.Equal(t, 4, stats.TotalUnbonded)
	assert.Zero(t, market.callCount("AAAA1"))
}

type failingHistory struct{}

func (failingHistory) CallsSince(context.Context, int64, time.Time) ([]models.UserCall, error) {
	return nil, errors.New("db down")
}

func (failingHistory) AlertsByAddresses(context.Context, []string) (map[string]models.Alert, error) {
	return nil, errors.New("db down")
}

func TestStatsErrorsYieldZero(t *testing.T) {
	svc := NewStatsService(failingHistory{}, newFakeMarket(map[string]float64{}), time.Hour, 1, testLogger(t))
	assert.Equal(t, Stats{UserID: 3}, svc.Calculate(context.Background(), 3))
}
