package services

import (
	"context"
	"time"

	"callwatch/agent/internal/models"
	"callwatch/shared/logger"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Stats is a caller's hit rate over the stats window. Rates are percentages.
type Stats struct {
	UserID        int64   `json:"user_id"`
	HitRate5x     float64 `json:"hitrate_5x"`
	HitRate2x     float64 `json:"hitrate_2x"`
	MigrationRate float64 `json:"migration_rate"`
	TotalCalls    int     `json:"total_calls"`
	Successful5x  int     `json:"successful_5x"`
	Successful2x  int     `json:"successful_2x"`
	TotalUnbonded int     `json:"total_unbonded"`
	Migrated      int     `json:"migrated"`
}

// CallHistory is the storage the stats are computed from.
type CallHistory interface {
	CallsSince(ctx context.Context, userID int64, since time.Time) ([]models.UserCall, error)
	AlertsByAddresses(ctx context.Context, addresses []string) (map[string]models.Alert, error)
}

type StatsService struct {
	calls    CallHistory
	market   MarketDataProvider
	window   time.Duration
	minCalls int
	now      func() time.Time
	log      *logger.Logger
}

// NewStatsService computes hit rates over window; callers with fewer than
// minCalls calls in it get zero rates.
func NewStatsService(calls CallHistory, market MarketDataProvider, window time.Duration, minCalls int, appLogger *logger.Logger) *StatsService {
	return &StatsService{
		calls:    calls,
		market:   market,
		window:   window,
		minCalls: minCalls,
		now:      time.Now,
		log:      appLogger.Named("stats"),
	}
}

// Calculate measures how many of the user's recent calls reached 2x and 5x
// of their initial market cap, and how many unbonded calls reached the
// bonding threshold. Calls whose alert has expired are counted in the total
// but never as hits. Errors are logged and yield zero stats.
func (s *StatsService) Calculate(ctx context.Context, userID int64) Stats {
	userField := zap.Int64("userID", userID)
	now := s.now()

	calls, err := s.calls.CallsSince(ctx, userID, now.Add(-s.window))
	if err != nil {
		s.log.Error("Error loading calls for hit rate", userField, zap.Error(err))
		return Stats{UserID: userID}
	}

	stats := Stats{UserID: userID, TotalCalls: len(calls)}
	if stats.TotalCalls == 0 || stats.TotalCalls < s.minCalls {
		return stats
	}

	addresses := lo.Uniq(lo.Map(calls, func(c models.UserCall, _ int) string { return c.Address }))
	alerts, err := s.calls.AlertsByAddresses(ctx, addresses)
	if err != nil {
		s.log.Error("Error loading alerts for hit rate", userField, zap.Error(err))
		return Stats{UserID: userID}
	}

	currentMC := make(map[string]float64, len(alerts))
	for _, call := range calls {
		alert, ok := alerts[call.Address]
		if !ok {
			continue
		}
		mc, seen := currentMC[call.Address]
		if !seen {
			mc = s.market.FetchMarketData(ctx, call.Address, now).MarketCap
			currentMC[call.Address] = mc
		}

		switch {
		case call.InitialMarketCap <= 0:
			// market data was unavailable when the call was made
		case mc >= call.InitialMarketCap*5:
			stats.Successful5x++
			stats.Successful2x++
		case mc >= call.InitialMarketCap*2:
			stats.Successful2x++
		}
		if !alert.Bonded {
			stats.TotalUnbonded++
			if mc >= BondingThresholdMarketCap {
				stats.Migrated++
			}
		}
	}

	total := float64(stats.TotalCalls)
	stats.HitRate5x = float64(stats.Successful5x) / total * 100
	stats.HitRate2x = float64(stats.Successful2x) / total * 100
	if stats.TotalUnbonded > 0 {
		stats.MigrationRate = float64(stats.Migrated) / float64(stats.TotalUnbonded) * 100
	}
	return stats
}
