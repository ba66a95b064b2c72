package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"callwatch/agent/database"
	"callwatch/agent/internal/metrics"
	"callwatch/agent/internal/models"
	"callwatch/shared/logger"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	UptimeUp    = "up"
	UptimeDown  = "down"
	UptimeError = "error"
)

type UptimeStore interface {
	GetUptime(ctx context.Context) (*models.UptimeConfig, error)
	RecordUptimePing(ctx context.Context, status string, at time.Time) error
}

// UptimeChecker pings the configured uptime URL and records whether it
// answered 200.
type UptimeChecker struct {
	store    UptimeStore
	http     *resty.Client
	interval time.Duration
	now      func() time.Time
	log      *logger.Logger
}

func NewUptimeChecker(store UptimeStore, opts HTTPOptions, interval time.Duration, appLogger *logger.Logger) *UptimeChecker {
	opts.Retries = 0
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &UptimeChecker{
		store:    store,
		http:     newRestyClient(opts, appLogger),
		interval: interval,
		now:      time.Now,
		log:      appLogger.Named("uptime"),
	}
}

// Run checks on every interval until ctx is cancelled.
func (u *UptimeChecker) Run(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()
	for {
		if err := u.CheckOnce(ctx); err != nil && ctx.Err() == nil {
			u.log.Error("Uptime check failed to record", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// CheckOnce pings the URL if one is configured.
func (u *UptimeChecker) CheckOnce(ctx context.Context) error {
	row, err := u.store.GetUptime(ctx)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load uptime config: %w", err)
	}
	if row.URL == "" {
		return nil
	}

	status := UptimeDown
	resp, err := u.http.R().SetContext(ctx).Get(row.URL)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		status = UptimeError
		u.log.Warn("Uptime check request failed", zap.String("url", row.URL), zap.Error(err))
	case resp.StatusCode() == http.StatusOK:
		status = UptimeUp
	}
	metrics.ExternalRequests.WithLabelValues("uptime", status).Inc()

	if err := u.store.RecordUptimePing(ctx, status, u.now()); err != nil {
		return fmt.Errorf("record uptime ping: %w", err)
	}
	if status != UptimeError {
		u.log.Info("Uptime check", zap.String("status", status), zap.Int("code", resp.StatusCode()))
	}
	return nil
}
