package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callwatch/agent/internal/messages"
	"callwatch/agent/internal/metrics"
	"callwatch/agent/internal/models"
	"callwatch/shared/logger"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

// AlertStore is the storage the poller works on.
type AlertStore interface {
	DueAlerts(ctx context.Context, now time.Time, limit int) ([]models.Alert, error)
	DeleteAlert(ctx context.Context, address string) error
	MarkMarketCapAlerted(ctx context.Context, address string) error
	MarkBonded(ctx context.Context, address string) error
	SetNextCheck(ctx context.Context, address string, at time.Time) error
	MarkCallsSuccessful(ctx context.Context, address string) error
}

type PollerConfig struct {
	Tick         time.Duration
	ErrorBackoff time.Duration
	BatchSize    int
}

// Poller re-checks open alerts on their phase schedule and replies to the
// original alert when a call doubles or its token bonds.
type Poller struct {
	store    AlertStore
	market   MarketDataProvider
	bonding  BondingProvider
	senders  SenderPool
	schedule *PhaseSchedule
	cfg      PollerConfig
	now      func() time.Time
	log      *logger.Logger
}

func NewPoller(store AlertStore, market MarketDataProvider, bonding BondingProvider, senders SenderPool,
	schedule *PhaseSchedule, cfg PollerConfig, appLogger *logger.Logger) *Poller {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Minute
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 60 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	return &Poller{
		store:    store,
		market:   market,
		bonding:  bonding,
		senders:  senders,
		schedule: schedule,
		cfg:      cfg,
		now:      time.Now,
		log:      appLogger.Named("poller"),
	}
}

// Run polls until ctx is cancelled. A failed cycle is retried after the
// error backoff, growing while failures repeat.
func (p *Poller) Run(ctx context.Context) {
	p.log.Info("Alert follow-up poller started",
		zap.Duration("tick", p.cfg.Tick),
		zap.Duration("lifetime", p.schedule.Total()))

	b := &backoff.Backoff{Min: p.cfg.ErrorBackoff, Max: 10 * p.cfg.ErrorBackoff, Factor: 2}
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("Alert follow-up poller stopped")
			return
		case <-timer.C:
		}

		wait := p.cfg.Tick
		if err := p.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			metrics.PollCycles.WithLabelValues("error").Inc()
			wait = b.Duration()
			p.log.Error("Error in alert poll cycle", zap.Error(err), zap.Duration("retryIn", wait))
		} else {
			metrics.PollCycles.WithLabelValues("ok").Inc()
			b.Reset()
		}
		timer.Reset(wait)
	}
}

// RunOnce processes every alert that is due.
func (p *Poller) RunOnce(ctx context.Context) error {
	now := p.now()
	alerts, err := p.store.DueAlerts(ctx, now, p.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("load due alerts: %w", err)
	}
	if len(alerts) > 0 {
		p.log.Debug("Checking due alerts", zap.Int("count", len(alerts)))
	}

	var errs []error
	for _, a := range alerts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.processAlert(ctx, a, now); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.Address, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Poller) processAlert(ctx context.Context, a models.Alert, now time.Time) error {
	tokenField := zap.String("tokenAddress", a.Address)
	age := now.Sub(a.CreatedAt)

	interval, ok := p.schedule.IntervalFor(age)
	if !ok {
		if err := p.store.DeleteAlert(ctx, a.Address); err != nil {
			return fmt.Errorf("delete expired alert: %w", err)
		}
		metrics.AlertsExpired.Inc()
		p.log.Info("Deleted expired alert", tokenField, zap.Duration("age", age))
		return nil
	}
	next := now.Add(interval)

	needMarketCap := !a.MarketCapIncreaseAlerted
	needBonding := !a.Bonded && !a.BondingAlerted
	if a.InitialMarketCap <= 0 || (!needMarketCap && !needBonding) {
		return p.store.SetNextCheck(ctx, a.Address, next)
	}

	sender := p.senders.Select(a.BotName)
	if sender == nil {
		p.log.Warn("No active bot found for alert", tokenField, zap.String("botName", a.BotName))
		return p.store.SetNextCheck(ctx, a.Address, next)
	}

	if needMarketCap {
		current := p.market.FetchMarketData(ctx, a.Address, now).MarketCap
		if current >= a.InitialMarketCap*2 {
			text := messages.MarketCapIncrease(a.InitialMarketCap, current, age)
			if err := sender.SendReply(ctx, text, int(a.MessageID)); err != nil {
				p.log.Error("Failed to send market cap increase reply", tokenField, zap.String("bot", sender.Name()), zap.Error(err))
			} else {
				if err := p.store.MarkMarketCapAlerted(ctx, a.Address); err != nil {
					return fmt.Errorf("mark market cap alerted: %w", err)
				}
				if err := p.store.MarkCallsSuccessful(ctx, a.Address); err != nil {
					return fmt.Errorf("mark calls successful: %w", err)
				}
				metrics.FollowUpsSent.WithLabelValues("market_cap").Inc()
				p.log.Info("Sent market cap increase alert", tokenField, zap.String("message", text))
			}
		}
	}

	if needBonding {
		status := p.bonding.FetchBondingStatus(ctx, a.Address)
		if status.Bonded {
			text := messages.Bonded(age)
			if err := sender.SendReply(ctx, text, int(a.MessageID)); err != nil {
				p.log.Error("Failed to send bonding reply", tokenField, zap.String("bot", sender.Name()), zap.Error(err))
			} else {
				if err := p.store.MarkBonded(ctx, a.Address); err != nil {
					return fmt.Errorf("mark bonded: %w", err)
				}
				metrics.FollowUpsSent.WithLabelValues("bonded").Inc()
				p.log.Info("Sent bonding alert", tokenField, zap.String("message", text))
			}
		}
	}

	return p.store.SetNextCheck(ctx, a.Address, next)
}
