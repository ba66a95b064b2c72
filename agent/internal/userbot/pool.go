package userbot

import (
	"context"
	"sync"

	"callwatch/agent/internal/metrics"
	"callwatch/agent/internal/services"
	"callwatch/shared/logger"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type startFunc func(ctx context.Context, cfg Config) (*Bot, error)

// Pool holds the userbots in the order they were added. The first running
// bot is the default sender.
type Pool struct {
	channel string
	log     *logger.Logger
	start   startFunc
	limiter *rate.Limiter

	mu   sync.RWMutex
	bots []*Bot
}

// NewPool creates an empty pool whose bots post to channel.
func NewPool(channel string, appLogger *logger.Logger) *Pool {
	p := &Pool{channel: channel, log: appLogger.Named("userbots")}
	p.start = func(ctx context.Context, cfg Config) (*Bot, error) {
		return Start(ctx, cfg, channel, appLogger)
	}
	return p
}

// SetSendRate caps how many messages the bots added afterwards send per
// second, together. Zero or less removes the cap.
func (p *Pool) SetSendRate(perSecond float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if perSecond <= 0 {
		p.limiter = nil
		return
	}
	p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
}

// Add starts a bot and appends it to the pool. A bot with the same name is
// stopped and replaced.
func (p *Pool) Add(ctx context.Context, cfg Config) error {
	bot, err := p.start(ctx, cfg)
	if err != nil {
		return err
	}

	p.mu.Lock()
	bot.limiter = p.limiter
	var replaced *Bot
	if i := lo.IndexOf(p.names(), cfg.Name); i >= 0 {
		replaced = p.bots[i]
		p.bots[i] = bot
	} else {
		p.bots = append(p.bots, bot)
	}
	p.mu.Unlock()

	if replaced != nil {
		replaced.Stop()
	}
	p.updateGauge()
	return nil
}

// Reload stops every bot and starts the given ones. Bots that fail to start
// are logged and left out; the number of started bots is returned.
func (p *Pool) Reload(ctx context.Context, configs []Config) int {
	p.StopAll()
	started := 0
	for _, cfg := range configs {
		if err := p.Add(ctx, cfg); err != nil {
			p.log.Error("Failed to start userbot", zap.String("bot", cfg.Name), zap.Error(err))
			continue
		}
		started++
	}
	p.log.Info("Userbots reloaded", zap.Int("running", started), zap.Int("configured", len(configs)))
	return started
}

func (p *Pool) StopAll() {
	p.mu.Lock()
	bots := p.bots
	p.bots = nil
	p.mu.Unlock()

	for _, b := range bots {
		b.Stop()
	}
	p.updateGauge()
}

func (p *Pool) Has(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return lo.Contains(p.names(), name)
}

func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.bots)
}

func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.names()
}

func (p *Pool) names() []string {
	return lo.Map(p.bots, func(b *Bot, _ int) string { return b.Name() })
}

// Select returns the running bot named preferred, else the first running
// bot, else nil.
func (p *Pool) Select(preferred string) services.Sender {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if preferred != "" {
		if b, ok := lo.Find(p.bots, func(b *Bot) bool { return b.Name() == preferred && b.Running() }); ok {
			return b
		}
	}
	if b, ok := lo.Find(p.bots, func(b *Bot) bool { return b.Running() }); ok {
		return b
	}
	return nil
}

func (p *Pool) updateGauge() {
	p.mu.RLock()
	running := lo.CountBy(p.bots, func(b *Bot) bool { return b.Running() })
	p.mu.RUnlock()
	metrics.RunningUserbots.Set(float64(running))
}
