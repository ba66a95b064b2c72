package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"callwatch/agent/internal/events"
	"callwatch/agent/internal/messages"
	"callwatch/agent/internal/metrics"
	"callwatch/agent/internal/models"
	"callwatch/shared/logger"

	"go.uber.org/zap"
)

// IncomingMessage is a chat message seen by the management bot. SenderID is
// zero for channel posts.
type IncomingMessage struct {
	ChatID          int64
	ChatTitle       string
	SenderID        int64
	SenderFirstName string
	SenderLastName  string
	Text            string
	Date            time.Time
}

// CallerID is the id calls are recorded under: the sender, or the chat for
// channel posts.
func (m IncomingMessage) CallerID() int64 {
	if m.SenderID != 0 {
		return m.SenderID
	}
	return m.ChatID
}

func (m IncomingMessage) senderName() string {
	if m.SenderID == 0 {
		return ""
	}
	first := m.SenderFirstName
	if first == "" {
		first = "Unknown"
	}
	return strings.TrimSpace(first + " " + m.SenderLastName)
}

// ListenerStore is the storage the listener writes calls to.
type ListenerStore interface {
	KeywordsForUser(ctx context.Context, userID int64) ([]string, error)
	UpsertAlert(ctx context.Context, a *models.Alert) error
	InsertUserCall(ctx context.Context, c *models.UserCall) error
}

// Targets answers which chats and users are tracked.
type Targets interface {
	ShouldMonitor(chatID, senderID int64) bool
	Label(kind models.TargetKind, id int64) (string, bool)
}

type StatsCalculator interface {
	Calculate(ctx context.Context, userID int64) Stats
}

// Listener turns tracked chat messages into keyword alerts and token calls.
type Listener struct {
	store        ListenerStore
	market       MarketDataProvider
	bonding      BondingProvider
	stats        StatsCalculator
	senders      SenderPool
	targets      Targets
	schedule     *PhaseSchedule
	alertChannel string
	now          func() time.Time
	log          *logger.Logger
}

func NewListener(store ListenerStore, market MarketDataProvider, bonding BondingProvider, stats StatsCalculator,
	senders SenderPool, targets Targets, schedule *PhaseSchedule, alertChannel string, appLogger *logger.Logger) *Listener {
	return &Listener{
		store:        store,
		market:       market,
		bonding:      bonding,
		stats:        stats,
		senders:      senders,
		targets:      targets,
		schedule:     schedule,
		alertChannel: alertChannel,
		now:          time.Now,
		log:          appLogger.Named("listener"),
	}
}

// HandleMessage processes one chat message. Messages from chats and users
// that are not tracked are ignored.
func (l *Listener) HandleMessage(ctx context.Context, msg IncomingMessage) error {
	if strings.TrimSpace(msg.Text) == "" || !l.targets.ShouldMonitor(msg.ChatID, msg.SenderID) {
		return nil
	}
	if msg.Date.IsZero() {
		msg.Date = l.now()
	}

	var errs []error
	if err := l.handleKeywords(ctx, msg); err != nil {
		errs = append(errs, err)
	}

	addresses := events.ExtractAddresses(msg.Text)
	if len(addresses) > 0 {
		l.log.Info("Detected addresses", zap.Strings("addresses", addresses), zap.Int64("chatID", msg.ChatID))
	}
	for _, address := range addresses {
		if err := l.handleAddress(ctx, msg, address); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", address, err))
		}
	}
	return errors.Join(errs...)
}

func (l *Listener) handleKeywords(ctx context.Context, msg IncomingMessage) error {
	keywords, err := l.store.KeywordsForUser(ctx, msg.CallerID())
	if err != nil {
		return fmt.Errorf("load keywords: %w", err)
	}
	for _, kw := range events.MatchKeywords(msg.Text, keywords) {
		text, err := messages.RenderKeywordAlert(messages.KeywordAlert{
			Keyword: kw,
			From:    l.fromName(msg),
			Chat:    chatTitle(msg),
		})
		if err != nil {
			return err
		}
		sender := l.senders.Select("")
		if sender == nil {
			l.log.Warn("No active bot available for keyword alert", zap.String("keyword", kw))
			continue
		}
		if _, err := sender.SendMessage(ctx, text); err != nil {
			l.log.Error("Failed to send keyword alert", zap.String("keyword", kw), zap.Error(err))
			continue
		}
		metrics.AlertsPosted.WithLabelValues("keyword").Inc()
		l.log.Info("Sent keyword alert", zap.String("keyword", kw), zap.Int64("from", msg.CallerID()), zap.String("chat", chatTitle(msg)))
	}
	return nil
}

func (l *Listener) handleAddress(ctx context.Context, msg IncomingMessage, address string) error {
	tokenField := zap.String("tokenAddress", address)

	snap := l.market.FetchMarketData(ctx, address, msg.Date)
	bond := l.bonding.FetchBondingStatus(ctx, address)
	stats := l.stats.Calculate(ctx, msg.CallerID())

	text, err := messages.RenderNewToken(messages.NewToken{
		Symbol:          snap.Symbol,
		Name:            snap.Name,
		Address:         address,
		Caller:          l.callerName(msg),
		HitRate5x:       stats.HitRate5x,
		HitRate2x:       stats.HitRate2x,
		MigrationRate:   stats.MigrationRate,
		Migrated:        stats.Migrated,
		TotalUnbonded:   stats.TotalUnbonded,
		MarketCap:       messages.FormatMarketCap(snap.MarketCap),
		MarketCapChange: messages.FormatPercentage(snap.PriceChangeH6),
		Liquidity:       messages.FormatPrice(snap.LiquidityUSD),
		Volume:          messages.FormatPrice(snap.VolumeH6),
		Buys:            snap.BuysH6,
		Sells:           snap.SellsH6,
		Dex:             snap.Dex,
		ShowBonding:     !bond.Bonded && snap.MarketCap <= BondingThresholdMarketCap,
		BondingBar:      messages.BondingProgressBar(bond.Progress),
		AlertChannel:    l.alertChannel,
	})
	if err != nil {
		return err
	}

	assigned, _ := l.targets.Label(models.TargetAssignment, msg.ChatID)
	sender := l.senders.Select(assigned)
	if sender == nil {
		l.log.Warn("No active bot available for alert", tokenField)
		return nil
	}
	messageID, err := sender.SendMessage(ctx, text)
	if err != nil {
		l.log.Error("Failed to send new token alert", tokenField, zap.String("bot", sender.Name()), zap.Error(err))
		return nil
	}
	metrics.AlertsPosted.WithLabelValues("token").Inc()

	now := l.now()
	firstInterval, _ := l.schedule.IntervalFor(0)
	alert := &models.Alert{
		Address:          address,
		MessageID:        int64(messageID),
		InitialMarketCap: snap.MarketCap,
		ChatID:           msg.ChatID,
		BotName:          sender.Name(),
		CreatedAt:        now,
		Bonded:           bond.Bonded,
		TokenName:        snap.Name,
		TokenSymbol:      snap.Symbol,
		CreationTime:     snap.PairCreatedAt,
		NextCheckAt:      now.Add(firstInterval),
	}
	if err := l.store.UpsertAlert(ctx, alert); err != nil {
		return fmt.Errorf("store alert: %w", err)
	}
	call := &models.UserCall{
		UserID:           msg.CallerID(),
		Address:          address,
		CreatedAt:        now,
		InitialMarketCap: snap.MarketCap,
	}
	if err := l.store.InsertUserCall(ctx, call); err != nil {
		return fmt.Errorf("store user call: %w", err)
	}

	l.log.Info("Sent new token alert", tokenField, zap.String("caller", l.callerName(msg)), zap.String("bot", sender.Name()))
	return nil
}

// callerName: channel caller override, then the sender's name, then the chat title.
func (l *Listener) callerName(msg IncomingMessage) string {
	if name, ok := l.targets.Label(models.TargetCaller, msg.ChatID); ok && name != "" {
		return name
	}
	return l.fromName(msg)
}

func (l *Listener) fromName(msg IncomingMessage) string {
	if name := msg.senderName(); name != "" {
		return name
	}
	return chatTitle(msg)
}

func chatTitle(msg IncomingMessage) string {
	if msg.ChatTitle != "" {
		return msg.ChatTitle
	}
	return "Unknown Chat"
}
