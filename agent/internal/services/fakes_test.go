package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"callwatch/agent/database"
	"callwatch/agent/internal/models"
	"callwatch/shared/logger"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	return logger.FromZap(zaptest.NewLogger(t))
}

func newTestStore(t *testing.T) *database.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.AutoMigrate(db))
	return database.NewStore(db)
}

type sentMessage struct {
	bot     string
	text    string
	replyTo int
}

type fakeSender struct {
	name    string
	running bool
	fail    bool

	mu     sync.Mutex
	nextID int
	sent   []sentMessage
}

func newFakeSender(name string) *fakeSender {
	return &fakeSender{name: name, running: true, nextID: 100}
}

func (s *fakeSender) Name() string  { return s.name }
func (s *fakeSender) Running() bool { return s.running }

func (s *fakeSender) SendMessage(_ context.Context, text string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return 0, errors.New("send failed")
	}
	s.nextID++
	s.sent = append(s.sent, sentMessage{bot: s.name, text: text})
	return s.nextID, nil
}

func (s *fakeSender) SendReply(_ context.Context, text string, replyTo int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("send failed")
	}
	s.sent = append(s.sent, sentMessage{bot: s.name, text: text, replyTo: replyTo})
	return nil
}

func (s *fakeSender) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

type fakePool []*fakeSender

func (p fakePool) Select(preferred string) Sender {
	for _, s := range p {
		if s.running && s.name == preferred {
			return s
		}
	}
	for _, s := range p {
		if s.running {
			return s
		}
	}
	return nil
}

type fakeMarket struct {
	mu    sync.Mutex
	caps  map[string]float64
	calls map[string]int
}

func newFakeMarket(caps map[string]float64) *fakeMarket {
	return &fakeMarket{caps: caps, calls: map[string]int{}}
}

func (m *fakeMarket) set(address string, mc float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caps[address] = mc
}

func (m *fakeMarket) FetchMarketData(_ context.Context, address string, eventTime time.Time) TokenSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[address]++
	mc, ok := m.caps[address]
	if !ok {
		return unknownSnapshot(eventTime)
	}
	return TokenSnapshot{
		Name:          "Token " + address[:4],
		Symbol:        "TKN",
		MarketCap:     mc,
		PriceUSD:      mc / 1e9,
		Dex:           "Raydium",
		PairCreatedAt: eventTime.Add(-time.Hour),
	}
}

func (m *fakeMarket) callCount(address string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[address]
}

type fakeBonding map[string]BondingStatus

func (b fakeBonding) FetchBondingStatus(_ context.Context, address string) BondingStatus {
	return b[address]
}

type fakeTargets struct {
	chats  map[int64]bool
	users  map[int64]bool
	labels map[models.TargetKind]map[int64]string
}

func (f fakeTargets) ShouldMonitor(chatID, senderID int64) bool {
	return f.chats[chatID] || (senderID != 0 && f.users[senderID])
}

func (f fakeTargets) Label(kind models.TargetKind, id int64) (string, bool) {
	l, ok := f.labels[kind][id]
	return l, ok
}

type fixedStats Stats

func (s fixedStats) Calculate(_ context.Context, userID int64) Stats {
	out := Stats(s)
	out.UserID = userID
	return out
}
