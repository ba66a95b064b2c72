package services

import (
	"context"
	"testing"
	"time"

	"callwatch/agent/database"
	"callwatch/agent/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	usdcMint      = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	trackedChat   = int64(-1001)
	trackedCaller = int64(555)
)

var listenNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type listenerFixture struct {
	store    *database.Store
	market   *fakeMarket
	bonding  fakeBonding
	alpha    *fakeSender
	beta     *fakeSender
	targets  fakeTargets
	listener *Listener
}

func newListenerFixture(t *testing.T) *listenerFixture {
	t.Helper()
	schedule, err := NewPhaseSchedule(DefaultPhases())
	require.NoError(t, err)

	f := &listenerFixture{
		store:   newTestStore(t),
		market:  newFakeMarket(map[string]float64{bonkMint: 42_300, usdcMint: 1_000_000}),
		bonding: fakeBonding{bonkMint: {Progress: 45}},
		alpha:   newFakeSender("alpha"),
		beta:    newFakeSender("beta"),
		targets: fakeTargets{
			chats:  map[int64]bool{trackedChat: true},
			users:  map[int64]bool{trackedCaller: true},
			labels: map[models.TargetKind]map[int64]string{},
		},
	}
	stats := fixedStats{HitRate5x: 20, HitRate2x: 40, MigrationRate: 50, Migrated: 2, TotalUnbonded: 4}
	f.listener = NewListener(f.store, f.market, f.bonding, stats, fakePool{f.alpha, f.beta}, f.targets,
		schedule, "@calls", testLogger(t))
	f.listener.now = func() time.Time { return listenNow }
	return f
}

func TestListenerPostsAlertAndRecordsCall(t *testing.T) {
	ctx := context.Background()
	f := newListenerFixture(t)

	err := f.listener.HandleMessage(ctx, IncomingMessage{
		ChatID:          trackedChat,
		ChatTitle:       "Alpha Calls",
		SenderID:        99,
		SenderFirstName: "Ann",
		SenderLastName:  "Lee",
		Text:            "aping " + bonkMint + " now",
		Date:            listenNow,
	})
	require.NoError(t, err)

	sent := f.alpha.messages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].text, "<code>"+bonkMint+"</code>")
	assert.Contains(t, sent[0].text, "Caller Stats - Ann Lee")
	assert.Contains(t, sent[0].text, "5x: <b>20%</b>")
	assert.Contains(t, sent[0].text, "(<b>2</b> out of <b>4</b>)")
	assert.Contains(t, sent[0].text, "$42,300")
	assert.Contains(t, sent[0].text, "45.0%")
	assert.Contains(t, sent[0].text, "@calls")

	alert, err := f.store.AlertByAddress(ctx, bonkMint)
	require.NoError(t, err)
	assert.Equal(t, int64(101), alert.MessageID)
	assert.Equal(t, 42_300.0, alert.InitialMarketCap)
	assert.Equal(t, "alpha", alert.BotName)
	assert.Equal(t, trackedChat, alert.ChatID)
	assert.True(t, alert.NextCheckAt.Equal(listenNow.Add(3*time.Minute)))

	calls, err := f.store.RecentCalls(ctx, 99, 10)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, bonkMint, calls[0].Address)
}

func TestListenerHidesBondingAboveThreshold(t *testing.T) {
	f := newListenerFixture(t)
	require.NoError(t, f.listener.HandleMessage(context.Background(), IncomingMessage{
		ChatID: trackedChat, SenderID: 99, Text: usdcMint,
	}))
	sent := f.alpha.messages()
	require.Len(t, sent, 1)
	assert.NotContains(t, sent[0].text, "░")
}

func TestListenerUsesAssignedBotAndCallerOverride(t *testing.T) {
	ctx := context.Background()
	f := newListenerFixture(t)
	f.targets.labels[models.TargetAssignment] = map[int64]string{trackedChat: "beta"}
	f.targets.labels[models.TargetCaller] = map[int64]string{trackedChat: "Whale Channel"}

	require.NoError(t, f.listener.HandleMessage(ctx, IncomingMessage{
		ChatID: trackedChat, ChatTitle: "Alpha Calls", Text: bonkMint,
	}))

	assert.Empty(t, f.alpha.messages())
	sent := f.beta.messages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].text, "Caller Stats - Whale Channel")

	// Channel posts are recorded under the channel id.
	calls, err := f.store.RecentCalls(ctx, trackedChat, 10)
	require.NoError(t, err)
	assert.Len(t, calls, 1)
}

func TestListenerIgnoresUntrackedMessages(t *testing.T) {
	ctx := context.Background()
	f := newListenerFixture(t)

	require.NoError(t, f.listener.HandleMessage(ctx, IncomingMessage{ChatID: -42, SenderID: 7, Text: bonkMint}))
	assert.Empty(t, f.alpha.messages())
	assert.Zero(t, f.market.callCount(bonkMint))

	// A tracked user is followed into any chat.
	require.NoError(t, f.listener.HandleMessage(ctx, IncomingMessage{ChatID: -42, SenderID: trackedCaller, Text: bonkMint}))
	assert.Len(t, f.alpha.messages(), 1)
}

func TestListenerKeywordAlert(t *testing.T) {
	ctx := context.Background()
	f := newListenerFixture(t)
	require.NoError(t, f.store.AddKeyword(ctx, 99, "moon"))

	require.NoError(t, f.listener.HandleMessage(ctx, IncomingMessage{
		ChatID: trackedChat, ChatTitle: "Alpha <Calls>", SenderID: 99, SenderFirstName: "Ann",
		Text: "this one goes to the MOON",
	}))

	sent := f.alpha.messages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].text, "<b>Keyword:</b> moon")
	assert.Contains(t, sent[0].text, "<b>From:</b> Ann")
	assert.Contains(t, sent[0].text, "<b>Chat:</b> Alpha &lt;Calls&gt;")
}

func TestListenerWithoutBotsStoresNothing(t *testing.T) {
	ctx := context.Background()
	f := newListenerFixture(t)
	f.alpha.running = false
	f.beta.running = false

	require.NoError(t, f.listener.HandleMessage(ctx, IncomingMessage{ChatID: trackedChat, SenderID: 99, Text: bonkMint}))

	_, err := f.store.AlertByAddress(ctx, bonkMint)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestListenerReAlertRestartsClock(t *testing.T) {
	ctx := context.Background()
	f := newListenerFixture(t)
	msg := IncomingMessage{ChatID: trackedChat, SenderID: 99, Text: bonkMint}

	require.NoError(t, f.listener.HandleMessage(ctx, msg))
	f.listener.now = func() time.Time { return listenNow.Add(time.Hour) }
	f.market.set(bonkMint, 90_000)
	require.NoError(t, f.listener.HandleMessage(ctx, msg))

	alert, err := f.store.AlertByAddress(ctx, bonkMint)
	require.NoError(t, err)
	assert.Equal(t, int64(102), alert.MessageID)
	assert.Equal(t, 42_300.0, alert.InitialMarketCap)
	assert.True(t, alert.CreatedAt.Equal(listenNow.Add(time.Hour)))

	calls, err := f.store.RecentCalls(ctx, 99, 10)
	require.NoError(t, err)
	assert.Len(t, calls, 2)
}
