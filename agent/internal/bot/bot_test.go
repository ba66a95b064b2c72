package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"callwatch/agent/internal/services"
	"callwatch/shared/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

type fakeAPI struct {
	updates chan tgbotapi.Update

	mu      sync.Mutex
	sent    []tgbotapi.MessageConfig
	stopped bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{updates: make(chan tgbotapi.Update, 8)}
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) replies() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), f.sent...)
}

type recordingListener struct {
	mu   sync.Mutex
	msgs []services.IncomingMessage
}

func (r *recordingListener) HandleMessage(_ context.Context, msg services.IncomingMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingListener) received() []services.IncomingMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]services.IncomingMessage(nil), r.msgs...)
}

func commandUpdate(chatID, fromID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 5,
		Chat:      &tgbotapi.Chat{ID: chatID, Type: "supergroup", Title: "Ops"},
		From:      &tgbotapi.User{ID: fromID, FirstName: "Ann"},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(firstWord(text))}},
	}}
}

func firstWord(s string) string {
	for i, r := range s {
		if r == ' ' {
			return s[:i]
		}
	}
	return s
}

func TestBotRoutesCommandsAndMessages(t *testing.T) {
	f := newCommandsFixture(t)
	api := newFakeAPI()
	listener := &recordingListener{}
	b := newBot(api, f.commands, listener, logger.FromZap(zaptest.NewLogger(t)))

	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	api.updates <- commandUpdate(-100, adminID, "/add_chat -100")
	api.updates <- commandUpdate(-100, 999, "/add_chat -300")
	api.updates <- commandUpdate(-100, adminID, "/unknown")
	api.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: -100, Title: "Alpha"},
		From: &tgbotapi.User{ID: 42, FirstName: "Ann", LastName: "Lee"},
		Text: "gm " + bonk,
		Date: int(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Unix()),
	}}
	api.updates <- tgbotapi.Update{ChannelPost: &tgbotapi.Message{
		Chat:       &tgbotapi.Chat{ID: -200, Title: "Calls", Type: "channel"},
		SenderChat: &tgbotapi.Chat{ID: -200},
		Caption:    bonk,
	}}

	require.Eventually(t, func() bool {
		return len(api.replies()) == 2 && len(listener.received()) == 5
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	texts := map[string]bool{}
	for _, r := range api.replies() {
		texts[r.Text] = true
		assert.Equal(t, 5, r.ReplyToMessageID)
	}
	assert.True(t, texts["Added chat -100"])
	assert.True(t, texts["Admins only."])

	var fromUser, fromChannel services.IncomingMessage
	for _, m := range listener.received() {
		switch {
		case m.ChatID == -200:
			fromChannel = m
		case m.Text == "gm "+bonk:
			fromUser = m
		}
	}
	assert.Equal(t, int64(42), fromUser.SenderID)
	assert.Equal(t, "Lee", fromUser.SenderLastName)
	assert.Equal(t, "Alpha", fromUser.ChatTitle)
	assert.True(t, fromUser.Date.Equal(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))

	assert.Zero(t, fromChannel.SenderID)
	assert.Equal(t, int64(-200), fromChannel.CallerID())
	assert.Equal(t, bonk, fromChannel.Text)

	api.mu.Lock()
	assert.True(t, api.stopped)
	api.mu.Unlock()
}

func TestCommandShapedCallsReachListener(t *testing.T) {
	f := newCommandsFixture(t)
	api := newFakeAPI()
	listener := &recordingListener{}
	b := newBot(api, f.commands, listener, logger.FromZap(zaptest.NewLogger(t)))

	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	api.updates <- commandUpdate(-100, 42, "/ca "+bonk)
	api.updates <- commandUpdate(-100, adminID, "/add_keyword 42 moon")

	require.Eventually(t, func() bool {
		return len(listener.received()) == 2 && len(api.replies()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	texts := map[string]int64{}
	for _, m := range listener.received() {
		texts[m.Text] = m.SenderID
	}
	assert.Equal(t, int64(42), texts["/ca "+bonk])
	assert.Equal(t, adminID, texts["/add_keyword 42 moon"])
	assert.Equal(t, "Added keyword 'moon' for user 42", api.replies()[0].Text)
}
