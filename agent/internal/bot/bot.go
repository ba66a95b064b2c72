package bot

import (
	"context"
	"fmt"
	"sync"

	"callwatch/agent/internal/services"
	"callwatch/shared/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const maxConcurrentMessages = 16

type botAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// MessageHandler receives the chat messages that are not commands.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg services.IncomingMessage) error
}

// Bot is the management bot. It answers admin commands and hands every other
// message it sees to the listener.
type Bot struct {
	api      botAPI
	commands *Commands
	listener MessageHandler
	log      *logger.Logger

	sem chan struct{}
	wg  sync.WaitGroup
}

// New logs in with the bot token.
func New(token string, commands *Commands, listener MessageHandler, appLogger *logger.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect management bot: %w", err)
	}
	appLogger.Info("Management bot authorized", zap.String("username", api.Self.UserName))
	return newBot(api, commands, listener, appLogger), nil
}

func newBot(api botAPI, commands *Commands, listener MessageHandler, appLogger *logger.Logger) *Bot {
	return &Bot{
		api:      api,
		commands: commands,
		listener: listener,
		log:      appLogger.Named("bot"),
		sem:      make(chan struct{}, maxConcurrentMessages),
	}
}

// Run receives updates until ctx is cancelled and waits for in-flight
// messages to finish.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message", "channel_post"}
	updates := b.api.GetUpdatesChan(u)
	b.log.Info("Listening for Telegram commands and messages...")

	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.log.Info("Context cancelled. Stopping Telegram listener.")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.dispatch(ctx, update)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil {
		msg = update.ChannelPost
	}
	if msg == nil || msg.Chat == nil {
		return
	}

	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	b.wg.Add(1)
	go func() {
		defer func() {
			<-b.sem
			b.wg.Done()
		}()
		if msg.IsCommand() {
			b.handleCommand(ctx, msg)
		}
		// Command-shaped posts such as "/ca <mint>" are still calls.
		b.handleMessage(ctx, msg)
	}()
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	name := msg.Command()
	if !b.commands.Known(name) {
		b.log.Debug("Ignoring unknown command", zap.String("command", name), zap.Int64("chatID", msg.Chat.ID))
		return
	}
	var senderID int64
	if msg.From != nil {
		senderID = msg.From.ID
	}
	reply := b.commands.Execute(ctx, Request{
		SenderID:  senderID,
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Command:   name,
		Args:      msg.CommandArguments(),
	})
	if reply != "" {
		b.SendReply(msg.Chat.ID, msg.MessageID, reply)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if err := b.listener.HandleMessage(ctx, toIncoming(msg)); err != nil {
		b.log.Error("Failed to process message", zap.Int64("chatID", msg.Chat.ID), zap.Error(err))
	}
}

func toIncoming(msg *tgbotapi.Message) services.IncomingMessage {
	in := services.IncomingMessage{
		ChatID:    msg.Chat.ID,
		ChatTitle: msg.Chat.Title,
		Text:      msg.Text,
		Date:      msg.Time(),
	}
	if in.Text == "" {
		in.Text = msg.Caption
	}
	// Anonymous admins and channel posts carry no human sender.
	if msg.From != nil && msg.SenderChat == nil {
		in.SenderID = msg.From.ID
		in.SenderFirstName = msg.From.FirstName
		in.SenderLastName = msg.From.LastName
	}
	return in
}

// SendReply answers a command in plain text.
func (b *Bot) SendReply(chatID int64, replyTo int, text string) {
	out := tgbotapi.NewMessage(chatID, text)
	out.ReplyToMessageID = replyTo
	out.DisableWebPagePreview = true
	if _, err := b.api.Send(out); err != nil {
		b.log.Error("Failed to send reply message", zap.Error(err), zap.Int64("chatID", chatID))
	}
}
