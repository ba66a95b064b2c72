package userbot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"callwatch/shared/logger"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/html"
	"github.com/gotd/td/telegram/message/unpack"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	sendAttempts = 3
	sendRetryGap = 2 * time.Second
	startTimeout = 30 * time.Second
)

// Config is the login of one userbot account.
type Config struct {
	Name    string
	APIID   int
	APIHash string
	// Session is a Telethon StringSession of an already authorized account.
	Session string
}

type sendFunc func(ctx context.Context, text string, replyTo int) (int, error)

// Bot is a user account that posts alerts to the alert channel over MTProto.
type Bot struct {
	name    string
	channel string
	log     *logger.Logger

	mu      sync.RWMutex
	running bool
	send    sendFunc
	cancel  context.CancelFunc
	done    chan struct{}

	retryGap time.Duration
	limiter  *rate.Limiter
}

// Start connects the account and keeps the connection open in the
// background until Stop is called or ctx is cancelled. It fails when the
// session cannot be decoded or is not authorized.
func Start(ctx context.Context, cfg Config, channel string, appLogger *logger.Logger) (*Bot, error) {
	log := appLogger.Named("userbot").With("bot", cfg.Name)

	data, err := session.TelethonSession(cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("decode session of %s: %w", cfg.Name, err)
	}
	storage := new(session.StorageMemory)
	if err := (&session.Loader{Storage: storage}).Save(ctx, data); err != nil {
		return nil, fmt.Errorf("store session of %s: %w", cfg.Name, err)
	}

	client := telegram.NewClient(cfg.APIID, cfg.APIHash, telegram.Options{
		SessionStorage: storage,
		Logger:         log.Raw().Named("mtproto"),
		NoUpdates:      true,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		name:     cfg.Name,
		channel:  channel,
		log:      log,
		cancel:   cancel,
		done:     make(chan struct{}),
		retryGap: sendRetryGap,
	}

	ready := make(chan error, 1)
	go func() {
		defer close(b.done)
		started := false
		err := client.Run(runCtx, func(ctx context.Context) error {
			status, err := client.Auth().Status(ctx)
			if err != nil {
				return fmt.Errorf("auth status: %w", err)
			}
			if !status.Authorized {
				return errors.New("session is not authorized")
			}
			b.mu.Lock()
			b.send = gotdSend(message.NewSender(client.API()), channel)
			b.running = true
			b.mu.Unlock()
			started = true
			ready <- nil
			<-ctx.Done()
			return ctx.Err()
		})
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		if errors.Is(err, context.Canceled) {
			return
		}
		if !started {
			if err == nil {
				err = errors.New("connection closed before authorization")
			}
			ready <- err
			return
		}
		b.log.Error("Userbot disconnected", zap.Error(err))
	}()

	timer := time.NewTimer(startTimeout)
	defer timer.Stop()
	select {
	case err := <-ready:
		if err != nil {
			cancel()
			<-b.done
			return nil, fmt.Errorf("start %s: %w", cfg.Name, err)
		}
	case <-timer.C:
		cancel()
		<-b.done
		return nil, fmt.Errorf("start %s: timed out after %s", cfg.Name, startTimeout)
	case <-ctx.Done():
		cancel()
		<-b.done
		return nil, ctx.Err()
	}

	b.log.Info("Userbot started")
	return b, nil
}

func gotdSend(sender *message.Sender, channel string) sendFunc {
	return func(ctx context.Context, text string, replyTo int) (int, error) {
		req := sender.Resolve(channel)
		if replyTo > 0 {
			return unpack.MessageID(req.Reply(replyTo).StyledText(ctx, html.String(nil, text)))
		}
		return unpack.MessageID(req.StyledText(ctx, html.String(nil, text)))
	}
}

// newStaticBot builds a running bot around send without a connection.
func newStaticBot(name, channel string, send sendFunc, appLogger *logger.Logger) *Bot {
	done := make(chan struct{})
	var once sync.Once
	return &Bot{
		name:     name,
		channel:  channel,
		log:      appLogger.Named("userbot").With("bot", name),
		running:  true,
		send:     send,
		cancel:   func() { once.Do(func() { close(done) }) },
		done:     done,
		retryGap: sendRetryGap,
	}
}

func (b *Bot) Name() string { return b.name }

func (b *Bot) Running() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// SendMessage posts text to the alert channel and returns the new message id.
func (b *Bot) SendMessage(ctx context.Context, text string) (int, error) {
	id, err := b.deliver(ctx, text, 0)
	if err != nil {
		return 0, err
	}
	b.log.Info("Userbot sent message", zap.String("target", b.channel), zap.Int("messageID", id))
	return id, nil
}

// SendReply posts text to the alert channel as a reply to replyTo.
func (b *Bot) SendReply(ctx context.Context, text string, replyTo int) error {
	if _, err := b.deliver(ctx, text, replyTo); err != nil {
		return err
	}
	b.log.Info("Userbot sent reply", zap.Int("replyTo", replyTo))
	return nil
}

func (b *Bot) deliver(ctx context.Context, text string, replyTo int) (int, error) {
	b.mu.RLock()
	send, running := b.send, b.running
	b.mu.RUnlock()
	if !running || send == nil {
		return 0, fmt.Errorf("userbot %s is not running", b.name)
	}

	retry := &backoff.Backoff{Min: b.retryGap, Max: b.retryGap}
	var lastErr error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return 0, err
			}
		}
		id, err := send(ctx, text, replyTo)
		if err == nil {
			return id, nil
		}
		lastErr = err
		b.log.Error("Userbot send failed",
			zap.Int("attempt", attempt), zap.Int("replyTo", replyTo), zap.Error(err))
		if attempt == sendAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(retry.Duration()):
		}
	}
	return 0, fmt.Errorf("userbot %s: %d attempts failed: %w", b.name, sendAttempts, lastErr)
}

// Stop disconnects the account and waits for the connection to close.
func (b *Bot) Stop() {
	b.cancel()
	<-b.done
	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
	b.log.Info("Userbot stopped")
}
