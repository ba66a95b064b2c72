package notifications

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"
	"golang.org/x/time/rate"
)

const queueSize = 64

// messageSender is the part of *telego.Bot used for system logs.
type messageSender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

type client struct {
	sender     messageSender
	chatID     int64
	limiter    *rate.Limiter
	queue      chan string
	maxRetries int
	minDelay   time.Duration
	maxDelay   time.Duration
}

var (
	mu            sync.RWMutex
	defaultClient *client
)

func newClient(sender messageSender, chatID int64) *client {
	return &client{
		sender:     sender,
		chatID:     chatID,
		limiter:    rate.NewLimiter(rate.Limit(0.2), 1),
		queue:      make(chan string, queueSize),
		maxRetries: 3,
		minDelay:   time.Second,
		maxDelay:   8 * time.Second,
	}
}

// InitTelegramBot connects the system-log bot and starts the delivery worker,
// which stops when ctx is cancelled. A zero chatID disables system logs.
func InitTelegramBot(ctx context.Context, botToken string, chatID int64) error {
	if chatID == 0 {
		log.Println("INFO: SYSTEM_LOG_CHAT_ID not set, Telegram system logs disabled.")
		return nil
	}
	if botToken == "" {
		return fmt.Errorf("critical error: BOT_TOKEN missing, cannot initialize system log bot")
	}

	log.Println("Initializing Telegram system log bot...")
	bot, err := telego.NewBot(botToken, telego.WithDiscardLogger())
	if err != nil {
		return fmt.Errorf("failed to initialize Telegram bot API: %w", err)
	}
	me, err := bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify bot token with GetMe API call: %w", err)
	}

	c := newClient(bot, chatID)
	mu.Lock()
	defaultClient = c
	mu.Unlock()
	go c.run(ctx)

	log.Printf("Telegram system log bot initialized for @%s (1 msg / 5 sec)", me.Username)
	SendSystemLogMessage(fmt.Sprintf("Bot connected successfully \\(@%s\\)\\. Ready\\.", EscapeMarkdownV2(me.Username)))
	return nil
}

// Enabled reports whether system log messages are delivered anywhere.
func Enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return defaultClient != nil
}

// SendSystemLogMessage queues a MarkdownV2 formatted message for the system
// log chat. Messages are dropped when the queue is full or logs are disabled.
func SendSystemLogMessage(message string) {
	mu.RLock()
	c := defaultClient
	mu.RUnlock()
	if c == nil {
		return
	}
	select {
	case c.queue <- message:
	default:
		log.Println("WARN: Telegram system log queue full, dropping message.")
	}
}

func (c *client) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			if defaultClient == c {
				defaultClient = nil
			}
			mu.Unlock()
			return
		case msg := <-c.queue:
			if err := c.send(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("ERROR: %v", err)
			}
		}
	}
}

func (c *client) send(ctx context.Context, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	logCtx := fmt.Sprintf("[ChatID: %d]", c.chatID)
	params := tu.Message(tu.ID(c.chatID), text).WithParseMode(telego.ModeMarkdownV2)
	b := &backoff.Backoff{Min: c.minDelay, Max: c.maxDelay, Factor: 2}

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.sender.SendMessage(ctx, params)
		if err == nil {
			return nil
		}
		lastErr = err

		wait := b.Duration()
		var apiErr *telegoapi.Error
		if errors.As(err, &apiErr) {
			log.Printf("ERROR: Failed Telegram text send (Attempt %d/%d): API Err %d - %s %s",
				i+1, c.maxRetries, apiErr.ErrorCode, apiErr.Description, logCtx)
			if apiErr.ErrorCode == http.StatusTooManyRequests {
				retryAfter := 1
				if apiErr.Parameters != nil && apiErr.Parameters.RetryAfter > 0 {
					retryAfter = apiErr.Parameters.RetryAfter
				}
				wait = time.Duration(retryAfter) * time.Second
			} else if apiErr.ErrorCode == http.StatusBadRequest && strings.Contains(apiErr.Description, "can't parse entities") {
				// Formatting errors will not go away on retry.
				return fmt.Errorf("telegram rejected system log markup: %w", err)
			}
		} else {
			log.Printf("ERROR: Failed Telegram text send (Attempt %d/%d): %v %s", i+1, c.maxRetries, err, logCtx)
		}

		if i < c.maxRetries-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return fmt.Errorf("telegram text message failed to send after %d retries: %w", c.maxRetries, lastErr)
}

// EscapeMarkdownV2 escapes every character Telegram reserves in MarkdownV2.
func EscapeMarkdownV2(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune("_*[]()~`>#+-=|{}.!\\", r) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
