package services

import (
	"context"
	"net/http"
	"time"

	"callwatch/shared/logger"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// BondingThresholdMarketCap is the market cap at which a pump.fun curve
// usually completes. Below it the bonding progress is shown on alerts, and
// unbonded calls that reach it count as migrated.
const BondingThresholdMarketCap = 71000.0

// TokenSnapshot is the market data of a token at one point in time. A lookup
// that failed yields the zero snapshot named "Unknown Token".
type TokenSnapshot struct {
	Name          string
	Symbol        string
	PriceUSD      float64
	MarketCap     float64
	LiquidityUSD  float64
	VolumeH6      float64
	BuysH6        int
	SellsH6       int
	PriceChangeH6 float64 // percent
	Dex           string
	PairCreatedAt time.Time
}

// BondingStatus is the bonding-curve progress of a token.
type BondingStatus struct {
	Bonded   bool
	Progress float64 // percent
}

// MarketDataProvider looks up current token market data.
type MarketDataProvider interface {
	FetchMarketData(ctx context.Context, address string, eventTime time.Time) TokenSnapshot
}

// BondingProvider looks up bonding-curve progress.
type BondingProvider interface {
	FetchBondingStatus(ctx context.Context, address string) BondingStatus
}

// Sender posts to the alert channel on behalf of one userbot account.
type Sender interface {
	Name() string
	Running() bool
	// SendMessage posts text and returns the new message id.
	SendMessage(ctx context.Context, text string) (int, error)
	SendReply(ctx context.Context, text string, replyTo int) error
}

// SenderPool picks the userbot that should post.
type SenderPool interface {
	// Select returns the running sender named preferred, else the first
	// running sender, else nil.
	Select(preferred string) Sender
}

// HTTPOptions configures the resty clients of the third-party lookups.
type HTTPOptions struct {
	BaseURL   string
	Limiter   *rate.Limiter
	Timeout   time.Duration
	Retries   int
	RetryWait time.Duration
}

func (o HTTPOptions) withDefaults() HTTPOptions {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.RetryWait <= 0 {
		o.RetryWait = 2 * time.Second
	}
	return o
}

// DefaultHTTPOptions: three attempts two seconds apart.
func DefaultHTTPOptions(baseURL string, limiter *rate.Limiter) HTTPOptions {
	return HTTPOptions{BaseURL: baseURL, Limiter: limiter, Timeout: 10 * time.Second, Retries: 2, RetryWait: 2 * time.Second}
}

// NewExternalLimiter is the limiter shared by every third-party lookup.
func NewExternalLimiter(perSecond float64) *rate.Limiter {
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func newRestyClient(opts HTTPOptions, log *logger.Logger) *resty.Client {
	opts = opts.withDefaults()
	c := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(opts.RetryWait).
		SetHeader("Accept", "application/json").
		SetLogger(log.Zap()).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		})
	if opts.Limiter != nil {
		limiter := opts.Limiter
		c.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			return limiter.Wait(r.Context())
		})
	}
	return c
}
