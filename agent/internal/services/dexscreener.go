package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"callwatch/agent/internal/events"
	"callwatch/agent/internal/metrics"
	"callwatch/shared/logger"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	DexScreenerAPI = "https://api.dexscreener.com"

	testAddressPrefix = "TEST_"
	unknownTokenName  = "Unknown Token"
	unknownSymbol     = "TOKEN"
)

type Pair struct {
	ChainID       string             `json:"chainId"`
	DexID         string             `json:"dexId"`
	URL           string             `json:"url"`
	PairAddress   string             `json:"pairAddress"`
	BaseToken     Token              `json:"baseToken"`
	QuoteToken    Token              `json:"quoteToken"`
	PriceNative   string             `json:"priceNative"`
	PriceUsd      string             `json:"priceUsd"`
	Transactions  map[string]TxData  `json:"txns"`
	Volume        map[string]float64 `json:"volume"`
	PriceChange   map[string]float64 `json:"priceChange"`
	Liquidity     *Liquidity         `json:"liquidity"`
	FDV           float64            `json:"fdv"`
	MarketCap     float64            `json:"marketCap"`
	PairCreatedAt int64              `json:"pairCreatedAt"`
}

type Token struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

type Liquidity struct {
	Usd   float64 `json:"usd"`
	Base  float64 `json:"base"`
	Quote float64 `json:"quote"`
}

type TxData struct {
	Buys  int `json:"buys"`
	Sells int `json:"sells"`
}

// DexScreenerClient fetches token market data from DexScreener.
type DexScreenerClient struct {
	http    *resty.Client
	network string
	log     *logger.Logger
}

func NewDexScreenerClient(opts HTTPOptions, appLogger *logger.Logger) *DexScreenerClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DexScreenerAPI
	}
	return &DexScreenerClient{
		http:    newRestyClient(opts, appLogger),
		network: "solana",
		log:     appLogger.Named("dexscreener"),
	}
}

// FetchMarketData returns the market data of the first pair DexScreener
// lists for address. Lookups that keep failing return the zero snapshot.
// Addresses starting with TEST_ return fixed test data.
func (c *DexScreenerClient) FetchMarketData(ctx context.Context, address string, eventTime time.Time) TokenSnapshot {
	tokenField := zap.String("tokenAddress", address)

	if strings.HasPrefix(address, testAddressPrefix) {
		metrics.ExternalRequests.WithLabelValues("dexscreener", metrics.OutcomeFixture).Inc()
		return testSnapshot(address, eventTime)
	}
	if !events.IsSolanaAddress(address) {
		c.log.Warn("Invalid Solana address, skipping DexScreener lookup", tokenField)
		return unknownSnapshot(eventTime)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"network": c.network, "address": address}).
		Get("/token-pairs/v1/{network}/{address}")
	if err != nil {
		c.log.Error("DexScreener request failed", tokenField, zap.Error(err))
		return c.fallback(eventTime)
	}
	if resp.IsError() {
		c.log.Error("DexScreener returned non-OK status", tokenField, zap.Int("status", resp.StatusCode()))
		return c.fallback(eventTime)
	}

	var pairs []Pair
	if err := json.Unmarshal(resp.Body(), &pairs); err != nil {
		c.log.Error("DexScreener JSON parsing failed", tokenField, zap.Error(err), zap.ByteString("body", truncate(resp.Body(), 512)))
		return c.fallback(eventTime)
	}
	if len(pairs) == 0 {
		c.log.Info("Token has no trading pairs on DexScreener", tokenField)
		return c.fallback(eventTime)
	}

	snap := snapshotFromPair(pairs[0], eventTime)
	metrics.ExternalRequests.WithLabelValues("dexscreener", metrics.OutcomeOK).Inc()
	c.log.Debug("DexScreener data fetched", tokenField,
		zap.String("pair", pairs[0].PairAddress),
		zap.Float64("marketCap", snap.MarketCap),
		zap.Float64("liquidity", snap.LiquidityUSD))
	return snap
}

func (c *DexScreenerClient) fallback(eventTime time.Time) TokenSnapshot {
	metrics.ExternalRequests.WithLabelValues("dexscreener", metrics.OutcomeFallback).Inc()
	return unknownSnapshot(eventTime)
}

func snapshotFromPair(p Pair, eventTime time.Time) TokenSnapshot {
	snap := TokenSnapshot{
		Name:          p.BaseToken.Name,
		Symbol:        p.BaseToken.Symbol,
		MarketCap:     p.MarketCap,
		PriceChangeH6: p.PriceChange["h6"],
		VolumeH6:      p.Volume["h6"],
		Dex:           capitalize(p.DexID),
		PairCreatedAt: eventTime.Add(-time.Hour),
	}
	if snap.MarketCap == 0 {
		snap.MarketCap = p.FDV
	}
	if price, err := strconv.ParseFloat(p.PriceUsd, 64); err == nil {
		snap.PriceUSD = price
	}
	if tx, ok := p.Transactions["h6"]; ok {
		snap.BuysH6 = tx.Buys
		snap.SellsH6 = tx.Sells
	}
	if p.Liquidity != nil {
		snap.LiquidityUSD = p.Liquidity.Usd
	}
	if p.PairCreatedAt > 0 {
		snap.PairCreatedAt = time.UnixMilli(p.PairCreatedAt).UTC()
	}
	if snap.Dex == "" {
		snap.Dex = "Unknown"
	}
	return snap
}

func unknownSnapshot(eventTime time.Time) TokenSnapshot {
	return TokenSnapshot{
		Name:          unknownTokenName,
		Symbol:        unknownSymbol,
		Dex:           "Unknown",
		PairCreatedAt: eventTime.Add(-time.Hour),
	}
}

// testSnapshot: TEST_1 is a 100k token, every other TEST_ address 42.3k.
func testSnapshot(address string, eventTime time.Time) TokenSnapshot {
	mc, price := 42_300.0, 0.0000423
	if address == "TEST_1" {
		mc, price = 100_000.0, 0.0001
	}
	suffix := ""
	if parts := strings.Split(address, "_"); len(parts) > 1 {
		suffix = parts[1]
	}
	return TokenSnapshot{
		Name:          "TestToken_" + address,
		Symbol:        "TEST" + suffix,
		PriceUSD:      price,
		MarketCap:     mc,
		Dex:           "Unknown",
		PairCreatedAt: eventTime.Add(-5 * time.Minute),
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}

// String implements fmt.Stringer for log lines.
func (s TokenSnapshot) String() string {
	return fmt.Sprintf("%s (%s) mc=%.0f", s.Name, s.Symbol, s.MarketCap)
}
