package services

import (
	"context"
	"encoding/json"
	"strings"

	"callwatch/agent/internal/metrics"
	"callwatch/shared/logger"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	MoralisAPI = "https://solana-gateway.moralis.io"

	testBondPrefix = "TEST_BOND_"
)

type bondingStatusResponse struct {
	Mint            string  `json:"mint"`
	BondingProgress float64 `json:"bondingProgress"`
	GraduatedAt     *string `json:"graduatedAt"`
}

// MoralisClient reads pump.fun bonding progress from the Moralis Solana
// gateway.
type MoralisClient struct {
	http   *resty.Client
	apiKey string
	log    *logger.Logger
}

func NewMoralisClient(opts HTTPOptions, apiKey string, appLogger *logger.Logger) *MoralisClient {
	if opts.BaseURL == "" {
		opts.BaseURL = MoralisAPI
	}
	return &MoralisClient{
		http:   newRestyClient(opts, appLogger),
		apiKey: apiKey,
		log:    appLogger.Named("moralis"),
	}
}

// FetchBondingStatus reports whether address finished its bonding curve.
// Failures and a missing API key report not bonded at 0%.
func (c *MoralisClient) FetchBondingStatus(ctx context.Context, address string) BondingStatus {
	tokenField := zap.String("tokenAddress", address)

	if strings.HasPrefix(address, testBondPrefix) {
		metrics.ExternalRequests.WithLabelValues("moralis", metrics.OutcomeFixture).Inc()
		if address == testBondPrefix+"1" {
			return BondingStatus{Bonded: true, Progress: 100}
		}
		return BondingStatus{}
	}
	if c.apiKey == "" {
		c.log.Error("MORALIS_API_KEY not set, reporting token as not bonded", tokenField)
		return c.fallback()
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-API-Key", c.apiKey).
		SetPathParam("address", address).
		Get("/token/mainnet/{address}/bonding-status")
	if err != nil {
		c.log.Error("Moralis bonding status request failed", tokenField, zap.Error(err))
		return c.fallback()
	}
	if resp.IsError() {
		c.log.Error("Moralis returned non-OK status", tokenField, zap.Int("status", resp.StatusCode()))
		return c.fallback()
	}

	var body bondingStatusResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		c.log.Error("Moralis JSON parsing failed", tokenField, zap.Error(err))
		return c.fallback()
	}

	metrics.ExternalRequests.WithLabelValues("moralis", metrics.OutcomeOK).Inc()
	return BondingStatus{Bonded: body.BondingProgress >= 100, Progress: body.BondingProgress}
}

func (c *MoralisClient) fallback() BondingStatus {
	metrics.ExternalRequests.WithLabelValues("moralis", metrics.OutcomeFallback).Inc()
	return BondingStatus{}
}
