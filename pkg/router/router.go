// Package router finds the best swap route across DEXes via a Jupiter-
// compatible aggregator, scaling slippage tolerance to execution urgency.
package router

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const SOLMint = "So11111111111111111111111111111111111111112"

const (
	defaultSlippageBps     = 50
	maxSlippageBps         = 1000
	urgencySlippageMultiplier = 0.2
)

// Route is the normalized quote the rest of the pipeline reasons over.
type Route struct {
	DEX            string
	Price          decimal.Decimal
	OutputAmount   decimal.Decimal
	PriceImpactPct decimal.Decimal
	RouteData      json.RawMessage
}

// EffectivePrice is the price after accounting for impact.
func (r Route) EffectivePrice() decimal.Decimal {
	return r.Price.Mul(decimal.NewFromInt(1).Sub(r.PriceImpactPct))
}

type quoteResponse struct {
	OutAmount      string          `json:"outAmount"`
	InAmount       string          `json:"inAmount"`
	PriceImpactPct string          `json:"priceImpactPct"`
	RoutePlan      json.RawMessage `json:"routePlan"`
}

type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
}

// Router wraps a Jupiter-compatible aggregator's /quote and /swap endpoints.
type Router struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string) *Router {
	return &Router{baseURL: baseURL, client: &http.Client{Timeout: 10 * time.Second}}
}

// GetBestRoute fetches a quote with dynamic slippage scaled to urgency
// (1 = normal, 5 = critical).
func (r *Router) GetBestRoute(ctx context.Context, inputMint, outputMint string, amount int64, urgency int) (*Route, error) {
	slippageBps := r.calculateDynamicSlippage(urgency)

	q := url.Values{}
	q.Set("inputMint", inputMint)
	q.Set("outputMint", outputMint)
	q.Set("amount", strconv.FormatInt(amount, 10))
	q.Set("slippageBps", strconv.Itoa(slippageBps))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jupiter quote request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jupiter quote status %d: %s", resp.StatusCode, string(body))
	}

	var qr quoteResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}

	outAmount, err := decimal.NewFromString(qr.OutAmount)
	if err != nil {
		return nil, fmt.Errorf("no route found")
	}
	inAmount, err := decimal.NewFromString(qr.InAmount)
	if err != nil || inAmount.IsZero() {
		inAmount = decimal.NewFromInt(amount)
	}

	priceImpact, err := decimal.NewFromString(qr.PriceImpactPct)
	if err != nil {
		priceImpact = decimal.Zero
	}

	price := decimal.Zero
	if !inAmount.IsZero() {
		price = outAmount.Div(inAmount)
	}

	route := &Route{
		DEX:            "jupiter",
		Price:          price,
		OutputAmount:   outAmount,
		PriceImpactPct: priceImpact.Abs(),
		RouteData:      body,
	}

	log.Info().Str("dex", route.DEX).Str("price", route.Price.StringFixed(8)).
		Str("impact_pct", route.PriceImpactPct.StringFixed(4)).Msg("best route found")
	return route, nil
}

func (r *Router) calculateDynamicSlippage(urgency int) int {
	if urgency < 1 {
		urgency = 1
	}
	multiplier := 1 + float64(urgency-1)*urgencySlippageMultiplier
	calculated := int(float64(defaultSlippageBps) * multiplier)
	if calculated > maxSlippageBps {
		return maxSlippageBps
	}
	return calculated
}

// GetSwapTransaction requests a serialized, ready-to-sign swap transaction
// for a previously-quoted route.
func (r *Router) GetSwapTransaction(ctx context.Context, route *Route, userPublicKey string) ([]byte, error) {
	var quoteResponseJSON any
	if err := json.Unmarshal(route.RouteData, &quoteResponseJSON); err != nil {
		return nil, fmt.Errorf("decode cached quote: %w", err)
	}

	payload := map[string]any{
		"quoteResponse":     quoteResponseJSON,
		"userPublicKey":     userPublicKey,
		"wrapAndUnwrapSol":  true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/swap", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jupiter swap request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jupiter swap status %d: %s", resp.StatusCode, string(respBody))
	}

	var sr swapResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return nil, fmt.Errorf("decode swap response: %w", err)
	}
	return base64.StdEncoding.DecodeString(sr.SwapTransaction)
}
