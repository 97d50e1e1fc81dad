// Package exchange provides the concrete exchange adapters behind the port
// interfaces in internal/model: a signed Binance USD-M futures REST client,
// a kline WebSocket bar feed, and an in-memory paper exchange.
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"math"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"perptrader/internal/model"
)

const (
	// MainnetBaseURL is the Binance USD-M futures REST endpoint.
	MainnetBaseURL = "https://fapi.binance.com"
	// TestnetBaseURL is the futures testnet REST endpoint.
	TestnetBaseURL = "https://testnet.binancefuture.com"

	recvWindowMs = 5000
	// qtyDecimals is the order quantity precision for the traded contract.
	qtyDecimals = 3
)

// BinanceClient is a signed REST client for Binance USD-M perpetual futures.
// It implements model.Exchange.
type BinanceClient struct {
	http      *resty.Client
	apiKey    string
	secretKey string
}

// NewBinanceClient creates a futures REST client. Pass TestnetBaseURL to
// trade against the sandbox.
func NewBinanceClient(baseURL, apiKey, secretKey string) *BinanceClient {
	httpc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetHeader("X-MBX-APIKEY", apiKey)

	return &BinanceClient{
		http:      httpc,
		apiKey:    apiKey,
		secretKey: secretKey,
	}
}

// apiError is the Binance error envelope ({"code":-2019,"msg":"..."}).
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("binance: code=%d msg=%q", e.Code, e.Msg)
}

// sign appends timestamp, recvWindow and the HMAC-SHA256 signature to params.
func (c *BinanceClient) sign(params url.Values) url.Values {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.Itoa(recvWindowMs))

	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(params.Encode()))
	params.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	return params
}

func (c *BinanceClient) call(ctx context.Context, method, path string, params url.Values, signed bool, out interface{}) error {
	if signed {
		params = c.sign(params)
	}

	req := c.http.R().SetContext(ctx).SetQueryParamsFromValues(params)
	if out != nil {
		req.SetResult(out)
	}
	apiErr := &apiError{}
	req.SetError(apiErr)

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("binance: %s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s %s: %w", method, path, apiErr)
	}
	return nil
}

// GetBarHistory fetches up to count completed klines, oldest first. Binance
// returns the still-forming candle as the last element; it is dropped so the
// final bar is always a completed one.
func (c *BinanceClient) GetBarHistory(ctx context.Context, symbol, timeframe string, count int) ([]model.Bar, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", timeframe)
	params.Set("limit", strconv.Itoa(count+1))

	var raw [][]interface{}
	if err := c.call(ctx, resty.MethodGet, "/fapi/v1/klines", params, false, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("binance: no klines returned for %s", symbol)
	}

	// Drop the forming candle.
	raw = raw[:len(raw)-1]
	bars := make([]model.Bar, 0, len(raw))
	for _, k := range raw {
		bar, err := parseKline(symbol, k)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// parseKline converts one /fapi/v1/klines row into a Bar.
// Row layout: [openTimeMs, "open", "high", "low", "close", "volume", ...].
func parseKline(symbol string, k []interface{}) (model.Bar, error) {
	if len(k) < 6 {
		return model.Bar{}, fmt.Errorf("binance: short kline row (%d fields)", len(k))
	}
	openMs, ok := k[0].(float64)
	if !ok {
		return model.Bar{}, fmt.Errorf("binance: kline open time not numeric")
	}

	vals := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		s, ok := k[i].(string)
		if !ok {
			return model.Bar{}, fmt.Errorf("binance: kline field %d not a string", i)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.Bar{}, fmt.Errorf("binance: parse kline field %d: %w", i, err)
		}
		vals[i-1] = f
	}

	return model.Bar{
		Symbol: symbol,
		TS:     time.UnixMilli(int64(openMs)).UTC(),
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, nil
}

// GetBalance returns the available USDT balance.
func (c *BinanceClient) GetBalance(ctx context.Context) (float64, error) {
	var entries []struct {
		Asset            string `json:"asset"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := c.call(ctx, resty.MethodGet, "/fapi/v2/balance", url.Values{}, true, &entries); err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.Asset == "USDT" {
			return strconv.ParseFloat(e.AvailableBalance, 64)
		}
	}
	return 0, fmt.Errorf("binance: USDT balance not found")
}

// GetOpenPosition returns the open position for symbol, nil when flat.
// Only exchange ground truth is populated; locally tracked fields (layers,
// partial-TP flag, stop) are merged by the orchestrator's reconciliation.
func (c *BinanceClient) GetOpenPosition(ctx context.Context, symbol string) (*model.Position, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var entries []struct {
		Symbol      string `json:"symbol"`
		PositionAmt string `json:"positionAmt"`
		EntryPrice  string `json:"entryPrice"`
	}
	if err := c.call(ctx, resty.MethodGet, "/fapi/v2/positionRisk", params, true, &entries); err != nil {
		return nil, err
	}

	for _, e := range entries {
		if e.Symbol != symbol {
			continue
		}
		amt, err := strconv.ParseFloat(e.PositionAmt, 64)
		if err != nil {
			return nil, fmt.Errorf("binance: parse positionAmt: %w", err)
		}
		if amt == 0 {
			return nil, nil
		}
		entry, err := strconv.ParseFloat(e.EntryPrice, 64)
		if err != nil {
			return nil, fmt.Errorf("binance: parse entryPrice: %w", err)
		}
		side := model.SideLong
		if amt < 0 {
			side = model.SideShort
		}
		return &model.Position{
			Symbol:     symbol,
			Side:       side,
			EntryPrice: entry,
			Size:       math.Abs(amt) * entry,
			Layers:     1,
		}, nil
	}
	return nil, nil
}

// ExecuteMarketOrder places a market order for qty (base currency).
func (c *BinanceClient) ExecuteMarketOrder(ctx context.Context, symbol string, side model.Side, qty float64) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", orderSide(side))
	params.Set("type", "MARKET")
	params.Set("quantity", formatQty(qty))
	params.Set("newClientOrderId", newClientOrderID())

	if err := c.call(ctx, resty.MethodPost, "/fapi/v1/order", params, true, nil); err != nil {
		return err
	}
	log.Printf("[exchange] market %s %s qty=%s", orderSide(side), symbol, formatQty(qty))
	return nil
}

// ClosePosition closes percentage (0-100] of the open position with a
// reduce-only market order.
func (c *BinanceClient) ClosePosition(ctx context.Context, symbol string, percentage float64, reason string) error {
	pos, err := c.GetOpenPosition(ctx, symbol)
	if err != nil {
		return err
	}
	if pos == nil {
		return fmt.Errorf("binance: no open position on %s to close", symbol)
	}

	qty := (pos.Size / pos.EntryPrice) * percentage / 100
	qty = roundQty(qty)
	if qty <= 0 {
		return fmt.Errorf("binance: close qty rounds to zero (%.*f)", qtyDecimals, qty)
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", orderSide(pos.Side.Opposite()))
	params.Set("type", "MARKET")
	params.Set("quantity", formatQty(qty))
	params.Set("reduceOnly", "true")
	params.Set("newClientOrderId", newClientOrderID())

	if err := c.call(ctx, resty.MethodPost, "/fapi/v1/order", params, true, nil); err != nil {
		return err
	}
	log.Printf("[exchange] closed %.1f%% of %s position (%s)", percentage, symbol, reason)
	return nil
}

// UpdateStopLoss replaces the protective stop: cancels all open orders for
// the symbol and places a close-position STOP_MARKET at price.
func (c *BinanceClient) UpdateStopLoss(ctx context.Context, symbol string, side model.Side, price float64) error {
	cancel := url.Values{}
	cancel.Set("symbol", symbol)
	if err := c.call(ctx, resty.MethodDelete, "/fapi/v1/allOpenOrders", cancel, true, nil); err != nil {
		return fmt.Errorf("cancel open orders: %w", err)
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", orderSide(side.Opposite()))
	params.Set("type", "STOP_MARKET")
	params.Set("stopPrice", strconv.FormatFloat(price, 'f', 2, 64))
	params.Set("closePosition", "true")
	params.Set("newClientOrderId", newClientOrderID())

	if err := c.call(ctx, resty.MethodPost, "/fapi/v1/order", params, true, nil); err != nil {
		return err
	}
	log.Printf("[exchange] stop loss for %s moved to %.2f", symbol, price)
	return nil
}

// SetLeverage sets the account leverage for symbol.
func (c *BinanceClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	return c.call(ctx, resty.MethodPost, "/fapi/v1/leverage", params, true, nil)
}

func orderSide(s model.Side) string {
	if s == model.SideLong {
		return "BUY"
	}
	return "SELL"
}

// roundQty truncates qty to the contract's quantity precision.
func roundQty(qty float64) float64 {
	scale := math.Pow10(qtyDecimals)
	return math.Floor(qty*scale) / scale
}

func formatQty(qty float64) string {
	return strconv.FormatFloat(roundQty(qty), 'f', qtyDecimals, 64)
}

func newClientOrderID() string {
	return "pt-" + uuid.NewString()[:18]
}
