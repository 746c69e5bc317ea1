// Package binanceclient implements the ports.PriceFeed boundary against
// Binance spot market data endpoints using the go-binance library.
package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"riskcore/internal/domain"
	"riskcore/internal/ports"
)

// Client implements ports.PriceFeed over the Binance spot API.
type Client struct {
	api                  *binance.Client
	logger               ports.Logger
	reconnectDelay       time.Duration
	maxReconnectAttempts int
}

// Config holds the adapter settings. API keys are optional: every
// endpoint the feed uses is public market data.
type Config struct {
	APIKey               string
	SecretKey            string
	BaseURL              string // override for testnet or mocks; empty uses the default
	Logger               ports.Logger
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// New creates a Binance price feed adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	api := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.BaseURL != "" {
		api.BaseURL = cfg.BaseURL
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	return &Client{
		api:                  api,
		logger:               cfg.Logger,
		reconnectDelay:       cfg.ReconnectDelay,
		maxReconnectAttempts: cfg.MaxReconnectAttempts,
	}, nil
}

// handleError translates Binance API failures into ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}
	fields := map[string]interface{}{"operation": operation}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message
		mapped := ports.ErrFeedUnavailable
		if apiErr.Code <= -1100 && apiErr.Code >= -1130 {
			mapped = ports.ErrInvalidRequest
		}
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return fmt.Errorf("%s failed: %w: %w", operation, mapped, err)
	}

	var final error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		final = fmt.Errorf("%s failed: %w", operation, err)
	case strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"),
		strings.Contains(err.Error(), "use of closed network connection"):
		final = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	default:
		final = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrFeedUnavailable, err)
	}
	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return final
}

// GetTickerPrice retrieves the last traded price for a symbol.
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetTickerPrice"
	prices, err := c.api.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(prices) == 0 {
		return 0, c.handleError(ctx, fmt.Errorf("no ticker data returned for symbol %s", symbol), op)
	}
	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, c.handleError(ctx, fmt.Errorf("could not parse price %q: %w", prices[0].Price, err), op)
	}
	return price, nil
}

// GetCandles retrieves historical candles for a symbol, oldest first.
func (c *Client) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error) {
	op := "GetCandles"
	klines, err := c.api.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	candles := make([]*domain.Candle, 0, len(klines))
	for _, k := range klines {
		candle, err := translateKline(k, symbol, interval)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical candle: %w", err), op)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// StreamCandles opens a combined kline stream for all symbols and keeps
// it alive with exponential backoff reconnects. The returned stopCh
// terminates the stream; doneCh closes when the stream has fully
// stopped, including after exhausting reconnect attempts.
func (c *Client) StreamCandles(ctx context.Context, symbols []string, interval string,
	handler func(candle *domain.Candle), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error) {

	op := "StreamCandles"
	wsCtx, cancelWs := context.WithCancel(ctx)

	pairs := make(map[string]string, len(symbols))
	for _, s := range symbols {
		pairs[strings.ToUpper(s)] = interval
	}

	wsHandler := func(event *binance.WsKlineEvent) {
		candle, err := translateWsKline(event)
		if err != nil {
			c.logger.Error(wsCtx, err, op+": failed to translate stream event")
			return
		}
		handler(candle)
	}
	wsErrHandler := func(err error) {
		errHandler(c.handleError(wsCtx, err, op))
	}

	go func() {
		defer cancelWs()
		attempt := 0
		for {
			select {
			case <-wsCtx.Done():
				return
			default:
			}

			innerDoneCh, innerStopCh, connectErr := binance.WsCombinedKlineServe(pairs, wsHandler, wsErrHandler)
			if connectErr != nil {
				attempt++
				if attempt >= c.maxReconnectAttempts {
					c.logger.Error(wsCtx, connectErr, op+": max reconnect attempts exceeded, giving up", map[string]interface{}{
						"maxAttempts": c.maxReconnectAttempts,
					})
					return
				}
				delay := c.reconnectDelay * time.Duration(1<<uint(attempt-1))
				c.logger.Warn(wsCtx, op+": connection failed, retrying", map[string]interface{}{
					"attempt": attempt, "delay": delay.String(),
				})
				select {
				case <-time.After(delay):
					continue
				case <-wsCtx.Done():
					return
				}
			}

			c.logger.Info(wsCtx, op+": stream connected", map[string]interface{}{
				"symbols": symbols, "interval": interval,
			})
			attempt = 0

			select {
			case <-innerDoneCh:
				c.logger.Warn(wsCtx, op+": stream closed unexpectedly, reconnecting")
			case <-wsCtx.Done():
				select {
				case innerStopCh <- struct{}{}:
				default:
				}
				return
			}
		}
	}()

	doneCh = make(chan struct{})
	stopCh = make(chan struct{}, 1)
	go func() {
		select {
		case <-stopCh:
			cancelWs()
		case <-wsCtx.Done():
		}
	}()
	go func() {
		<-wsCtx.Done()
		close(doneCh)
	}()

	return doneCh, stopCh, nil
}

// --- translation helpers ---

func translateWsKline(event *binance.WsKlineEvent) (*domain.Candle, error) {
	if event == nil {
		return nil, errors.New("received nil kline event")
	}
	k := event.Kline
	ohlcv, err := parseOHLCV(k.Open, k.High, k.Low, k.Close, k.Volume)
	if err != nil {
		return nil, err
	}
	return &domain.Candle{
		OpenTime:  time.UnixMilli(k.StartTime),
		CloseTime: time.UnixMilli(k.EndTime),
		Symbol:    k.Symbol,
		Interval:  k.Interval,
		Open:      ohlcv[0],
		High:      ohlcv[1],
		Low:       ohlcv[2],
		Close:     ohlcv[3],
		Volume:    ohlcv[4],
		IsFinal:   k.IsFinal,
	}, nil
}

func translateKline(k *binance.Kline, symbol, interval string) (*domain.Candle, error) {
	if k == nil {
		return nil, errors.New("received nil historical kline")
	}
	ohlcv, err := parseOHLCV(k.Open, k.High, k.Low, k.Close, k.Volume)
	if err != nil {
		return nil, err
	}
	return &domain.Candle{
		OpenTime:  time.UnixMilli(k.OpenTime),
		CloseTime: time.UnixMilli(k.CloseTime),
		Symbol:    symbol,
		Interval:  interval,
		Open:      ohlcv[0],
		High:      ohlcv[1],
		Low:       ohlcv[2],
		Close:     ohlcv[3],
		Volume:    ohlcv[4],
		IsFinal:   true, // historical candles are complete by definition
	}, nil
}

func parseOHLCV(open, high, low, cls, volume string) ([5]float64, error) {
	var out [5]float64
	for i, s := range []string{open, high, low, cls, volume} {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return out, fmt.Errorf("parsing candle field %q: %w", s, err)
		}
		out[i] = v
	}
	return out, nil
}
