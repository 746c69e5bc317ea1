package ports

import (
	"context"

	"riskcore/internal/domain"
)

// PriceFeed is the I/O boundary to market data. The decision core never
// talks to the network directly; everything arrives through this port.
type PriceFeed interface {
	// GetTickerPrice retrieves the last traded price for a symbol.
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)

	// GetCandles retrieves historical candles for a symbol, oldest first.
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error)

	// StreamCandles starts a stream of candle updates for the given symbols.
	// Non-final candles carry the latest tick; final candles complete the
	// interval. Returns channels to observe (doneCh) and stop (stopCh) the
	// stream, or an error if the connection fails.
	StreamCandles(ctx context.Context, symbols []string, interval string,
		handler func(candle *domain.Candle), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error)
}
