package domain

import "time"

// Candle represents a single candlestick data point.
// Non-final candles carry the latest tick in Close and update in place.
type Candle struct {
	OpenTime  time.Time
	CloseTime time.Time
	Symbol    string
	Interval  string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	IsFinal   bool
}
