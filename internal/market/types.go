package market

import (
	"context"
	"errors"
	"time"
)

// ErrSymbolNotFound 表示行情源不认识该标的。
var ErrSymbolNotFound = errors.New("market: symbol not found")

// Provider 抽象行情数据源。
type Provider interface {
	Fetch(ctx context.Context, symbol string) (Snapshot, error)
}

// Candle 表示单根K线。
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Quote 为最新行情报价。
type Quote struct {
	Last          float64 `json:"last"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Volume        float64 `json:"volume"`
	ChangePercent float64 `json:"change_percent"`
}

// Indicators 汇总常用技术指标。
type Indicators struct {
	Timeframe     string  `json:"timeframe"`
	RSI14         float64 `json:"rsi_14"`
	EMA12         float64 `json:"ema_12"`
	EMA26         float64 `json:"ema_26"`
	EMA50         float64 `json:"ema_50"`
	MACD          float64 `json:"macd"`
	MACDSignal    float64 `json:"macd_signal"`
	MACDHistogram float64 `json:"macd_histogram"`
	ATR14         float64 `json:"atr_14"`
	ATRPercent    float64 `json:"atr_percent"`
	Close         float64 `json:"close"`
	PreviousClose float64 `json:"previous_close"`
}

// Fundamentals 为从K线窗口推导的统计特征。
type Fundamentals struct {
	AvgVolume20 float64 `json:"avg_volume_20"`
	WindowHigh  float64 `json:"window_high"`
	WindowLow   float64 `json:"window_low"`
	WindowDays  int     `json:"window_days"`
}

// Snapshot 为一次行情拉取的完整结果。
type Snapshot struct {
	Symbol       string       `json:"symbol"`
	Quote        Quote        `json:"quote"`
	Indicators   Indicators   `json:"indicators"`
	Fundamentals Fundamentals `json:"fundamentals"`
	RetrievedAt  time.Time    `json:"retrieved_at"`
}
