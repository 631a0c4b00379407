package market

import (
	"math"
	"testing"
	"time"
)

func syntheticCandles(n int) []Candle {
	candles := make([]Candle, n)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		// Mild uptrend with a sinusoidal wiggle keeps the indicators finite.
		price := 100 + float64(i)*0.5 + 3*math.Sin(float64(i)/5)
		candles[i] = Candle{
			Timestamp: base.AddDate(0, 0, i),
			Open:      price - 0.5,
			High:      price + 1,
			Low:       price - 1,
			Close:     price,
			Volume:    1_000_000 + float64(i)*1000,
		}
	}
	return candles
}

func TestComputeIndicators(t *testing.T) {
	candles := syntheticCandles(120)

	indicators, fundamentals, err := ComputeIndicators("1d", candles)
	if err != nil {
		t.Fatalf("ComputeIndicators: %v", err)
	}

	if indicators.Timeframe != "1d" {
		t.Errorf("unexpected timeframe %q", indicators.Timeframe)
	}
	if indicators.Close != candles[len(candles)-1].Close {
		t.Errorf("close mismatch: %f", indicators.Close)
	}
	if indicators.PreviousClose != candles[len(candles)-2].Close {
		t.Errorf("previous close mismatch: %f", indicators.PreviousClose)
	}
	if indicators.RSI14 <= 0 || indicators.RSI14 >= 100 {
		t.Errorf("rsi out of range: %f", indicators.RSI14)
	}
	// Rising series keeps the fast average above the slow one.
	if indicators.EMA12 <= indicators.EMA50 {
		t.Errorf("expected ema12 > ema50 in an uptrend, got %f vs %f", indicators.EMA12, indicators.EMA50)
	}
	if indicators.ATR14 <= 0 {
		t.Errorf("atr must be positive: %f", indicators.ATR14)
	}
	if indicators.ATRPercent <= 0 {
		t.Errorf("atr percent must be positive: %f", indicators.ATRPercent)
	}

	if fundamentals.WindowDays != 120 {
		t.Errorf("unexpected window days %d", fundamentals.WindowDays)
	}
	if fundamentals.WindowHigh <= fundamentals.WindowLow {
		t.Errorf("window high must exceed window low: %f vs %f", fundamentals.WindowHigh, fundamentals.WindowLow)
	}
	if fundamentals.AvgVolume20 <= 0 {
		t.Errorf("average volume must be positive: %f", fundamentals.AvgVolume20)
	}
}

func TestComputeIndicators_TooFewCandles(t *testing.T) {
	if _, _, err := ComputeIndicators("1d", syntheticCandles(30)); err == nil {
		t.Fatal("expected error with too few candles")
	}
}
