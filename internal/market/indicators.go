package market

import (
	"fmt"

	talib "github.com/markcheno/go-talib"
)

// minCandles 为指标计算所需的最少K线数量（EMA50 需要足够的历史）。
const minCandles = 60

// ComputeIndicators 依据K线计算快照所需的技术指标与统计特征。
func ComputeIndicators(timeframe string, candles []Candle) (Indicators, Fundamentals, error) {
	if len(candles) < minCandles {
		return Indicators{}, Fundamentals{}, fmt.Errorf("计算指标失败: K线数量不足 (%d < %d)", len(candles), minCandles)
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}

	ema12 := talib.Ema(closes, 12)
	ema26 := talib.Ema(closes, 26)
	ema50 := talib.Ema(closes, 50)
	macd, macdSignal, macdHist := talib.Macd(closes, 12, 26, 9)
	rsi := talib.Rsi(closes, 14)
	atr := talib.Atr(highs, lows, closes, 14)

	lastClose := last(closes)
	atrAbs := last(atr)

	indicators := Indicators{
		Timeframe:     timeframe,
		RSI14:         last(rsi),
		EMA12:         last(ema12),
		EMA26:         last(ema26),
		EMA50:         last(ema50),
		MACD:          last(macd),
		MACDSignal:    last(macdSignal),
		MACDHistogram: last(macdHist),
		ATR14:         atrAbs,
		ATRPercent:    safeDivide(atrAbs, lastClose) * 100,
		Close:         lastClose,
		PreviousClose: prev(closes),
	}

	fundamentals := Fundamentals{
		AvgVolume20: average(tail(volumes, 20)),
		WindowHigh:  maxOf(highs),
		WindowLow:   minOf(lows),
		WindowDays:  len(candles),
	}

	return indicators, fundamentals, nil
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

func prev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return values[len(values)-2]
}

func tail(values []float64, n int) []float64 {
	if n <= 0 || len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func maxOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	result := values[0]
	for _, v := range values[1:] {
		if v > result {
			result = v
		}
	}
	return result
}

func minOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	result := values[0]
	for _, v := range values[1:] {
		if v < result {
			result = v
		}
	}
	return result
}

func safeDivide(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}
