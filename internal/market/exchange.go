package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"autohedge/internal/config"
)

// ExchangeProvider 基于 ccxt 的现货行情数据源。
type ExchangeProvider struct {
	cfg      config.MarketConfig
	logger   *zap.Logger
	exchange *ccxt.Binance

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewExchangeProvider 构造交易所行情数据源，目前支持 binance。
func NewExchangeProvider(cfg config.MarketConfig, logger *zap.Logger) (*ExchangeProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !strings.EqualFold(cfg.Exchange, "binance") {
		return nil, fmt.Errorf("不支持的行情交易所: %s", cfg.Exchange)
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = "1d"
	}
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = 120
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
		},
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}

	ex := ccxt.NewBinance(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &ExchangeProvider{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
	}, nil
}

// Fetch 拉取标的的K线并计算指标，组装为快照。
func (p *ExchangeProvider) Fetch(ctx context.Context, symbol string) (Snapshot, error) {
	if strings.TrimSpace(symbol) == "" {
		return Snapshot{}, errors.New("market: symbol 不能为空")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	if err := p.ensureMarketsLoaded(fetchCtx); err != nil {
		return Snapshot{}, err
	}

	pair := normalizePair(symbol)
	candles, err := p.fetchCandles(fetchCtx, pair)
	if err != nil {
		return Snapshot{}, err
	}
	if len(candles) == 0 {
		return Snapshot{}, fmt.Errorf("market: %s 无可用K线数据", pair)
	}

	indicators, fundamentals, err := ComputeIndicators(p.cfg.Timeframe, candles)
	if err != nil {
		return Snapshot{}, err
	}

	latest := candles[len(candles)-1]
	quote := Quote{
		Last:   latest.Close,
		Open:   latest.Open,
		High:   latest.High,
		Low:    latest.Low,
		Volume: latest.Volume,
	}
	if indicators.PreviousClose > 0 {
		quote.ChangePercent = (latest.Close - indicators.PreviousClose) / indicators.PreviousClose * 100
	}

	return Snapshot{
		Symbol:       strings.ToUpper(strings.TrimSpace(symbol)),
		Quote:        quote,
		Indicators:   indicators,
		Fundamentals: fundamentals,
		RetrievedAt:  time.Now().UTC(),
	}, nil
}

func (p *ExchangeProvider) fetchCandles(ctx context.Context, pair string) ([]Candle, error) {
	type fetchResult struct {
		raw []ccxt.OHLCV
		err error
	}

	// ccxt 调用本身不接受 context，这里通过 goroutine 保证超时可以生效。
	resultCh := make(chan fetchResult, 1)
	go func() {
		raw, err := p.exchange.FetchOHLCV(
			pair,
			ccxt.WithFetchOHLCVTimeframe(p.cfg.Timeframe),
			ccxt.WithFetchOHLCVLimit(int64(p.cfg.CandleLimit)),
		)
		resultCh <- fetchResult{raw: raw, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-resultCh:
		if result.err != nil {
			return nil, classifyError(pair, result.err)
		}

		candles := make([]Candle, 0, len(result.raw))
		for _, item := range result.raw {
			candles = append(candles, Candle{
				Timestamp: time.UnixMilli(item.Timestamp).UTC(),
				Open:      item.Open,
				High:      item.High,
				Low:       item.Low,
				Close:     item.Close,
				Volume:    item.Volume,
			})
		}
		return candles, nil
	}
}

func (p *ExchangeProvider) ensureMarketsLoaded(ctx context.Context) error {
	if p.marketsLoaded {
		return nil
	}

	p.marketsMu.Lock()
	defer p.marketsMu.Unlock()

	if p.marketsLoaded {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := p.exchange.LoadMarkets()
		done <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("market: 加载市场元数据失败: %w", err)
		}
	}

	p.marketsLoaded = true
	p.logger.Info("已完成市场元数据加载", zap.String("exchange", p.cfg.Exchange))
	return nil
}

func classifyError(pair string, err error) error {
	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) && ccxtErr.Type == ccxt.BadSymbolErrType {
		return fmt.Errorf("%w: %s", ErrSymbolNotFound, pair)
	}
	return fmt.Errorf("market: 拉取 %s 行情失败: %w", pair, err)
}

// normalizePair 将裸符号补全为交易对，已有计价货币的保持不变。
func normalizePair(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(s, "/") {
		return s
	}
	return s + "/USDT"
}
