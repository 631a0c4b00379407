package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"autohedge/internal/agent"
	"autohedge/internal/market"
	"autohedge/internal/stage"
)

const (
	defaultMaxRetries   = 2
	defaultStageTimeout = 90 * time.Second
)

// Config 控制单股流水线的重试与超时行为。
type Config struct {
	// MaxRetries 为风控否决后重新生成论点的最大次数。
	MaxRetries int
	// StageTimeout 为单次外部调用（能力调用或行情拉取）的超时上限。
	StageTimeout time.Duration
}

func (c Config) normalize() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = defaultStageTimeout
	}
	return c
}

// Orchestrator 驱动一只股票按顺序走完论点、量化、风控、订单四个阶段，
// 并实现风控否决后的论点重做闭环。
type Orchestrator struct {
	thesis *stage.ThesisExecutor
	quant  *stage.QuantExecutor
	risk   *stage.RiskExecutor
	order  *stage.OrderExecutor
	market market.Provider
	cfg    Config
	logger *zap.Logger
}

// New 创建流水线编排器。
func New(invoker agent.Invoker, provider market.Provider, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		thesis: stage.NewThesisExecutor(invoker, logger),
		quant:  stage.NewQuantExecutor(invoker, logger),
		risk:   stage.NewRiskExecutor(invoker, logger),
		order:  stage.NewOrderExecutor(invoker, logger),
		market: provider,
		cfg:    cfg.normalize(),
		logger: logger,
	}
}

// Run 执行完整的单股流水线并返回唯一的 StockResult。
// 阶段级错误全部收敛在结果的 Status/FailureReason 中，不向外传播。
func (o *Orchestrator) Run(ctx context.Context, task Task) StockResult {
	result := StockResult{
		Stock: strings.ToUpper(strings.TrimSpace(task.Stock)),
	}

	var (
		current    = stateInit
		snapshot   market.Snapshot
		rejection  string
		retryCount int
	)

	for {
		switch current {
		case stateInit:
			data, err := runStage(ctx, o, func(stageCtx context.Context) (market.Snapshot, error) {
				return o.market.Fetch(stageCtx, result.Stock)
			})
			if err != nil {
				return o.fail(result, "market", err)
			}
			snapshot = data
			current = stateThesis

		case stateThesis:
			result.ThesisAttempts++
			thesis, err := runStage(ctx, o, func(stageCtx context.Context) (stage.Thesis, error) {
				return o.thesis.Run(stageCtx, stage.ThesisInput{
					Stock:          result.Stock,
					Task:           task.Task,
					PriorRejection: rejection,
				})
			})
			if err != nil {
				return o.fail(result, "thesis", err)
			}
			result.Thesis = &thesis
			current = stateQuant

		case stateQuant:
			analysis, err := runStage(ctx, o, func(stageCtx context.Context) (stage.QuantAnalysis, error) {
				return o.quant.Run(stageCtx, stage.QuantInput{
					Thesis:   *result.Thesis,
					Snapshot: snapshot,
				})
			})
			if err != nil {
				return o.fail(result, "quant", err)
			}
			result.Analysis = &analysis
			current = stateRisk

		case stateRisk:
			assessment, err := runStage(ctx, o, func(stageCtx context.Context) (stage.RiskAssessment, error) {
				return o.risk.Run(stageCtx, stage.RiskInput{
					Thesis:     *result.Thesis,
					Analysis:   *result.Analysis,
					Allocation: task.Allocation,
					RiskLevel:  task.RiskLevel,
				})
			})
			if err != nil {
				return o.fail(result, "risk", err)
			}
			result.Assessment = &assessment

			switch {
			case assessment.Approved():
				current = stateOrder
			case retryCount >= o.cfg.MaxRetries:
				o.logger.Warn("风控否决且重试额度耗尽",
					zap.String("stock", result.Stock),
					zap.Int("thesis_attempts", result.ThesisAttempts),
				)
				result.Status = StatusRejectedExhausted
				return result
			default:
				retryCount++
				rejection = assessment.Rationale
				current = stateRetryThesis
			}

		case stateRetryThesis:
			o.logger.Info("风控否决，重新生成论点",
				zap.String("stock", result.Stock),
				zap.Int("retry", retryCount),
			)
			current = stateThesis

		case stateOrder:
			order, err := runStage(ctx, o, func(stageCtx context.Context) (stage.Order, error) {
				return o.order.Run(stageCtx, stage.OrderInput{
					Thesis:     *result.Thesis,
					Analysis:   *result.Analysis,
					Assessment: *result.Assessment,
					Allocation: task.Allocation,
					LastPrice:  snapshot.Quote.Last,
				})
			})
			if err != nil {
				return o.fail(result, "order", err)
			}
			result.Order = &order
			current = stateDone

		case stateDone:
			result.Status = StatusCompleted
			o.logger.Info("单股流水线完成",
				zap.String("stock", result.Stock),
				zap.Int("thesis_attempts", result.ThesisAttempts),
			)
			return result
		}
	}
}

// runStage 执行单个外部调用，套用阶段超时；输出解析失败时用相同输入
// 原地重试一次，能力不可用错误直接透传。
func runStage[T any](ctx context.Context, o *Orchestrator, fn func(context.Context) (T, error)) (T, error) {
	attempt := func() (T, error) {
		stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
		defer cancel()
		return fn(stageCtx)
	}

	output, err := attempt()
	if err == nil {
		return output, nil
	}

	var parseErr *stage.ParseError
	if !errors.As(err, &parseErr) {
		return output, err
	}

	o.logger.Warn("阶段输出解析失败，原地重试一次",
		zap.String("stage", parseErr.Stage),
		zap.Error(parseErr.Err),
	)

	return attempt()
}

func (o *Orchestrator) fail(result StockResult, stageName string, err error) StockResult {
	o.logger.Error("单股流水线失败",
		zap.String("stock", result.Stock),
		zap.String("stage", stageName),
		zap.Error(err),
	)
	result.Status = StatusFailed
	result.FailureReason = stageName + ": " + err.Error()
	return result
}
