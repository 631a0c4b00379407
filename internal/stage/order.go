package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"autohedge/internal/agent"
)

// OrderInput 为订单生成阶段的输入，仅接受已批准的风控结论。
type OrderInput struct {
	Thesis     Thesis
	Analysis   QuantAnalysis
	Assessment RiskAssessment
	Allocation float64
	LastPrice  float64
}

// OrderExecutor 驱动交易执行员角色生成订单参数。
type OrderExecutor struct {
	invoker agent.Invoker
	logger  *zap.Logger
}

// NewOrderExecutor 创建订单阶段执行器。
func NewOrderExecutor(invoker agent.Invoker, logger *zap.Logger) *OrderExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderExecutor{invoker: invoker, logger: logger}
}

// Run 生成订单参数。
func (e *OrderExecutor) Run(ctx context.Context, input OrderInput) (Order, error) {
	if !input.Assessment.Approved() {
		return Order{}, errors.New("order: 风控结论未批准，拒绝生成订单")
	}

	prompt, err := renderPrompt(orderTmpl, struct {
		Stock            string
		Allocation       float64
		PositionSizeHint float64
		LastPrice        float64
		Narrative        string
		Rationale        string
	}{
		Stock:            input.Thesis.Stock,
		Allocation:       input.Allocation,
		PositionSizeHint: input.Assessment.PositionSizeHint,
		LastPrice:        input.LastPrice,
		Narrative:        input.Thesis.Narrative,
		Rationale:        input.Assessment.Rationale,
	})
	if err != nil {
		return Order{}, err
	}

	response, err := e.invoker.Invoke(ctx, agent.RoleExecution, prompt, nil)
	if err != nil {
		return Order{}, &UnavailableError{Stage: "order", Err: err}
	}

	payload, err := parseOrderPayload(response)
	if err != nil {
		e.logger.Warn("解析订单输出失败",
			zap.String("stock", input.Thesis.Stock),
			zap.Error(err),
		)
		return Order{}, &ParseError{Stage: "order", Err: err}
	}

	order := Order{
		Stock:       input.Thesis.Stock,
		OrderType:   strings.ToLower(strings.TrimSpace(payload.OrderType)),
		Entry:       payload.Entry,
		StopLoss:    payload.StopLoss,
		TakeProfit:  payload.TakeProfit,
		Size:        payload.Size,
		GeneratedAt: time.Now().UTC(),
	}

	e.logger.Info("订单参数生成完成",
		zap.String("stock", order.Stock),
		zap.String("order_type", order.OrderType),
		zap.Float64("entry", order.Entry),
		zap.Float64("size", order.Size),
	)

	return order, nil
}

func parseOrderPayload(content string) (orderPayload, error) {
	raw, err := extractJSON(content)
	if err != nil {
		return orderPayload{}, err
	}

	var payload orderPayload
	if err = json.Unmarshal(raw, &payload); err != nil {
		return orderPayload{}, fmt.Errorf("解析订单JSON失败: %w", err)
	}

	if err = payload.validate(); err != nil {
		return orderPayload{}, err
	}

	return payload, nil
}
