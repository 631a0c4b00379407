package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"autohedge/internal/agent"
	"autohedge/internal/market"
)

// QuantInput 为量化验证阶段的输入。
type QuantInput struct {
	Thesis   Thesis
	Snapshot market.Snapshot
}

// QuantExecutor 驱动量化分析师角色验证论点。
type QuantExecutor struct {
	invoker agent.Invoker
	logger  *zap.Logger
}

// NewQuantExecutor 创建量化阶段执行器。
func NewQuantExecutor(invoker agent.Invoker, logger *zap.Logger) *QuantExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuantExecutor{invoker: invoker, logger: logger}
}

// Run 基于行情快照对论点做量化验证。
func (e *QuantExecutor) Run(ctx context.Context, input QuantInput) (QuantAnalysis, error) {
	prompt, err := renderPrompt(quantTmpl, struct {
		Stock     string
		Narrative string
	}{
		Stock:     input.Thesis.Stock,
		Narrative: input.Thesis.Narrative,
	})
	if err != nil {
		return QuantAnalysis{}, err
	}

	response, err := e.invoker.Invoke(ctx, agent.RoleQuant, prompt, input.Snapshot)
	if err != nil {
		return QuantAnalysis{}, &UnavailableError{Stage: "quant", Err: err}
	}

	payload, err := parseQuantPayload(response)
	if err != nil {
		e.logger.Warn("解析量化输出失败",
			zap.String("stock", input.Thesis.Stock),
			zap.Error(err),
		)
		return QuantAnalysis{}, &ParseError{Stage: "quant", Err: err}
	}

	analysis := QuantAnalysis{
		ID:          uuid.NewString(),
		Stock:       input.Thesis.Stock,
		ThesisID:    input.Thesis.ID,
		Summary:     strings.TrimSpace(payload.Summary),
		Score:       payload.Score,
		GeneratedAt: time.Now().UTC(),
	}

	e.logger.Debug("量化验证完成",
		zap.String("stock", analysis.Stock),
		zap.Float64("score", analysis.Score),
	)

	return analysis, nil
}

func parseQuantPayload(content string) (quantPayload, error) {
	raw, err := extractJSON(content)
	if err != nil {
		return quantPayload{}, err
	}

	var payload quantPayload
	if err = json.Unmarshal(raw, &payload); err != nil {
		return quantPayload{}, fmt.Errorf("解析量化JSON失败: %w", err)
	}

	if err = payload.validate(); err != nil {
		return quantPayload{}, err
	}

	return payload, nil
}
