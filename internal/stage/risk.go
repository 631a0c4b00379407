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
)

// RiskInput 为风控审查阶段的输入。
type RiskInput struct {
	Thesis     Thesis
	Analysis   QuantAnalysis
	Allocation float64
	RiskLevel  int
}

// RiskExecutor 驱动风险管理官角色审查论点与量化分析。
type RiskExecutor struct {
	invoker agent.Invoker
	logger  *zap.Logger
}

// NewRiskExecutor 创建风控阶段执行器。
func NewRiskExecutor(invoker agent.Invoker, logger *zap.Logger) *RiskExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RiskExecutor{invoker: invoker, logger: logger}
}

// Run 对论点做风控审查，返回批准或否决结论。
func (e *RiskExecutor) Run(ctx context.Context, input RiskInput) (RiskAssessment, error) {
	prompt, err := renderPrompt(riskTmpl, struct {
		Stock      string
		Allocation float64
		RiskLevel  int
		Narrative  string
		Summary    string
		Score      float64
	}{
		Stock:      input.Thesis.Stock,
		Allocation: input.Allocation,
		RiskLevel:  input.RiskLevel,
		Narrative:  input.Thesis.Narrative,
		Summary:    input.Analysis.Summary,
		Score:      input.Analysis.Score,
	})
	if err != nil {
		return RiskAssessment{}, err
	}

	response, err := e.invoker.Invoke(ctx, agent.RoleRisk, prompt, nil)
	if err != nil {
		return RiskAssessment{}, &UnavailableError{Stage: "risk", Err: err}
	}

	payload, err := parseRiskPayload(response)
	if err != nil {
		e.logger.Warn("解析风控输出失败",
			zap.String("stock", input.Thesis.Stock),
			zap.Error(err),
		)
		return RiskAssessment{}, &ParseError{Stage: "risk", Err: err}
	}

	assessment := RiskAssessment{
		ID:               uuid.NewString(),
		Stock:            input.Thesis.Stock,
		ThesisID:         input.Thesis.ID,
		QuantID:          input.Analysis.ID,
		Verdict:          Verdict(strings.ToLower(strings.TrimSpace(payload.Verdict))),
		Rationale:        strings.TrimSpace(payload.Rationale),
		PositionSizeHint: payload.PositionSizeHint,
		GeneratedAt:      time.Now().UTC(),
	}

	e.logger.Info("风控审查完成",
		zap.String("stock", assessment.Stock),
		zap.String("verdict", string(assessment.Verdict)),
	)

	return assessment, nil
}

func parseRiskPayload(content string) (riskPayload, error) {
	raw, err := extractJSON(content)
	if err != nil {
		return riskPayload{}, err
	}

	var payload riskPayload
	if err = json.Unmarshal(raw, &payload); err != nil {
		return riskPayload{}, fmt.Errorf("解析风控JSON失败: %w", err)
	}

	if err = payload.validate(); err != nil {
		return riskPayload{}, err
	}

	return payload, nil
}
