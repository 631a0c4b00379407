package stage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"autohedge/internal/agent"
)

// minNarrativeLen 为论点正文的最小长度，低于该长度视为无效输出。
const minNarrativeLen = 20

// ThesisInput 为论点生成阶段的输入。
type ThesisInput struct {
	Stock          string
	Task           string
	PriorRejection string
}

// ThesisExecutor 驱动投资总监角色生成论点。
type ThesisExecutor struct {
	invoker agent.Invoker
	logger  *zap.Logger
}

// NewThesisExecutor 创建论点阶段执行器。
func NewThesisExecutor(invoker agent.Invoker, logger *zap.Logger) *ThesisExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ThesisExecutor{invoker: invoker, logger: logger}
}

// Run 生成一条新的投资论点。执行器自身不做重试，重试策略由上层编排负责。
func (e *ThesisExecutor) Run(ctx context.Context, input ThesisInput) (Thesis, error) {
	prompt, err := renderPrompt(thesisTmpl, input)
	if err != nil {
		return Thesis{}, err
	}

	response, err := e.invoker.Invoke(ctx, agent.RoleDirector, prompt, nil)
	if err != nil {
		return Thesis{}, &UnavailableError{Stage: "thesis", Err: err}
	}

	narrative := strings.TrimSpace(response)
	if len([]rune(narrative)) < minNarrativeLen {
		return Thesis{}, &ParseError{Stage: "thesis", Err: fmt.Errorf("论点内容过短: %q", narrative)}
	}

	thesis := Thesis{
		ID:          uuid.NewString(),
		Stock:       strings.ToUpper(strings.TrimSpace(input.Stock)),
		Narrative:   narrative,
		GeneratedAt: time.Now().UTC(),
	}

	e.logger.Debug("论点生成完成",
		zap.String("stock", thesis.Stock),
		zap.String("thesis_id", thesis.ID),
		zap.Bool("after_rejection", input.PriorRejection != ""),
	)

	return thesis, nil
}
