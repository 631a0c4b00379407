package pipeline

import (
	"autohedge/internal/stage"
)

// Status 为单只股票流水线的终态。
type Status string

const (
	// StatusCompleted 表示流水线走完全程，风控批准并生成了订单。
	StatusCompleted Status = "completed"
	// StatusRejectedExhausted 表示风控持续否决，重试额度耗尽。
	StatusRejectedExhausted Status = "rejected_exhausted"
	// StatusFailed 表示某个外部调用失败导致流水线终止。
	StatusFailed Status = "failed"
)

// Task 描述一次单股流水线任务。
type Task struct {
	Stock      string  `json:"stock"`
	Task       string  `json:"task"`
	Allocation float64 `json:"allocation"`
	RiskLevel  int     `json:"risk_level"`
}

// StockResult 为单只股票的最终产出，由所属的 Orchestrator 独占写入，
// 终态确定后交给批量执行层，不再修改。
type StockResult struct {
	Stock          string                `json:"stock"`
	Thesis         *stage.Thesis         `json:"thesis,omitempty"`
	Analysis       *stage.QuantAnalysis  `json:"analysis,omitempty"`
	Assessment     *stage.RiskAssessment `json:"assessment,omitempty"`
	Order          *stage.Order          `json:"order,omitempty"`
	Status         Status                `json:"status"`
	ThesisAttempts int                   `json:"thesis_attempts"`
	FailureReason  string                `json:"failure_reason,omitempty"`
}

// state 为流水线内部状态机的状态。
type state int

const (
	stateInit state = iota
	stateThesis
	stateQuant
	stateRisk
	stateRetryThesis
	stateOrder
	stateDone
	stateFailed
)
