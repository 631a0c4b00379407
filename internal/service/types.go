package service

import (
	"time"

	"autohedge/internal/fund"
)

// TradeStatus 表示交易批次的生命周期状态。
type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeRunning   TradeStatus = "running"
	TradeCompleted TradeStatus = "completed"
	TradeFailed    TradeStatus = "failed"
)

// User 为注册用户及其基金信息。
type User struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	Email           string    `json:"email"`
	FundName        string    `json:"fund_name"`
	FundDescription string    `json:"fund_description,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// APIKey 与用户一一对应，吊销后不再复用。
type APIKey struct {
	Key       string    `json:"key"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	Revoked   bool      `json:"revoked"`
}

// Trade 为一次用户提交的批量交易请求及其最终结果。
// 状态与结果仅由完成回调整体替换，读取方不做字段级修改。
type Trade struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	Stocks       []string     `json:"stocks"`
	Task         string       `json:"task"`
	Allocation   float64      `json:"allocation"`
	StrategyType string       `json:"strategy_type,omitempty"`
	RiskLevel    int          `json:"risk_level"`
	Status       TradeStatus  `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	ExecutedAt   *time.Time   `json:"executed_at,omitempty"`
	Result       *fund.Output `json:"result,omitempty"`
}

// ListFilter 控制交易列表查询。
type ListFilter struct {
	Status TradeStatus
	Limit  int
	Skip   int
}

// HistoryAnalytics 为按时间窗口聚合的历史统计。
type HistoryAnalytics struct {
	Days            int     `json:"days"`
	TotalTrades     int     `json:"total_trades"`
	CompletedTrades int     `json:"completed_trades"`
	FailedTrades    int     `json:"failed_trades"`
	SuccessRate     float64 `json:"success_rate"`
	TotalAllocation float64 `json:"total_allocation"`
	StocksApproved  int     `json:"stocks_approved"`
	StocksRejected  int     `json:"stocks_rejected"`
	ApprovalRate    float64 `json:"approval_rate"`
}
