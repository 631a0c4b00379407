package agent

import "context"

// Role 表示一次能力调用所扮演的决策角色。
type Role string

const (
	RoleDirector  Role = "director"
	RoleQuant     Role = "quant"
	RoleRisk      Role = "risk"
	RoleExecution Role = "execution"
)

// Invoker 抽象外部推理能力，payload 为结构化上下文，随提示词一并提交。
type Invoker interface {
	Invoke(ctx context.Context, role Role, prompt string, payload interface{}) (string, error)
}

// HealthChecker 供批量执行前探测能力提供方可用性。
type HealthChecker interface {
	Ping(ctx context.Context) error
}
