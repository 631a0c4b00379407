package stage

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Verdict 表示风控审查结论。
type Verdict string

const (
	VerdictApproved Verdict = "approved"
	VerdictRejected Verdict = "rejected"
)

// Thesis 为某只股票的投资论点，一旦生成不再修改；
// 风控否决后会生成新的 Thesis 而非原地改写。
type Thesis struct {
	ID          string    `json:"id"`
	Stock       string    `json:"stock"`
	Narrative   string    `json:"narrative"`
	GeneratedAt time.Time `json:"generated_at"`
}

// QuantAnalysis 为针对论点的量化验证结果。
type QuantAnalysis struct {
	ID          string    `json:"id"`
	Stock       string    `json:"stock"`
	ThesisID    string    `json:"thesis_id"`
	Summary     string    `json:"summary"`
	Score       float64   `json:"score"`
	GeneratedAt time.Time `json:"generated_at"`
}

// RiskAssessment 为风控审查结果，是流水线能否推进的闸门。
type RiskAssessment struct {
	ID               string    `json:"id"`
	Stock            string    `json:"stock"`
	ThesisID         string    `json:"thesis_id"`
	QuantID          string    `json:"quant_id"`
	Verdict          Verdict   `json:"verdict"`
	Rationale        string    `json:"rationale"`
	PositionSizeHint float64   `json:"position_size_hint"`
	GeneratedAt      time.Time `json:"generated_at"`
}

// Approved 判断审查是否通过。
func (r RiskAssessment) Approved() bool {
	return r.Verdict == VerdictApproved
}

// Order 为最终生成的订单参数，仅在风控批准后产生。
type Order struct {
	Stock       string    `json:"stock"`
	OrderType   string    `json:"order_type"`
	Entry       float64   `json:"entry"`
	StopLoss    float64   `json:"stop_loss"`
	TakeProfit  float64   `json:"take_profit"`
	Size        float64   `json:"size"`
	GeneratedAt time.Time `json:"generated_at"`
}

// quantPayload 为量化阶段模型输出的原始结构。
type quantPayload struct {
	Summary string  `json:"summary"`
	Score   float64 `json:"score"`
}

func (p quantPayload) validate() error {
	if strings.TrimSpace(p.Summary) == "" {
		return errors.New("summary 不能为空")
	}
	if p.Score < 0 || p.Score > 100 {
		return fmt.Errorf("score 必须位于[0,100]，当前为 %f", p.Score)
	}
	return nil
}

// riskPayload 为风控阶段模型输出的原始结构。
type riskPayload struct {
	Verdict          string  `json:"verdict"`
	Rationale        string  `json:"rationale"`
	PositionSizeHint float64 `json:"position_size_hint"`
}

func (p riskPayload) validate() error {
	verdict := strings.ToLower(strings.TrimSpace(p.Verdict))
	if verdict != string(VerdictApproved) && verdict != string(VerdictRejected) {
		return fmt.Errorf("verdict 字段取值非法: %s", p.Verdict)
	}
	if strings.TrimSpace(p.Rationale) == "" {
		return errors.New("rationale 不能为空")
	}
	if p.PositionSizeHint < 0 || p.PositionSizeHint > 1 {
		return fmt.Errorf("position_size_hint 必须位于[0,1]，当前为 %f", p.PositionSizeHint)
	}
	return nil
}

// orderPayload 为执行阶段模型输出的原始结构。
type orderPayload struct {
	OrderType  string  `json:"order_type"`
	Entry      float64 `json:"entry"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Size       float64 `json:"size"`
}

var validOrderTypes = map[string]struct{}{
	"market": {},
	"limit":  {},
}

func (p orderPayload) validate() error {
	orderType := strings.ToLower(strings.TrimSpace(p.OrderType))
	if _, ok := validOrderTypes[orderType]; !ok {
		return fmt.Errorf("order_type 字段取值非法: %s", p.OrderType)
	}
	if p.Entry <= 0 {
		return errors.New("entry 必须为正")
	}
	if p.StopLoss <= 0 {
		return errors.New("stop_loss 必须为正")
	}
	if p.Size <= 0 {
		return errors.New("size 必须为正")
	}
	return nil
}
