package stage

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

const thesisTemplate = `
你是对冲基金投资总监，请针对股票 {{ .Stock }} 完成以下任务：

任务描述：
{{ .Task }}
{{ if .PriorRejection }}
注意：你此前针对该股票的论点被风控否决，否决理由如下，请在新论点中针对性地修正：
{{ .PriorRejection }}
{{ end }}
请输出一段完整的投资论点，内容需要覆盖：
1. 市场机会与核心逻辑；
2. 主要催化剂与时间窗口；
3. 潜在风险点与应对思路。

直接输出论点正文，不要输出 JSON 或其他包装格式。
`

const quantTemplate = `
你是量化分析师，请结合给出的行情快照对以下投资论点做量化验证。

股票：{{ .Stock }}

投资论点：
{{ .Narrative }}

请综合技术指标（RSI、EMA、MACD、ATR）与成交量特征，评估论点的可信度。

请严格输出唯一的 JSON 对象，格式如下：
{
  "summary": "...",   // 量化验证结论与关键依据
  "score": 0-100      // 论点可信度评分
}
`

const riskTemplate = `
你是风险管理官，请审查以下投资论点与量化分析，给出明确结论。

股票：{{ .Stock }}
资金配置：{{ printf "%.2f" .Allocation }} USD
风险等级：{{ .RiskLevel }}（1 最保守，10 最激进）

投资论点：
{{ .Narrative }}

量化分析（评分 {{ printf "%.1f" .Score }}）：
{{ .Summary }}

审查要点：
1. 论点逻辑与量化证据是否一致；
2. 在给定风险等级下，该交易的下行风险是否可接受；
3. 若批准，建议投入配置的比例。

请严格输出唯一的 JSON 对象，格式如下：
{
  "verdict": "approved|rejected",   // 审查结论
  "rationale": "...",               // 结论理由，若否决请给出可修正的具体问题
  "position_size_hint": 0.0-1.0     // 建议仓位占配置比例，否决时填 0
}
`

const orderTemplate = `
你是交易执行员，以下交易已通过风控审批，请生成订单参数。

股票：{{ .Stock }}
资金配置：{{ printf "%.2f" .Allocation }} USD
风控建议仓位比例：{{ printf "%.2f" .PositionSizeHint }}
最新价格：{{ printf "%.4f" .LastPrice }}

投资论点摘要：
{{ .Narrative }}

风控意见：
{{ .Rationale }}

请严格输出唯一的 JSON 对象，格式如下：
{
  "order_type": "market|limit",  // 下单方式
  "entry": 0.0,                  // 入场价格
  "stop_loss": 0.0,              // 止损价格
  "take_profit": 0.0,            // 止盈价格
  "size": 0.0                    // 下单数量（股数/币数）
}
`

var (
	thesisTmpl = template.Must(template.New("thesis").Parse(thesisTemplate))
	quantTmpl  = template.Must(template.New("quant").Parse(quantTemplate))
	riskTmpl   = template.Must(template.New("risk").Parse(riskTemplate))
	orderTmpl  = template.Must(template.New("order").Parse(orderTemplate))
)

func renderPrompt(tmpl *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("渲染提示词失败: %w", err)
	}
	return buf.String(), nil
}

func extractJSON(content string) ([]byte, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")

	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("模型输出未找到有效JSON: %s", content)
	}

	return []byte(content[start : end+1]), nil
}
