package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"autohedge/internal/config"
)

// 各角色的系统提示词，约束模型的职责边界。
var roleSystemPrompts = map[Role]string{
	RoleDirector:  "你是对冲基金的投资总监，负责为指定股票生成清晰、可执行的投资论点。",
	RoleQuant:     "你是量化分析师，负责基于行情数据与技术指标对投资论点做量化验证。",
	RoleRisk:      "你是风险管理官，负责审查投资论点与量化分析，给出明确的批准或否决结论。",
	RoleExecution: "你是交易执行员，负责把已通过风控审批的结论转化为具体订单参数。",
}

// Client 封装 OpenAI 调用逻辑，实现 Invoker。
type Client struct {
	cfg    config.OpenAIConfig
	logger *zap.Logger
	sdk    *openai.Client
}

// NewClient 使用给定配置创建能力客户端。
func NewClient(cfg config.OpenAIConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api_key 不能为空")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai model 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sdkConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		sdkConfig.BaseURL = cfg.BaseURL
	}
	sdkConfig.HTTPClient = &http.Client{
		Timeout: cfg.Timeout + 5*time.Second,
	}

	return &Client{
		cfg:    cfg,
		logger: logger,
		sdk:    openai.NewClientWithConfig(sdkConfig),
	}, nil
}

// Invoke 以指定角色调用模型，payload 会序列化为 JSON 附在提示词后。
func (c *Client) Invoke(ctx context.Context, role Role, prompt string, payload interface{}) (string, error) {
	systemPrompt, ok := roleSystemPrompts[role]
	if !ok {
		return "", fmt.Errorf("未知的角色: %s", role)
	}

	userContent := prompt
	if payload != nil {
		contextJSON, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return "", fmt.Errorf("序列化上下文失败: %w", err)
		}
		userContent = prompt + "\n\n上下文数据：\n" + string(contextJSON)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	response, err := c.sdk.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userContent,
			},
		},
		Temperature: 0,
	})
	if err != nil {
		c.logger.Error("调用OpenAI失败",
			zap.String("role", string(role)),
			zap.Error(err),
		)
		return "", fmt.Errorf("调用OpenAI失败 (role=%s): %w", role, err)
	}

	if len(response.Choices) == 0 {
		return "", errors.New("OpenAI 返回结果为空")
	}

	content := strings.TrimSpace(response.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("OpenAI 返回内容为空")
	}

	c.logger.Debug("能力调用完成",
		zap.String("role", string(role)),
		zap.Duration("latency", time.Since(start)),
		zap.Int("response_len", len(content)),
	)

	return content, nil
}

// Ping 探测能力提供方是否可达。
func (c *Client) Ping(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if _, err := c.sdk.ListModels(callCtx); err != nil {
		return fmt.Errorf("能力提供方不可达: %w", err)
	}
	return nil
}
