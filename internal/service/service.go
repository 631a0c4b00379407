package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"autohedge/internal/fund"
	"autohedge/internal/pipeline"
)

// BatchRunner 抽象批量执行器，便于测试替换。
type BatchRunner interface {
	Run(ctx context.Context, params fund.Params) (fund.Output, error)
}

// Config 控制服务层行为。
type Config struct {
	DefaultAnalyticsDays int
	MaxAnalyticsDays     int
}

func (c Config) normalize() Config {
	if c.DefaultAnalyticsDays <= 0 {
		c.DefaultAnalyticsDays = 30
	}
	if c.MaxAnalyticsDays < c.DefaultAnalyticsDays {
		c.MaxAnalyticsDays = 365
	}
	return c
}

// Service 为多租户交易生命周期服务：用户注册、交易提交与查询、历史统计。
type Service struct {
	users  UserRepository
	trades TradeRepository
	runner BatchRunner
	cfg    Config
	logger *zap.Logger

	jobs sync.WaitGroup
}

// New 创建服务实例。
func New(users UserRepository, trades TradeRepository, runner BatchRunner, cfg Config, logger *zap.Logger) (*Service, error) {
	if users == nil || trades == nil {
		return nil, errors.New("service: repository 不能为空")
	}
	if runner == nil {
		return nil, errors.New("service: runner 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		users:  users,
		trades: trades,
		runner: runner,
		cfg:    cfg.normalize(),
		logger: logger,
	}, nil
}

// Wait 阻塞等待所有异步交易执行收尾，用于优雅退出与测试。
func (s *Service) Wait() {
	s.jobs.Wait()
}

// RegisterInput 为用户注册请求。
type RegisterInput struct {
	Username        string
	Email           string
	FundName        string
	FundDescription string
}

// Register 创建用户并颁发 API Key，Key 仅在此处返回一次。
func (s *Service) Register(ctx context.Context, input RegisterInput) (User, string, error) {
	username := strings.TrimSpace(input.Username)
	if len(username) < 3 || len(username) > 50 {
		return User{}, "", fmt.Errorf("%w: username 长度必须位于[3,50]", ErrValidation)
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(input.Email)); err != nil {
		return User{}, "", fmt.Errorf("%w: email 格式非法", ErrValidation)
	}
	fundName := strings.TrimSpace(input.FundName)
	if len(fundName) < 3 || len(fundName) > 100 {
		return User{}, "", fmt.Errorf("%w: fund_name 长度必须位于[3,100]", ErrValidation)
	}
	if len(input.FundDescription) > 500 {
		return User{}, "", fmt.Errorf("%w: fund_description 不能超过500字符", ErrValidation)
	}

	now := time.Now().UTC()
	user := User{
		ID:              uuid.NewString(),
		Username:        username,
		Email:           strings.TrimSpace(input.Email),
		FundName:        fundName,
		FundDescription: strings.TrimSpace(input.FundDescription),
		CreatedAt:       now,
	}
	key := APIKey{
		Key:       uuid.NewString(),
		UserID:    user.ID,
		CreatedAt: now,
	}

	if err := s.users.CreateUser(ctx, user, key); err != nil {
		return User{}, "", err
	}

	s.logger.Info("新用户注册", zap.String("username", user.Username))
	return user, key.Key, nil
}

// Authenticate 按 API Key 解析用户，Key 缺失、未知或已吊销均返回 ErrAuth。
func (s *Service) Authenticate(ctx context.Context, apiKey string) (User, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return User{}, ErrAuth
	}

	user, found, err := s.users.UserByAPIKey(ctx, apiKey)
	if err != nil {
		return User{}, err
	}
	if !found {
		s.logger.Warn("无效的 API Key", zap.String("key_prefix", keyPrefix(apiKey)))
		return User{}, ErrAuth
	}

	return user, nil
}

// UpdateInput 为用户资料部分更新请求，nil 字段保持不变。
type UpdateInput struct {
	Email           *string
	FundName        *string
	FundDescription *string
}

// UpdateUser 部分更新用户资料并整体替换记录。
func (s *Service) UpdateUser(ctx context.Context, user User, input UpdateInput) (User, error) {
	if input.Email != nil {
		if _, err := mail.ParseAddress(strings.TrimSpace(*input.Email)); err != nil {
			return User{}, fmt.Errorf("%w: email 格式非法", ErrValidation)
		}
		user.Email = strings.TrimSpace(*input.Email)
	}
	if input.FundName != nil {
		name := strings.TrimSpace(*input.FundName)
		if len(name) < 3 || len(name) > 100 {
			return User{}, fmt.Errorf("%w: fund_name 长度必须位于[3,100]", ErrValidation)
		}
		user.FundName = name
	}
	if input.FundDescription != nil {
		if len(*input.FundDescription) > 500 {
			return User{}, fmt.Errorf("%w: fund_description 不能超过500字符", ErrValidation)
		}
		user.FundDescription = strings.TrimSpace(*input.FundDescription)
	}

	replaced, err := s.users.ReplaceUser(ctx, user)
	if err != nil {
		return User{}, err
	}
	if !replaced {
		return User{}, ErrNotFound
	}

	return user, nil
}

// SubmitInput 为交易提交请求。
type SubmitInput struct {
	Stocks       []string
	Task         string
	Allocation   float64
	StrategyType string
	RiskLevel    int
}

// SubmitTrade 校验请求、落库 pending 交易并异步启动批量执行，立即返回。
func (s *Service) SubmitTrade(ctx context.Context, user User, input SubmitInput) (Trade, error) {
	if err := validateSubmit(input); err != nil {
		return Trade{}, err
	}

	riskLevel := input.RiskLevel
	if riskLevel == 0 {
		riskLevel = 5
	}

	trade := Trade{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		Stocks:       normalizeStocks(input.Stocks),
		Task:         strings.TrimSpace(input.Task),
		Allocation:   input.Allocation,
		StrategyType: strings.TrimSpace(input.StrategyType),
		RiskLevel:    riskLevel,
		Status:       TradePending,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.trades.CreateTrade(ctx, trade); err != nil {
		return Trade{}, err
	}

	s.jobs.Add(1)
	go s.executeTrade(user, trade)

	s.logger.Info("交易已提交",
		zap.String("trade_id", trade.ID),
		zap.String("user_id", user.ID),
		zap.Strings("stocks", trade.Stocks),
	)

	return trade, nil
}

// executeTrade 在后台驱动批量执行并以整记录替换回写结果。
// 执行期间交易被删除时，回写返回未命中，结果按约定丢弃。
func (s *Service) executeTrade(user User, trade Trade) {
	defer s.jobs.Done()

	// 请求上下文在响应后即失效，后台执行使用独立上下文。
	ctx := context.Background()

	trade.Status = TradeRunning
	replaced, err := s.trades.ReplaceTrade(ctx, trade)
	if err != nil {
		s.logger.Error("更新交易状态失败", zap.String("trade_id", trade.ID), zap.Error(err))
		return
	}
	if !replaced {
		s.logger.Info("交易在执行前被删除，放弃执行", zap.String("trade_id", trade.ID))
		return
	}

	output, runErr := s.runner.Run(ctx, fund.Params{
		Name:        user.FundName,
		Description: user.FundDescription,
		Stocks:      trade.Stocks,
		Task:        trade.Task,
		Allocation:  trade.Allocation,
		RiskLevel:   trade.RiskLevel,
	})

	now := time.Now().UTC()
	trade.ExecutedAt = &now
	if runErr != nil {
		trade.Status = TradeFailed
		s.logger.Error("批量执行失败",
			zap.String("trade_id", trade.ID),
			zap.Error(runErr),
		)
	} else {
		trade.Status = TradeCompleted
		trade.Result = &output
	}

	replaced, err = s.trades.ReplaceTrade(ctx, trade)
	if err != nil {
		s.logger.Error("回写交易结果失败", zap.String("trade_id", trade.ID), zap.Error(err))
		return
	}
	if !replaced {
		s.logger.Info("交易已被删除，丢弃完成结果", zap.String("trade_id", trade.ID))
	}
}

// GetTrade 返回调用方自己的交易；不存在或不属于调用方均为 ErrNotFound。
func (s *Service) GetTrade(ctx context.Context, userID, tradeID string) (Trade, error) {
	trade, found, err := s.trades.TradeByID(ctx, userID, tradeID)
	if err != nil {
		return Trade{}, err
	}
	if !found {
		return Trade{}, ErrNotFound
	}
	return trade, nil
}

// ListTrades 返回调用方的交易列表，按创建时间倒序分页。
func (s *Service) ListTrades(ctx context.Context, userID string, filter ListFilter) ([]Trade, error) {
	if filter.Limit == 0 {
		filter.Limit = 10
	}
	if filter.Limit < 1 || filter.Limit > 100 {
		return nil, fmt.Errorf("%w: limit 必须位于[1,100]", ErrValidation)
	}
	if filter.Skip < 0 {
		return nil, fmt.Errorf("%w: skip 不能为负", ErrValidation)
	}
	if filter.Status != "" && !validTradeStatus(filter.Status) {
		return nil, fmt.Errorf("%w: status 取值非法: %s", ErrValidation, filter.Status)
	}

	return s.trades.ListTrades(ctx, userID, filter)
}

// DeleteTrade 删除调用方自己的交易；删除不存在或他人的交易返回同一个
// ErrNotFound，不暴露记录是否存在。
func (s *Service) DeleteTrade(ctx context.Context, userID, tradeID string) error {
	deleted, err := s.trades.DeleteTrade(ctx, userID, tradeID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}

	s.logger.Info("交易已删除", zap.String("trade_id", tradeID))
	return nil
}

// History 聚合调用方最近 N 天的交易统计，按需计算。
func (s *Service) History(ctx context.Context, userID string, days int) (HistoryAnalytics, error) {
	if days == 0 {
		days = s.cfg.DefaultAnalyticsDays
	}
	if days < 1 || days > s.cfg.MaxAnalyticsDays {
		return HistoryAnalytics{}, fmt.Errorf("%w: days 必须位于[1,%d]", ErrValidation, s.cfg.MaxAnalyticsDays)
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	trades, err := s.trades.ListTradesSince(ctx, userID, since)
	if err != nil {
		return HistoryAnalytics{}, err
	}

	analytics := HistoryAnalytics{Days: days}
	var approved, rejected int

	for _, trade := range trades {
		analytics.TotalTrades++
		analytics.TotalAllocation += trade.Allocation

		switch trade.Status {
		case TradeCompleted:
			analytics.CompletedTrades++
		case TradeFailed:
			analytics.FailedTrades++
		}

		if trade.Result == nil {
			continue
		}
		for _, result := range trade.Result.Results {
			switch result.Status {
			case pipeline.StatusCompleted:
				approved++
			case pipeline.StatusRejectedExhausted:
				rejected++
			}
		}
	}

	analytics.StocksApproved = approved
	analytics.StocksRejected = rejected
	if analytics.TotalTrades > 0 {
		analytics.SuccessRate = float64(analytics.CompletedTrades) / float64(analytics.TotalTrades) * 100
	}
	if approved+rejected > 0 {
		analytics.ApprovalRate = float64(approved) / float64(approved+rejected) * 100
	}

	return analytics, nil
}

func validateSubmit(input SubmitInput) error {
	if len(input.Stocks) == 0 {
		return fmt.Errorf("%w: stocks 不能为空", ErrValidation)
	}
	for _, stock := range input.Stocks {
		if strings.TrimSpace(stock) == "" {
			return fmt.Errorf("%w: stocks 包含空符号", ErrValidation)
		}
	}
	if len(strings.TrimSpace(input.Task)) < 10 {
		return fmt.Errorf("%w: task 描述至少10个字符", ErrValidation)
	}
	if input.Allocation <= 0 {
		return fmt.Errorf("%w: allocation 必须大于0", ErrValidation)
	}
	if input.RiskLevel != 0 && (input.RiskLevel < 1 || input.RiskLevel > 10) {
		return fmt.Errorf("%w: risk_level 必须位于[1,10]", ErrValidation)
	}
	return nil
}

func validTradeStatus(status TradeStatus) bool {
	switch status {
	case TradePending, TradeRunning, TradeCompleted, TradeFailed:
		return true
	default:
		return false
	}
}

func normalizeStocks(stocks []string) []string {
	normalized := make([]string, 0, len(stocks))
	for _, s := range stocks {
		normalized = append(normalized, strings.ToUpper(strings.TrimSpace(s)))
	}
	return normalized
}

func keyPrefix(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8] + "..."
}
