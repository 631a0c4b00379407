package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"autohedge/internal/agent"
	"autohedge/internal/config"
	"autohedge/internal/fund"
	"autohedge/internal/market"
	"autohedge/internal/pipeline"
	"autohedge/internal/server"
	"autohedge/internal/service"
	"autohedge/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 完成依赖装配并阻塞运行 HTTP 服务，直到上下文取消后优雅退出。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("exchange", a.cfg.Market.Exchange),
		zap.String("model", a.cfg.OpenAI.Model),
	)

	invoker, err := agent.NewClient(a.cfg.OpenAI, a.logger)
	if err != nil {
		return fmt.Errorf("app: 初始化模型客户端失败: %w", err)
	}

	provider, err := market.NewExchangeProvider(a.cfg.Market, a.logger)
	if err != nil {
		return fmt.Errorf("app: 初始化行情数据源失败: %w", err)
	}

	runner, err := fund.NewRunner(invoker, provider, fund.Config{
		MaxWorkers: a.cfg.Fund.MaxWorkers,
		OutputDir:  a.cfg.Fund.OutputDir,
		Pipeline: pipeline.Config{
			MaxRetries:   a.cfg.Pipeline.MaxRetries,
			StageTimeout: a.cfg.Pipeline.StageTimeout,
		},
	}, a.logger)
	if err != nil {
		return fmt.Errorf("app: 初始化批量执行器失败: %w", err)
	}

	users, err := store.NewUserRepo(a.store, a.logger)
	if err != nil {
		return fmt.Errorf("app: 初始化用户仓储失败: %w", err)
	}
	trades, err := store.NewTradeRepo(a.store, a.logger)
	if err != nil {
		return fmt.Errorf("app: 初始化交易仓储失败: %w", err)
	}

	svc, err := service.New(users, trades, runner, service.Config{
		DefaultAnalyticsDays: a.cfg.Analytics.DefaultDays,
		MaxAnalyticsDays:     a.cfg.Analytics.MaxDays,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("app: 初始化服务层失败: %w", err)
	}

	handler, err := server.NewHandler(svc, a.logger)
	if err != nil {
		return fmt.Errorf("app: 初始化接口处理器失败: %w", err)
	}

	srv, err := server.New(a.cfg.Server, handler, a.logger)
	if err != nil {
		return fmt.Errorf("app: 初始化 HTTP 服务失败: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: HTTP 服务异常退出: %w", err)
	case <-ctx.Done():
		a.logger.Info("系统收到退出信号，正在停止")
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		a.logger.Error("HTTP 服务关闭失败", zap.Error(err))
	}

	// 等待已提交的交易任务落库后再退出。
	svc.Wait()
	a.logger.Info("系统已停止")
	return nil
}
