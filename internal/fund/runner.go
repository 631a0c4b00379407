package fund

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"autohedge/internal/agent"
	"autohedge/internal/market"
	"autohedge/internal/pipeline"
)

// ErrCollaboratorUnavailable 表示能力提供方在批量执行启动前整体不可达，
// 整个批次直接失败。
var ErrCollaboratorUnavailable = errors.New("fund: 能力提供方不可达")

// maxWorkerCap 为并发宽度的硬上限，约束对外部能力的并发压力。
const maxWorkerCap = 8

// Config 控制批量执行行为。
type Config struct {
	MaxWorkers int
	OutputDir  string
	Pipeline   pipeline.Config
}

// Params 描述一次批量执行请求。
type Params struct {
	Name        string
	Description string
	Stocks      []string
	Task        string
	Allocation  float64
	RiskLevel   int
}

// Output 为一次批量执行的聚合结果，完成后不再修改。
type Output struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Stocks      []string               `json:"stocks"`
	Task        string                 `json:"task"`
	Timestamp   time.Time              `json:"timestamp"`
	Results     []pipeline.StockResult `json:"results"`
}

// Runner 把一次交易任务扇出到每只股票的流水线，并聚合结果。
type Runner struct {
	invoker  agent.Invoker
	provider market.Provider
	cfg      Config
	logger   *zap.Logger
}

// NewRunner 创建批量执行器。
func NewRunner(invoker agent.Invoker, provider market.Provider, cfg Config, logger *zap.Logger) (*Runner, error) {
	if invoker == nil {
		return nil, errors.New("fund: invoker 不能为空")
	}
	if provider == nil {
		return nil, errors.New("fund: market provider 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxWorkers <= 0 || cfg.MaxWorkers > maxWorkerCap {
		cfg.MaxWorkers = maxWorkerCap
	}

	return &Runner{
		invoker:  invoker,
		provider: provider,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Run 并发执行每只股票的流水线并按输入顺序聚合结果。
// 单只股票失败不影响其他股票；只有能力提供方整体不可达才返回错误。
func (r *Runner) Run(ctx context.Context, params Params) (Output, error) {
	if len(params.Stocks) == 0 {
		return Output{}, errors.New("fund: stocks 不能为空")
	}

	if checker, ok := r.invoker.(agent.HealthChecker); ok {
		if err := checker.Ping(ctx); err != nil {
			return Output{}, fmt.Errorf("%w: %v", ErrCollaboratorUnavailable, err)
		}
	}

	output := Output{
		ID:          uuid.NewString(),
		Name:        params.Name,
		Description: params.Description,
		Stocks:      normalizeStocks(params.Stocks),
		Task:        params.Task,
		Timestamp:   time.Now().UTC(),
		Results:     make([]pipeline.StockResult, len(params.Stocks)),
	}

	workers := r.cfg.MaxWorkers
	if len(output.Stocks) < workers {
		workers = len(output.Stocks)
	}

	r.logger.Info("批量执行开始",
		zap.String("batch_id", output.ID),
		zap.Strings("stocks", output.Stocks),
		zap.Int("workers", workers),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	for i, stock := range output.Stocks {
		group.Go(func() error {
			orch := pipeline.New(r.invoker, r.provider, r.cfg.Pipeline, r.logger)
			// 结果槽按输入顺序预分配，完成顺序不影响输出顺序。
			output.Results[i] = orch.Run(groupCtx, pipeline.Task{
				Stock:      stock,
				Task:       params.Task,
				Allocation: params.Allocation,
				RiskLevel:  params.RiskLevel,
			})
			return nil
		})
	}

	// 单股错误不会从流水线透出，这里的等待只负责汇合。
	_ = group.Wait()

	r.writeArtifact(output)

	r.logger.Info("批量执行完成",
		zap.String("batch_id", output.ID),
		zap.Int("stocks", len(output.Results)),
	)

	return output, nil
}

// writeArtifact 把聚合结果落盘为 JSON 产物，失败只记录告警。
func (r *Runner) writeArtifact(output Output) {
	if r.cfg.OutputDir == "" {
		return
	}

	if err := os.MkdirAll(r.cfg.OutputDir, 0o755); err != nil {
		r.logger.Warn("创建产物目录失败", zap.Error(err))
		return
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		r.logger.Warn("序列化批量结果失败", zap.Error(err))
		return
	}

	path := filepath.Join(r.cfg.OutputDir, output.ID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		r.logger.Warn("写入批量结果产物失败",
			zap.String("path", path),
			zap.Error(err),
		)
	}
}

func normalizeStocks(stocks []string) []string {
	normalized := make([]string, 0, len(stocks))
	for _, s := range stocks {
		normalized = append(normalized, strings.ToUpper(strings.TrimSpace(s)))
	}
	return normalized
}
