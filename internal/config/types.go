package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Market    MarketConfig    `mapstructure:"market"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Fund      FundConfig      `mapstructure:"fund"`
	Server    ServerConfig    `mapstructure:"server"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// OpenAIConfig 描述大模型调用参数。
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MarketConfig 描述行情数据源配置。
type MarketConfig struct {
	Exchange    string        `mapstructure:"exchange"`
	APIKey      string        `mapstructure:"api_key"`
	APISecret   string        `mapstructure:"api_secret"`
	UseSandbox  bool          `mapstructure:"use_sandbox"`
	Timeframe   string        `mapstructure:"timeframe"`
	CandleLimit int           `mapstructure:"candle_limit"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// PipelineConfig 控制单只股票的流水线行为。
type PipelineConfig struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	StageTimeout time.Duration `mapstructure:"stage_timeout"`
}

// FundConfig 控制批量执行与产物输出。
type FundConfig struct {
	MaxWorkers int    `mapstructure:"max_workers"`
	OutputDir  string `mapstructure:"output_dir"`
}

// ServerConfig 控制对外 HTTP 服务。
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AnalyticsConfig 控制历史统计的默认行为。
type AnalyticsConfig struct {
	DefaultDays int `mapstructure:"default_days"`
	MaxDays     int `mapstructure:"max_days"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.OpenAI.APIKey == "" {
		err = multierr.Append(err, errors.New("openai.api_key 不能为空"))
	}
	if c.OpenAI.Model == "" {
		err = multierr.Append(err, errors.New("openai.model 不能为空"))
	}
	if c.OpenAI.Timeout <= 0 {
		err = multierr.Append(err, errors.New("openai.timeout 必须大于0"))
	}
	if c.Market.Exchange == "" {
		err = multierr.Append(err, errors.New("market.exchange 不能为空"))
	}
	if c.Market.Timeframe == "" {
		err = multierr.Append(err, errors.New("market.timeframe 不能为空"))
	}
	if c.Market.CandleLimit < 30 {
		err = multierr.Append(err, errors.New("market.candle_limit 不能小于30，否则指标无法计算"))
	}
	if c.Market.Timeout <= 0 {
		err = multierr.Append(err, errors.New("market.timeout 必须大于0"))
	}
	if c.Pipeline.MaxRetries < 0 {
		err = multierr.Append(err, errors.New("pipeline.max_retries 不能为负"))
	}
	if c.Pipeline.StageTimeout <= 0 {
		err = multierr.Append(err, errors.New("pipeline.stage_timeout 必须大于0"))
	}
	if c.Fund.MaxWorkers <= 0 {
		err = multierr.Append(err, errors.New("fund.max_workers 必须大于0"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("server.port 非法: %d", c.Server.Port))
	}
	if c.Analytics.DefaultDays <= 0 {
		err = multierr.Append(err, errors.New("analytics.default_days 必须大于0"))
	}
	if c.Analytics.MaxDays < c.Analytics.DefaultDays {
		err = multierr.Append(err, errors.New("analytics.max_days 不能小于 default_days"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	return err
}
