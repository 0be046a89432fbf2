package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Server       ServerConfig       `mapstructure:"server"`
	Gemini       GeminiConfig       `mapstructure:"gemini"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Market       MarketConfig       `mapstructure:"market"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ServerConfig 控制对外 HTTP 服务。
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// GeminiConfig 描述大模型调用参数（经 OpenAI 兼容接口访问）。
type GeminiConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	Models        []string      `mapstructure:"models"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryMinDelay time.Duration `mapstructure:"retry_min_delay"`
}

// CacheConfig 控制语义缓存。
type CacheConfig struct {
	MaxSize int           `mapstructure:"max_size"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// BreakerConfig 控制熔断器状态机。
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
	HalfOpenMaxCalls int           `mapstructure:"half_open_max_calls"`
}

// OrchestratorConfig 聚合编排层参数。
type OrchestratorConfig struct {
	Cache   CacheConfig   `mapstructure:"cache"`
	Breaker BreakerConfig `mapstructure:"breaker"`
}

// MarketConfig 描述可选的行情上下文来源。
type MarketConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Exchange    string `mapstructure:"exchange"`
	Symbol      string `mapstructure:"symbol"`
	UseSandbox  bool   `mapstructure:"use_sandbox"`
	Timeframe   string `mapstructure:"timeframe"`
	CandleLimit int    `mapstructure:"candle_limit"`
}

// DatabaseConfig 管理审计数据库连接。
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
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, errors.New("server.port 必须位于(0,65535]"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		err = multierr.Append(err, errors.New("server.shutdown_timeout 必须大于0"))
	}
	if c.Gemini.APIKey == "" {
		err = multierr.Append(err, errors.New("gemini.api_key 不能为空"))
	}
	if len(c.Gemini.Models) == 0 {
		err = multierr.Append(err, errors.New("gemini.models 至少包含一个模型"))
	}
	if c.Gemini.Timeout <= 0 {
		err = multierr.Append(err, errors.New("gemini.timeout 必须大于0"))
	}
	if c.Gemini.MaxConcurrent <= 0 {
		err = multierr.Append(err, errors.New("gemini.max_concurrent 必须大于0"))
	}
	if c.Gemini.MaxRetries <= 0 {
		err = multierr.Append(err, errors.New("gemini.max_retries 必须大于0"))
	}
	if c.Gemini.RetryMinDelay <= 0 {
		err = multierr.Append(err, errors.New("gemini.retry_min_delay 必须大于0"))
	}
	if c.Orchestrator.Cache.MaxSize <= 0 {
		err = multierr.Append(err, errors.New("orchestrator.cache.max_size 必须大于0"))
	}
	if c.Orchestrator.Cache.TTL <= 0 {
		err = multierr.Append(err, errors.New("orchestrator.cache.ttl 必须大于0"))
	}
	if c.Orchestrator.Breaker.FailureThreshold <= 0 {
		err = multierr.Append(err, errors.New("orchestrator.breaker.failure_threshold 必须大于0"))
	}
	if c.Orchestrator.Breaker.RecoveryTimeout <= 0 {
		err = multierr.Append(err, errors.New("orchestrator.breaker.recovery_timeout 必须大于0"))
	}
	if c.Orchestrator.Breaker.HalfOpenMaxCalls <= 0 {
		err = multierr.Append(err, errors.New("orchestrator.breaker.half_open_max_calls 必须大于0"))
	}
	if c.Market.Enabled {
		if c.Market.Exchange == "" {
			err = multierr.Append(err, errors.New("market.exchange 不能为空"))
		}
		if c.Market.Symbol == "" {
			err = multierr.Append(err, errors.New("market.symbol 不能为空"))
		}
		if c.Market.Timeframe == "" {
			err = multierr.Append(err, errors.New("market.timeframe 不能为空"))
		}
		if c.Market.CandleLimit <= 0 {
			err = multierr.Append(err, errors.New("market.candle_limit 必须大于0"))
		}
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

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
