package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "riskgate"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("server.port", 8090)
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com/v1beta/openai")
	v.SetDefault("gemini.models", []string{
		"gemini-2.0-flash",
		"gemini-2.0-flash-lite",
		"gemini-1.5-flash",
		"gemini-1.5-pro",
	})
	v.SetDefault("gemini.timeout", "15s")
	v.SetDefault("gemini.max_concurrent", 2)
	v.SetDefault("gemini.max_retries", 2)
	v.SetDefault("gemini.retry_min_delay", "1s")

	v.SetDefault("orchestrator.cache.max_size", 500)
	v.SetDefault("orchestrator.cache.ttl", "30m")
	v.SetDefault("orchestrator.breaker.failure_threshold", 5)
	v.SetDefault("orchestrator.breaker.recovery_timeout", "60s")
	v.SetDefault("orchestrator.breaker.half_open_max_calls", 3)

	v.SetDefault("market.enabled", false)
	v.SetDefault("market.exchange", "binanceusdm")
	v.SetDefault("market.symbol", "BTC/USDT:USDT")
	v.SetDefault("market.use_sandbox", false)
	v.SetDefault("market.timeframe", "1h")
	v.SetDefault("market.candle_limit", 72)

	v.SetDefault("database.path", "data/riskgate.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
