package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Catalog   CatalogConfig
	Data      DataConfig
	Audit     AuditConfig
	LLM       LLMConfig
	Pipeline  PipelineConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type CatalogConfig struct {
	Path string
}

type DataConfig struct {
	Path string
	// ExecTimeoutSec bounds one explicit query execution.
	ExecTimeoutSec int
}

type AuditConfig struct {
	Path string
}

type LLMConfig struct {
	Provider          string
	Model             string
	APIKey            string
	Temperature       float32
	MaxTokens         int
	AttemptTimeoutSec int
}

type PipelineConfig struct {
	MaxPromptChars  int
	DeadlineSec     int
	RetryAttempts   int
	BackoffSec      []int
	DefaultRowLimit int
}

type SessionConfig struct {
	IdleTimeoutSec int
	HistorySize    int
}

type RateLimitConfig struct {
	Enabled              bool
	MaxRequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/querylens")

	viper.SetEnvPrefix("NLQ")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("catalog.path", "./data/catalog.db")
	viper.SetDefault("data.path", "./data/warehouse.db")
	viper.SetDefault("data.execTimeoutSec", 10)
	viper.SetDefault("audit.path", "./data/audit.db")

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4")
	viper.SetDefault("llm.temperature", 0.1)
	viper.SetDefault("llm.maxTokens", 1024)
	viper.SetDefault("llm.attemptTimeoutSec", 15)

	viper.SetDefault("pipeline.maxPromptChars", 2000)
	viper.SetDefault("pipeline.deadlineSec", 15)
	viper.SetDefault("pipeline.retryAttempts", 3)
	viper.SetDefault("pipeline.backoffSec", []int{1, 2, 4})
	viper.SetDefault("pipeline.defaultRowLimit", 100)

	viper.SetDefault("session.idleTimeoutSec", 60)
	viper.SetDefault("session.historySize", 10)

	viper.SetDefault("ratelimit.enabled", true)
	viper.SetDefault("ratelimit.maxRequestsPerMinute", 60)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}

// Backoff converts the configured schedule into durations.
func (p PipelineConfig) Backoff() []time.Duration {
	out := make([]time.Duration, 0, len(p.BackoffSec))
	for _, sec := range p.BackoffSec {
		out = append(out, time.Duration(sec)*time.Second)
	}
	return out
}

// CompositeEngineBound is the worst-case wait before an engine-failure
// terminal state, surfaced so operators can reason about session latency.
func (c *Config) CompositeEngineBound() time.Duration {
	bound := time.Duration(c.Pipeline.RetryAttempts*c.LLM.AttemptTimeoutSec) * time.Second
	for i, sec := range c.Pipeline.BackoffSec {
		if i >= c.Pipeline.RetryAttempts-1 {
			break
		}
		bound += time.Duration(sec) * time.Second
	}
	return bound
}
