// Package config loads the pair trading configuration.
//
// 加载顺序：默认值 -> YAML 文件 -> .env 与 PAIRS_* 环境变量 -> 校验
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/yourusername/quantlink-pairs/pkg/executor"
	"github.com/yourusername/quantlink-pairs/pkg/screener"
	"github.com/yourusername/quantlink-pairs/pkg/strategy"
	"github.com/yourusername/quantlink-pairs/pkg/strategy/spread"
)

// Config 完整配置
type Config struct {
	Screening ScreeningConfig `yaml:"screening"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Broker    BrokerConfig    `yaml:"broker"`
	Engine    EngineConfig    `yaml:"engine"`
	Session   SessionConfig   `yaml:"session"`
	Data      DataConfig      `yaml:"data"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ScreeningConfig 协整筛选参数
type ScreeningConfig struct {
	PValueThreshold float64 `yaml:"pValueThreshold" validate:"gt=0,lt=1"`
	MinObservations int     `yaml:"minObservations" validate:"gte=3"`
	Workers         int     `yaml:"workers" validate:"gte=0"`
	// Sample >0 时随机抽取该数量的品种做可行性筛选
	Sample        int   `yaml:"sample" validate:"gte=0"`
	Seed          int64 `yaml:"seed"`
	ProgressEvery int   `yaml:"progressEvery" validate:"gte=0"`
}

// StrategyConfig z-score 与信号参数
type StrategyConfig struct {
	WindowSizeShort int     `yaml:"windowSizeShort" validate:"gte=1"`
	WindowSizeLong  int     `yaml:"windowSizeLong" validate:"gte=2"`
	SplitRatio      float64 `yaml:"splitRatio" validate:"gt=0,lte=1"`
	UpperThreshold  float64 `yaml:"upperThreshold" validate:"gt=0"`
	LowerThreshold  float64 `yaml:"lowerThreshold" validate:"gte=0"`
	StakeSize       float64 `yaml:"stakeSize" validate:"gt=0"`
}

// BrokerConfig 模拟券商参数
type BrokerConfig struct {
	StartingCash      float64 `yaml:"startingCash" validate:"gte=0"`
	SlippagePercent   float64 `yaml:"slippagePercent" validate:"gte=0,lt=1"`
	CommissionPercent float64 `yaml:"commissionPercent" validate:"gte=0,lt=1"`
}

// EngineConfig 引擎与外部连接
type EngineConfig struct {
	Workers      int    `yaml:"workers" validate:"gte=0"`
	NATSURL      string `yaml:"natsUrl"`
	BarSubject   string `yaml:"barSubject" validate:"required"`
	OrderSubject string `yaml:"orderSubject" validate:"required"`
	// ReportSubject 成交/平仓回报主题，为空时不订阅
	ReportSubject string `yaml:"reportSubject"`
	HealthAddr    string `yaml:"healthAddr"`
	// APIAddr 非空时启动 HTTP 控制接口
	APIAddr     string `yaml:"apiAddr"`
	SnapshotDir string `yaml:"snapshotDir"`
}

// SessionConfig 实盘交易时段，StartTime/EndTime 为空时全天交易
// 支持跨夜时段，例如 21:00 - 02:30
type SessionConfig struct {
	StartTime string `yaml:"startTime"`
	EndTime   string `yaml:"endTime"`
	Timezone  string `yaml:"timezone"`
}

// DataConfig 数据与结果文件
type DataConfig struct {
	PricesFile string `yaml:"pricesFile"`
	PairsFile  string `yaml:"pairsFile"`
	ReportFile string `yaml:"reportFile"`
}

// MetricsConfig prometheus 端点
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig 日志
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// ConfigurationError 配置不合法，启动阶段即终止
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError 判断是否为配置错误
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Screening: ScreeningConfig{
			PValueThreshold: 0.05,
			MinObservations: 20,
			Workers:         runtime.NumCPU(),
			Seed:            42,
		},
		Strategy: StrategyConfig{
			WindowSizeShort: 5,
			WindowSizeLong:  60,
			SplitRatio:      1.0,
			UpperThreshold:  1.0,
			LowerThreshold:  0.5,
			StakeSize:       100,
		},
		Broker: BrokerConfig{
			StartingCash:      50000,
			SlippagePercent:   0.0001,
			CommissionPercent: 0.002,
		},
		Engine: EngineConfig{
			NATSURL:       "nats://localhost:4222",
			BarSubject:    "pairs.bars",
			OrderSubject:  "pairs.orders",
			ReportSubject: "pairs.reports",
			HealthAddr:    ":50051",
		},
		Metrics: MetricsConfig{Addr: ":9090"},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load 读取配置文件（path 为空时只用默认值）并应用环境变量覆盖
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &ConfigurationError{Reason: "failed to parse config file", Err: err}
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate 字段校验加跨字段检查
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ConfigurationError{
				Field:  fieldPath(fe.Namespace()),
				Reason: fmt.Sprintf("failed %q check (value %v)", fe.Tag(), fe.Value()),
				Err:    err,
			}
		}
		return &ConfigurationError{Reason: err.Error(), Err: err}
	}

	if c.Strategy.WindowSizeShort > c.Strategy.WindowSizeLong {
		return &ConfigurationError{
			Field: "strategy.windowSizeShort",
			Reason: fmt.Sprintf("short window %d exceeds long window %d",
				c.Strategy.WindowSizeShort, c.Strategy.WindowSizeLong),
		}
	}
	if c.Strategy.LowerThreshold >= c.Strategy.UpperThreshold {
		return &ConfigurationError{
			Field: "strategy.lowerThreshold",
			Reason: fmt.Sprintf("lower threshold %v must be below upper threshold %v",
				c.Strategy.LowerThreshold, c.Strategy.UpperThreshold),
			Err: strategy.ErrInvalidThresholds,
		}
	}
	if c.Session.Timezone != "" {
		if _, err := time.LoadLocation(c.Session.Timezone); err != nil {
			return &ConfigurationError{Field: "session.timezone", Reason: err.Error(), Err: err}
		}
	}
	return nil
}

// fieldPath Config.Strategy.WindowSizeShort -> strategy.windowSizeShort
func fieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 && parts[0] == "Config" {
		parts = parts[1:]
	}
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToLower(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, ".")
}

// ZScoreParams 转换为 z-score 参数，TotalLength 在注册时设置
func (c *Config) ZScoreParams() spread.Params {
	return spread.Params{
		WindowShort: c.Strategy.WindowSizeShort,
		WindowLong:  c.Strategy.WindowSizeLong,
		SplitRatio:  c.Strategy.SplitRatio,
	}
}

// Classifier 按配置阈值创建信号分类器
func (c *Config) Classifier() (*strategy.Classifier, error) {
	cl, err := strategy.NewClassifier(c.Strategy.UpperThreshold, c.Strategy.LowerThreshold)
	if err != nil {
		return nil, &ConfigurationError{Field: "strategy.upperThreshold", Reason: err.Error(), Err: err}
	}
	return cl, nil
}

// EngineConfig 转换为引擎配置
func (c *Config) EngineConfig() strategy.EngineConfig {
	return strategy.EngineConfig{
		Params:  c.ZScoreParams(),
		Stake:   decimal.NewFromFloat(c.Strategy.StakeSize),
		Workers: c.Engine.Workers,
	}
}

// ScreenerOptions 转换为筛选参数
func (c *Config) ScreenerOptions() screener.Options {
	opts := screener.DefaultOptions()
	opts.PValueThreshold = c.Screening.PValueThreshold
	opts.MinObservations = c.Screening.MinObservations
	opts.SplitRatio = c.Strategy.SplitRatio
	opts.ProgressEvery = c.Screening.ProgressEvery
	if c.Screening.Workers > 0 {
		opts.Workers = c.Screening.Workers
	}
	return opts
}

// BrokerOptions 转换为模拟执行器参数
func (c *Config) BrokerOptions() executor.BrokerOptions {
	return executor.BrokerOptions{
		StartingCash:      decimal.NewFromFloat(c.Broker.StartingCash),
		SlippagePercent:   decimal.NewFromFloat(c.Broker.SlippagePercent),
		CommissionPercent: decimal.NewFromFloat(c.Broker.CommissionPercent),
	}
}

// Save 写出 YAML 配置
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
