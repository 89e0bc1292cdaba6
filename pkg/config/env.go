package config

import (
	"fmt"
	"strconv"

	"github.com/joho/godotenv"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "PAIRS_"

// LookupFunc 与 os.LookupEnv 同签名
type LookupFunc func(key string) (string, bool)

type envBinding struct {
	key   string
	field string
	set   func(c *Config, v string) error
}

var envBindings = []envBinding{
	{"P_VALUE_THRESHOLD", "screening.pValueThreshold", func(c *Config, v string) error { return parseFloat(v, &c.Screening.PValueThreshold) }},
	{"MIN_OBSERVATIONS", "screening.minObservations", func(c *Config, v string) error { return parseInt(v, &c.Screening.MinObservations) }},
	{"SCREEN_WORKERS", "screening.workers", func(c *Config, v string) error { return parseInt(v, &c.Screening.Workers) }},
	{"SAMPLE", "screening.sample", func(c *Config, v string) error { return parseInt(v, &c.Screening.Sample) }},
	{"WINDOW_SIZE_SHORT", "strategy.windowSizeShort", func(c *Config, v string) error { return parseInt(v, &c.Strategy.WindowSizeShort) }},
	{"WINDOW_SIZE_LONG", "strategy.windowSizeLong", func(c *Config, v string) error { return parseInt(v, &c.Strategy.WindowSizeLong) }},
	{"SPLIT_RATIO", "strategy.splitRatio", func(c *Config, v string) error { return parseFloat(v, &c.Strategy.SplitRatio) }},
	{"UPPER_THRESHOLD", "strategy.upperThreshold", func(c *Config, v string) error { return parseFloat(v, &c.Strategy.UpperThreshold) }},
	{"LOWER_THRESHOLD", "strategy.lowerThreshold", func(c *Config, v string) error { return parseFloat(v, &c.Strategy.LowerThreshold) }},
	{"STAKE_SIZE", "strategy.stakeSize", func(c *Config, v string) error { return parseFloat(v, &c.Strategy.StakeSize) }},
	{"NATS_URL", "engine.natsUrl", func(c *Config, v string) error { c.Engine.NATSURL = v; return nil }},
	{"BAR_SUBJECT", "engine.barSubject", func(c *Config, v string) error { c.Engine.BarSubject = v; return nil }},
	{"ORDER_SUBJECT", "engine.orderSubject", func(c *Config, v string) error { c.Engine.OrderSubject = v; return nil }},
	{"REPORT_SUBJECT", "engine.reportSubject", func(c *Config, v string) error { c.Engine.ReportSubject = v; return nil }},
	{"HEALTH_ADDR", "engine.healthAddr", func(c *Config, v string) error { c.Engine.HealthAddr = v; return nil }},
	{"API_ADDR", "engine.apiAddr", func(c *Config, v string) error { c.Engine.APIAddr = v; return nil }},
	{"SESSION_START", "session.startTime", func(c *Config, v string) error { c.Session.StartTime = v; return nil }},
	{"SESSION_END", "session.endTime", func(c *Config, v string) error { c.Session.EndTime = v; return nil }},
	{"SESSION_TIMEZONE", "session.timezone", func(c *Config, v string) error { c.Session.Timezone = v; return nil }},
	{"METRICS_ADDR", "metrics.addr", func(c *Config, v string) error { c.Metrics.Addr = v; return nil }},
	{"LOG_LEVEL", "logging.level", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
	{"LOG_FORMAT", "logging.format", func(c *Config, v string) error { c.Logging.Format = v; return nil }},
}

// LoadDotEnv 加载 .env 文件（不存在时忽略），已有环境变量不会被覆盖
func LoadDotEnv(files ...string) {
	_ = godotenv.Load(files...)
}

// ApplyEnv 应用 PAIRS_* 覆盖
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.key)
		if !ok || v == "" {
			continue
		}
		if err := b.set(c, v); err != nil {
			return &ConfigurationError{
				Field:  b.field,
				Reason: fmt.Sprintf("invalid value %q in %s%s", v, EnvPrefix, b.key),
				Err:    err,
			}
		}
	}
	return nil
}

func parseFloat(v string, dst *float64) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return err
	}
	*dst = f
	return nil
}

func parseInt(v string, dst *int) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}
