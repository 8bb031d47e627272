package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	SMTP       SMTPConfig       `yaml:"smtp" mapstructure:"smtp"`
	Gmail      GmailConfig      `yaml:"gmail" mapstructure:"gmail"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Sequence   SequenceConfig   `yaml:"sequence" mapstructure:"sequence"`
	Import     ImportConfig     `yaml:"import" mapstructure:"import"`
	Research   ResearchConfig   `yaml:"research" mapstructure:"research"`
	Worker     WorkerConfig     `yaml:"worker" mapstructure:"worker"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SMTPConfig holds SMTP transport credentials.
type SMTPConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
}

// GmailConfig holds Gmail API settings. When Token is empty the
// dispatcher falls back to SMTP and reply detection is unavailable.
type GmailConfig struct {
	Token       string `yaml:"token" mapstructure:"token"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	UserID      string `yaml:"user_id" mapstructure:"user_id"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings for AI-drafted bodies.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// SequenceConfig configures the follow-up schedule and send pacing.
// Delay days are keyed by the stage a successful send just reached;
// stage 4 never schedules another touch.
type SequenceConfig struct {
	FromName         string `yaml:"from_name" mapstructure:"from_name"`
	FromEmail        string `yaml:"from_email" mapstructure:"from_email"`
	Stage1DelayDays  int    `yaml:"stage1_delay_days" mapstructure:"stage1_delay_days"`
	Stage2DelayDays  int    `yaml:"stage2_delay_days" mapstructure:"stage2_delay_days"`
	Stage3DelayDays  int    `yaml:"stage3_delay_days" mapstructure:"stage3_delay_days"`
	MaxPerRun        int    `yaml:"max_per_run" mapstructure:"max_per_run"`
	DailyLimit       int    `yaml:"daily_limit" mapstructure:"daily_limit"`
	SendIntervalSecs int    `yaml:"send_interval_secs" mapstructure:"send_interval_secs"`
}

// ImportConfig configures the CSV drop directory.
type ImportConfig struct {
	Dir          string `yaml:"dir" mapstructure:"dir"`
	ProcessedDir string `yaml:"processed_dir" mapstructure:"processed_dir"`
}

// ResearchConfig configures lead qualification and website analysis.
type ResearchConfig struct {
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MinScore     float64 `yaml:"min_score" mapstructure:"min_score"`
	MinEmployees int     `yaml:"min_employees" mapstructure:"min_employees"`
	MaxEmployees int     `yaml:"max_employees" mapstructure:"max_employees"`
}

// WorkerConfig holds the cron schedules for the periodic driver.
type WorkerConfig struct {
	QueueSchedules  []string `yaml:"queue_schedules" mapstructure:"queue_schedules"`
	ReplySchedule   string   `yaml:"reply_schedule" mapstructure:"reply_schedule"`
	ImportSchedule  string   `yaml:"import_schedule" mapstructure:"import_schedule"`
	CleanupSchedule string   `yaml:"cleanup_schedule" mapstructure:"cleanup_schedule"`
}

// ServerConfig configures the dashboard API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// ResilienceConfig tunes retries and circuit breaking for outbound
// transport calls.
type ResilienceConfig struct {
	MaxAttempts             int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs        int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs            int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	BackoffMultiplier       float64 `yaml:"backoff_multiplier" mapstructure:"backoff_multiplier"`
	JitterFraction          float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	CircuitFailureThreshold int     `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetSecs        int     `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// MonitoringConfig controls the background health checker and its
// alert thresholds.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	BounceRateThreshold  float64 `yaml:"bounce_rate_threshold" mapstructure:"bounce_rate_threshold"`
	BacklogThreshold     int     `yaml:"backlog_threshold" mapstructure:"backlog_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("smtp.port", 587)
	v.SetDefault("gmail.base_url", "https://gmail.googleapis.com/gmail/v1")
	v.SetDefault("gmail.user_id", "me")
	v.SetDefault("gmail.timeout_secs", 30)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("sequence.stage1_delay_days", 3)
	v.SetDefault("sequence.stage2_delay_days", 6)
	v.SetDefault("sequence.stage3_delay_days", 7)
	v.SetDefault("sequence.max_per_run", 10)
	v.SetDefault("sequence.daily_limit", 50)
	v.SetDefault("sequence.send_interval_secs", 120)
	v.SetDefault("import.dir", "./leads")
	v.SetDefault("import.processed_dir", "./leads/processed")
	v.SetDefault("research.timeout_secs", 15)
	v.SetDefault("research.min_score", 5)
	v.SetDefault("research.min_employees", 10)
	v.SetDefault("research.max_employees", 500)
	v.SetDefault("worker.queue_schedules", []string{
		"0 9 * * 1-5", "0 13 * * 1-5", "0 16 * * 1-5",
	})
	v.SetDefault("worker.reply_schedule", "0 9-18 * * 1-5")
	v.SetDefault("worker.import_schedule", "0 8 * * *")
	v.SetDefault("worker.cleanup_schedule", "0 2 * * 0")
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff_ms", 1000)
	v.SetDefault("resilience.max_backoff_ms", 30000)
	v.SetDefault("resilience.backoff_multiplier", 2.0)
	v.SetDefault("resilience.jitter_fraction", 0.2)
	v.SetDefault("resilience.circuit_failure_threshold", 5)
	v.SetDefault("resilience.circuit_reset_secs", 30)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.bounce_rate_threshold", 0.05)
	v.SetDefault("monitoring.backlog_threshold", 100)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the configuration required for the given mode is
// present. Modes: "send" (dispatch paths), "replies", "serve", "worker".
func (c *Config) Validate(mode string) error {
	var problems []string

	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	switch mode {
	case "send":
		check(c.Sequence.FromEmail != "", "sequence.from_email is required")
		check(c.Gmail.Token != "" || c.SMTP.Host != "", "gmail.token or smtp.host is required")
		check(c.Sequence.MaxPerRun >= 1, "sequence.max_per_run must be >= 1")
		check(c.Sequence.Stage1DelayDays >= 1 && c.Sequence.Stage2DelayDays >= 1 && c.Sequence.Stage3DelayDays >= 1,
			"sequence delay days must be >= 1")
	case "replies":
		check(c.Gmail.Token != "", "gmail.token is required")
	case "serve":
		check(c.Server.Port > 0, "server.port must be > 0")
	case "worker":
		check(len(c.Worker.QueueSchedules) > 0, "worker.queue_schedules is required")
		check(c.Sequence.FromEmail != "", "sequence.from_email is required")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
