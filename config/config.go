package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research engine.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Research  ResearchConfig  `mapstructure:"research"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Redis     RedisConfig     `mapstructure:"redis"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address     string `mapstructure:"address"`
	AutoApprove bool   `mapstructure:"auto_approve"`
}

// LLMConfig contains model provider settings.
type LLMConfig struct {
	APIKey      string           `mapstructure:"api_key"`
	BaseURL     string           `mapstructure:"base_url"`
	Timeout     time.Duration    `mapstructure:"timeout"`
	MaxRetries  int              `mapstructure:"max_retries"`
	Temperature float64          `mapstructure:"temperature"`
	Routing     LLMRoutingConfig `mapstructure:"routing"`
}

// LLMRoutingConfig defines which model handles each phase.
type LLMRoutingConfig struct {
	Planning  string `mapstructure:"planning"`
	Research  string `mapstructure:"research"`
	Patterns  string `mapstructure:"patterns"`
	Synthesis string `mapstructure:"synthesis"`
	Fallback  string `mapstructure:"fallback"`
}

// Model resolves the model for a routing slot, falling back when the
// slot is unset.
func (c LLMConfig) Model(slot string) string {
	var name string
	switch slot {
	case "planning":
		name = c.Routing.Planning
	case "research":
		name = c.Routing.Research
	case "patterns":
		name = c.Routing.Patterns
	case "synthesis":
		name = c.Routing.Synthesis
	}
	if name == "" {
		name = c.Routing.Fallback
	}
	return name
}

func (c LLMConfig) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("llm.api_key is required (or set OPENAI_API_KEY)")
	}
	if strings.TrimSpace(c.Routing.Fallback) == "" {
		return fmt.Errorf("llm.routing.fallback is required")
	}
	return nil
}

// ResearchConfig bounds a research run.
type ResearchConfig struct {
	MaxIterations  int           `mapstructure:"max_iterations"`
	MinDiscovered  int           `mapstructure:"min_discovered"`
	MinResearched  int           `mapstructure:"min_researched"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	TimeoutPerTask time.Duration `mapstructure:"timeout_per_task"`
	MaxRetries     int           `mapstructure:"max_retries"`
	OnTaskFailure  string        `mapstructure:"on_task_failure"`
}

func (r ResearchConfig) Validate() error {
	if r.MaxIterations < 0 {
		return fmt.Errorf("research.max_iterations cannot be negative")
	}
	switch r.OnTaskFailure {
	case "", "continue", "abort_all":
	default:
		return fmt.Errorf("research.on_task_failure must be continue or abort_all, got %q", r.OnTaskFailure)
	}
	return nil
}

// SourcesConfig contains external data source settings.
type SourcesConfig struct {
	AppStore    AppStoreConfig    `mapstructure:"appstore"`
	ProductHunt ProductHuntConfig `mapstructure:"producthunt"`
	WebSearch   WebSearchConfig   `mapstructure:"web_search"`
}

// AppStoreConfig contains app store lookup settings.
type AppStoreConfig struct {
	Country    string        `mapstructure:"country"`
	MaxResults int           `mapstructure:"max_results"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ProductHuntConfig contains Product Hunt API settings.
type ProductHuntConfig struct {
	Token      string        `mapstructure:"token"`
	MaxResults int           `mapstructure:"max_results"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// WebSearchConfig contains web search settings.
type WebSearchConfig struct {
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	MaxResults   int           `mapstructure:"max_results"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// TelemetryConfig contains monitoring settings.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPort int    `mapstructure:"metrics_port"`
	LogFile     string `mapstructure:"log_file"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// RedisConfig contains the optional event relay target.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Stream   string        `mapstructure:"stream"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if !r.Enabled {
		return nil
	}
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("redis.host required when redis is enabled")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("redis.port required when redis is enabled")
	}
	return nil
}

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.default_timeout", "5m")
	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.auto_approve", false)
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.timeout", "120s")
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.routing.fallback", "gpt-4o-mini")
	v.SetDefault("research.max_iterations", 3)
	v.SetDefault("research.min_discovered", 6)
	v.SetDefault("research.min_researched", 3)
	v.SetDefault("research.max_concurrent", 5)
	v.SetDefault("research.timeout_per_task", "60s")
	v.SetDefault("research.max_retries", 2)
	v.SetDefault("research.on_task_failure", "continue")
	v.SetDefault("sources.appstore.country", "us")
	v.SetDefault("sources.appstore.max_results", 20)
	v.SetDefault("sources.appstore.timeout", "15s")
	v.SetDefault("sources.producthunt.max_results", 20)
	v.SetDefault("sources.producthunt.timeout", "15s")
	v.SetDefault("sources.web_search.max_results", 10)
	v.SetDefault("sources.web_search.timeout", "15s")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.metrics_port", 9090)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.stream", "alphy:events")
	v.SetDefault("redis.timeout", "2s")
}

// applyEnvOverrides picks up the conventional unprefixed secret names
// so that ALPHY_LLM_API_KEY and OPENAI_API_KEY both work.
func applyEnvOverrides(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Sources.WebSearch.SerperAPIKey == "" {
		cfg.Sources.WebSearch.SerperAPIKey = os.Getenv("SERPER_API_KEY")
	}
	if cfg.Sources.WebSearch.BraveAPIKey == "" {
		cfg.Sources.WebSearch.BraveAPIKey = os.Getenv("BRAVE_API_KEY")
	}
	if cfg.Sources.ProductHunt.Token == "" {
		cfg.Sources.ProductHunt.Token = os.Getenv("PRODUCTHUNT_TOKEN")
	}
	if cfg.Redis.Password == "" {
		cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	}
}

// Load reads config from the given file, or searches the conventional
// locations when path is empty. Environment variables with the ALPHY_
// prefix override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("ALPHY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Defaults plus environment are a complete configuration; only
		// an explicitly named file must exist.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyEnvOverrides(&cfg)

	if err := cfg.Research.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Redis.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad is Load for main(): any error is fatal.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}
