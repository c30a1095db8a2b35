// Package config loads the service configuration from defaults, an optional
// YAML file, a .env file and the environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	nomadly "github.com/StrawberryAcai/Nomadly.backend"
	nlog "github.com/StrawberryAcai/Nomadly.backend/internal/log"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	TourAPI   TourAPIConfig   `mapstructure:"tourapi"`
	Planner   PlannerConfig   `mapstructure:"planner"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Log       nlog.Config     `mapstructure:"log"`
	EventBus  EventBusConfig  `mapstructure:"eventbus"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RequestTimeout bounds one POST /api/plan; zero means no bound.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type OpenAIConfig struct {
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	Model        string `mapstructure:"model"`
	Organization string `mapstructure:"org"`
	Project      string `mapstructure:"project"`
	// TimeoutSeconds mirrors OPENAI_TIMEOUT, which is given in seconds.
	TimeoutSeconds int `mapstructure:"timeout"`
}

// Timeout returns the request timeout as a duration.
func (o OpenAIConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

type TourAPIConfig struct {
	ServiceKey string        `mapstructure:"key"`
	BaseURL    string        `mapstructure:"base_url"`
	AppName    string        `mapstructure:"app_name"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type PlannerConfig struct {
	MaxToolRounds   int           `mapstructure:"max_tool_rounds"`
	DefaultTimezone string        `mapstructure:"default_timezone"`
	MaxConcurrency  int           `mapstructure:"max_concurrency"`
	PageLimit       int           `mapstructure:"page_limit"`
	ToolTimeout     time.Duration `mapstructure:"tool_timeout"`
	// AllowedTools narrows the catalog; empty offers every tool.
	AllowedTools []string `mapstructure:"allowed_tools"`
}

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type EventBusConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	BufferSize  int  `mapstructure:"buffer_size"`
	WorkerCount int  `mapstructure:"worker_count"`
}

// RateLimitConfig guards the tour API quota. RPS <= 0 disables the limiter.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// legacy environment variable names, bound to their config keys.
var envBindings = map[string]string{
	"server.port":     "PORT",
	"openai.api_key":  "OPENAI_API_KEY",
	"openai.base_url": "OPENAI_BASE_URL",
	"openai.model":    "OPENAI_MODEL",
	"openai.timeout":  "OPENAI_TIMEOUT",
	"openai.org":      "OPENAI_ORG",
	"openai.project":  "OPENAI_PROJECT",
	"tourapi.key":     "TOURAPI_KEY",
}

func setDefaults(v *viper.Viper) {
	defaults := nomadly.DefaultConfig()

	v.SetDefault("server.port", 8000)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.cors_origins", []string{"https://nomadly.bitworkspace.kr"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.request_timeout", 0)

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.timeout", 30)

	v.SetDefault("tourapi.base_url", "http://apis.data.go.kr/B551011/KorService2")
	v.SetDefault("tourapi.app_name", "Nomadly")
	v.SetDefault("tourapi.timeout", 10*time.Second)

	v.SetDefault("planner.max_tool_rounds", defaults.MaxToolRounds)
	v.SetDefault("planner.default_timezone", defaults.DefaultTimezone)
	v.SetDefault("planner.max_concurrency", 4)
	v.SetDefault("planner.page_limit", 3)
	v.SetDefault("planner.tool_timeout", 0)
	v.SetDefault("planner.allowed_tools", []string{})

	v.SetDefault("cache.ttl", 120*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("eventbus.enabled", defaults.EnableEventBus)
	v.SetDefault("eventbus.buffer_size", defaults.EventBusBufferSize)
	v.SetDefault("eventbus.worker_count", defaults.EventBusWorkerCount)

	v.SetDefault("rate_limit.rps", 10)
	v.SetDefault("rate_limit.burst", 5)
}

// Load reads the configuration. configPath may be empty. A .env file in the
// working directory is loaded first when present; it never overrides
// variables already set in the environment.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, nomadly.NewConfigurationError("failed to load .env", err)
	}

	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, nomadly.NewConfigurationError("failed to bind "+env, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, nomadly.NewConfigurationError("failed to read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nomadly.NewConfigurationError("failed to decode config", err)
	}
	return &cfg, nil
}

// Validate reports settings the service cannot start without.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.OpenAI.APIKey) == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if strings.TrimSpace(c.TourAPI.ServiceKey) == "" {
		missing = append(missing, "TOURAPI_KEY")
	}
	if len(missing) > 0 {
		return nomadly.NewConfigurationError(strings.Join(missing, ", ")+" is not set", nil)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return nomadly.NewConfigurationError(fmt.Sprintf("invalid port %d", c.Server.Port), nil)
	}
	if c.Planner.MaxToolRounds < 1 {
		return nomadly.NewConfigurationError("planner.max_tool_rounds must be at least 1", nil)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return nomadly.NewConfigurationError(fmt.Sprintf("unknown log format %q", c.Log.Format), nil)
	}
	return nil
}

// PlannerConfig converts the settings into the planner's config.
func (c *Config) PlannerConfig() nomadly.Config {
	pc := nomadly.DefaultConfig()
	pc.MaxToolRounds = c.Planner.MaxToolRounds
	if c.Planner.DefaultTimezone != "" {
		pc.DefaultTimezone = c.Planner.DefaultTimezone
	}
	pc.EnableEventBus = c.EventBus.Enabled
	pc.EventBusBufferSize = c.EventBus.BufferSize
	pc.EventBusWorkerCount = c.EventBus.WorkerCount
	return pc
}
