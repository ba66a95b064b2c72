package config

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"github.com/xhit/go-str2duration/v2"
)

// PhaseConfig is one step of the follow-up schedule: alerts younger than the
// cumulative Duration are re-checked every Interval.
type PhaseConfig struct {
	Duration string `mapstructure:"duration"`
	Interval string `mapstructure:"interval"`
}

// Phase is a PhaseConfig with parsed durations.
type Phase struct {
	Duration time.Duration
	Interval time.Duration
}

// Config defines the global configuration structure
type Config struct {
	App struct {
		Port        string `mapstructure:"port"`
		Environment string `mapstructure:"environment"`
	} `mapstructure:"app"`

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`

	Telegram struct {
		AlertChannel string  `mapstructure:"alert_channel"`
		SendsPerSec  float64 `mapstructure:"sends_per_second"`
	} `mapstructure:"telegram"`

	Poller struct {
		Tick         string        `mapstructure:"tick"`
		ErrorBackoff string        `mapstructure:"error_backoff"`
		Phases       []PhaseConfig `mapstructure:"phases"`
	} `mapstructure:"poller"`

	Uptime struct {
		Interval string `mapstructure:"interval"`
		Timeout  string `mapstructure:"timeout"`
	} `mapstructure:"uptime"`

	RateLimits struct {
		ExternalPerSecond float64 `mapstructure:"external_per_second"`
		APIPerSecond      float64 `mapstructure:"api_per_second"`
	} `mapstructure:"rate_limits"`

	Stats struct {
		Window   string `mapstructure:"window"`
		MinCalls int    `mapstructure:"min_calls"`
	} `mapstructure:"stats"`
}

var defaultPhases = []map[string]string{
	{"duration": "5h", "interval": "3m"},
	{"duration": "12h", "interval": "10m"},
	{"duration": "7d", "interval": "1h"},
	{"duration": "14d", "interval": "6h"},
	{"duration": "14d", "interval": "12h"},
}

var (
	globalConfig *Config
	configLock   sync.RWMutex
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", "8091")
	v.SetDefault("app.environment", "production")
	v.SetDefault("logging.level", "info")
	v.SetDefault("telegram.alert_channel", "@FcallD")
	v.SetDefault("telegram.sends_per_second", 1.0)
	v.SetDefault("poller.tick", "1m")
	v.SetDefault("poller.error_backoff", "60s")
	v.SetDefault("poller.phases", defaultPhases)
	v.SetDefault("uptime.interval", "5m")
	v.SetDefault("uptime.timeout", "10s")
	v.SetDefault("rate_limits.external_per_second", 5.0)
	v.SetDefault("rate_limits.api_per_second", 10.0)
	v.SetDefault("stats.window", "30d")
	v.SetDefault("stats.min_calls", 5)
}

// LoadConfig loads configuration from the specified file path and merges it
// with environment variables. A missing file is not an error; defaults apply.
func LoadConfig(path string) (*Config, error) {
	log.Printf("Starting to load configuration from file: %s", path)

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CALLWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("app.port", "PORT")
	_ = v.BindEnv("app.environment", "APP_ENV")
	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("telegram.alert_channel", "ALERT_CHANNEL")

	if err := v.ReadInConfig(); err != nil {
		log.Printf("Warning: Could not read config file: %v", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Printf("Error unmarshalling configuration: %v", err)
		return nil, err
	}
	if _, err := cfg.ParsedPhases(); err != nil {
		return nil, err
	}
	log.Printf("Loaded configuration from file: %s", path)
	return &cfg, nil
}

// ParsedPhases converts the poller phase strings ("5h", "14d") to durations.
func (c *Config) ParsedPhases() ([]Phase, error) {
	if len(c.Poller.Phases) == 0 {
		return nil, fmt.Errorf("poller.phases must not be empty")
	}
	phases := make([]Phase, 0, len(c.Poller.Phases))
	for i, p := range c.Poller.Phases {
		d, err := str2duration.ParseDuration(p.Duration)
		if err != nil {
			return nil, fmt.Errorf("poller.phases[%d].duration %q: %w", i, p.Duration, err)
		}
		iv, err := str2duration.ParseDuration(p.Interval)
		if err != nil {
			return nil, fmt.Errorf("poller.phases[%d].interval %q: %w", i, p.Interval, err)
		}
		if d <= 0 || iv <= 0 {
			return nil, fmt.Errorf("poller.phases[%d] must have positive duration and interval", i)
		}
		phases = append(phases, Phase{Duration: d, Interval: iv})
	}
	return phases, nil
}

// Duration parses one of the duration settings, falling back to def when the
// value is empty or malformed.
func Duration(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := str2duration.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("Warning: invalid duration %q, using %s", raw, def)
		return def
	}
	return d
}

// SetGlobalConfig sets the loaded configuration globally
func SetGlobalConfig(cfg *Config) {
	configLock.Lock()
	defer configLock.Unlock()
	globalConfig = cfg
}

// GetGlobalConfig retrieves the globally set configuration
func GetGlobalConfig() *Config {
	configLock.RLock()
	defer configLock.RUnlock()
	if globalConfig == nil {
		log.Println("GetGlobalConfig: Global configuration is nil.")
	}
	return globalConfig
}
