// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Engine names for BrowserConfig.Engine.
const (
	EnginePlaywright = "playwright"
	EngineChromedp   = "chromedp"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Pilot    PilotConfig    `mapstructure:"pilot"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
}

// LoggerConfig configures the global zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"` // "console" or "json"
	ServiceName string `mapstructure:"service_name"`
	AddSource   bool   `mapstructure:"add_source"`

	// Optional rotated JSON file sink.
	LogFile    string `mapstructure:"log_file"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// BrowserConfig controls how the underlying browser engine is launched.
type BrowserConfig struct {
	// Engine selects the driver backend: "playwright" (default) or "chromedp".
	Engine   string   `mapstructure:"engine"`
	Headless bool     `mapstructure:"headless"`
	Args     []string `mapstructure:"args"`
	// InstallBrowsers makes the playwright backend verify/download its
	// browser bundle on first use.
	InstallBrowsers bool `mapstructure:"install_browsers"`
	ViewportWidth   int  `mapstructure:"viewport_width"`
	ViewportHeight  int  `mapstructure:"viewport_height"`
}

// PilotConfig tunes the command dispatcher.
type PilotConfig struct {
	// NavigationTimeout bounds open_url's wait for network idle.
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	// Settle delays inserted after interaction-class commands, giving
	// asynchronous page reactions a head start before the next snapshot.
	InputSettle  time.Duration `mapstructure:"input_settle"`
	ClickSettle  time.Duration `mapstructure:"click_settle"`
	ScrollSettle time.Duration `mapstructure:"scroll_settle"`
}

// SnapshotConfig tunes snapshot capture and serialization.
type SnapshotConfig struct {
	// HighlightElements draws the numbered overlay during capture.
	HighlightElements bool `mapstructure:"highlight_elements"`
	// IncludeAttributes overrides the serializer's attribute allow-list
	// when non-empty.
	IncludeAttributes []string `mapstructure:"include_attributes"`
	ScreenshotFormat  string   `mapstructure:"screenshot_format"`
	ScreenshotQuality int      `mapstructure:"screenshot_quality"`
}

// SetDefaults registers the default value for every key on the given viper
// instance. Call before ReadInConfig so file/env values win.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "spyglass-cli")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("browser.engine", EnginePlaywright)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.install_browsers", true)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)

	v.SetDefault("pilot.navigation_timeout", 15*time.Second)
	v.SetDefault("pilot.input_settle", 200*time.Millisecond)
	v.SetDefault("pilot.click_settle", 100*time.Millisecond)
	v.SetDefault("pilot.scroll_settle", 500*time.Millisecond)

	v.SetDefault("snapshot.highlight_elements", true)
	v.SetDefault("snapshot.screenshot_format", "jpeg")
	v.SetDefault("snapshot.screenshot_quality", 50)
}

// Load reads configuration from the given file (or the default search
// paths), applies environment overrides with the SPYGLASS prefix, and
// unmarshals into a validated Config.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(home + "/.spyglass-cli")
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("SPYGLASS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env vars apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the rest of the system cannot work with.
func (c *Config) Validate() error {
	switch c.Browser.Engine {
	case EnginePlaywright, EngineChromedp:
	default:
		return fmt.Errorf("unknown browser engine %q", c.Browser.Engine)
	}
	switch c.Snapshot.ScreenshotFormat {
	case "jpeg", "png":
	default:
		return fmt.Errorf("unknown screenshot format %q", c.Snapshot.ScreenshotFormat)
	}
	if q := c.Snapshot.ScreenshotQuality; q < 0 || q > 100 {
		return fmt.Errorf("screenshot quality %d out of range [0,100]", q)
	}
	if c.Pilot.NavigationTimeout <= 0 {
		return fmt.Errorf("navigation timeout must be positive")
	}
	return nil
}
