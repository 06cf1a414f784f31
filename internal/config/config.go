// File: internal/config/config.go
package config

import (
	"fmt"
	"image"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration. Every section carries
// viper mapstructure tags and is populated through NewConfigFromViper.
type Config struct {
	Logger        LoggerConfig        `mapstructure:"logger" yaml:"logger"`
	Screen        ScreenConfig        `mapstructure:"screen" yaml:"screen"`
	Accessibility AccessibilityConfig `mapstructure:"accessibility" yaml:"accessibility"`
	Detection     DetectionConfig     `mapstructure:"detection" yaml:"detection"`
	Oracle        OracleConfig        `mapstructure:"oracle" yaml:"oracle"`
	Safety        SafetyConfig        `mapstructure:"safety" yaml:"safety"`
	Loop          LoopConfig          `mapstructure:"loop" yaml:"loop"`
	Actuator      ActuatorConfig      `mapstructure:"actuator" yaml:"actuator"`
	Session       SessionConfig       `mapstructure:"session" yaml:"session"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ScreenConfig describes the display geometry and capture behavior. Width and
// Height act as a fallback when the capture backend cannot probe the display.
type ScreenConfig struct {
	Width          int           `mapstructure:"width" yaml:"width"`
	Height         int           `mapstructure:"height" yaml:"height"`
	CaptureTimeout time.Duration `mapstructure:"capture_timeout" yaml:"capture_timeout"`
}

// AccessibilityConfig tunes the platform accessibility adapter.
type AccessibilityConfig struct {
	// QueryTimeout bounds a single native tree query. Misbehaving applications
	// can hang introspection indefinitely, so this must stay sub-second.
	QueryTimeout time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"`
	MaxDepth     int           `mapstructure:"max_depth" yaml:"max_depth"`
}

// DetectionConfig tunes the visual detection tier.
type DetectionConfig struct {
	FuzzyThreshold    float64 `mapstructure:"fuzzy_threshold" yaml:"fuzzy_threshold"`
	TieEpsilon        float64 `mapstructure:"tie_epsilon" yaml:"tie_epsilon"`
	TemplateThreshold float64 `mapstructure:"template_threshold" yaml:"template_threshold"`
	// OCREngine forces a specific engine by name; empty selects the first
	// available engine in registration order.
	OCREngine string `mapstructure:"ocr_engine" yaml:"ocr_engine"`
}

// OracleConfig configures the vision-oracle client.
type OracleConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	Model             string        `mapstructure:"model" yaml:"model"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	MaxImageDim       int           `mapstructure:"max_image_dim" yaml:"max_image_dim"`
	Temperature       float32       `mapstructure:"temperature" yaml:"temperature"`
}

// RegionConfig is one protected rectangle in screen coordinates.
type RegionConfig struct {
	X      int    `mapstructure:"x" yaml:"x"`
	Y      int    `mapstructure:"y" yaml:"y"`
	Width  int    `mapstructure:"width" yaml:"width"`
	Height int    `mapstructure:"height" yaml:"height"`
	Name   string `mapstructure:"name" yaml:"name"`
}

// Rect converts the config entry into an image.Rectangle.
func (r RegionConfig) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// SafetyConfig configures the coordinate safety validator.
type SafetyConfig struct {
	RateCeiling      int            `mapstructure:"rate_ceiling" yaml:"rate_ceiling"`
	RateWindow       time.Duration  `mapstructure:"rate_window" yaml:"rate_window"`
	ProtectedRegions []RegionConfig `mapstructure:"protected_regions" yaml:"protected_regions"`
	// EdgeMargin keeps synthetic input away from screen edges where resize
	// handles and hot corners live.
	EdgeMargin int `mapstructure:"edge_margin" yaml:"edge_margin"`
	// MenuBarHeight protects the system menu strip at the top of the screen.
	MenuBarHeight int `mapstructure:"menu_bar_height" yaml:"menu_bar_height"`
}

// LoopConfig bounds a single task execution.
type LoopConfig struct {
	StepBudget        int           `mapstructure:"step_budget" yaml:"step_budget"`
	FailureCeiling    int           `mapstructure:"failure_ceiling" yaml:"failure_ceiling"`
	OscillationWindow int           `mapstructure:"oscillation_window" yaml:"oscillation_window"`
	PostActionDelay   time.Duration `mapstructure:"post_action_delay" yaml:"post_action_delay"`
}

// HumanoidConfig contains the tunable parameters for the synthetic input
// model: movement physics, hold times, and typing cadence.
type HumanoidConfig struct {
	Enabled         bool    `mapstructure:"enabled" yaml:"enabled"`
	ClickHoldMinMs  int     `mapstructure:"click_hold_min_ms" yaml:"click_hold_min_ms"`
	ClickHoldMaxMs  int     `mapstructure:"click_hold_max_ms" yaml:"click_hold_max_ms"`
	KeyHoldMeanMs   float64 `mapstructure:"key_hold_mean_ms" yaml:"key_hold_mean_ms"`
	KeyHoldStdDevMs float64 `mapstructure:"key_hold_stddev_ms" yaml:"key_hold_stddev_ms"`
	FittsA          float64 `mapstructure:"fitts_a" yaml:"fitts_a"`
	FittsB          float64 `mapstructure:"fitts_b" yaml:"fitts_b"`
	PerlinAmplitude float64 `mapstructure:"perlin_amplitude" yaml:"perlin_amplitude"`
	JitterStrength  float64 `mapstructure:"jitter_strength" yaml:"jitter_strength"`
}

// ActuatorConfig configures input injection.
type ActuatorConfig struct {
	Humanoid HumanoidConfig `mapstructure:"humanoid" yaml:"humanoid"`
}

// SessionConfig holds task-session level switches.
type SessionConfig struct {
	// SpeculativeOCR runs the OCR pass concurrently with the accessibility
	// query. Pure latency optimization; tier priority is unaffected.
	SpeculativeOCR bool `mapstructure:"speculative_ocr" yaml:"speculative_ocr"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "deskpilot")
	v.SetDefault("logger.log_file", "deskpilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Screen --
	v.SetDefault("screen.width", 1920)
	v.SetDefault("screen.height", 1080)
	v.SetDefault("screen.capture_timeout", "2s")

	// -- Accessibility --
	v.SetDefault("accessibility.query_timeout", "800ms")
	v.SetDefault("accessibility.max_depth", 20)

	// -- Detection --
	v.SetDefault("detection.fuzzy_threshold", 0.85)
	v.SetDefault("detection.tie_epsilon", 0.02)
	v.SetDefault("detection.template_threshold", 0.8)
	v.SetDefault("detection.ocr_engine", "")

	// -- Oracle --
	v.SetDefault("oracle.enabled", true)
	v.SetDefault("oracle.model", "gemini-2.5-flash")
	v.SetDefault("oracle.timeout", "8s")
	v.SetDefault("oracle.requests_per_minute", 30.0)
	v.SetDefault("oracle.max_image_dim", 1536)
	v.SetDefault("oracle.temperature", 0.0)

	// -- Safety --
	v.SetDefault("safety.rate_ceiling", 5)
	v.SetDefault("safety.rate_window", "1s")
	v.SetDefault("safety.edge_margin", 5)
	v.SetDefault("safety.menu_bar_height", 30)

	// -- Loop --
	v.SetDefault("loop.step_budget", 25)
	v.SetDefault("loop.failure_ceiling", 2)
	v.SetDefault("loop.oscillation_window", 4)
	v.SetDefault("loop.post_action_delay", "400ms")

	// -- Actuator --
	v.SetDefault("actuator.humanoid.enabled", true)
	v.SetDefault("actuator.humanoid.click_hold_min_ms", 45)
	v.SetDefault("actuator.humanoid.click_hold_max_ms", 120)
	v.SetDefault("actuator.humanoid.key_hold_mean_ms", 70.0)
	v.SetDefault("actuator.humanoid.key_hold_stddev_ms", 20.0)
	v.SetDefault("actuator.humanoid.fitts_a", 100.0)
	v.SetDefault("actuator.humanoid.fitts_b", 150.0)
	v.SetDefault("actuator.humanoid.perlin_amplitude", 2.0)
	v.SetDefault("actuator.humanoid.jitter_strength", 0.5)

	// -- Session --
	v.SetDefault("session.speculative_ocr", false)
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only; treat as a programming error.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	v.BindEnv("oracle.api_key", "DESKPILOT_ORACLE_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Screen.Width <= 0 || c.Screen.Height <= 0 {
		return fmt.Errorf("screen.width and screen.height must be positive")
	}
	if c.Detection.FuzzyThreshold < 0.0 || c.Detection.FuzzyThreshold > 1.0 {
		return fmt.Errorf("detection.fuzzy_threshold must be between 0.0 and 1.0")
	}
	if c.Detection.TemplateThreshold < 0.0 || c.Detection.TemplateThreshold > 1.0 {
		return fmt.Errorf("detection.template_threshold must be between 0.0 and 1.0")
	}
	if c.Detection.TieEpsilon < 0.0 {
		return fmt.Errorf("detection.tie_epsilon must not be negative")
	}
	if c.Safety.RateCeiling <= 0 {
		return fmt.Errorf("safety.rate_ceiling must be a positive integer")
	}
	if c.Safety.RateWindow <= 0 {
		return fmt.Errorf("safety.rate_window must be a positive duration")
	}
	if c.Loop.StepBudget <= 0 {
		return fmt.Errorf("loop.step_budget must be a positive integer")
	}
	if c.Loop.FailureCeiling <= 0 {
		return fmt.Errorf("loop.failure_ceiling must be a positive integer")
	}
	if c.Loop.OscillationWindow < 4 {
		return fmt.Errorf("loop.oscillation_window must be at least 4")
	}
	if c.Oracle.Enabled {
		if err := c.Oracle.Validate(); err != nil {
			return fmt.Errorf("oracle configuration invalid: %w", err)
		}
	}
	return nil
}

// Validate checks the oracle settings. Only called when the oracle is enabled.
func (o *OracleConfig) Validate() error {
	if o.Model == "" {
		return fmt.Errorf("model is required")
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("timeout must be a positive duration")
	}
	if o.RequestsPerMinute <= 0 {
		return fmt.Errorf("requests_per_minute must be positive")
	}
	return nil
}
