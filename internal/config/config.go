package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the config file.
const (
	EnvHost       = "DESKRELAY_HOST"
	EnvPort       = "DESKRELAY_PORT"
	EnvAuthToken  = "DESKRELAY_AUTH_TOKEN"
	EnvLogLevel   = "DESKRELAY_LOG_LEVEL"
	EnvLogPath    = "DESKRELAY_LOG_PATH"
	EnvPluginsDir = "DESKRELAY_PLUGINS_DIR"
)

// ScreenConfig is the geometry of the headless desktop.
type ScreenConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// RateLimitConfig throttles messages per connection. PerSecond 0 disables it.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// PluginsConfig configures the WebAssembly plugin directory.
type PluginsConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"` // reload automatically when .wasm files change
}

// ActionsConfig filters built-in actions.
type ActionsConfig struct {
	Disabled []string `yaml:"disabled"`
}

type Config struct {
	Host          string          `yaml:"host"`
	Port          int             `yaml:"port"`
	AuthToken     string          `yaml:"auth_token"`
	ScreenshotDir string          `yaml:"screenshot_dir"`
	FailSafe      bool            `yaml:"failsafe"`
	PauseSecs     float64         `yaml:"pause"` // seconds after each desktop primitive
	Screen        ScreenConfig    `yaml:"screen"`
	MaxMessage    int64           `yaml:"max_message_size"`
	MaxConns      int             `yaml:"max_connections"`
	TimeoutSecs   float64         `yaml:"handler_timeout"` // seconds, 0 = wait indefinitely
	GraceSecs     float64         `yaml:"shutdown_grace"`  // seconds
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Plugins       PluginsConfig   `yaml:"plugins"`
	Actions       ActionsConfig   `yaml:"actions"`
	JournalPath   string          `yaml:"journal_path"`
	PIDFile       string          `yaml:"pid_file"`
	LogLevel      string          `yaml:"log_level"` // debug, info, warn, error, none
	LogPath       string          `yaml:"log_path"`  // empty or "-" for stderr
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "deskrelay")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "deskrelay")
	default:
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, "deskrelay")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "deskrelay")
	}
}

func DefaultConfig() *Config {
	return &Config{
		Host:          "127.0.0.1",
		Port:          8765,
		ScreenshotDir: "./screenshots",
		FailSafe:      true,
		PauseSecs:     0.05,
		Screen:        ScreenConfig{Width: 1920, Height: 1080},
		MaxMessage:    1 << 20,
		MaxConns:      10,
		GraceSecs:     5,
		RateLimit:     RateLimitConfig{Burst: 1},
		Actions:       ActionsConfig{Disabled: []string{}},
		LogLevel:      "info",
	}
}

// Load reads the YAML file at path over the defaults. A missing file yields
// the defaults. Environment overrides are not applied; see ApplyEnv.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if config.Host == "" {
		config.Host = "127.0.0.1"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.Actions.Disabled == nil {
		config.Actions.Disabled = []string{}
	}
	return config, nil
}

// LoadDotEnv loads variables from the given .env files (".env" when none are
// given) into the process environment. Missing files are ignored and existing
// variables are never overwritten.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from DESKRELAY_* environment variables.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv(EnvHost); ok && v != "" {
		c.Host = v
	}
	if v, ok := os.LookupEnv(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", EnvPort, v)
		}
		c.Port = port
	}
	if v, ok := os.LookupEnv(EnvAuthToken); ok && v != "" {
		c.AuthToken = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := os.LookupEnv(EnvLogPath); ok {
		c.LogPath = v
	}
	if v, ok := os.LookupEnv(EnvPluginsDir); ok {
		c.Plugins.Dir = v
	}
	return nil
}

// Validate checks the settings the server cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.AuthToken == "" {
		errs = append(errs, fmt.Errorf("auth_token is required (set it in the config or %s)", EnvAuthToken))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Screen.Width < 3 || c.Screen.Height < 3 {
		errs = append(errs, fmt.Errorf("screen size %dx%d too small", c.Screen.Width, c.Screen.Height))
	}
	if c.MaxMessage <= 0 {
		errs = append(errs, errors.New("max_message_size must be positive"))
	}
	if c.MaxConns < 0 {
		errs = append(errs, errors.New("max_connections must not be negative"))
	}
	if c.PauseSecs < 0 || c.TimeoutSecs < 0 || c.GraceSecs < 0 {
		errs = append(errs, errors.New("pause, handler_timeout and shutdown_grace must not be negative"))
	}
	if c.RateLimit.PerSecond < 0 {
		errs = append(errs, errors.New("rate_limit.per_second must not be negative"))
	}
	if c.Plugins.Watch && c.Plugins.Dir == "" {
		errs = append(errs, errors.New("plugins.watch requires plugins.dir"))
	}
	return errors.Join(errs...)
}

// Addr returns host:port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) Pause() time.Duration {
	return seconds(c.PauseSecs)
}

func (c *Config) HandlerTimeout() time.Duration {
	return seconds(c.TimeoutSecs)
}

func (c *Config) ShutdownGrace() time.Duration {
	return seconds(c.GraceSecs)
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

// Save writes the config as YAML. The auth token is written as well, so the
// file is created with owner-only permissions.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.yaml")
}
