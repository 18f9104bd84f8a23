package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"stepflow/internal/agent"
	"stepflow/internal/executor"
	"stepflow/internal/recorder"
	"stepflow/internal/replayer"
	"stepflow/pkg/browser"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Browser  BrowserConfig
	Replay   ReplayConfig
	Capture  CaptureConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Mode         string
	ReadTimeout  int
	WriteTimeout int
	// SyncInterval is how often stale runs are reconciled.
	SyncInterval time.Duration
}

type DatabaseConfig struct {
	Driver     string // mysql or sqlite
	Host       string
	Port       string
	Username   string
	Password   string
	Database   string
	Charset    string
	SQLitePath string
}

type JWTConfig struct {
	// Secret signs API tokens. An empty secret disables authentication.
	Secret        string
	ExpireTime    int
	AdminUser     string
	AdminPassword string // bcrypt hash
}

type BrowserConfig struct {
	Driver    string // chromedp or rod
	Headless  bool
	ExecPath  string
	RemoteURL string
	Stealth   bool
	Width     int
	Height    int
	UserAgent string
	Device    string
}

type ReplayConfig struct {
	ResolveTimeout time.Duration
	PollInterval   time.Duration
	Settle         time.Duration
	Highlight      time.Duration
	StepDelay      time.Duration
	SlowStepDelay  time.Duration
	StepTimeout    time.Duration
}

type CaptureConfig struct {
	Debounce     time.Duration
	PumpInterval time.Duration
}

type LogConfig struct {
	Level  string
	Format string // json or console
}

// LoadConfig reads the environment, after loading a .env file from the
// working directory when one exists.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	config := &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Mode:         getEnv("SERVER_MODE", "debug"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 30),
			SyncInterval: getEnvAsDuration("RUN_SYNC_INTERVAL", 30*time.Second),
		},
		Database: DatabaseConfig{
			Driver:     getEnv("DB_DRIVER", "sqlite"),
			Host:       getEnv("DB_HOST", "127.0.0.1"),
			Port:       getEnv("DB_PORT", "3306"),
			Username:   getEnv("DB_USERNAME", "root"),
			Password:   getEnv("DB_PASSWORD", ""),
			Database:   getEnv("DB_NAME", "stepflow"),
			Charset:    getEnv("DB_CHARSET", "utf8mb4"),
			SQLitePath: getEnv("DB_SQLITE_PATH", "stepflow.db"),
		},
		JWT: JWTConfig{
			Secret:        getEnv("JWT_SECRET", ""),
			ExpireTime:    getEnvAsInt("JWT_EXPIRE_TIME", 24*3600),
			AdminUser:     getEnv("ADMIN_USER", "admin"),
			AdminPassword: getEnv("ADMIN_PASSWORD_HASH", ""),
		},
		Browser: BrowserConfig{
			Driver:    getEnv("BROWSER_DRIVER", "chromedp"),
			Headless:  getEnvAsBool("CHROME_HEADLESS", false),
			ExecPath:  getEnv("CHROME_PATH", ""),
			RemoteURL: getEnv("CHROME_REMOTE_URL", ""),
			Stealth:   getEnvAsBool("BROWSER_STEALTH", false),
			Width:     getEnvAsInt("BROWSER_WIDTH", 1280),
			Height:    getEnvAsInt("BROWSER_HEIGHT", 800),
			UserAgent: getEnv("BROWSER_USER_AGENT", ""),
			Device:    getEnv("BROWSER_DEVICE", ""),
		},
		Replay: ReplayConfig{
			ResolveTimeout: getEnvAsDuration("REPLAY_RESOLVE_TIMEOUT", 10*time.Second),
			PollInterval:   getEnvAsDuration("REPLAY_POLL_INTERVAL", 100*time.Millisecond),
			Settle:         getEnvAsDuration("REPLAY_SETTLE", 200*time.Millisecond),
			Highlight:      getEnvAsDuration("REPLAY_HIGHLIGHT", 500*time.Millisecond),
			StepDelay:      getEnvAsDuration("REPLAY_STEP_DELAY", 300*time.Millisecond),
			SlowStepDelay:  getEnvAsDuration("REPLAY_SLOW_STEP_DELAY", 1500*time.Millisecond),
			StepTimeout:    getEnvAsDuration("REPLAY_STEP_TIMEOUT", 30*time.Second),
		},
		Capture: CaptureConfig{
			Debounce:     getEnvAsDuration("CAPTURE_DEBOUNCE", 500*time.Millisecond),
			PumpInterval: getEnvAsDuration("CAPTURE_PUMP_INTERVAL", 100*time.Millisecond),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	switch c.Browser.Driver {
	case "chromedp", "rod":
	default:
		return fmt.Errorf("unsupported BROWSER_DRIVER %q", c.Browser.Driver)
	}
	if c.Replay.PollInterval <= 0 || c.Replay.ResolveTimeout < c.Replay.PollInterval {
		return fmt.Errorf("replay resolve timeout must be at least one poll interval")
	}
	return nil
}

func (c *Config) BrowserOptions() browser.Options {
	return browser.Options{
		Driver:    c.Browser.Driver,
		ExecPath:  c.Browser.ExecPath,
		Headless:  c.Browser.Headless,
		RemoteURL: c.Browser.RemoteURL,
		Stealth:   c.Browser.Stealth,
		UserAgent: c.Browser.UserAgent,
		Width:     c.Browser.Width,
		Height:    c.Browser.Height,
		Device:    c.Browser.Device,
	}
}

func (c *Config) AgentOptions() agent.Options {
	capture := recorder.DefaultOptions()
	capture.Debounce = c.Capture.Debounce
	capture.PumpInterval = c.Capture.PumpInterval
	return agent.Options{
		Capture: capture,
		Replay: replayer.Options{
			Timeout:      c.Replay.ResolveTimeout,
			PollInterval: c.Replay.PollInterval,
			Settle:       c.Replay.Settle,
			Highlight:    c.Replay.Highlight,
		},
		AutoInstall: true,
	}
}

func (c *Config) ExecutorOptions() executor.Options {
	return executor.Options{
		StepDelay:     c.Replay.StepDelay,
		SlowStepDelay: c.Replay.SlowStepDelay,
		StepTimeout:   c.Replay.StepTimeout,
	}
}

func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=%s&parseTime=True&loc=Local",
		c.Database.Username,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.Charset,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("750ms") or plain milliseconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
