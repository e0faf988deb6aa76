package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Log      Log
	Loop     Loop
	Retry    Retry
	Steps    Steps
	State    State
	Upstream Upstream
	Notify   Notify
	Redis    Redis
	API      API
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type Loop struct {
	PollInterval    time.Duration `env:"POLL_INTERVAL" envDefault:"60s"`
	BatchSize       int           `env:"BATCH_SIZE" envDefault:"5"`
	MaxProcessedIDs int           `env:"MAX_PROCESSED_IDS" envDefault:"1000"`
}

type Retry struct {
	BackoffBase time.Duration `env:"BACKOFF_BASE" envDefault:"60s"`
	BackoffMax  time.Duration `env:"BACKOFF_MAX" envDefault:"1h"`
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"3"`
}

type Steps struct {
	PipelineFile     string         `env:"PIPELINE_FILE"`
	Dir              string         `env:"STEPS_DIR" envDefault:"steps"`
	DefaultTimeout   time.Duration  `env:"STEP_TIMEOUT_DEFAULT" envDefault:"300s"`
	TimeoutSeconds   map[string]int `env:"STEP_TIMEOUTS" envSeparator:"," envKeyValSeparator:":"`
	TerminalKeywords []string       `env:"TERMINAL_KEYWORDS" envSeparator:"," envDefault:"terminal,parcel locker,postomat"`
}

// Timeout returns the timeout of the step key, falling back to DefaultTimeout.
func (s Steps) Timeout(key string) time.Duration {
	if sec, ok := s.TimeoutSeconds[key]; ok && sec > 0 {
		return time.Duration(sec) * time.Second
	}
	return s.DefaultTimeout
}

type State struct {
	Backend string `env:"STATE_BACKEND" envDefault:"file"`
	File    string `env:"STATE_FILE" envDefault:"state/orchestrator_state.json"`
}

type Upstream struct {
	URL        string        `env:"UPSTREAM_URL"`
	Token      string        `env:"UPSTREAM_TOKEN"`
	Status     string        `env:"UPSTREAM_STATUS" envDefault:"new"`
	PageSize   int           `env:"UPSTREAM_PAGE_SIZE" envDefault:"50"`
	MaxPages   int           `env:"UPSTREAM_MAX_PAGES" envDefault:"4"`
	Timeout    time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"30s"`
	DoneCode   string        `env:"STATUS_DONE" envDefault:"done"`
	FailedCode string        `env:"STATUS_FAILED" envDefault:"failed"`
}

type Notify struct {
	WebhookURL string        `env:"NOTIFY_WEBHOOK_URL"`
	Timeout    time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"10s"`
}

type Redis struct {
	Addr         string `env:"REDIS_ADDRESS"`
	Password     string `env:"REDIS_PASSWORD"`
	DB           int    `env:"REDIS_DB"`
	StateKey     string `env:"REDIS_STATE_KEY" envDefault:"orderflow:state"`
	NotifyStream string `env:"REDIS_NOTIFY_STREAM"`
}

// Enabled reports whether a redis server is configured.
func (r Redis) Enabled() bool { return r.Addr != "" }

type API struct {
	Addr string `env:"API_ADDR"`
}

// Parse reads the configuration from the process environment.
func Parse() (*Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads .env when present, then the environment. Invalid configuration
// is fatal.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}
	c, err := Parse()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	return c
}

func (c *Config) Validate() error {
	var errs []error
	if c.Loop.PollInterval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive"))
	}
	if c.Loop.BatchSize < 1 {
		errs = append(errs, errors.New("BATCH_SIZE must be at least 1"))
	}
	if c.Loop.MaxProcessedIDs < 1 {
		errs = append(errs, errors.New("MAX_PROCESSED_IDS must be at least 1"))
	}
	if c.Retry.BackoffBase <= 0 {
		errs = append(errs, errors.New("BACKOFF_BASE must be positive"))
	}
	if c.Retry.BackoffMax < c.Retry.BackoffBase {
		errs = append(errs, errors.New("BACKOFF_MAX must not be below BACKOFF_BASE"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("MAX_ATTEMPTS must be at least 1"))
	}
	if c.Steps.DefaultTimeout <= 0 {
		errs = append(errs, errors.New("STEP_TIMEOUT_DEFAULT must be positive"))
	}
	for key, sec := range c.Steps.TimeoutSeconds {
		if sec <= 0 {
			errs = append(errs, fmt.Errorf("STEP_TIMEOUTS: %s must be positive", key))
		}
	}
	switch strings.ToLower(c.State.Backend) {
	case "file":
		if c.State.File == "" {
			errs = append(errs, errors.New("STATE_FILE is required for the file backend"))
		}
	case "redis":
		if !c.Redis.Enabled() {
			errs = append(errs, errors.New("REDIS_ADDRESS is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("STATE_BACKEND %q is not one of file, redis", c.State.Backend))
	}
	if c.Upstream.PageSize < 1 || c.Upstream.MaxPages < 1 {
		errs = append(errs, errors.New("UPSTREAM_PAGE_SIZE and UPSTREAM_MAX_PAGES must be at least 1"))
	}
	return errors.Join(errs...)
}
