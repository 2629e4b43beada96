package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	// DatabaseSchemePostgres is the postgres database scheme identifier
	DatabaseSchemePostgres = "postgres"

	WeightSourceBallot = "ballot"
	WeightSourceStake  = "stake"
)

type Config struct {
	HTTPAddr   string `env:"HTTP_ADDR"`
	RPCURL     string `env:"RPC_URL"`
	WSPath     string `env:"WS_PATH"`
	Debug      bool   `env:"DEBUG"`
	LogFormat  string `env:"LOG_FORMAT"`
	AdminToken string `env:"ADMIN_TOKEN"`

	DBDialect string // postgres only
	DBDsn     string // DSN string passed to GORM driver

	Redis     RedisConfig
	Policy    PolicyConfig    `yaml:"policy"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Submit    SubmitConfig    `yaml:"submit"`
	Intake    IntakeConfig    `yaml:"intake"`
}

// RedisConfig points at the shared cache. An empty Addr selects the
// in-process store, which is only safe for a single replica.
type RedisConfig struct {
	Addr      string `env:"REDIS_ADDR"`
	Password  string `env:"REDIS_PASSWORD"`
	DB        int    `env:"REDIS_DB"`
	KeyPrefix string `env:"REDIS_KEY_PREFIX"`
}

type PolicyConfig struct {
	MinVotesRequired  int     `yaml:"minVotesRequired" env:"MIN_VOTES_REQUIRED"`
	ProposalThreshold float64 `yaml:"proposalThreshold" env:"PROPOSAL_THRESHOLD"`
	DisputeThreshold  float64 `yaml:"disputeThreshold" env:"DISPUTE_THRESHOLD"`
}

type SchedulerConfig struct {
	Interval    time.Duration `yaml:"interval" env:"SWEEP_INTERVAL"`
	Concurrency int           `yaml:"concurrency" env:"SWEEP_CONCURRENCY"`
	AutoStart   bool          `yaml:"autoStart" env:"SCHEDULER_AUTOSTART"`
}

type SubmitConfig struct {
	LockTTL        time.Duration `yaml:"lockTTL" env:"LOCK_TTL"`
	MaxAttempts    int           `yaml:"maxAttempts" env:"SUBMIT_MAX_ATTEMPTS"`
	InitialBackoff time.Duration `yaml:"initialBackoff" env:"SUBMIT_INITIAL_BACKOFF"`
	MaxBackoff     time.Duration `yaml:"maxBackoff" env:"SUBMIT_MAX_BACKOFF"`
	CallTimeout    time.Duration `yaml:"callTimeout" env:"LEDGER_CALL_TIMEOUT"`
	SignerSecret   string        `yaml:"-" env:"SIGNER_SECRET"`
}

// MaxHold is the longest one evaluation can run: the state fetch, then per
// attempt a submit and a stale-state re-fetch, plus the jittered backoff
// waits between attempts.
func (s SubmitConfig) MaxHold() time.Duration {
	calls := time.Duration(2*s.MaxAttempts+1) * s.CallTimeout
	waits := time.Duration(s.MaxAttempts-1) * (s.MaxBackoff + s.MaxBackoff/2)
	return calls + waits
}

type IntakeConfig struct {
	WeightSource   string        `yaml:"weightSource" env:"WEIGHT_SOURCE"`
	StakeCacheTTL  time.Duration `yaml:"stakeCacheTTL" env:"STAKE_CACHE_TTL"`
	RateLimitRPS   float64       `yaml:"rateLimitRPS" env:"VOTE_RATE_LIMIT_RPS"`
	RateLimitBurst int           `yaml:"rateLimitBurst" env:"VOTE_RATE_LIMIT_BURST"`
}

// fileConfig is the subset of settings accepted from CONFIG_PATH.
type fileConfig struct {
	Policy    *PolicyConfig  `yaml:"policy"`
	Scheduler *fileScheduler `yaml:"scheduler"`
	Submit    *SubmitConfig  `yaml:"submit"`
	Intake    *IntakeConfig  `yaml:"intake"`
}

type fileScheduler struct {
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	AutoStart   *bool         `yaml:"autoStart"`
}

// Default returns the built-in settings before file and env overrides.
func Default() Config {
	return Config{
		HTTPAddr:  ":8080",
		RPCURL:    "http://localhost:26657",
		WSPath:    "/websocket",
		LogFormat: "text",
		Redis: RedisConfig{
			KeyPrefix: "voteagg",
		},
		Policy: PolicyConfig{
			MinVotesRequired:  3,
			ProposalThreshold: 0.6,
			DisputeThreshold:  0.5,
		},
		Scheduler: SchedulerConfig{
			Interval:    30 * time.Second,
			Concurrency: 4,
			AutoStart:   true,
		},
		Submit: SubmitConfig{
			LockTTL:        5 * time.Minute,
			MaxAttempts:    5,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
			CallTimeout:    15 * time.Second,
		},
		Intake: IntakeConfig{
			WeightSource:   WeightSourceBallot,
			StakeCacheTTL:  5 * time.Minute,
			RateLimitRPS:   2,
			RateLimitBurst: 5,
		},
	}
}

// parseDatabaseURL interprets DATABASE_URL and returns (dialect, dsn).
// Supported schemes: postgres, postgresql.
func parseDatabaseURL(databaseURL string) (string, string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", "", err
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case DatabaseSchemePostgres, "postgresql":
		// GORM postgres driver accepts URL DSN as-is
		return DatabaseSchemePostgres, databaseURL, nil
	default:
		return "", "", fmt.Errorf("unsupported DATABASE_URL scheme: %s", u.Scheme)
	}
}

// Load builds the configuration: defaults, then the optional YAML file named
// by CONFIG_PATH, then environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("CONFIG_PATH")); path != "" {
		if err := mergeFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL")); dbURL != "" {
		if dialect, dsn, err := parseDatabaseURL(dbURL); err == nil {
			cfg.DBDialect = dialect
			cfg.DBDsn = dsn
		} else {
			fmt.Fprintf(os.Stderr, "warning: invalid DATABASE_URL, disabling persistence: %v\n", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var parsed fileConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if parsed.Policy != nil {
		mergePolicy(&cfg.Policy, *parsed.Policy)
	}
	if parsed.Scheduler != nil {
		if parsed.Scheduler.Interval > 0 {
			cfg.Scheduler.Interval = parsed.Scheduler.Interval
		}
		if parsed.Scheduler.Concurrency > 0 {
			cfg.Scheduler.Concurrency = parsed.Scheduler.Concurrency
		}
		if parsed.Scheduler.AutoStart != nil {
			cfg.Scheduler.AutoStart = *parsed.Scheduler.AutoStart
		}
	}
	if parsed.Submit != nil {
		mergeSubmit(&cfg.Submit, *parsed.Submit)
	}
	if parsed.Intake != nil {
		mergeIntake(&cfg.Intake, *parsed.Intake)
	}
	return nil
}

func mergePolicy(dst *PolicyConfig, src PolicyConfig) {
	if src.MinVotesRequired != 0 {
		dst.MinVotesRequired = src.MinVotesRequired
	}
	if src.ProposalThreshold != 0 {
		dst.ProposalThreshold = src.ProposalThreshold
	}
	if src.DisputeThreshold != 0 {
		dst.DisputeThreshold = src.DisputeThreshold
	}
}

func mergeSubmit(dst *SubmitConfig, src SubmitConfig) {
	if src.LockTTL != 0 {
		dst.LockTTL = src.LockTTL
	}
	if src.MaxAttempts != 0 {
		dst.MaxAttempts = src.MaxAttempts
	}
	if src.InitialBackoff != 0 {
		dst.InitialBackoff = src.InitialBackoff
	}
	if src.MaxBackoff != 0 {
		dst.MaxBackoff = src.MaxBackoff
	}
	if src.CallTimeout != 0 {
		dst.CallTimeout = src.CallTimeout
	}
}

func mergeIntake(dst *IntakeConfig, src IntakeConfig) {
	if src.WeightSource != "" {
		dst.WeightSource = src.WeightSource
	}
	if src.StakeCacheTTL != 0 {
		dst.StakeCacheTTL = src.StakeCacheTTL
	}
	if src.RateLimitRPS != 0 {
		dst.RateLimitRPS = src.RateLimitRPS
	}
	if src.RateLimitBurst != 0 {
		dst.RateLimitBurst = src.RateLimitBurst
	}
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Policy.MinVotesRequired < 1 {
		errs = append(errs, errors.New("MIN_VOTES_REQUIRED must be at least 1"))
	}
	if c.Policy.ProposalThreshold <= 0 || c.Policy.ProposalThreshold > 1 {
		errs = append(errs, errors.New("PROPOSAL_THRESHOLD must be in (0, 1]"))
	}
	if c.Policy.DisputeThreshold <= 0 || c.Policy.DisputeThreshold > 1 {
		errs = append(errs, errors.New("DISPUTE_THRESHOLD must be in (0, 1]"))
	}
	if c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if c.Scheduler.Concurrency < 1 {
		errs = append(errs, errors.New("SWEEP_CONCURRENCY must be at least 1"))
	}
	if c.Submit.MaxAttempts < 1 {
		errs = append(errs, errors.New("SUBMIT_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Submit.LockTTL <= 0 || c.Submit.CallTimeout <= 0 {
		errs = append(errs, errors.New("LOCK_TTL and LEDGER_CALL_TIMEOUT must be positive"))
	} else if c.Submit.MaxAttempts >= 1 && c.Submit.LockTTL <= c.Submit.MaxHold() {
		errs = append(errs, fmt.Errorf("LOCK_TTL must exceed %s, the longest a submission can hold the subject lock", c.Submit.MaxHold()))
	}
	if c.Submit.InitialBackoff <= 0 || c.Submit.MaxBackoff < c.Submit.InitialBackoff {
		errs = append(errs, errors.New("SUBMIT_INITIAL_BACKOFF must be positive and not exceed SUBMIT_MAX_BACKOFF"))
	}
	switch c.Intake.WeightSource {
	case WeightSourceBallot, WeightSourceStake:
	default:
		errs = append(errs, fmt.Errorf("unsupported WEIGHT_SOURCE: %q", c.Intake.WeightSource))
	}
	return errors.Join(errs...)
}

func (c Config) WSURL() string {
	// cometbft http client expects a separate ws endpoint path
	return c.WSPath
}

func (c Config) String() string {
	return fmt.Sprintf("http=%s rpc=%s redis=%s db=%s", c.HTTPAddr, c.RPCURL, c.Redis.Addr, c.DBDialect)
}

// DebugString returns a human-friendly configuration string with masked secrets.
func (c Config) DebugString() string {
	return fmt.Sprintf(
		"http=%s rpc=%s ws_path=%s redis=%s redis_password=%s db=%s dsn=%s min_votes=%d proposal_threshold=%.3f dispute_threshold=%.3f sweep=%s concurrency=%d weight_source=%s signer_secret=%s admin_token=%s",
		c.HTTPAddr,
		c.RPCURL,
		c.WSPath,
		c.Redis.Addr,
		maskSecret(c.Redis.Password),
		c.DBDialect,
		maskDSN(c.DBDialect, c.DBDsn),
		c.Policy.MinVotesRequired,
		c.Policy.ProposalThreshold,
		c.Policy.DisputeThreshold,
		c.Scheduler.Interval,
		c.Scheduler.Concurrency,
		c.Intake.WeightSource,
		maskSecret(c.Submit.SignerSecret),
		maskSecret(c.AdminToken),
	)
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

func maskDSN(dialect, dsn string) string {
	switch strings.ToLower(dialect) {
	case DatabaseSchemePostgres:
		if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
			if u.User != nil {
				username := u.User.Username()
				u.User = url.User(username)
			}
			return u.String()
		}
		// Fallback for DSN as key-value list
		parts := strings.Fields(dsn)
		for i, p := range parts {
			lower := strings.ToLower(p)
			if strings.HasPrefix(lower, "password=") {
				parts[i] = "password=***"
			}
		}
		return strings.Join(parts, " ")
	default:
		return dsn
	}
}
