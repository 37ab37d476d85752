package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"aqualedger/native/rewards"
)

// Storage backends understood by ledgerd.
const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
	BackendSQL     = "sql"
)

// Duration wraps time.Duration so TOML files can use strings such as "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText parses human readable duration strings.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration in time.Duration string form.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	ListenAddress    string   `toml:"ListenAddress"`
	Environment      string   `toml:"Environment"`
	Administrator    string   `toml:"Administrator"`
	OperationTimeout Duration `toml:"OperationTimeout"`
	AchievementsFile string   `toml:"AchievementsFile,omitempty"`
	CORSOrigins      []string `toml:"CORSOrigins,omitempty"`

	Storage   StorageConfig   `toml:"storage"`
	Rewards   RewardsConfig   `toml:"rewards"`
	Auth      AuthConfig      `toml:"auth"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

type StorageConfig struct {
	Backend   string `toml:"Backend"`
	DataDir   string `toml:"DataDir"`
	SQLDriver string `toml:"SQLDriver,omitempty"`
	SQLDSN    string `toml:"SQLDSN,omitempty"`
}

// RewardsConfig carries the reward constants. Zero values fall back to the
// built-in policy.
type RewardsConfig struct {
	BaseEventReward           uint64 `toml:"BaseEventReward"`
	PerMinuteRate             uint64 `toml:"PerMinuteRate"`
	WasteRateNumerator        uint64 `toml:"WasteRateNumerator"`
	WasteRateDenominator      uint64 `toml:"WasteRateDenominator"`
	ImageUploadReward         uint64 `toml:"ImageUploadReward"`
	UniqueImageCredits        bool   `toml:"UniqueImageCredits"`
	SpendRequiresSelfOrIssuer bool   `toml:"SpendRequiresSelfOrIssuer"`
	MaxDescriptionLength      int    `toml:"MaxDescriptionLength"`
}

// Policy converts the section into a rewards.Policy.
func (r RewardsConfig) Policy() rewards.Policy {
	return rewards.Policy{
		BaseEventReward:           r.BaseEventReward,
		PerMinuteRate:             r.PerMinuteRate,
		WasteRateNumerator:        r.WasteRateNumerator,
		WasteRateDenominator:      r.WasteRateDenominator,
		ImageUploadReward:         r.ImageUploadReward,
		UniqueImageCredits:        r.UniqueImageCredits,
		SpendRequiresSelfOrIssuer: r.SpendRequiresSelfOrIssuer,
		MaxDescriptionLength:      r.MaxDescriptionLength,
	}
}

type AuthConfig struct {
	// JWTSecret signs HS256 bearer tokens. Prefer LEDGER_JWT_SECRET over
	// writing it to disk.
	JWTSecret string   `toml:"JWTSecret,omitempty"`
	Issuer    string   `toml:"Issuer"`
	Audience  string   `toml:"Audience"`
	MaxTTL    Duration `toml:"MaxTTL"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

type LoggingConfig struct {
	Level       string `toml:"Level,omitempty"`
	LogRequests bool   `toml:"LogRequests"`
	File        string `toml:"File,omitempty"`
	MaxSizeMB   int    `toml:"MaxSizeMB"`
	MaxBackups  int    `toml:"MaxBackups"`
	MaxAgeDays  int    `toml:"MaxAgeDays"`
}

type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint,omitempty"`
	Insecure bool   `toml:"Insecure"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
}

type loadOptions struct {
	lookupEnv func(string) (string, bool)
}

// LoadOption customizes Load.
type LoadOption func(*loadOptions)

// WithEnvLookup replaces os.LookupEnv for environment overrides.
func WithEnvLookup(fn func(string) (string, bool)) LoadOption {
	return func(o *loadOptions) {
		if fn != nil {
			o.lookupEnv = fn
		}
	}
}

// Load loads the configuration from the given path, writing a default file
// first when none exists.
func Load(path string, opts ...LoadOption) (*Config, error) {
	options := loadOptions{lookupEnv: os.LookupEnv}
	for _, opt := range opts {
		opt(&options)
	}

	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := persist(path, cfg); err != nil {
			return nil, fmt.Errorf("config: write default %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config: %s has unknown field %s", path, undecoded[0])
		}
	}

	cfg.applyEnv(options.lookupEnv)
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration written for fresh installs.
func Default() *Config {
	policy := rewards.DefaultPolicy()
	return &Config{
		ListenAddress:    ":8470",
		Environment:      "dev",
		OperationTimeout: Duration{rewards.DefaultOperationTimeout},
		Storage: StorageConfig{
			Backend: BackendLevelDB,
			DataDir: "./aqualedger-data",
		},
		Rewards: RewardsConfig{
			BaseEventReward:      policy.BaseEventReward,
			PerMinuteRate:        policy.PerMinuteRate,
			WasteRateNumerator:   policy.WasteRateNumerator,
			WasteRateDenominator: policy.WasteRateDenominator,
			ImageUploadReward:    policy.ImageUploadReward,
			MaxDescriptionLength: policy.MaxDescriptionLength,
		},
		Auth: AuthConfig{
			Issuer:   "aqualedger",
			Audience: "ledgerd",
			MaxTTL:   Duration{24 * time.Hour},
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: 20, Burst: 40},
		Logging:   LoggingConfig{MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28},
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("LEDGER_ENV"); ok && strings.TrimSpace(v) != "" {
		c.Environment = strings.TrimSpace(v)
	}
	if v, ok := lookup("LEDGER_ADMIN"); ok && strings.TrimSpace(v) != "" {
		c.Administrator = strings.TrimSpace(v)
	}
	if v, ok := lookup("LEDGER_JWT_SECRET"); ok && v != "" {
		c.Auth.JWTSecret = v
	}
	if v, ok := lookup("LEDGER_SQL_DSN"); ok && v != "" {
		c.Storage.SQLDSN = v
	}
}

func (c *Config) applyDefaults() {
	def := Default()
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = def.ListenAddress
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = def.Environment
	}
	if c.OperationTimeout.Duration == 0 {
		c.OperationTimeout = def.OperationTimeout
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = def.Storage.Backend
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = def.Storage.DataDir
	}
	if c.Storage.Backend == BackendSQL && c.Storage.SQLDriver == "" {
		c.Storage.SQLDriver = "postgres"
	}
	r := &c.Rewards
	if r.BaseEventReward == 0 && r.PerMinuteRate == 0 && r.ImageUploadReward == 0 {
		r.BaseEventReward = def.Rewards.BaseEventReward
		r.PerMinuteRate = def.Rewards.PerMinuteRate
		r.ImageUploadReward = def.Rewards.ImageUploadReward
	}
	if r.WasteRateNumerator == 0 && r.WasteRateDenominator == 0 {
		r.WasteRateNumerator = def.Rewards.WasteRateNumerator
		r.WasteRateDenominator = def.Rewards.WasteRateDenominator
	}
	if r.MaxDescriptionLength == 0 {
		r.MaxDescriptionLength = def.Rewards.MaxDescriptionLength
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = def.Auth.Issuer
	}
	if c.Auth.Audience == "" {
		c.Auth.Audience = def.Auth.Audience
	}
	if c.Auth.MaxTTL.Duration == 0 {
		c.Auth.MaxTTL = def.Auth.MaxTTL
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit = def.RateLimit
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = def.Logging.MaxSizeMB
	}
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
