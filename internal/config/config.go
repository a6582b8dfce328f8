// Package config defines the bot's configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Config is the root configuration. Fields come from a TOML file merged over
// Defaults() and are then overridden by ARBBOT_* environment variables.
type Config struct {
	Strato    StratoConfig    `toml:"strato"`
	OAuth     OAuthConfig     `toml:"oauth"`
	Oracle    OracleConfig    `toml:"oracle"`
	Trading   TradingConfig   `toml:"trading"`
	Execution ExecutionConfig `toml:"execution"`
	Pools     []PoolConfig    `toml:"pools"`
	CostBasis CostBasisConfig `toml:"cost_basis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Archive   ArchiveConfig   `toml:"archive"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// StratoConfig holds the node endpoint.
type StratoConfig struct {
	NodeURL        string   `toml:"node_url"`
	RequestTimeout duration `toml:"request_timeout"`
	SubmitTimeout  duration `toml:"submit_timeout"`
}

// OAuthConfig holds the password-grant credentials for the node.
type OAuthConfig struct {
	DiscoveryURL string `toml:"discovery_url"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	// PasswordFile holds a password sealed with arbseal. It is opened with
	// the ARBBOT_OAUTH_PASSPHRASE environment variable when Password is
	// empty.
	PasswordFile string `toml:"password_file"`
	Passphrase   string `toml:"-"`
}

// OracleConfig configures the external USD price API.
type OracleConfig struct {
	APIKey            string   `toml:"api_key"`
	BaseURL           string   `toml:"base_url"`
	Timeout           duration `toml:"timeout"`
	CacheDuration     duration `toml:"cache_duration"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	// SharedQuotaPerMinute caps requests across every bot sharing Redis.
	// Zero disables the shared quota.
	SharedQuotaPerMinute int `toml:"shared_quota_per_minute"`
}

// TradingConfig holds the pricing parameters.
type TradingConfig struct {
	FeeBps           int64           `toml:"fee_bps"`
	MinProfit        decimal.Decimal `toml:"min_profit"` // quote token units
	SlippageBps      int64           `toml:"slippage_bps"`
	SwapDeadline     duration        `toml:"swap_deadline"`
	BaseTokenAddress string          `toml:"base_token_address"`
	BaseTokenSymbol  string          `toml:"base_token_symbol"`
}

// ExecutionConfig controls the scan loop.
type ExecutionConfig struct {
	Interval        duration `toml:"interval"`
	ConfirmTimeout  duration `toml:"confirm_timeout"`
	ConfirmPoll     duration `toml:"confirm_poll"`
	DryRun          bool     `toml:"dry_run"`
	ProfitFile      string   `toml:"profit_file"`
	EnsureApprovals bool     `toml:"ensure_approvals"`
}

// PoolConfig is one traded pool. FeeBps overrides trading.fee_bps when set.
type PoolConfig struct {
	Address           string `toml:"address"`
	ExternalTokenName string `toml:"external_token_name"`
	QuoteTokenName    string `toml:"quote_token_name"`
	FeeBps            *int64 `toml:"fee_bps"`
}

// Fee returns the pool's fee, falling back to def.
func (p PoolConfig) Fee(def int64) int64 {
	if p.FeeBps != nil {
		return *p.FeeBps
	}
	return def
}

// Cost basis sources.
const (
	CostBasisCirrus   = "cirrus"
	CostBasisPostgres = "postgres"
)

// CostBasisConfig selects where the sell guard reads swap history from.
type CostBasisConfig struct {
	Source string `toml:"source"`
}

// PostgresConfig holds the Cirrus indexer connection and the optional
// execution journal.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	Journal       bool   `toml:"journal"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters and the shared-state
// features it enables.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	PairLeaseTTL duration `toml:"pair_lease_ttl"`
}

// ServerConfig holds status API parameters.
type ServerConfig struct {
	Enabled        bool     `toml:"enabled"`
	Port           int      `toml:"port"`
	CORSOrigins    []string `toml:"cors_origins"`
	APIKey         string   `toml:"api_key"`
	RateLimitRPS   float64  `toml:"rate_limit_rps"`
	RateLimitBurst int      `toml:"rate_limit_burst"`
}

// NotifyConfig holds chat notification credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ArchiveConfig controls periodic export of the execution journal and profit
// snapshots to S3-compatible object storage. Requires postgres.journal.
type ArchiveConfig struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"` // empty for AWS S3
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	Prefix         string   `toml:"prefix"`
	Interval       duration `toml:"interval"`
}

// duration lets TOML strings such as "30s" decode into a time.Duration.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultBaseToken is USDST, the stable-value token gas is paid in.
const DefaultBaseToken = "937efa7e3a77e20bbdbd7c0d32b6514f368c1010"

// Defaults returns the configuration used for anything the file omits.
// Dry run is on by default.
func Defaults() Config {
	return Config{
		Strato: StratoConfig{
			RequestTimeout: duration{10 * time.Second},
			SubmitTimeout:  duration{30 * time.Second},
		},
		Oracle: OracleConfig{
			BaseURL:           "https://api.g.alchemy.com/prices/v1",
			Timeout:           duration{10 * time.Second},
			CacheDuration:     duration{60 * time.Second},
			RequestsPerSecond: 5,
		},
		Trading: TradingConfig{
			FeeBps:           30,
			MinProfit:        decimal.Zero,
			SlippageBps:      400,
			SwapDeadline:     duration{60 * time.Second},
			BaseTokenAddress: DefaultBaseToken,
			BaseTokenSymbol:  "USDST",
		},
		Execution: ExecutionConfig{
			Interval:        duration{10 * time.Second},
			ConfirmTimeout:  duration{120 * time.Second},
			ConfirmPoll:     duration{2 * time.Second},
			DryRun:          true,
			ProfitFile:      "profit.json",
			EnsureApprovals: true,
		},
		CostBasis: CostBasisConfig{Source: CostBasisCirrus},
		Postgres: PostgresConfig{
			Host:         "localhost",
			Port:         5432,
			Database:     "cirrus",
			User:         "postgres",
			SSLMode:      "disable",
			PoolMaxConns: 4,
			PoolMinConns: 1,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			KeyPrefix:    "arbbot",
			PairLeaseTTL: duration{3 * time.Minute},
		},
		Server: ServerConfig{
			Enabled:        true,
			Port:           8000,
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
		Notify: NotifyConfig{
			Events: []string{"execution_success", "execution_failure"},
		},
		Archive: ArchiveConfig{
			UseSSL:   true,
			Prefix:   "arbbot",
			Interval: duration{time.Hour},
		},
		Mode:     "run",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"run":    true,
	"scan":   true,
	"server": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate reports every invalid or missing value in one error.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, scan, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Strato.NodeURL == "" {
		errs = append(errs, "strato: node_url must not be empty")
	}
	if c.OAuth.DiscoveryURL == "" || c.OAuth.ClientID == "" {
		errs = append(errs, "oauth: discovery_url and client_id must be set")
	}
	if c.OAuth.Username == "" || c.OAuth.Password == "" {
		errs = append(errs, "oauth: username and password must be set")
	}

	if c.Oracle.APIKey == "" {
		errs = append(errs, "oracle: api_key must be set")
	}
	if c.Oracle.RequestsPerSecond <= 0 {
		errs = append(errs, "oracle: requests_per_second must be > 0")
	}

	if c.Trading.FeeBps < 0 || c.Trading.FeeBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("trading: fee_bps must be in [0, 10000), got %d", c.Trading.FeeBps))
	}
	if c.Trading.MinProfit.IsNegative() {
		errs = append(errs, "trading: min_profit must be >= 0")
	}
	if c.Trading.SlippageBps < 0 || c.Trading.SlippageBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("trading: slippage_bps must be in [0, 10000), got %d", c.Trading.SlippageBps))
	}
	if c.Trading.SwapDeadline.Duration <= 0 {
		errs = append(errs, "trading: swap_deadline must be > 0")
	}
	if !common.IsHexAddress(c.Trading.BaseTokenAddress) {
		errs = append(errs, fmt.Sprintf("trading: base_token_address %q is not an address", c.Trading.BaseTokenAddress))
	}

	if c.Execution.Interval.Duration <= 0 {
		errs = append(errs, "execution: interval must be > 0")
	}
	if c.Execution.ConfirmTimeout.Duration <= 0 || c.Execution.ConfirmPoll.Duration <= 0 {
		errs = append(errs, "execution: confirm_timeout and confirm_poll must be > 0")
	}
	if c.Execution.ProfitFile == "" {
		errs = append(errs, "execution: profit_file must not be empty")
	}

	if len(c.Pools) == 0 {
		errs = append(errs, "pools: at least one pool must be configured")
	}
	seen := make(map[string]bool, len(c.Pools))
	for i, p := range c.Pools {
		if !common.IsHexAddress(p.Address) {
			errs = append(errs, fmt.Sprintf("pools[%d]: address %q is not an address", i, p.Address))
		} else if k := strings.ToLower(common.HexToAddress(p.Address).Hex()); seen[k] {
			errs = append(errs, fmt.Sprintf("pools[%d]: duplicate address %s", i, p.Address))
		} else {
			seen[k] = true
		}
		if p.ExternalTokenName == "" {
			errs = append(errs, fmt.Sprintf("pools[%d]: external_token_name is required", i))
		}
		if f := p.Fee(c.Trading.FeeBps); f < 0 || f >= 10_000 {
			errs = append(errs, fmt.Sprintf("pools[%d]: fee_bps must be in [0, 10000), got %d", i, f))
		}
	}

	switch c.CostBasis.Source {
	case CostBasisCirrus:
	case CostBasisPostgres:
		errs = append(errs, c.postgresErrors()...)
	default:
		errs = append(errs, fmt.Sprintf("cost_basis: unknown source %q (valid: cirrus, postgres)", c.CostBasis.Source))
	}
	if c.Postgres.Journal && c.CostBasis.Source != CostBasisPostgres {
		errs = append(errs, c.postgresErrors()...)
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.PairLeaseTTL.Duration < c.Trading.SwapDeadline.Duration {
			errs = append(errs, "redis: pair_lease_ttl must be at least trading.swap_deadline")
		}
	}

	if c.Server.Enabled || strings.EqualFold(c.Mode, "server") {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if c.Archive.Enabled {
		if c.Archive.Bucket == "" || c.Archive.Region == "" {
			errs = append(errs, "archive: bucket and region must be set")
		}
		if !c.Postgres.Journal {
			errs = append(errs, "archive: requires postgres.journal")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) postgresErrors() []string {
	var errs []string
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}
	return errs
}
