package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stratoarb/internal/crypto"
)

// Load merges the TOML file at path over Defaults(), loads .env if present
// and applies ARBBOT_* overrides. An empty path skips the file. The result
// is not validated; call Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	pw, err := crypto.Load(crypto.SecretSource{
		Raw:        cfg.OAuth.Password,
		Path:       cfg.OAuth.PasswordFile,
		Passphrase: cfg.OAuth.Passphrase,
	})
	if err != nil {
		return nil, fmt.Errorf("config: oauth password: %w", err)
	}
	cfg.OAuth.Password = pw
	cfg.OAuth.Passphrase = ""
	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets and per-deployment values
// without touching the TOML file. Only set, non-empty variables apply.
func applyEnvOverrides(cfg *Config) error {
	// strato / oauth
	setStr(&cfg.Strato.NodeURL, "ARBBOT_STRATO_NODE_URL")
	setDuration(&cfg.Strato.RequestTimeout, "ARBBOT_STRATO_REQUEST_TIMEOUT")
	setDuration(&cfg.Strato.SubmitTimeout, "ARBBOT_STRATO_SUBMIT_TIMEOUT")
	setStr(&cfg.OAuth.DiscoveryURL, "ARBBOT_OAUTH_DISCOVERY_URL")
	setStr(&cfg.OAuth.ClientID, "ARBBOT_OAUTH_CLIENT_ID")
	setStr(&cfg.OAuth.ClientSecret, "ARBBOT_OAUTH_CLIENT_SECRET")
	setStr(&cfg.OAuth.Username, "ARBBOT_OAUTH_USERNAME")
	setStr(&cfg.OAuth.Password, "ARBBOT_OAUTH_PASSWORD")
	setStr(&cfg.OAuth.PasswordFile, "ARBBOT_OAUTH_PASSWORD_FILE")
	setStr(&cfg.OAuth.Passphrase, "ARBBOT_OAUTH_PASSPHRASE")

	// oracle
	setStr(&cfg.Oracle.APIKey, "ARBBOT_ORACLE_API_KEY")
	setStr(&cfg.Oracle.APIKey, "ALCHEMY_API_KEY") // name used by existing deployments
	setStr(&cfg.Oracle.BaseURL, "ARBBOT_ORACLE_BASE_URL")
	setDuration(&cfg.Oracle.Timeout, "ARBBOT_ORACLE_TIMEOUT")
	setDuration(&cfg.Oracle.CacheDuration, "ARBBOT_ORACLE_CACHE_DURATION")
	setFloat64(&cfg.Oracle.RequestsPerSecond, "ARBBOT_ORACLE_REQUESTS_PER_SECOND")
	setInt(&cfg.Oracle.SharedQuotaPerMinute, "ARBBOT_ORACLE_SHARED_QUOTA_PER_MINUTE")

	// trading
	setInt64(&cfg.Trading.FeeBps, "ARBBOT_TRADING_FEE_BPS")
	setDecimal(&cfg.Trading.MinProfit, "ARBBOT_TRADING_MIN_PROFIT")
	setInt64(&cfg.Trading.SlippageBps, "ARBBOT_TRADING_SLIPPAGE_BPS")
	setDuration(&cfg.Trading.SwapDeadline, "ARBBOT_TRADING_SWAP_DEADLINE")
	setStr(&cfg.Trading.BaseTokenAddress, "ARBBOT_TRADING_BASE_TOKEN_ADDRESS")
	setStr(&cfg.Trading.BaseTokenSymbol, "ARBBOT_TRADING_BASE_TOKEN_SYMBOL")

	// execution
	setDuration(&cfg.Execution.Interval, "ARBBOT_EXECUTION_INTERVAL")
	setDuration(&cfg.Execution.ConfirmTimeout, "ARBBOT_EXECUTION_CONFIRM_TIMEOUT")
	setDuration(&cfg.Execution.ConfirmPoll, "ARBBOT_EXECUTION_CONFIRM_POLL")
	setBool(&cfg.Execution.DryRun, "ARBBOT_EXECUTION_DRY_RUN")
	setStr(&cfg.Execution.ProfitFile, "ARBBOT_EXECUTION_PROFIT_FILE")
	setBool(&cfg.Execution.EnsureApprovals, "ARBBOT_EXECUTION_ENSURE_APPROVALS")
	if err := setPools(&cfg.Pools, "ARBBOT_POOLS"); err != nil {
		return err
	}

	// cost basis / postgres
	setStr(&cfg.CostBasis.Source, "ARBBOT_COST_BASIS_SOURCE")
	setStr(&cfg.Postgres.DSN, "ARBBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.Journal, "ARBBOT_POSTGRES_JOURNAL")
	setBool(&cfg.Postgres.RunMigrations, "ARBBOT_POSTGRES_RUN_MIGRATIONS")

	// redis
	setBool(&cfg.Redis.Enabled, "ARBBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARBBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "ARBBOT_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.PairLeaseTTL, "ARBBOT_REDIS_PAIR_LEASE_TTL")

	// server
	setBool(&cfg.Server.Enabled, "ARBBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ARBBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ARBBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ARBBOT_SERVER_API_KEY")
	setFloat64(&cfg.Server.RateLimitRPS, "ARBBOT_SERVER_RATE_LIMIT_RPS")
	setInt(&cfg.Server.RateLimitBurst, "ARBBOT_SERVER_RATE_LIMIT_BURST")

	// notify
	setStr(&cfg.Notify.TelegramToken, "ARBBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBBOT_NOTIFY_EVENTS")

	// archive
	setBool(&cfg.Archive.Enabled, "ARBBOT_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Endpoint, "ARBBOT_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "ARBBOT_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "ARBBOT_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "ARBBOT_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "ARBBOT_ARCHIVE_SECRET_KEY")
	setBool(&cfg.Archive.ForcePathStyle, "ARBBOT_ARCHIVE_FORCE_PATH_STYLE")
	setStr(&cfg.Archive.Prefix, "ARBBOT_ARCHIVE_PREFIX")
	setDuration(&cfg.Archive.Interval, "ARBBOT_ARCHIVE_INTERVAL")

	setStr(&cfg.Mode, "ARBBOT_MODE")
	setStr(&cfg.LogLevel, "ARBBOT_LOG_LEVEL")
	return nil
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			*dst = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		if cleaned := splitList(v); len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setPools reads "address:EXTERNAL[:QUOTE],..." and replaces the pool list.
func setPools(dst *[]PoolConfig, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var pools []PoolConfig
	for _, item := range splitList(v) {
		parts := strings.Split(item, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return fmt.Errorf("config: %s: entry %q must be address:EXTERNAL[:QUOTE]", key, item)
		}
		p := PoolConfig{Address: parts[0], ExternalTokenName: parts[1]}
		if len(parts) == 3 {
			p.QuoteTokenName = parts[2]
		}
		pools = append(pools, p)
	}
	*dst = pools
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
