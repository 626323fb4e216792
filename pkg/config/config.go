package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Flutterwave  FlutterwaveConfig
	Discount     DiscountConfig
	Subscription SubscriptionConfig
	Reconcile    ReconcileConfig
	Admin        AdminConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
	Sendgrid     SendgridConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MARALEMPAY_APP_ENV" required:"true"`
	Port         string `envconfig:"MARALEMPAY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MARALEMPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MARALEMPAY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MARALEMPAY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MARALEMPAY_DB_DSN"`
	Driver string `envconfig:"MARALEMPAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MARALEMPAY_DB_HOST"`
	LegacyPort     int    `envconfig:"MARALEMPAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MARALEMPAY_DB_USER"`
	LegacyPassword string `envconfig:"MARALEMPAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"MARALEMPAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"MARALEMPAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MARALEMPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MARALEMPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MARALEMPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MARALEMPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MARALEMPAY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MARALEMPAY_REDIS_ADDR"`
	Password     string        `envconfig:"MARALEMPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"MARALEMPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MARALEMPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MARALEMPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MARALEMPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MARALEMPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MARALEMPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// FlutterwaveConfig carries payment gateway credentials. The client refuses to
// start without the secret key and webhook secret; there is no degraded mode
// for money-movement calls.
type FlutterwaveConfig struct {
	SecretKey     string        `envconfig:"MARALEMPAY_FLW_SECRET_KEY"`
	WebhookSecret string        `envconfig:"MARALEMPAY_FLW_WEBHOOK_SECRET"`
	BaseURL       string        `envconfig:"MARALEMPAY_FLW_BASE_URL" default:"https://api.flutterwave.com/v3"`
	RedirectURL   string        `envconfig:"MARALEMPAY_FLW_REDIRECT_URL"`
	Timeout       time.Duration `envconfig:"MARALEMPAY_FLW_TIMEOUT" default:"30s"`
}

type DiscountConfig struct {
	Rate             string `envconfig:"MARALEMPAY_DISCOUNT_RATE" default:"0.10"`
	MinWalletBalance string `envconfig:"MARALEMPAY_DISCOUNT_MIN_WALLET_BALANCE" default:"1000"`
}

// RateDecimal parses the configured discount rate, falling back to zero on bad input.
func (d DiscountConfig) RateDecimal() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(d.Rate))
	if err != nil || rate.IsNegative() {
		return decimal.Zero
	}
	return rate
}

// MinWalletBalanceDecimal parses the wallet balance eligibility threshold.
func (d DiscountConfig) MinWalletBalanceDecimal() decimal.Decimal {
	min, err := decimal.NewFromString(strings.TrimSpace(d.MinWalletBalance))
	if err != nil || min.IsNegative() {
		return decimal.Zero
	}
	return min
}

type SubscriptionConfig struct {
	PriceNGN     string `envconfig:"MARALEMPAY_SUBSCRIPTION_PRICE_NGN" default:"4500"`
	DurationDays int    `envconfig:"MARALEMPAY_SUBSCRIPTION_DURATION_DAYS" default:"90"`
}

// PriceDecimal parses the subscription price.
func (s SubscriptionConfig) PriceDecimal() decimal.Decimal {
	price, err := decimal.NewFromString(strings.TrimSpace(s.PriceNGN))
	if err != nil {
		return decimal.NewFromInt(4500)
	}
	return price
}

type ReconcileConfig struct {
	StalenessWindow    time.Duration `envconfig:"MARALEMPAY_RECONCILE_STALENESS_WINDOW" default:"5m"`
	MaxFulfillAttempts int           `envconfig:"MARALEMPAY_RECONCILE_MAX_FULFILL_ATTEMPTS" default:"3"`
	SweepBatchSize     int           `envconfig:"MARALEMPAY_RECONCILE_SWEEP_BATCH_SIZE" default:"100"`
}

type AdminConfig struct {
	Token string `envconfig:"MARALEMPAY_ADMIN_TOKEN"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"MARALEMPAY_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"MARALEMPAY_CRON_LOCK_TTL" default:"10m"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"MARALEMPAY_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"MARALEMPAY_AUTO_MIGRATE" default:"false"`
}

type SendgridConfig struct {
	APIKey      string `envconfig:"MARALEMPAY_SENDGRID_API_KEY"`
	DefaultFrom string `envconfig:"MARALEMPAY_SENDGRID_FROM_EMAIL"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
