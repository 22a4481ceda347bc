package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App       AppConfig
	Service   ServiceConfig
	DB        DBConfig
	Redis     RedisConfig
	Stripe    StripeConfig
	Checkout  CheckoutConfig
	Retry     RetryConfig
	Reconcile ReconcileConfig
	GCP       GCPConfig
	PubSub    PubSubConfig
	Outbox    OutboxConfig
	Features  FeatureFlagsConfig
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
	Env          string `envconfig:"OVERTONE_APP_ENV" required:"true"`
	Port         string `envconfig:"OVERTONE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"OVERTONE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"OVERTONE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"OVERTONE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"OVERTONE_DB_DSN"`
	Driver string `envconfig:"OVERTONE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"OVERTONE_DB_HOST"`
	LegacyPort     int    `envconfig:"OVERTONE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"OVERTONE_DB_USER"`
	LegacyPassword string `envconfig:"OVERTONE_DB_PASSWORD"`
	LegacyName     string `envconfig:"OVERTONE_DB_NAME"`
	LegacySSLMode  string `envconfig:"OVERTONE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"OVERTONE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"OVERTONE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"OVERTONE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"OVERTONE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"OVERTONE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"OVERTONE_REDIS_ADDR"`
	Password     string        `envconfig:"OVERTONE_REDIS_PASSWORD"`
	DB           int           `envconfig:"OVERTONE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"OVERTONE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"OVERTONE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"OVERTONE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"OVERTONE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"OVERTONE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type StripeConfig struct {
	APIKey        string `envconfig:"OVERTONE_STRIPE_API_KEY"`
	WebhookSecret string `envconfig:"OVERTONE_STRIPE_WEBHOOK_SECRET"`
	Env           string `envconfig:"OVERTONE_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type CheckoutConfig struct {
	SuccessURL string `envconfig:"OVERTONE_CHECKOUT_SUCCESS_URL" required:"true"`
	CancelURL  string `envconfig:"OVERTONE_CHECKOUT_CANCEL_URL" required:"true"`
	Currency   string `envconfig:"OVERTONE_CHECKOUT_CURRENCY" default:"usd"`
}

type RetryConfig struct {
	MaxAttempts int           `envconfig:"OVERTONE_RETRY_MAX_ATTEMPTS" default:"3"`
	BaseDelay   time.Duration `envconfig:"OVERTONE_RETRY_BASE_DELAY" default:"1s"`
	Exponential bool          `envconfig:"OVERTONE_RETRY_EXPONENTIAL" default:"true"`
}

type ReconcileConfig struct {
	LockTTL time.Duration `envconfig:"OVERTONE_RECONCILE_LOCK_TTL" default:"30s"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"OVERTONE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"OVERTONE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"OVERTONE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	ConfirmationTopic        string `envconfig:"OVERTONE_PUBSUB_CONFIRMATION_TOPIC" default:"order-confirmation-events"`
	ConfirmationSubscription string `envconfig:"OVERTONE_PUBSUB_CONFIRMATION_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"OVERTONE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"OVERTONE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"OVERTONE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"OVERTONE_AUTO_MIGRATE" default:"false"`
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
