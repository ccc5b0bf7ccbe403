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
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	FeatureFlags  FeatureFlagsConfig
	Eventing      EventingConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Outbox        OutboxConfig
	Stripe        StripeConfig
	Cart          CartConfig
	Checkout      CheckoutConfig
	Payment       PaymentConfig
	Notifications NotificationsConfig
	SMTP          SMTPConfig
	Metrics       MetricsConfig
	Cron          CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Cart.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port         string   `envconfig:"STOREFRONT_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`
	LogFormat    string   `envconfig:"STOREFRONT_LOG_FORMAT" default:"json"`
	CORSOrigins  []string `envconfig:"STOREFRONT_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"STOREFRONT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"STOREFRONT_DB_DSN"`
	Driver string `envconfig:"STOREFRONT_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"STOREFRONT_DB_HOST"`
	Port     int    `envconfig:"STOREFRONT_DB_PORT" default:"5432"`
	User     string `envconfig:"STOREFRONT_DB_USER"`
	Password string `envconfig:"STOREFRONT_DB_PASSWORD"`
	Name     string `envconfig:"STOREFRONT_DB_NAME"`
	SSLMode  string `envconfig:"STOREFRONT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STOREFRONT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOREFRONT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"STOREFRONT_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies access tokens minted by the identity provider.
type JWTConfig struct {
	Secret string `envconfig:"STOREFRONT_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"STOREFRONT_JWT_ISSUER" required:"true"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"STOREFRONT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"STOREFRONT_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"STOREFRONT_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"STOREFRONT_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"STOREFRONT_GCP_CREDENTIALS_JSON"`
}

// PubSubConfig names the topics the outbox publisher writes to and the
// subscriptions the notification worker reads from.
type PubSubConfig struct {
	OrdersTopic              string `envconfig:"STOREFRONT_PUBSUB_ORDERS_TOPIC" default:"sf-order-events"`
	NotificationTopic        string `envconfig:"STOREFRONT_PUBSUB_NOTIFICATION_TOPIC" default:"sf-notification-events"`
	OrdersSubscription       string `envconfig:"STOREFRONT_PUBSUB_ORDERS_SUBSCRIPTION" default:"sf-order-events-notifier"`
	NotificationSubscription string `envconfig:"STOREFRONT_PUBSUB_NOTIFICATION_SUBSCRIPTION" default:"sf-notification-worker"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"STOREFRONT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"STOREFRONT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"STOREFRONT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"STOREFRONT_OUTBOX_RETENTION" default:"720h"`
}

type StripeConfig struct {
	SecretKey     string `envconfig:"STOREFRONT_STRIPE_SECRET_KEY"`
	WebhookSecret string `envconfig:"STOREFRONT_STRIPE_WEBHOOK_SECRET"`
	Env           string `envconfig:"STOREFRONT_STRIPE_ENV" default:"test"`
}

// Enabled reports whether a gateway key was supplied. Without one only
// cash-on-delivery checkout is offered.
func (s StripeConfig) Enabled() bool {
	return strings.TrimSpace(s.SecretKey) != ""
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// CartConfig carries the rules engine caps and cart persistence tuning.
type CartConfig struct {
	MaxPerProduct      int             `envconfig:"STOREFRONT_CART_MAX_PER_PRODUCT" default:"10"`
	MaxTotalItems      int             `envconfig:"STOREFRONT_CART_MAX_TOTAL_ITEMS" default:"50"`
	MaxCartValue       decimal.Decimal `envconfig:"STOREFRONT_CART_MAX_VALUE" default:"100000"`
	AnonymousRetention time.Duration   `envconfig:"STOREFRONT_CART_ANON_RETENTION" default:"168h"`
	AbandonedRetention time.Duration   `envconfig:"STOREFRONT_CART_ABANDONED_RETENTION" default:"720h"`
	CacheTTL           time.Duration   `envconfig:"STOREFRONT_CART_CACHE_TTL" default:"30s"`
	PersistTimeout     time.Duration   `envconfig:"STOREFRONT_CART_PERSIST_TIMEOUT" default:"5s"`
}

func (c CartConfig) validate() error {
	if c.MaxPerProduct <= 0 || c.MaxTotalItems <= 0 {
		return fmt.Errorf("cart limits must be positive")
	}
	if !c.MaxCartValue.IsPositive() {
		return fmt.Errorf("cart value cap must be positive")
	}
	if c.AnonymousRetention <= 0 {
		return fmt.Errorf("anonymous cart retention must be positive")
	}
	return nil
}

type CheckoutConfig struct {
	SessionTTL time.Duration `envconfig:"STOREFRONT_CHECKOUT_SESSION_TTL" default:"1h"`
}

// PaymentConfig tunes the gateway orchestrator and ledger reconciliation.
type PaymentConfig struct {
	Currency           string        `envconfig:"STOREFRONT_PAYMENT_CURRENCY" default:"usd"`
	GatewayTimeout     time.Duration `envconfig:"STOREFRONT_PAYMENT_GATEWAY_TIMEOUT" default:"15s"`
	BreakerMaxFailures uint32        `envconfig:"STOREFRONT_PAYMENT_BREAKER_MAX_FAILURES" default:"5"`
	BreakerOpenFor     time.Duration `envconfig:"STOREFRONT_PAYMENT_BREAKER_OPEN_FOR" default:"30s"`
	ReconcileGrace     time.Duration `envconfig:"STOREFRONT_PAYMENT_RECONCILE_GRACE" default:"5m"`
	ReconcileMaxTries  int           `envconfig:"STOREFRONT_PAYMENT_RECONCILE_MAX_ATTEMPTS" default:"5"`
	PendingExpiry      time.Duration `envconfig:"STOREFRONT_PAYMENT_PENDING_EXPIRY" default:"24h"`
}

type NotificationsConfig struct {
	OperatorEmail string        `envconfig:"STOREFRONT_NOTIFY_OPERATOR_EMAIL"`
	StoreName     string        `envconfig:"STOREFRONT_NOTIFY_STORE_NAME" default:"Storefront"`
	OrderURLBase  string        `envconfig:"STOREFRONT_NOTIFY_ORDER_URL_BASE" default:"https://shop.example.com/orders"`
	ReadRetention time.Duration `envconfig:"STOREFRONT_NOTIFY_READ_RETENTION" default:"720h"`
}

type SMTPConfig struct {
	Host     string `envconfig:"STOREFRONT_SMTP_HOST"`
	Port     int    `envconfig:"STOREFRONT_SMTP_PORT" default:"587"`
	Username string `envconfig:"STOREFRONT_SMTP_USERNAME"`
	Password string `envconfig:"STOREFRONT_SMTP_PASSWORD"`
	From     string `envconfig:"STOREFRONT_SMTP_FROM" default:"orders@example.com"`
}

// Enabled reports whether an SMTP relay is configured.
func (s SMTPConfig) Enabled() bool {
	return strings.TrimSpace(s.Host) != ""
}

// MetricsConfig is the listen address for the worker processes' /metrics endpoint.
type MetricsConfig struct {
	Addr string `envconfig:"STOREFRONT_METRICS_ADDR" default:":9090"`
}

// CronConfig sets how often each upkeep job may run across all cron workers.
// Tick is how often a worker checks for due jobs.
type CronConfig struct {
	Tick                     time.Duration `envconfig:"STOREFRONT_CRON_TICK" default:"1m"`
	ReconcileEvery           time.Duration `envconfig:"STOREFRONT_CRON_RECONCILE_EVERY" default:"5m"`
	CartPurgeEvery           time.Duration `envconfig:"STOREFRONT_CRON_CART_PURGE_EVERY" default:"6h"`
	OutboxRetentionEvery     time.Duration `envconfig:"STOREFRONT_CRON_OUTBOX_RETENTION_EVERY" default:"24h"`
	NotificationCleanupEvery time.Duration `envconfig:"STOREFRONT_CRON_NOTIFICATION_CLEANUP_EVERY" default:"24h"`
}

func (db *DBConfig) ensureDSN(sqlite bool) error {
	if sqlite {
		db.Driver = DBDriverSQLite
		if db.DSN == "" {
			db.DSN = "file:storefront.db?cache=shared"
		}
		return nil
	}
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}
	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
