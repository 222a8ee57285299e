package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Reservation  ReservationConfig
	Cache        CacheConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Reservation.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SHOPCORE_APP_ENV" required:"true"`
	Port         string `envconfig:"SHOPCORE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"SHOPCORE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SHOPCORE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SHOPCORE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SHOPCORE_DB_DSN"`
	Driver string `envconfig:"SHOPCORE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SHOPCORE_DB_HOST"`
	LegacyPort     int    `envconfig:"SHOPCORE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SHOPCORE_DB_USER"`
	LegacyPassword string `envconfig:"SHOPCORE_DB_PASSWORD"`
	LegacyName     string `envconfig:"SHOPCORE_DB_NAME"`
	LegacySSLMode  string `envconfig:"SHOPCORE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SHOPCORE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SHOPCORE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SHOPCORE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SHOPCORE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SHOPCORE_REDIS_URL"`
	Address      string        `envconfig:"SHOPCORE_REDIS_ADDR"`
	Password     string        `envconfig:"SHOPCORE_REDIS_PASSWORD"`
	DB           int           `envconfig:"SHOPCORE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SHOPCORE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SHOPCORE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SHOPCORE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SHOPCORE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SHOPCORE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// ReservationConfig drives the reservation timeout and the sweep that
// releases reservations older than it.
type ReservationConfig struct {
	Timeout          time.Duration `envconfig:"SHOPCORE_RESERVATION_TIMEOUT" default:"15m"`
	SweepInterval    time.Duration `envconfig:"SHOPCORE_RESERVATION_SWEEP_INTERVAL" default:"5m"`
	SweepBatchSize   int           `envconfig:"SHOPCORE_RESERVATION_SWEEP_BATCH_SIZE" default:"100"`
	RetryMaxAttempts int           `envconfig:"SHOPCORE_RESERVATION_RETRY_MAX_ATTEMPTS" default:"3"`
	RetryBaseDelay   time.Duration `envconfig:"SHOPCORE_RESERVATION_RETRY_BASE_DELAY" default:"200ms"`
	RetryMaxDelay    time.Duration `envconfig:"SHOPCORE_RESERVATION_RETRY_MAX_DELAY" default:"5s"`
}

func (r ReservationConfig) validate() error {
	if r.Timeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvReservationTimeout)
	}
	if r.SweepInterval <= 0 {
		return fmt.Errorf("%s must be positive", EnvReservationSweepInterval)
	}
	if r.SweepBatchSize <= 0 {
		return fmt.Errorf("%s must be positive", EnvReservationSweepBatch)
	}
	if r.RetryMaxAttempts <= 0 {
		return fmt.Errorf("%s must be positive", EnvReservationRetryAttempts)
	}
	return nil
}

type CacheConfig struct {
	StockTTL time.Duration `envconfig:"SHOPCORE_CACHE_STOCK_TTL" default:"5m"`
}

type CronConfig struct {
	LockKey string        `envconfig:"SHOPCORE_CRON_LOCK_KEY" default:"cron-worker"`
	LockTTL time.Duration `envconfig:"SHOPCORE_CRON_LOCK_TTL" default:"4m"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"SHOPCORE_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SHOPCORE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"SHOPCORE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SHOPCORE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	InventoryTopic string `envconfig:"SHOPCORE_PUBSUB_INVENTORY_TOPIC" default:"shop-inventory-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"SHOPCORE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"SHOPCORE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"SHOPCORE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"SHOPCORE_OUTBOX_RETENTION_DAYS" default:"30"`
}

func (db *DBConfig) ensureDSN() error {
	switch strings.ToLower(db.Driver) {
	case DriverPostgres, DriverMySQL, DriverSQLite:
	default:
		return fmt.Errorf("%s must be one of %s, %s, %s", EnvDBDriver, DriverPostgres, DriverMySQL, DriverSQLite)
	}

	if db.DSN != "" {
		return nil
	}
	if strings.EqualFold(db.Driver, DriverSQLite) {
		return fmt.Errorf("%s is required for the %s driver", EnvDBDSN, DriverSQLite)
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

	if strings.EqualFold(db.Driver, DriverMySQL) {
		db.DSN = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
			db.LegacyUser, db.LegacyPassword, db.LegacyHost, db.LegacyPort, db.LegacyName)
		return nil
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
