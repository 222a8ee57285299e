package config

const EnvPrefix = "SHOPCORE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

const (
	EnvAppEnv   = "SHOPCORE_APP_ENV"
	EnvPort     = "SHOPCORE_APP_PORT"
	EnvLogLevel = "SHOPCORE_LOG_LEVEL"

	EnvDBDSN    = "SHOPCORE_DB_DSN"
	EnvDBDriver = "SHOPCORE_DB_DRIVER"
	EnvDBHost   = "SHOPCORE_DB_HOST"
	EnvDBPort   = "SHOPCORE_DB_PORT"
	EnvDBUser   = "SHOPCORE_DB_USER"
	EnvDBPass   = "SHOPCORE_DB_PASSWORD"
	EnvDBName   = "SHOPCORE_DB_NAME"

	EnvRedisURL = "SHOPCORE_REDIS_URL"

	EnvReservationTimeout        = "SHOPCORE_RESERVATION_TIMEOUT"
	EnvReservationSweepInterval  = "SHOPCORE_RESERVATION_SWEEP_INTERVAL"
	EnvReservationSweepBatch     = "SHOPCORE_RESERVATION_SWEEP_BATCH_SIZE"
	EnvReservationRetryAttempts  = "SHOPCORE_RESERVATION_RETRY_MAX_ATTEMPTS"
	EnvReservationRetryBaseDelay = "SHOPCORE_RESERVATION_RETRY_BASE_DELAY"

	EnvCacheStockTTL = "SHOPCORE_CACHE_STOCK_TTL"

	EnvGCPProjectID         = "SHOPCORE_GCP_PROJECT_ID"
	EnvPubSubInventoryTopic = "SHOPCORE_PUBSUB_INVENTORY_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
