package config

const (
	EnvPrefix = "WORKSHOP"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv            = "WORKSHOP_APP_ENV"
	EnvPort              = "WORKSHOP_APP_PORT"
	EnvDBDSN             = "WORKSHOP_DB_DSN"
	EnvDBHost            = "WORKSHOP_DB_HOST"
	EnvDBUser            = "WORKSHOP_DB_USER"
	EnvDBName            = "WORKSHOP_DB_NAME"
	EnvDBPassword        = "WORKSHOP_DB_PASSWORD"
	EnvRedisURL          = "WORKSHOP_REDIS_URL"
	EnvJWTSecret         = "WORKSHOP_JWT_SECRET"
	EnvJWTIssuer         = "WORKSHOP_JWT_ISSUER"
	EnvUseSQLite         = "WORKSHOP_USE_SQLITE"
	EnvLowStockThreshold = "WORKSHOP_LOW_STOCK_THRESHOLD"
	EnvNotifyChannel     = "WORKSHOP_NOTIFICATIONS_CHANNEL"

	// DefaultSQLiteDSN serializes writers so row locks are not needed on SQLite.
	DefaultSQLiteDSN = "file:workshop.db?_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
