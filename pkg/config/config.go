package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	FeatureFlags  FeatureFlagsConfig
	Stock         StockConfig
	Notifications NotificationsConfig
	Idempotency   IdempotencyConfig
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
	if cfg.Stock.LowStockThreshold < 0 {
		return nil, fmt.Errorf("%s must not be negative", EnvLowStockThreshold)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"WORKSHOP_APP_ENV" required:"true"`
	Port         string `envconfig:"WORKSHOP_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"WORKSHOP_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"WORKSHOP_LOG_WARN_STACK" default:"false"`

	CORSOrigins     []string      `envconfig:"WORKSHOP_CORS_ORIGINS"`
	ShutdownTimeout time.Duration `envconfig:"WORKSHOP_SHUTDOWN_TIMEOUT" default:"15s"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"WORKSHOP_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"WORKSHOP_DB_DSN"`
	Driver string `envconfig:"WORKSHOP_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"WORKSHOP_DB_HOST"`
	LegacyPort     int    `envconfig:"WORKSHOP_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"WORKSHOP_DB_USER"`
	LegacyPassword string `envconfig:"WORKSHOP_DB_PASSWORD"`
	LegacyName     string `envconfig:"WORKSHOP_DB_NAME"`
	LegacySSLMode  string `envconfig:"WORKSHOP_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"WORKSHOP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"WORKSHOP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"WORKSHOP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"WORKSHOP_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"WORKSHOP_REDIS_URL" required:"true"`
	Address      string        `envconfig:"WORKSHOP_REDIS_ADDR"`
	Password     string        `envconfig:"WORKSHOP_REDIS_PASSWORD"`
	DB           int           `envconfig:"WORKSHOP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"WORKSHOP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"WORKSHOP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"WORKSHOP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"WORKSHOP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"WORKSHOP_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies access tokens minted by the dashboard's session service.
type JWTConfig struct {
	Secret string `envconfig:"WORKSHOP_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"WORKSHOP_JWT_ISSUER" required:"true"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"WORKSHOP_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"WORKSHOP_AUTO_MIGRATE" default:"false"`
}

type StockConfig struct {
	LowStockThreshold int `envconfig:"WORKSHOP_LOW_STOCK_THRESHOLD" default:"10"`
}

type NotificationsConfig struct {
	Enabled bool   `envconfig:"WORKSHOP_NOTIFICATIONS_ENABLED" default:"true"`
	Channel string `envconfig:"WORKSHOP_NOTIFICATIONS_CHANNEL" default:"workshop:low-stock"`
}

type IdempotencyConfig struct {
	TTL time.Duration `envconfig:"WORKSHOP_IDEMPOTENCY_TTL" default:"24h"`
}

type CronConfig struct {
	Interval         time.Duration `envconfig:"WORKSHOP_CRON_INTERVAL" default:"1h"`
	LockTTL          time.Duration `envconfig:"WORKSHOP_CRON_LOCK_TTL" default:"10m"`
	LedgerAuditBatch int           `envconfig:"WORKSHOP_CRON_LEDGER_AUDIT_BATCH" default:"500"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" {
		return nil
	}
	if useSQLite {
		db.DSN = DefaultSQLiteDSN
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
