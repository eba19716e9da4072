package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/workshop-backend/pkg/config"
	"github.com/angelmondragon/workshop-backend/pkg/db"
	"github.com/angelmondragon/workshop-backend/pkg/logger"
	"github.com/angelmondragon/workshop-backend/pkg/migrate"
)

type options struct {
	cmd     string
	dir     string
	name    string
	version string
}

func main() {
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.cmd, "cmd", "up", "migration command: up|down|status|version|create|validate")
	flag.StringVar(&opts.dir, "dir", "", "goose migrations directory (defaults to the tree for the configured dialect)")
	flag.StringVar(&opts.name, "name", "", "migration name (for create)")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "config load failed", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": opts.cmd,
	})
	if err := run(ctx, cfg, logg, opts); err != nil {
		logg.Error(ctx, "migrate failed", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, opts options) error {
	switch opts.cmd {
	case "create":
		return create(ctx, logg, opts)
	case "validate":
		return validate(ctx, logg, opts)
	case "up", "down", "status", "version":
	default:
		return fmt.Errorf("unknown -cmd value %q", opts.cmd)
	}

	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return fmt.Errorf("sql database: %w", err)
	}

	dialect := migrate.DialectForConfig(cfg)
	dir := opts.dir
	if dir == "" {
		dir = migrate.DialectDirs[dialect]
	}
	ctx = logg.WithFields(ctx, map[string]any{"dialect": dialect, "dir": dir})
	logg.Info(ctx, "migrate ready")

	if opts.cmd == "version" {
		if opts.version == "" {
			return fmt.Errorf("missing -version for version command")
		}
		return migrate.MigrateToVersion(ctx, sqlDB, dialect, dir, opts.version)
	}
	return migrate.Run(ctx, sqlDB, dialect, dir, opts.cmd)
}

// create writes a paired postgres/sqlite migration unless -dir pins a single tree.
func create(ctx context.Context, logg *logger.Logger, opts options) error {
	if opts.name == "" {
		return fmt.Errorf("missing -name for create")
	}

	now := time.Now()
	if opts.dir != "" {
		path, err := migrate.CreateSQLMigration(opts.dir, "", opts.name, now)
		if err != nil {
			return err
		}
		logg.Info(logg.WithFields(ctx, map[string]any{"path": path}), "migration created")
		return nil
	}

	paths, err := migrate.CreateMigrationSet(migrate.DialectDirs, opts.name, now)
	if err != nil {
		return err
	}
	logg.Info(logg.WithFields(ctx, map[string]any{"paths": paths}), "migration set created")
	return nil
}

func validate(ctx context.Context, logg *logger.Logger, opts options) error {
	if opts.dir != "" {
		names, err := migrate.ValidateDir(opts.dir)
		if err != nil {
			return err
		}
		logg.Info(logg.WithFields(ctx, map[string]any{"dir": opts.dir, "migrations": len(names)}), "migration validation passed")
		return nil
	}
	if err := migrate.ValidateDialects(migrate.DialectDirs); err != nil {
		return err
	}
	logg.Info(ctx, "migration validation passed")
	return nil
}
