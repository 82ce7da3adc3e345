package main

import (
	"embed"
	"errors"
	"flag"
	"log"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"github.com/noah-isme/moderation-engine/pkg/config"
	"github.com/noah-isme/moderation-engine/pkg/database"
	"github.com/noah-isme/moderation-engine/pkg/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

func main() {
	var (
		dsn     = flag.String("dsn", "", "Database URL, defaults to the DB_* settings")
		up      = flag.Bool("up", false, "Run all up migrations")
		down    = flag.Bool("down", false, "Run all down migrations")
		steps   = flag.Int("steps", 0, "Number of migrations (positive=up, negative=down)")
		version = flag.Bool("version", false, "Print current migration version")
		force   = flag.Int("force", -1, "Force set version")
	)
	flag.Parse()

	forceSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "force" {
			forceSet = true
		}
	})

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if *dsn == "" {
		*dsn = database.URL(cfg.Database)
	}

	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		logr.Fatal("failed to create migration source", zap.Error(err))
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, *dsn)
	if err != nil {
		logr.Fatal("failed to create migrator", zap.Error(err))
	}
	defer m.Close()

	switch {
	case *version:
		v, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			logr.Fatal("failed to read version", zap.Error(err))
		}
		logr.Info("migration version", zap.Uint("version", v), zap.Bool("dirty", dirty))
	case forceSet:
		if err := m.Force(*force); err != nil {
			logr.Fatal("failed to force version", zap.Error(err))
		}
		logr.Info("migration version forced", zap.Int("version", *force))
	case *up:
		run(logr, "up", m.Up())
	case *down:
		run(logr, "down", m.Down())
	case *steps != 0:
		run(logr, "steps", m.Steps(*steps))
	default:
		flag.Usage()
	}
}

func run(logr *zap.Logger, direction string, err error) {
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logr.Fatal("migration failed", zap.String("direction", direction), zap.Error(err))
	}
	if errors.Is(err, migrate.ErrNoChange) {
		logr.Info("no migration changes", zap.String("direction", direction))
		return
	}
	logr.Info("migrations applied", zap.String("direction", direction))
}
