package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/richardliu001/order-service/internal/config"
	"github.com/richardliu001/order-service/internal/logger"
)

func main() {
	log, err := logger.NewLogger(config.LogConfig{Level: "info", Encoding: "console"}, "order-migrate")
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer func() { _ = log.Sync() }()

	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		log.Fatal("usage: migrate <up|down|version>")
	}

	// golang-migrate needs a URL, not the key=value DSN the services use.
	postgresURL := os.Getenv("POSTGRES_URL")
	if postgresURL == "" {
		log.Fatal("POSTGRES_URL environment variable is required")
	}
	migrationsPath := os.Getenv("MIGRATIONS_PATH")
	if migrationsPath == "" {
		migrationsPath = "file://migrations"
	}

	m, err := migrate.New(migrationsPath, postgresURL)
	if err != nil {
		log.Fatalw("create migrate instance", "error", err)
	}
	defer func() { _, _ = m.Close() }()

	switch cmd := args[0]; cmd {
	case "up":
		err = m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("no pending migrations")
			return
		}
		if err != nil {
			log.Fatalw("migration up failed", "error", err)
		}
		log.Info("migrations applied")

	case "down":
		err = m.Steps(-1)
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("no migrations to roll back")
			return
		}
		if err != nil {
			log.Fatalw("migration down failed", "error", err)
		}
		log.Info("migration rolled back")

	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Info("no migrations applied yet")
			return
		}
		if err != nil {
			log.Fatalw("read version", "error", err)
		}
		log.Infow("current migration version", "version", version, "dirty", dirty)

	default:
		log.Fatalw("unknown command", "command", cmd)
	}
}
