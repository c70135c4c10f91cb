// cmd/migrate/main.go applies the Postgres schema in migrations/.
package main

import (
	"database/sql"
	"flag"
	"log"

	"github.com/caarlos0/env/v11"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/pkg/errors"
	"github.com/pressly/goose"
)

type migrateConfig struct {
	PostgresDSN string `env:"POSTGRES_DSN,notEmpty"`
	Dir         string `env:"MIGRATIONS_DIR" envDefault:"migrations"`
}

func main() {
	cmd := flag.String("cmd", "up", "goose command: up, down, status, version")
	flag.Parse()

	var cfg migrateConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := migrate(cfg, *cmd); err != nil {
		log.Fatalf("migrate: %v", err)
	}
}

func migrate(cfg migrateConfig, cmd string) error {
	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		return errors.Wrap(err, "open postgres")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return errors.Wrap(err, "postgres ping failed")
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	switch cmd {
	case "up":
		err = goose.Up(db, cfg.Dir)
	case "down":
		err = goose.Down(db, cfg.Dir)
	case "status":
		err = goose.Status(db, cfg.Dir)
	case "version":
		err = goose.Version(db, cfg.Dir)
	default:
		return errors.Errorf("unknown command %q", cmd)
	}
	return errors.Wrapf(err, "goose %s", cmd)
}
