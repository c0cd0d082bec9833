package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/PortNumber53/adlens/backend/db"
	"github.com/PortNumber53/adlens/backend/internal/config"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/lib/pq"
)

func main() {
	msg, err := run(os.Args[1:], defaultDeps())
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(msg)
}

type deps struct {
	loadConfig  func() (*config.Config, error)
	openDB      func(driverName, dataSourceName string) (*sql.DB, error)
	newMigrator func(*sql.DB) (db.Migrator, error)
}

func defaultDeps() deps {
	return deps{
		loadConfig:  config.Load,
		openDB:      sql.Open,
		newMigrator: db.NewMigrator,
	}
}

type options struct {
	direction  string
	steps      int
	force      int
	forceDirty bool
	version    bool
}

func parseArgs(args []string) (options, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	var o options
	fs.StringVar(&o.direction, "direction", "up", "Migration direction: up or down")
	fs.IntVar(&o.steps, "steps", 0, "Number of migration steps (0 = all)")
	fs.IntVar(&o.force, "force", -1, "Force set migration version (clears dirty state). Example: -force=2")
	fs.BoolVar(&o.forceDirty, "force-dirty", false, "If the database is dirty, force it to the current version and exit")
	fs.BoolVar(&o.version, "version", false, "Print the current schema version and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	switch o.direction {
	case "up", "down":
		return o, nil
	default:
		return options{}, fmt.Errorf("invalid direction: %s (must be 'up' or 'down')", o.direction)
	}
}

func run(args []string, d deps) (string, error) {
	o, err := parseArgs(args)
	if err != nil {
		return "", err
	}
	if d.loadConfig == nil || d.openDB == nil || d.newMigrator == nil {
		return "", errors.New("loadConfig, openDB and newMigrator are required")
	}
	cfg, err := d.loadConfig()
	if err != nil {
		return "", err
	}
	if cfg.DatabaseURL == "" {
		return "", errors.New("DATABASE_URL environment variable is required")
	}

	sqlDB, err := d.openDB("postgres", cfg.DatabaseURL)
	if err != nil {
		return "", fmt.Errorf("connect to database: %w", err)
	}
	defer sqlDB.Close()

	m, err := d.newMigrator(sqlDB)
	if err != nil {
		return "", err
	}

	switch {
	case o.version:
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return "No migrations applied", nil
		}
		if err != nil {
			return "", fmt.Errorf("read migration version: %w", err)
		}
		return fmt.Sprintf("Version %d (dirty=%v)", v, dirty), nil
	case o.forceDirty:
		v, dirty, err := m.Version()
		if err != nil {
			return "", fmt.Errorf("read migration version: %w", err)
		}
		if !dirty {
			return "Database is not dirty (no force needed)", nil
		}
		if err := m.Force(int(v)); err != nil {
			return "", fmt.Errorf("force dirty version %d: %w", v, err)
		}
		return fmt.Sprintf("Forced dirty database to version %d", v), nil
	case o.force >= 0:
		if err := m.Force(o.force); err != nil {
			return "", fmt.Errorf("force version %d: %w", o.force, err)
		}
		return fmt.Sprintf("Forced database to version %d", o.force), nil
	}

	err = db.Apply(m, o.direction, o.steps)
	if errors.Is(err, migrate.ErrNoChange) {
		return "No migrations to apply", nil
	}
	if err != nil {
		return "", fmt.Errorf("migration failed: %w", err)
	}
	return fmt.Sprintf("Migration %s completed successfully", o.direction), nil
}
