// Command migrate applies or rolls back the database schema.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"subpay/migrations"
)

func main() {
	var down bool
	var steps int
	flag.BoolVar(&down, "down", false, "roll back instead of applying")
	flag.IntVar(&steps, "steps", 0, "number of migrations to run (0 = all)")
	flag.Parse()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}
	// The migrate pgx driver registers itself under its own scheme.
	if strings.HasPrefix(databaseURL, "postgres://") {
		databaseURL = "pgx5://" + strings.TrimPrefix(databaseURL, "postgres://")
	}

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading migrations: %v\n", err)
		os.Exit(1)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initializing migrate: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	switch {
	case steps != 0:
		if down {
			steps = -steps
		}
		err = m.Steps(steps)
	case down:
		err = m.Down()
	default:
		err = m.Up()
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}

	version, dirty, _ := m.Version()
	fmt.Printf("schema at version %d (dirty=%v)\n", version, dirty)
}
