package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/foodorder/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "FOOD_POSTGRES_DSN"
)

// migrator: операции схемы, нужные утилите.
type migrator interface {
	MigrateUp(ctx context.Context, steps int) ([]postgres.MigrationInfo, error)
	MigrateDown(ctx context.Context, steps int) ([]postgres.MigrationInfo, error)
	MigrationStatus(ctx context.Context) (postgres.MigrationState, error)
	Close() error
}

type openFunc func(ctx context.Context, dsn string) (migrator, error)

func openPostgres(ctx context.Context, dsn string) (migrator, error) {
	return postgres.Open(ctx, dsn)
}

func main() {
	if err := run(os.Args[1:], os.Getenv, os.Stdout, openPostgres); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, getenv func(string) string, out io.Writer, open openFunc) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(out)
	direction := fs.String("direction", "up", "migration direction: up|down|status")
	steps := fs.Int("steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	dsn := fs.String("dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	timeout := fs.Duration("timeout", defaultTimeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if strings.TrimSpace(*dsn) == "" {
		*dsn = strings.TrimSpace(getenv(envPostgresDSN))
	}
	if *dsn == "" {
		return fmt.Errorf("%s (or -dsn) is required", envPostgresDSN)
	}
	dir := strings.ToLower(strings.TrimSpace(*direction))
	if dir != "up" && dir != "down" && dir != "status" {
		return fmt.Errorf("unsupported direction: %s (use up|down|status)", *direction)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := open(ctx, *dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	var changed []postgres.MigrationInfo
	switch dir {
	case "up":
		changed, err = store.MigrateUp(ctx, *steps)
	case "down":
		changed, err = store.MigrateDown(ctx, *steps)
	}
	if err != nil {
		return fmt.Errorf("migrate %s failed: %w", dir, err)
	}
	for _, m := range changed {
		_, _ = fmt.Fprintf(out, "%s %s\n", dir, m)
	}

	state, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	_, _ = fmt.Fprintf(out, "migrate %s ok: version=%d applied=%d pending=%d\n", dir, state.Version, state.Applied, len(state.Pending))
	for _, m := range state.Pending {
		_, _ = fmt.Fprintf(out, "pending %s\n", m)
	}
	return nil
}
