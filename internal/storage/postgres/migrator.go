package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	migrationLockKey = int64(20260301)
	migrationTimeout = 5 * time.Second
	schemaTableDDL   = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

//go:embed sql/migrations/*.sql
var embeddedMigrations embed.FS

type migrationDirection string

const (
	migrationUp   migrationDirection = "up"
	migrationDown migrationDirection = "down"
)

// MigrationInfo описывает одну миграцию схемы.
type MigrationInfo struct {
	Version int64
	Name    string
}

func (m MigrationInfo) String() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

// MigrationState: состояние схемы: последняя применённая версия и хвост неприменённых.
type MigrationState struct {
	Version int64
	Applied int
	Pending []MigrationInfo
}

type schemaMigration struct {
	MigrationInfo
	up   string
	down string
}

// MigrateUp применяет неприменённые миграции по возрастанию версии.
// steps=0 применяет все.
func (s *Store) MigrateUp(ctx context.Context, steps int) ([]MigrationInfo, error) {
	return s.runMigrations(ctx, migrationUp, steps)
}

// MigrateDown откатывает последние применённые миграции; steps<=0 означает один шаг.
func (s *Store) MigrateDown(ctx context.Context, steps int) ([]MigrationInfo, error) {
	if steps <= 0 {
		steps = 1
	}
	return s.runMigrations(ctx, migrationDown, steps)
}

// MigrationStatus сравнивает встроенные миграции с таблицей schema_migrations.
func (s *Store) MigrationStatus(ctx context.Context) (MigrationState, error) {
	if s == nil || s.db == nil {
		return MigrationState{}, fmt.Errorf("postgres store is not initialized")
	}
	all, err := readMigrations(embeddedMigrations)
	if err != nil {
		return MigrationState{}, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, migrationTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, schemaTableDDL); err != nil {
		return MigrationState{}, fmt.Errorf("ensure migration table: %w", err)
	}
	applied, err := appliedVersions(queryCtx, s.db)
	if err != nil {
		return MigrationState{}, err
	}

	var state MigrationState
	for _, m := range all {
		if _, ok := applied[m.Version]; !ok {
			state.Pending = append(state.Pending, m.MigrationInfo)
		}
	}
	for version := range applied {
		state.Applied++
		if version > state.Version {
			state.Version = version
		}
	}
	return state, nil
}

func (s *Store) runMigrations(ctx context.Context, direction migrationDirection, steps int) ([]MigrationInfo, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("postgres store is not initialized")
	}
	if direction != migrationUp && direction != migrationDown {
		return nil, fmt.Errorf("unsupported migration direction: %s", direction)
	}
	all, err := readMigrations(embeddedMigrations)
	if err != nil {
		return nil, err
	}

	var done []MigrationInfo
	err = s.withMigrationLock(ctx, func(conn *sql.Conn) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		plan, err := planMigrations(all, applied, direction, steps)
		if err != nil {
			return err
		}
		for _, m := range plan {
			if err := execMigration(ctx, conn, m, direction); err != nil {
				return err
			}
			done = append(done, m.MigrationInfo)
		}
		return nil
	})
	return done, err
}

// withMigrationLock держит session-level advisory lock, чтобы параллельные
// экземпляры сервиса не применяли миграции одновременно.
func (s *Store) withMigrationLock(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, migrationTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, schemaTableDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return fn(conn)
}

// planMigrations выбирает миграции для применения: для up неприменённые по
// возрастанию, для down применённые по убыванию.
func planMigrations(all []schemaMigration, applied map[int64]struct{}, direction migrationDirection, steps int) ([]schemaMigration, error) {
	var plan []schemaMigration
	switch direction {
	case migrationUp:
		for _, m := range all {
			if _, ok := applied[m.Version]; !ok {
				plan = append(plan, m)
			}
		}
	case migrationDown:
		known := make(map[int64]schemaMigration, len(all))
		for _, m := range all {
			known[m.Version] = m
		}
		versions := make([]int64, 0, len(applied))
		for v := range applied {
			versions = append(versions, v)
		}
		sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
		for _, v := range versions {
			m, ok := known[v]
			if !ok {
				return nil, fmt.Errorf("cannot rollback unknown migration version %d", v)
			}
			plan = append(plan, m)
			if len(plan) == steps {
				break
			}
		}
		return plan, nil
	}
	if steps > 0 && len(plan) > steps {
		plan = plan[:steps]
	}
	return plan, nil
}

func execMigration(ctx context.Context, conn *sql.Conn, m schemaMigration, direction migrationDirection) error {
	body, record := m.up, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`
	args := []any{m.Version, m.Name}
	if direction == migrationDown {
		body, record = m.down, `DELETE FROM schema_migrations WHERE version = $1`
		args = args[:1]
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx (%s %s): %w", direction, m, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("execute %s migration %s: %w", direction, m, err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("record %s migration %s: %w", direction, m, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s migration %s: %w", direction, m, err)
	}
	return nil
}

type execQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func appliedVersions(ctx context.Context, q execQuerier) (map[int64]struct{}, error) {
	rows, err := q.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]struct{})
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration version: %w", err)
		}
		applied[version] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

// readMigrations собирает пары NNNN_name.up.sql / NNNN_name.down.sql из sql/migrations.
func readMigrations(fsys fs.FS) ([]schemaMigration, error) {
	dir, err := fs.Sub(fsys, "sql/migrations")
	if err != nil {
		return nil, fmt.Errorf("open migrations dir: %w", err)
	}
	entries, err := fs.ReadDir(dir, ".")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[int64]*schemaMigration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, direction, err := parseMigrationFile(entry.Name())
		if err != nil {
			return nil, err
		}
		raw, err := fs.ReadFile(dir, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", entry.Name(), err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", entry.Name())
		}

		m, ok := byVersion[info.Version]
		if !ok {
			m = &schemaMigration{MigrationInfo: info}
			byVersion[info.Version] = m
		} else if m.Name != info.Name {
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", info.Version, m.Name, info.Name)
		}

		target := &m.up
		if direction == migrationDown {
			target = &m.down
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", direction, info.Version)
		}
		*target = body
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migration files found")
	}

	result := make([]schemaMigration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.up == "" || m.down == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", m.MigrationInfo)
		}
		result = append(result, *m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Version < result[j].Version })
	return result, nil
}

// parseMigrationFile разбирает имя вида 0001_create_orders.up.sql.
func parseMigrationFile(file string) (MigrationInfo, migrationDirection, error) {
	invalid := fmt.Errorf("invalid migration file name: %s", file)

	stem, ok := strings.CutSuffix(file, ".sql")
	if !ok {
		return MigrationInfo{}, "", invalid
	}
	var direction migrationDirection
	switch {
	case strings.HasSuffix(stem, ".up"):
		direction, stem = migrationUp, strings.TrimSuffix(stem, ".up")
	case strings.HasSuffix(stem, ".down"):
		direction, stem = migrationDown, strings.TrimSuffix(stem, ".down")
	default:
		return MigrationInfo{}, "", invalid
	}

	head, name, ok := strings.Cut(stem, "_")
	if !ok || name == "" || strings.ContainsAny(name, ". ") {
		return MigrationInfo{}, "", invalid
	}
	version, err := strconv.ParseInt(head, 10, 64)
	if err != nil || version <= 0 {
		return MigrationInfo{}, "", invalid
	}
	return MigrationInfo{Version: version, Name: name}, direction, nil
}
