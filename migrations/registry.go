// Package migrations exposes the outbox and outcome schema per SQL dialect.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"sort"
	"strconv"
	"strings"

	formrelay "github.com/goliatone/go-formrelay"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const migrationsDir = "data/sql/migrations"

// DialectForDriver maps a configured database driver to a migration dialect
// and the database/sql driver name that serves it.
func DialectForDriver(driver string) (dialect string, sqlDriver string, err error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "sqlite3":
		return DialectSQLite, "sqlite3", nil
	case "postgres", "postgresql":
		return DialectPostgres, "postgres", nil
	default:
		return "", "", fmt.Errorf("migrations: unsupported database driver %q", driver)
	}
}

// Migration is one numbered up/down pair.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// Source is the migration tree of a single dialect.
type Source struct {
	Dialect    string
	Path       string
	FS         fs.FS
	Migrations []Migration
}

// Catalog lists the migrations in fsys ordered by version. Every up file
// needs a matching down file and versions must not repeat.
func Catalog(fsys fs.FS) ([]Migration, error) {
	ups, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: glob: %w", err)
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("migrations: no *.up.sql files")
	}
	seen := map[int]string{}
	out := make([]Migration, 0, len(ups))
	for _, up := range ups {
		base := strings.TrimSuffix(up, ".up.sql")
		prefix, name, ok := strings.Cut(base, "_")
		if !ok || name == "" {
			return nil, fmt.Errorf("migrations: %s does not match NNNNN_name.up.sql", up)
		}
		version, convErr := strconv.Atoi(prefix)
		if convErr != nil || version <= 0 {
			return nil, fmt.Errorf("migrations: %s has invalid version %q", up, prefix)
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations: version %d used by %s and %s", version, other, up)
		}
		seen[version] = up
		down := base + ".down.sql"
		if _, statErr := fs.Stat(fsys, down); statErr != nil {
			return nil, fmt.Errorf("migrations: %s has no matching %s", up, down)
		}
		out = append(out, Migration{Version: version, Name: name, Up: up, Down: down})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Sources returns the postgres tree at data/sql/migrations and the sqlite
// tree below it. Both dialects must ship the same versions.
func Sources(root ...fs.FS) ([]Source, error) {
	var base fs.FS = formrelay.GetMigrationsFS()
	if len(root) > 0 && root[0] != nil {
		base = root[0]
	}
	postgresFS, err := fs.Sub(base, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", migrationsDir, err)
	}
	sqliteFS, err := fs.Sub(postgresFS, DialectSQLite)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite tree: %w", err)
	}

	sources := []Source{
		{Dialect: DialectPostgres, Path: migrationsDir, FS: postgresFS},
		{Dialect: DialectSQLite, Path: migrationsDir + "/" + DialectSQLite, FS: sqliteFS},
	}
	for i := range sources {
		catalog, catalogErr := Catalog(sources[i].FS)
		if catalogErr != nil {
			return nil, fmt.Errorf("migrations: %s: %w", sources[i].Dialect, catalogErr)
		}
		sources[i].Migrations = catalog
	}
	if !sameVersions(sources[0].Migrations, sources[1].Migrations) {
		return nil, fmt.Errorf("migrations: postgres and sqlite trees ship different versions")
	}
	return sources, nil
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type options struct {
	label   string
	targets []string
	root    fs.FS
}

type Option func(*options)

func WithSourceLabel(label string) Option {
	return func(o *options) {
		if trimmed := strings.TrimSpace(label); trimmed != "" {
			o.label = trimmed
		}
	}
}

// WithValidationTargets limits registration to the given dialects.
func WithValidationTargets(targets ...string) Option {
	return func(o *options) {
		next := []string{}
		for _, target := range targets {
			target = strings.ToLower(strings.TrimSpace(target))
			if target != "" && !slices.Contains(next, target) {
				next = append(next, target)
			}
		}
		if len(next) > 0 {
			o.targets = next
		}
	}
}

// WithRoot reads migrations from root instead of the embedded tree.
func WithRoot(root fs.FS) Option {
	return func(o *options) {
		o.root = root
	}
}

// Register hands every targeted dialect tree to registerFn and returns the
// sources it registered.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) ([]Source, error) {
	if registerFn == nil {
		return nil, fmt.Errorf("migrations: register function is required")
	}
	cfg := options{label: "go-formrelay", targets: []string{DialectPostgres, DialectSQLite}}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	sources, err := Sources(cfg.root)
	if err != nil {
		return nil, err
	}
	registered := make([]Source, 0, len(cfg.targets))
	for _, source := range sources {
		if !slices.Contains(cfg.targets, source.Dialect) {
			continue
		}
		if err := registerFn(ctx, source.Dialect, cfg.label, source.FS); err != nil {
			return registered, fmt.Errorf("migrations: register %s (%s): %w", source.Dialect, source.Path, err)
		}
		registered = append(registered, source)
	}
	if len(registered) == 0 {
		return nil, fmt.Errorf("migrations: no migrations for targets %v", cfg.targets)
	}
	return registered, nil
}

func sameVersions(a, b []Migration) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Version != b[i].Version || a[i].Name != b[i].Name {
			return false
		}
	}
	return true
}
