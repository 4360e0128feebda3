package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	partners "github.com/goliatone/go-partners"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// sourceLabel tags registered migrations so mixed-source migration tables
// stay attributable.
const sourceLabel = "go-partners"

const migrationsRoot = "data/sql/migrations"

// FilesystemSpec is one dialect's migration files.
type FilesystemSpec struct {
	Dialect string
	Path    string
	FS      fs.FS
}

// RegisterFunc hands one dialect's filesystem to the persistence client.
type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*registration)

type registration struct {
	targets []string
}

// WithValidationTargets limits registration to the named dialects. The
// default registers both.
func WithValidationTargets(targets ...string) Option {
	return func(r *registration) {
		next := make([]string, 0, len(targets))
		for _, target := range targets {
			trimmed := strings.TrimSpace(strings.ToLower(target))
			if trimmed != "" && !slices.Contains(next, trimmed) {
				next = append(next, trimmed)
			}
		}
		if len(next) > 0 {
			r.targets = next
		}
	}
}

// Filesystems resolves the embedded per-dialect migration filesystems.
// Postgres files live at the migration root; sqlite alternatives live in
// the sqlite subdirectory. Each dialect must ship at least one up script.
func Filesystems() ([]FilesystemSpec, error) {
	base, err := fs.Sub(partners.GetMigrationsFS(), migrationsRoot)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve migration root: %w", err)
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite filesystem: %w", err)
	}

	filesystems := []FilesystemSpec{
		{Dialect: DialectPostgres, Path: migrationsRoot, FS: base},
		{Dialect: DialectSQLite, Path: migrationsRoot + "/sqlite", FS: sqliteFS},
	}
	for _, fsys := range filesystems {
		matches, globErr := fs.Glob(fsys.FS, "*.up.sql")
		if globErr != nil {
			return nil, fmt.Errorf("migrations: glob %s %s: %w", fsys.Dialect, fsys.Path, globErr)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("migrations: %s filesystem %q has no *.up.sql files", fsys.Dialect, fsys.Path)
		}
	}
	return filesystems, nil
}

// Register feeds the embedded migrations for each target dialect into
// registerFn, typically a go-persistence-bun client's RegisterSQLMigrations.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) ([]FilesystemSpec, error) {
	if registerFn == nil {
		return nil, fmt.Errorf("migrations: register function is required")
	}
	reg := registration{targets: []string{DialectPostgres, DialectSQLite}}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&reg)
	}

	filesystems, err := Filesystems()
	if err != nil {
		return nil, err
	}

	registered := make([]FilesystemSpec, 0, len(filesystems))
	for _, fsys := range filesystems {
		if !slices.Contains(reg.targets, fsys.Dialect) {
			continue
		}
		if err := registerFn(ctx, fsys.Dialect, sourceLabel, fsys.FS); err != nil {
			return nil, fmt.Errorf("migrations: register %s (%s): %w", fsys.Dialect, fsys.Path, err)
		}
		registered = append(registered, fsys)
	}
	if len(registered) == 0 {
		return nil, fmt.Errorf("migrations: no filesystem matched targets %v", reg.targets)
	}
	return registered, nil
}
