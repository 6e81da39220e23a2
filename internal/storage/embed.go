package storage

import (
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migration filename standard: 001_migration_name.up.sql / 001_migration_name.down.sql.
var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// migrationsFS returns the embedded migration files rooted at the
// migrations/ directory, as golang-migrate's iofs source expects.
func migrationsFS() (fs.FS, error) {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	return sub, nil
}

// listEmbeddedMigrations returns the embedded migration filenames that
// conform to the strict naming standard, sorted lexicographically. Invalid
// filenames are rejected to enforce consistency and prevent operational
// mistakes.
func listEmbeddedMigrations() ([]string, error) {
	sub, err := migrationsFS()
	if err != nil {
		return nil, err
	}

	entries, err := fs.ReadDir(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations directory: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		filename := entry.Name()
		if filepath.Ext(filename) == ".sql" && migrationFilenameRegex.MatchString(filename) {
			files = append(files, filename)
		}
	}

	sort.Strings(files)

	return files, nil
}

// validateEmbeddedMigrations checks that every up migration has a matching
// down migration and vice versa. Called at store open, before any migration
// is applied.
func validateEmbeddedMigrations() error {
	files, err := listEmbeddedMigrations()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no embedded migration files found")
	}

	pairs := make(map[string]map[string]bool)

	for _, filename := range files {
		matches := migrationFilenameRegex.FindStringSubmatch(filename)
		key := matches[1] + "_" + matches[2]

		if pairs[key] == nil {
			pairs[key] = make(map[string]bool)
		}

		pairs[key][matches[3]] = true
	}

	for key, directions := range pairs {
		if !directions["up"] || !directions["down"] {
			return fmt.Errorf("migration %s is missing its up or down file", key)
		}
	}

	return nil
}
