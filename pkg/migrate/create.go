package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const versionLayout = "20060102150405"

var nameSanitizeRe = regexp.MustCompile(`[^a-z0-9_]+`)

// DialectDirs lists the migration trees that must stay in lockstep.
var DialectDirs = map[string]string{
	DialectPostgres: DefaultDir,
	DialectSQLite:   SQLiteDir,
}

// SanitizeName turns a human migration title into a filename stem.
func SanitizeName(name string) (string, error) {
	safe := strings.ToLower(strings.TrimSpace(name))
	safe = nameSanitizeRe.ReplaceAllString(strings.ReplaceAll(safe, " ", "_"), "_")
	safe = strings.Trim(safe, "_")
	if safe == "" {
		return "", fmt.Errorf("name %q results in empty sanitized filename", name)
	}
	return safe, nil
}

// CreateSQLMigration writes one goose migration into dir stamped with now.
func CreateSQLMigration(dir, dialect, name string, now time.Time) (string, error) {
	paths, err := CreateMigrationSet(map[string]string{dialect: dir}, name, now)
	if err != nil {
		return "", err
	}
	return paths[0], nil
}

// CreateMigrationSet writes the same version into every dialect tree so the
// postgres and sqlite schemas never drift apart. Nothing is written when any
// target already holds that file.
func CreateMigrationSet(dirs map[string]string, name string, now time.Time) ([]string, error) {
	if len(dirs) == 0 {
		return nil, fmt.Errorf("at least one dir is required")
	}
	safe, err := SanitizeName(name)
	if err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("%s_%s.sql", now.UTC().Format(versionLayout), safe)
	dialects := sortedKeys(dirs)

	paths := make([]string, 0, len(dialects))
	for _, dialect := range dialects {
		dir := dirs[dialect]
		if dir == "" {
			return nil, fmt.Errorf("dir is required for %s", dialect)
		}
		full := filepath.Join(dir, filename)
		if _, err := os.Stat(full); err == nil {
			return nil, fmt.Errorf("migration already exists: %s", full)
		}
		paths = append(paths, full)
	}

	for i, dialect := range dialects {
		if err := os.MkdirAll(dirs[dialect], 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %q: %w", dirs[dialect], err)
		}
		if err := os.WriteFile(paths[i], []byte(migrationTemplate(dialect, safe)), 0o644); err != nil {
			return nil, fmt.Errorf("write migration %q: %w", paths[i], err)
		}
	}
	return paths, nil
}

func migrationTemplate(dialect, name string) string {
	header := ""
	if dialect != "" {
		header = "-- dialect: " + dialect + "\n"
	}
	return header + fmt.Sprintf(`-- +goose Up
-- +goose StatementBegin
-- %s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- rollback %s
-- +goose StatementEnd
`, name, name)
}
