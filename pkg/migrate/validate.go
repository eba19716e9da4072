package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

// ValidateDir checks filenames and goose markers for one tree and returns the
// migration filenames it found, in version order.
func ValidateDir(dir string) ([]string, error) {
	if dir == "" {
		return nil, fmt.Errorf("dir is required")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}

	versions := map[string]string{}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			return nil, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		if prev, ok := versions[m[1]]; ok {
			return nil, fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, name)
		}
		versions[m[1]] = name

		if err := checkGooseMarkers(filepath.Join(dir, name)); err != nil {
			return nil, err
		}
		names = append(names, name)
	}

	sort.Strings(names)
	return names, nil
}

// ValidateDialects validates every tree and requires them to carry the same
// filenames, since each schema change ships for both databases.
func ValidateDialects(dirs map[string]string) error {
	var (
		baseline        []string
		baselineDialect string
	)
	for _, dialect := range sortedKeys(dirs) {
		names, err := ValidateDir(dirs[dialect])
		if err != nil {
			return fmt.Errorf("%s: %w", dialect, err)
		}
		if baselineDialect == "" {
			baseline, baselineDialect = names, dialect
			continue
		}
		if missing := diffNames(baseline, names); len(missing) > 0 {
			return fmt.Errorf("%s is missing %s present in %s", dialect, strings.Join(missing, ", "), baselineDialect)
		}
		if extra := diffNames(names, baseline); len(extra) > 0 {
			return fmt.Errorf("%s is missing %s present in %s", baselineDialect, strings.Join(extra, ", "), dialect)
		}
	}
	return nil
}

func checkGooseMarkers(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file %q: %w", path, err)
	}
	txt := string(b)
	for _, marker := range []string{"-- +goose Up", "-- +goose Down"} {
		if !strings.Contains(txt, marker) {
			return fmt.Errorf("migration %q missing %q", filepath.Base(path), marker)
		}
	}
	return nil
}

// diffNames returns entries of want absent from have.
func diffNames(want, have []string) []string {
	set := make(map[string]struct{}, len(have))
	for _, n := range have {
		set[n] = struct{}{}
	}
	var out []string
	for _, n := range want {
		if _, ok := set[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
