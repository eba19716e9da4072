package env

import (
	"os"
	"strings"
)

// Prefix namespaces workshop variables, matching the envconfig prefix used by
// pkg/config.
const Prefix = "WORKSHOP_"

// Get resolves key as WORKSHOP_<key> first, then the bare key, then fallback.
// Blank values count as unset.
func Get(key, fallback string) string {
	for _, name := range []string{Prefix + key, key} {
		if val := strings.TrimSpace(os.Getenv(name)); val != "" {
			return val
		}
	}
	return fallback
}
