package config

import (
	"os"
	"path/filepath"
)

// searchPaths lists where Discover looks for config.yaml, in order.
func searchPaths() []string {
	paths := []string{".", "/etc/docket-scraper"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".docket-scraper"))
	}
	return paths
}

// Discover returns the first config.yaml found on the search path, or "" when
// there is none and defaults plus SCRAPER_* variables should be used.
func Discover() string {
	for _, dir := range searchPaths() {
		path := filepath.Join(dir, "config.yaml")
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}
