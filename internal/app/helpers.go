package app

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/sift/internal/canonical"
	"horse.fit/sift/internal/cli"
	"horse.fit/sift/internal/config"
	"horse.fit/sift/internal/logging"
)

// bootstrap loads the env file, the configuration, and the logger. It
// writes its own diagnostics to stderr so callers just propagate the
// exit code.
func bootstrap(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, int) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, zerolog.Nop(), 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, zerolog.Nop(), 1
	}

	return cfg, logger, 0
}

// loadFeeds merges SIFT_FEEDS with the optional SIFT_FEEDS_FILE, one
// URL per line, '#' starting a comment.
func loadFeeds(cfg *config.Config) ([]string, error) {
	feeds := cfg.FeedList()
	seen := make(map[string]struct{}, len(feeds))
	for _, f := range feeds {
		seen[f] = struct{}{}
	}

	if file := strings.TrimSpace(cfg.FeedsFile); file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read feeds file: %w", err)
		}
		for _, line := range strings.Split(string(raw), "\n") {
			if i := strings.Index(line, "#"); i >= 0 {
				line = line[:i]
			}
			feed := strings.TrimSpace(line)
			if feed == "" {
				continue
			}
			if _, dup := seen[feed]; dup {
				continue
			}
			seen[feed] = struct{}{}
			feeds = append(feeds, feed)
		}
	}

	return feeds, nil
}

// nationalScope is where country-wide stories land; region tags map to
// their own scopes alongside it.
const nationalScope = "national"

var scopeCleaner = regexp.MustCompile(`[^a-z0-9_-]+`)

// scopesFor maps an article's region tags to canonical store scopes.
// The IN tag and untagged articles go to the national scope; every
// other tag gets its own scope.
func scopesFor(tags []string) []string {
	set := make(map[string]struct{})
	for _, tag := range tags {
		name := normalizeScope(tag)
		if name == "" {
			continue
		}
		set[name] = struct{}{}
	}
	if len(set) == 0 {
		set[nationalScope] = struct{}{}
	}

	scopes := make([]string, 0, len(set))
	for name := range set {
		scopes = append(scopes, name)
	}
	return scopes
}

func normalizeScope(tag string) string {
	name := strings.ToLower(strings.TrimSpace(tag))
	if name == "" {
		return ""
	}
	if name == "in" || name == "india" {
		return nationalScope
	}
	name = scopeCleaner.ReplaceAllString(strings.ReplaceAll(name, " ", "-"), "")
	name = strings.Trim(name, "-_")
	if !canonical.ValidScope(name) {
		return ""
	}
	return name
}
