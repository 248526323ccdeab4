// Package config loads imgmatch settings from a TOML file.
//
// Every setting has a default, so the file only needs the values that differ.
// Command line flags override whatever the file sets.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/poiesic/imgmatch"
	"github.com/poiesic/imgmatch/ai"
	"github.com/poiesic/imgmatch/match"
)

// File mirrors the TOML layout.
type File struct {
	Cache   Cache   `toml:"cache"`
	AI      AI      `toml:"ai"`
	Limiter Limiter `toml:"limiter"`
	Match   Match   `toml:"match"`
}

// Cache selects and tunes the embedding cache.
type Cache struct {
	Dir        string `toml:"dir"`
	Backend    string `toml:"backend"`
	LRUSize    int    `toml:"lru_size"`
	LRUTTL     string `toml:"lru_ttl"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// AI configures the vision and embedding services.
type AI struct {
	DescriberHost  string `toml:"describer_host"`
	EmbeddingHost  string `toml:"embedding_host"`
	DescriberModel string `toml:"describer_model"`
	EmbeddingModel string `toml:"embedding_model"`
	APIToken       string `toml:"api_token"`
	Prompt         string `toml:"prompt"`
	MaxTokens      int    `toml:"max_tokens"`
}

// Limiter bounds calls to the services.
type Limiter struct {
	MaxConcurrent int    `toml:"max_concurrent"`
	Delay         string `toml:"delay"`
	TaskTimeout   string `toml:"task_timeout"`
	MaxAttempts   int    `toml:"max_attempts"`
}

// Match sets the pairing policy.
type Match struct {
	TopN          int     `toml:"top_n"`
	MinSimilarity float64 `toml:"min_similarity"`
}

// DefaultCacheDir returns ~/.imgmatch/cache, or a relative path when the
// home directory is unknown.
func DefaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".imgmatch", "cache")
	}
	return filepath.Join(home, ".imgmatch", "cache")
}

// Default returns the built-in settings.
func Default() *File {
	aiDefaults := ai.DefaultConfig()
	matchDefaults := match.DefaultOptions()
	return &File{
		Cache: Cache{
			Dir:        DefaultCacheDir(),
			Backend:    string(imgmatch.CacheBadger),
			LRUSize:    1024,
			LRUTTL:     "10m",
			MaxAgeDays: 90,
		},
		AI: AI{
			DescriberHost:  aiDefaults.DescriberHost,
			EmbeddingHost:  aiDefaults.EmbeddingHost,
			DescriberModel: aiDefaults.DescriberModel,
			EmbeddingModel: aiDefaults.EmbeddingModel,
			APIToken:       aiDefaults.APIToken,
			MaxTokens:      aiDefaults.MaxDescriptionTokens,
		},
		Limiter: Limiter{
			MaxConcurrent: 10,
			Delay:         "100ms",
			TaskTimeout:   "2m",
			MaxAttempts:   3,
		},
		Match: Match{
			TopN:          matchDefaults.TopN,
			MinSimilarity: matchDefaults.MinSimilarity,
		},
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default value.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes TOML data over the defaults.
func Parse(data []byte) (*File, error) {
	f := Default()
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(f); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Encode renders f as TOML.
func (f *File) Encode() ([]byte, error) {
	return toml.Marshal(f)
}

// Validate checks value ranges and duration syntax.
func (f *File) Validate() error {
	var errs []error

	switch imgmatch.CacheBackend(f.Cache.Backend) {
	case imgmatch.CacheBadger, imgmatch.CacheSQLite:
	default:
		errs = append(errs, fmt.Errorf("cache.backend must be %q or %q, got %q",
			imgmatch.CacheBadger, imgmatch.CacheSQLite, f.Cache.Backend))
	}
	if f.Cache.MaxAgeDays < 0 {
		errs = append(errs, errors.New("cache.max_age_days must not be negative"))
	}
	if f.Limiter.MaxConcurrent < 1 {
		errs = append(errs, errors.New("limiter.max_concurrent must be at least 1"))
	}
	if f.Limiter.MaxAttempts < 1 {
		errs = append(errs, errors.New("limiter.max_attempts must be at least 1"))
	}
	for name, value := range map[string]string{
		"cache.lru_ttl":        f.Cache.LRUTTL,
		"limiter.delay":        f.Limiter.Delay,
		"limiter.task_timeout": f.Limiter.TaskTimeout,
	} {
		if _, err := parseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	opts := match.Options{TopN: f.Match.TopN, MinSimilarity: f.Match.MinSimilarity}
	if err := opts.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// AIConfig builds the service configuration.
func (f *File) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithDescriberHost(f.AI.DescriberHost),
		ai.WithEmbeddingHost(f.AI.EmbeddingHost),
		ai.WithDescriberModel(f.AI.DescriberModel),
		ai.WithEmbeddingModel(f.AI.EmbeddingModel),
		ai.WithAPIToken(f.AI.APIToken),
		ai.WithDescriptionPrompt(f.AI.Prompt),
		ai.WithMaxDescriptionTokens(f.AI.MaxTokens),
	)
}

// MatchOptions returns the pairing policy.
func (f *File) MatchOptions() match.Options {
	return match.Options{TopN: f.Match.TopN, MinSimilarity: f.Match.MinSimilarity}
}

// MatcherOptions translates the file into options for imgmatch.NewMatcher.
func (f *File) MatcherOptions() ([]imgmatch.MatcherOption, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	lruTTL, _ := parseDuration(f.Cache.LRUTTL)
	delay, _ := parseDuration(f.Limiter.Delay)
	timeout, _ := parseDuration(f.Limiter.TaskTimeout)

	return []imgmatch.MatcherOption{
		imgmatch.WithAIConfig(f.AIConfig()),
		imgmatch.WithCacheBackend(imgmatch.CacheBackend(f.Cache.Backend)),
		imgmatch.WithMemoryLRU(f.Cache.LRUSize, lruTTL),
		imgmatch.WithConcurrency(f.Limiter.MaxConcurrent),
		imgmatch.WithDelay(delay),
		imgmatch.WithTaskTimeout(timeout),
		imgmatch.WithMaxAttempts(f.Limiter.MaxAttempts),
		imgmatch.WithMatchOptions(f.MatchOptions()),
	}, nil
}

// parseDuration accepts Go duration syntax; empty means zero.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", s)
	}
	return d, nil
}
