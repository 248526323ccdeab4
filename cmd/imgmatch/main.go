// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/poiesic/imgmatch"
	"github.com/poiesic/imgmatch/config"
	"github.com/poiesic/imgmatch/core"
	"github.com/poiesic/imgmatch/embedding"
	"github.com/poiesic/imgmatch/search"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "imgmatch",
		Usage: "Match images between two collections by visual content",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a TOML configuration file",
				EnvVars: []string{"IMGMATCH_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "cache-dir",
				Usage:   "Directory holding the embedding cache",
				EnvVars: []string{"IMGMATCH_CACHE_DIR"},
			},
			&cli.StringFlag{
				Name:    "backend",
				Usage:   "Cache backend (badger, sqlite)",
				EnvVars: []string{"IMGMATCH_CACHE_BACKEND"},
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "match",
				Usage:     "Group the images of a join collection under their closest base images",
				ArgsUsage: " ",
				Action:    matchCommand,
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     "base",
						Aliases:  []string{"b"},
						Usage:    "Directory or file with the base images",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "join",
						Aliases:  []string{"j"},
						Usage:    "Directory or file with the images to place",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "top-n",
						Usage: "Number of bases each join image may be placed under",
					},
					&cli.Float64Flag{
						Name:  "min-similarity",
						Usage: "Lowest cosine similarity that counts as a match",
					},
					&cli.BoolFlag{
						Name:  "progress",
						Usage: "Report embedding progress on stderr",
					},
				}, serviceFlags()...),
			},
			{
				Name:      "index",
				Usage:     "Analyze images into the cache without matching them",
				ArgsUsage: "DIR...",
				Action:    indexCommand,
				Flags: append([]cli.Flag{
					&cli.BoolFlag{
						Name:  "progress",
						Usage: "Report embedding progress on stderr",
					},
				}, serviceFlags()...),
			},
			{
				Name:      "describe",
				Usage:     "Print the description and embedding size of an image",
				ArgsUsage: "IMAGE",
				Action:    describeCommand,
				Flags:     serviceFlags(),
			},
			{
				Name:   "evict",
				Usage:  "Remove cache entries older than a number of days",
				Action: evictCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "max-age-days",
						Usage: "Entries older than this many days are removed (defaults to the config value)",
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Find cached images whose description matches a text query",
				ArgsUsage: "QUERY",
				Action:    searchCommand,
				Flags: append([]cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of hits",
						Value: 10,
					},
					&cli.StringFlag{
						Name:  "dir",
						Usage: "Directory whose images are listed by path instead of fingerprint",
					},
					&cli.Float64Flag{
						Name:  "threshold",
						Usage: "Lowest cosine similarity counted as a semantic hit",
						Value: search.DefaultMinSimilarity,
					},
				}, serviceFlags()...),
			},
			{
				Name:   "reembed",
				Usage:  "Recompute cached embeddings from their stored descriptions",
				Action: reembedCommand,
				Flags: append([]cli.Flag{
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of descriptions embedded per request",
						Value: 64,
					},
					&cli.BoolFlag{
						Name:  "progress",
						Usage: "Report progress on stderr",
					},
				}, serviceFlags()...),
			},
			{
				Name:      "invalidate",
				Usage:     "Forget the cached analysis of images so they are analyzed again",
				ArgsUsage: "IMAGE...",
				Action:    invalidateCommand,
			},
			{
				Name:   "stats",
				Usage:  "Show cache statistics",
				Action: statsCommand,
			},
			{
				Name:   "config",
				Usage:  "Print the effective configuration as TOML",
				Action: configCommand,
			},
		},
	}
}

// serviceFlags are the flags shared by commands that call the AI services.
func serviceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "describer-host",
			Usage:   "Vision service host URL",
			EnvVars: []string{"IMGMATCH_DESCRIBER_HOST"},
		},
		&cli.StringFlag{
			Name:    "describer-model",
			Usage:   "Vision model name",
			EnvVars: []string{"IMGMATCH_DESCRIBER_MODEL"},
		},
		&cli.StringFlag{
			Name:    "embedding-host",
			Usage:   "Embedding service host URL (defaults to the describer host)",
			EnvVars: []string{"IMGMATCH_EMBEDDING_HOST"},
		},
		&cli.StringFlag{
			Name:    "embedding-model",
			Usage:   "Embedding model name",
			EnvVars: []string{"IMGMATCH_EMBEDDING_MODEL"},
		},
		&cli.StringFlag{
			Name:    "api-token",
			Usage:   "Token sent to both services",
			EnvVars: []string{"IMGMATCH_API_TOKEN", "OPENAI_API_KEY"},
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "Maximum number of images analyzed at once",
		},
		&cli.DurationFlag{
			Name:  "delay",
			Usage: "Pause after each analysis before its slot is reused",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Per-image analysis timeout (0 disables)",
		},
		&cli.IntFlag{
			Name:  "max-attempts",
			Usage: "Attempts per service call before giving up",
		},
	}
}

// loadSettings reads the config file, if any, and applies explicitly set flags.
func loadSettings(c *cli.Context) (*config.File, error) {
	settings := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		settings = loaded
	}

	if c.IsSet("cache-dir") {
		settings.Cache.Dir = c.String("cache-dir")
	}
	if c.IsSet("backend") {
		settings.Cache.Backend = c.String("backend")
	}
	if c.IsSet("max-age-days") {
		settings.Cache.MaxAgeDays = c.Int("max-age-days")
	}

	if c.IsSet("describer-host") {
		settings.AI.DescriberHost = c.String("describer-host")
		if !c.IsSet("embedding-host") {
			settings.AI.EmbeddingHost = settings.AI.DescriberHost
		}
	}
	if c.IsSet("embedding-host") {
		settings.AI.EmbeddingHost = c.String("embedding-host")
	}
	if c.IsSet("describer-model") {
		settings.AI.DescriberModel = c.String("describer-model")
	}
	if c.IsSet("embedding-model") {
		settings.AI.EmbeddingModel = c.String("embedding-model")
	}
	if c.IsSet("api-token") {
		settings.AI.APIToken = c.String("api-token")
	}

	if c.IsSet("concurrency") {
		settings.Limiter.MaxConcurrent = c.Int("concurrency")
	}
	if c.IsSet("delay") {
		settings.Limiter.Delay = c.Duration("delay").String()
	}
	if c.IsSet("timeout") {
		settings.Limiter.TaskTimeout = c.Duration("timeout").String()
	}
	if c.IsSet("max-attempts") {
		settings.Limiter.MaxAttempts = c.Int("max-attempts")
	}

	if c.IsSet("top-n") {
		settings.Match.TopN = c.Int("top-n")
	}
	if c.IsSet("min-similarity") {
		settings.Match.MinSimilarity = c.Float64("min-similarity")
	}

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return settings, nil
}

func openMatcher(c *cli.Context, extra ...imgmatch.MatcherOption) (*imgmatch.Matcher, *config.File, error) {
	settings, err := loadSettings(c)
	if err != nil {
		return nil, nil, err
	}
	opts, err := settings.MatcherOptions()
	if err != nil {
		return nil, nil, err
	}
	opts = append(opts, extra...)

	matcher, err := imgmatch.NewMatcher(settings.Cache.Dir, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open matcher: %w", err)
	}
	return matcher, settings, nil
}

// commandContext is canceled on interrupt so running analyses stop early.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func matchCommand(c *cli.Context) error {
	ctx, cancel := commandContext()
	defer cancel()

	basePaths, err := discoverImages(c.String("base"))
	if err != nil {
		return err
	}
	joinPaths, err := discoverImages(c.String("join"))
	if err != nil {
		return err
	}
	if len(basePaths) == 0 {
		return fmt.Errorf("no images found in %s", c.String("base"))
	}
	if len(joinPaths) == 0 {
		return fmt.Errorf("no images found in %s", c.String("join"))
	}

	var extra []imgmatch.MatcherOption
	if c.Bool("progress") {
		extra = append(extra, imgmatch.WithProgress(c.App.ErrWriter))
	}
	matcher, settings, err := openMatcher(c, extra...)
	if err != nil {
		return err
	}
	defer matcher.Close()

	slog.Debug("matching collections",
		"cacheDir", settings.Cache.Dir,
		"backend", settings.Cache.Backend,
		"bases", len(basePaths),
		"joins", len(joinPaths))

	report, err := matcher.Run(ctx, basePaths, joinPaths)
	if err != nil {
		return fmt.Errorf("match failed: %w", err)
	}

	printReport(c.App.Writer, report)
	return nil
}

func indexCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("index needs at least one directory or image")
	}
	ctx, cancel := commandContext()
	defer cancel()

	var paths []string
	for _, root := range c.Args().Slice() {
		found, err := discoverImages(root)
		if err != nil {
			return err
		}
		paths = append(paths, found...)
	}

	var extra []imgmatch.MatcherOption
	if c.Bool("progress") {
		extra = append(extra, imgmatch.WithProgress(c.App.ErrWriter))
	}
	matcher, _, err := openMatcher(c, extra...)
	if err != nil {
		return err
	}
	defer matcher.Close()

	batch, err := matcher.Index(ctx, paths)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	w := c.App.Writer
	for _, f := range batch.Failures {
		fmt.Fprintf(w, "  [%s] %s: %s\n", f.Kind, f.Path, f.Message)
	}
	fmt.Fprintf(w, "%d images: %d from cache, %d analyzed, %d duplicates, %d failed\n",
		len(batch.Sources)+len(batch.Failures), batch.CacheHits, batch.Computed, batch.Shared, len(batch.Failures))
	return nil
}

func describeCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("describe takes exactly one image path")
	}
	ctx, cancel := commandContext()
	defer cancel()

	matcher, _, err := openMatcher(c)
	if err != nil {
		return err
	}
	defer matcher.Close()

	entry, source, err := matcher.Describe(ctx, c.Args().First())
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintf(w, "Fingerprint: %s\n", entry.Fingerprint)
	fmt.Fprintf(w, "Source: %s\n", source)
	fmt.Fprintf(w, "Dimensions: %d\n", entry.Dimensions())
	fmt.Fprintf(w, "Analyzed: %s\n", entry.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Description: %s\n", entry.Description)
	return nil
}

func evictCommand(c *cli.Context) error {
	matcher, settings, err := openMatcher(c)
	if err != nil {
		return err
	}
	defer matcher.Close()

	n, err := matcher.Evict(c.Context, settings.Cache.MaxAgeDays)
	if err != nil {
		return fmt.Errorf("eviction failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Evicted %d entries older than %d days\n", n, settings.Cache.MaxAgeDays)
	return nil
}

func searchCommand(c *cli.Context) error {
	query := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("search needs a query")
	}
	ctx, cancel := commandContext()
	defer cancel()

	var paths map[core.Fingerprint][]string
	if dir := c.String("dir"); dir != "" {
		var err error
		if paths, err = fingerprintImages(dir); err != nil {
			return err
		}
	}

	matcher, _, err := openMatcher(c)
	if err != nil {
		return err
	}
	defer matcher.Close()

	limit := c.Int("limit")
	maxHits := limit
	if paths != nil {
		// Hits outside dir are dropped below, so rank the whole cache.
		stats, err := matcher.Stats(ctx)
		if err != nil {
			return err
		}
		maxHits = max(limit, stats.CacheEntries)
	}

	hits, err := matcher.Search(ctx, query, maxHits, search.WithMinSimilarity(c.Float64("threshold")))
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	w := c.App.Writer
	printed := 0
	for _, hit := range hits {
		if printed == limit {
			break
		}
		names := paths[hit.Entry.Fingerprint]
		if paths != nil && len(names) == 0 {
			continue
		}
		printed++
		label := hit.Entry.Fingerprint.Short()
		if len(names) > 0 {
			label = strings.Join(names, ", ")
		}
		fmt.Fprintf(w, "%.4f  %s\n        %s\n", hit.Score, label, hit.Entry.Description)
	}
	if printed == 0 {
		fmt.Fprintln(w, "No matches")
	}
	return nil
}

// fingerprintImages hashes every image under dir. Identical files share a
// fingerprint, so each maps to all of its paths.
func fingerprintImages(dir string) (map[core.Fingerprint][]string, error) {
	images, err := discoverImages(dir)
	if err != nil {
		return nil, err
	}
	out := make(map[core.Fingerprint][]string, len(images))
	for _, path := range images {
		fp, err := core.HashFile(path)
		if err != nil {
			slog.Warn("skipping unreadable image", "path", path, "err", err)
			continue
		}
		out[fp] = append(out[fp], path)
	}
	return out, nil
}

func reembedCommand(c *cli.Context) error {
	if c.Int("batch-size") <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	ctx, cancel := commandContext()
	defer cancel()

	matcher, settings, err := openMatcher(c)
	if err != nil {
		return err
	}
	defer matcher.Close()

	var progress io.Writer
	if c.Bool("progress") {
		progress = c.App.ErrWriter
	}

	fmt.Fprintf(c.App.ErrWriter, "Embedding host: %s\n", settings.AI.EmbeddingHost)
	fmt.Fprintf(c.App.ErrWriter, "Embedding model: %s\n", settings.AI.EmbeddingModel)

	result, err := matcher.Reembed(ctx, c.Int("batch-size"), progress)
	if err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Reembedded %d entries in %s\n", result.Processed, result.Elapsed.Round(time.Millisecond))
	return nil
}

func invalidateCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("invalidate needs at least one image path")
	}
	matcher, _, err := openMatcher(c)
	if err != nil {
		return err
	}
	defer matcher.Close()

	for _, path := range c.Args().Slice() {
		if err := matcher.Invalidate(c.Context, path); err != nil {
			return fmt.Errorf("invalidating %s: %w", path, err)
		}
		fmt.Fprintf(c.App.Writer, "Invalidated %s\n", path)
	}
	return nil
}

func statsCommand(c *cli.Context) error {
	matcher, settings, err := openMatcher(c)
	if err != nil {
		return err
	}
	defer matcher.Close()

	stats, err := matcher.Stats(c.Context)
	if err != nil {
		return err
	}
	w := c.App.Writer
	fmt.Fprintf(w, "Cache: %s (%s)\n", settings.Cache.Dir, settings.Cache.Backend)
	fmt.Fprintf(w, "Entries: %d\n", stats.CacheEntries)
	return nil
}

func configCommand(c *cli.Context) error {
	settings, err := loadSettings(c)
	if err != nil {
		return err
	}
	data, err := settings.Encode()
	if err != nil {
		return err
	}
	_, err = c.App.Writer.Write(data)
	return err
}

// discoverImages lists the image files under root in lexical order. A root
// that is itself an image file is returned as the only entry.
func discoverImages(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if !embedding.IsImage(root) {
			return nil, fmt.Errorf("%s is not a supported image", root)
		}
		return []string{root}, nil
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && embedding.IsImage(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

func printReport(w io.Writer, report *imgmatch.Report) {
	result := report.Result
	for _, group := range result.Groups {
		fmt.Fprintln(w, group.BaseID)
		for _, j := range group.Joins {
			fmt.Fprintf(w, "  %.4f  %s\n", j.Similarity, j.ID)
		}
	}

	if len(result.UnmatchedJoins) > 0 {
		fmt.Fprintln(w, "\nUnmatched:")
		for _, id := range result.UnmatchedJoins {
			fmt.Fprintf(w, "  %s\n", id)
		}
	}

	if len(report.Failures) > 0 {
		fmt.Fprintln(w, "\nFailed:")
		for _, f := range report.Failures {
			fmt.Fprintf(w, "  [%s] %s: %s\n", f.Kind, f.Path, f.Message)
		}
	}

	fmt.Fprintf(w, "\n%d groups, %d matched, %d unmatched, %d bases without joins\n",
		len(result.Groups), result.MatchedJoins(), len(result.UnmatchedJoins), len(result.UnmatchedBases))
	fmt.Fprintf(w, "%d from cache, %d analyzed, %d duplicates, %d failed in %s (run %s)\n",
		report.CacheHits, report.Computed, report.Shared, len(report.Failures),
		report.Duration.Round(time.Millisecond), report.RunID)
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
