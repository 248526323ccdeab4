package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/imgmatch"
	"github.com/poiesic/imgmatch/config"
	"github.com/poiesic/imgmatch/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func testApp(t *testing.T) (*cli.App, *bytes.Buffer) {
	t.Helper()
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &bytes.Buffer{}
	app.ExitErrHandler = func(*cli.Context, error) {}
	return app, &out
}

func findCommand(t *testing.T, app *cli.App, name string) *cli.Command {
	t.Helper()
	for _, cmd := range app.Commands {
		if cmd.Name == name {
			return cmd
		}
	}
	t.Fatalf("command %q not found", name)
	return nil
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(path), 0644))
}

func TestSetupLogger_InvalidLevel(t *testing.T) {
	app, _ := testApp(t)

	err := app.Run([]string{"imgmatch", "--log-level", "loud", "stats"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestMatchCommandFlags(t *testing.T) {
	app, _ := testApp(t)
	cmd := findCommand(t, app, "match")

	t.Run("base and join are required", func(t *testing.T) {
		err := app.Run([]string{"imgmatch", "match", "--base", t.TempDir()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "join")
	})

	t.Run("api token reads OPENAI_API_KEY", func(t *testing.T) {
		var tokenFlag *cli.StringFlag
		for _, flag := range cmd.Flags {
			if f, ok := flag.(*cli.StringFlag); ok && f.Name == "api-token" {
				tokenFlag = f
				break
			}
		}
		require.NotNil(t, tokenFlag)
		assert.Contains(t, tokenFlag.EnvVars, "OPENAI_API_KEY")
	})
}

func TestLoadSettings_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imgmatch.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[cache]
backend = "sqlite"

[ai]
describer_model = "from-file"

[match]
top_n = 3
`), 0644))

	app, _ := testApp(t)
	var settings *config.File
	findCommand(t, app, "match").Action = func(c *cli.Context) error {
		var err error
		settings, err = loadSettings(c)
		return err
	}

	err := app.Run([]string{"imgmatch", "--config", path, "--cache-dir", "/tmp/imgcache",
		"match", "--base", ".", "--join", ".",
		"--describer-host", "http://vision:9000",
		"--min-similarity", "0.8",
		"--delay", "250ms",
	})
	require.NoError(t, err)
	require.NotNil(t, settings)

	assert.Equal(t, "/tmp/imgcache", settings.Cache.Dir)
	assert.Equal(t, "sqlite", settings.Cache.Backend, "file value kept")
	assert.Equal(t, "from-file", settings.AI.DescriberModel)
	assert.Equal(t, "http://vision:9000", settings.AI.DescriberHost)
	assert.Equal(t, "http://vision:9000", settings.AI.EmbeddingHost, "embedding host follows describer host")
	assert.Equal(t, 3, settings.Match.TopN)
	assert.Equal(t, 0.8, settings.Match.MinSimilarity)
	assert.Equal(t, "250ms", settings.Limiter.Delay)
}

func TestLoadSettings_InvalidOverride(t *testing.T) {
	app, _ := testApp(t)
	findCommand(t, app, "match").Action = func(c *cli.Context) error {
		_, err := loadSettings(c)
		return err
	}

	err := app.Run([]string{"imgmatch", "match", "--base", ".", "--join", ".", "--top-n", "0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestStatsAndEvict(t *testing.T) {
	for _, backend := range []string{"badger", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			cacheDir := t.TempDir()

			app, out := testApp(t)
			require.NoError(t, app.Run([]string{"imgmatch", "--cache-dir", cacheDir, "--backend", backend, "stats"}))
			assert.Contains(t, out.String(), "Entries: 0")

			app, out = testApp(t)
			require.NoError(t, app.Run([]string{"imgmatch", "--cache-dir", cacheDir, "--backend", backend,
				"evict", "--max-age-days", "7"}))
			assert.Contains(t, out.String(), "Evicted 0 entries older than 7 days")
		})
	}
}

func TestInvalidateCommand_MissingFile(t *testing.T) {
	app, _ := testApp(t)

	err := app.Run([]string{"imgmatch", "--cache-dir", t.TempDir(), "--backend", "sqlite",
		"invalidate", filepath.Join(t.TempDir(), "missing.jpg")})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrIO)
}

func TestConfigCommand(t *testing.T) {
	app, out := testApp(t)

	require.NoError(t, app.Run([]string{"imgmatch", "--backend", "sqlite", "config"}))

	printed, err := config.Parse(out.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "sqlite", printed.Cache.Backend)
}

func TestDiscoverImages(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "b.PNG"))
	touch(t, filepath.Join(root, "a.jpg"))
	touch(t, filepath.Join(root, "sub", "c.webp"))
	touch(t, filepath.Join(root, ".thumbs", "d.jpg"))
	touch(t, filepath.Join(root, "notes.txt"))

	paths, err := discoverImages(root)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a.jpg"),
		filepath.Join(root, "b.PNG"),
		filepath.Join(root, "sub", "c.webp"),
	}, paths)

	single, err := discoverImages(filepath.Join(root, "a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "a.jpg")}, single)

	_, err = discoverImages(filepath.Join(root, "notes.txt"))
	assert.Error(t, err)

	_, err = discoverImages(filepath.Join(root, "missing"))
	assert.Error(t, err)
}

func TestPrintReport(t *testing.T) {
	report := &imgmatch.Report{
		RunID:    "run-1",
		Duration: 1500 * time.Millisecond,
		Result: &core.MatchResult{
			Groups: []core.MatchGroup{
				{BaseID: "base/a.jpg", Joins: []core.Candidate{{ID: "join/x.jpg", Similarity: 0.97}}},
			},
			UnmatchedJoins: []string{"join/z.jpg"},
			UnmatchedBases: []string{"base/b.jpg"},
		},
		CacheHits: 2,
		Computed:  1,
		Shared:    1,
		Failures: []core.Failure{
			{Path: "join/broken.jpg", Kind: core.KindAnalysis, Message: "no description"},
		},
	}

	var buf bytes.Buffer
	printReport(&buf, report)
	text := buf.String()

	assert.Contains(t, text, "base/a.jpg\n  0.9700  join/x.jpg")
	assert.Contains(t, text, "Unmatched:\n  join/z.jpg")
	assert.Contains(t, text, "[analysis] join/broken.jpg: no description")
	assert.Contains(t, text, "1 groups, 1 matched, 1 unmatched, 1 bases without joins")
	assert.Contains(t, text, "2 from cache, 1 analyzed, 1 duplicates, 1 failed in 1.5s (run run-1)")
}

func TestReembedCommand_EmptyCache(t *testing.T) {
	app, out := testApp(t)

	err := app.Run([]string{"imgmatch", "--cache-dir", t.TempDir(), "--backend", "sqlite",
		"reembed", "--batch-size", "8"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Reembedded 0 entries")
}

func TestReembedCommand_InvalidBatchSize(t *testing.T) {
	app, _ := testApp(t)

	err := app.Run([]string{"imgmatch", "reembed", "--batch-size", "0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch-size")
}

func TestSearchCommand_NeedsQuery(t *testing.T) {
	app, _ := testApp(t)

	err := app.Run([]string{"imgmatch", "--cache-dir", t.TempDir(), "search"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query")
}

func TestFingerprintImages(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a.jpg")
	b := filepath.Join(root, "copy", "b.jpg")
	require.NoError(t, os.WriteFile(a, []byte("same bytes"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Dir(b), 0755))
	require.NoError(t, os.WriteFile(b, []byte("same bytes"), 0644))

	paths, err := fingerprintImages(root)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, []string{a, b}, paths[core.HashBytes([]byte("same bytes"))])
}

func TestIndexCommand_NeedsArguments(t *testing.T) {
	app, _ := testApp(t)

	err := app.Run([]string{"imgmatch", "--cache-dir", t.TempDir(), "index"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one")
}
