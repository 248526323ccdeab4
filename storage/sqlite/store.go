package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/poiesic/imgmatch/core"
	"github.com/poiesic/imgmatch/storage"
	"github.com/poiesic/imgmatch/storage/sqlite/migrations"
)

// DefaultFileName is the database file created inside the data directory.
const DefaultFileName = "cache.db"

// Store implements storage.EmbeddingCache on a SQLite database.
type Store struct {
	db     *sql.DB
	path   string
	now    func() time.Time
	logger *slog.Logger
}

var _ storage.EmbeddingCache = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for created_at and eviction cutoffs.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore opens (creating if needed) the cache database in dataDir.
func NewStore(dataDir string, opts ...Option) (*Store, error) {
	if dataDir == "" {
		return nil, errors.New("sqlite data directory required")
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DefaultFileName)
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:     db,
		path:   dbPath,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "sqlite-cache")

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		s.logger.Debug("applied migration", "name", name)
	}
	return nil
}

// scanEntry decodes one embedding_cache row selected in column order
// record_id, fingerprint, description, embedding, created_at.
func scanEntry(scan func(dest ...any) error) (*core.CacheEntry, error) {
	var (
		recordID    int64
		fp          string
		description string
		blob        []byte
		createdAt   int64
	)
	if err := scan(&recordID, &fp, &description, &blob, &createdAt); err != nil {
		return nil, err
	}

	embedding, err := storage.UnmarshalEmbedding(blob)
	if err != nil {
		return nil, fmt.Errorf("decoding embedding for %s: %w", core.Fingerprint(fp).Short(), err)
	}
	return &core.CacheEntry{
		RecordID:    uint64(recordID),
		Fingerprint: core.Fingerprint(fp),
		Description: description,
		Embedding:   embedding,
		CreatedAt:   time.UnixMicro(createdAt).UTC(),
	}, nil
}

// Get retrieves the entry for fp.
func (s *Store) Get(ctx context.Context, fp core.Fingerprint) (*core.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT record_id, fingerprint, description, embedding, created_at
		FROM embedding_cache WHERE fingerprint = ?
	`, fp.String())

	entry, err := scanEntry(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, storage.CacheFailure(fmt.Errorf("reading cache entry: %w", err))
	}
	return entry, nil
}

// Set upserts the entry for fp, assigning a fresh record id.
func (s *Store) Set(ctx context.Context, fp core.Fingerprint, description string, embedding []float32) (uint64, error) {
	entry := &core.CacheEntry{Fingerprint: fp, Description: description, Embedding: embedding}
	if err := core.ValidateCacheEntry(entry); err != nil {
		return 0, err
	}
	createdAt := s.now().UTC().Truncate(time.Microsecond)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storage.CacheFailure(fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback()

	var recordID int64
	err = tx.QueryRowContext(ctx,
		"UPDATE sequences SET value = value + 1 WHERE name = 'record_id' RETURNING value",
	).Scan(&recordID)
	if err != nil {
		return 0, storage.CacheFailure(fmt.Errorf("allocating record id: %w", err))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO embedding_cache (fingerprint, record_id, description, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			record_id = excluded.record_id,
			description = excluded.description,
			embedding = excluded.embedding,
			created_at = excluded.created_at
	`, fp.String(), recordID, description, storage.MarshalEmbedding(embedding), createdAt.UnixMicro())
	if err != nil {
		return 0, storage.CacheFailure(fmt.Errorf("saving cache entry: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return 0, storage.CacheFailure(fmt.Errorf("committing cache entry: %w", err))
	}
	return uint64(recordID), nil
}

// EvictOlderThan removes entries created more than maxAgeDays days ago.
// A single DELETE is atomic per row and WAL mode keeps readers unblocked.
func (s *Store) EvictOlderThan(ctx context.Context, maxAgeDays int) (int, error) {
	if maxAgeDays < 0 {
		return 0, fmt.Errorf("%w: maxAgeDays must not be negative", storage.ErrInvalidQuery)
	}
	cutoff := s.now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM embedding_cache WHERE created_at < ?", cutoff.UnixMicro())
	if err != nil {
		return 0, storage.CacheFailure(fmt.Errorf("evicting cache entries: %w", err))
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, storage.CacheFailure(fmt.Errorf("counting evicted entries: %w", err))
	}

	s.logger.Debug("evicted stale entries", "removed", removed, "cutoff", cutoff)
	return int(removed), nil
}

// Invalidate removes the entry for fp if present.
func (s *Store) Invalidate(ctx context.Context, fp core.Fingerprint) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM embedding_cache WHERE fingerprint = ?", fp.String()); err != nil {
		return storage.CacheFailure(fmt.Errorf("invalidating cache entry: %w", err))
	}
	return nil
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embedding_cache").Scan(&count); err != nil {
		return 0, storage.CacheFailure(fmt.Errorf("counting cache entries: %w", err))
	}
	return count, nil
}

// ForEach pages through the entries by fingerprint.
func (s *Store) ForEach(ctx context.Context, batchSize int, fn func([]*core.CacheEntry) error) error {
	if batchSize < 1 {
		return fmt.Errorf("%w: batch size must be positive", storage.ErrInvalidQuery)
	}
	after := ""
	for {
		batch, err := s.page(ctx, after, batchSize)
		if err != nil {
			return storage.CacheFailure(err)
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < batchSize {
			return nil
		}
		after = batch[len(batch)-1].Fingerprint.String()
	}
}

func (s *Store) page(ctx context.Context, after string, limit int) ([]*core.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, fingerprint, description, embedding, created_at
		FROM embedding_cache WHERE fingerprint > ?
		ORDER BY fingerprint LIMIT ?
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("listing cache entries: %w", err)
	}
	defer rows.Close()

	var batch []*core.CacheEntry
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("reading cache entry: %w", err)
		}
		batch = append(batch, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing cache entries: %w", err)
	}
	return batch, nil
}
