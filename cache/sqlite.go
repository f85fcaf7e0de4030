package cache

import (
	"database/sql"
	"sync"
	"time"

	"github.com/coder/quartz"
	_ "github.com/glebarez/go-sqlite"
	"golang.org/x/xerrors"
)

// SQLiteCache is a CacheProvider backed by an SQLite database,
// so cached responses survive a restart.
// It follows the same capacity, recency and expiry rules as ExpiringLRU.
// Recency is tracked with a monotonic sequence rather than wall time.
type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
	clock      quartz.Clock
	capacity   int
	expiration time.Duration
	seq        int64
}

// NewSQLiteCache opens (or creates) the cache table in the given db file.
// If file name is empty, a new in-memory db is opened.
// Rows beyond capacity left by an earlier run are trimmed, oldest first.
func NewSQLiteCache(filename string, capacity int, expirationDays int64, opts ...Option) (*SQLiteCache, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	window, err := expirationWindow(expirationDays)
	if err != nil {
		return nil, err
	}
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, xerrors.Errorf("open %s: %w", filename, err)
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS lru_cache (
			key TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			last_used INTEGER NOT NULL,
			bytes BLOB
		)`,
		"CREATE INDEX IF NOT EXISTS last_used_idx ON lru_cache (last_used)",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, xerrors.Errorf("create schema: %w", err)
		}
	}

	s := &SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
		clock:      applyOptions(opts).clock,
		capacity:   capacity,
		expiration: window,
	}
	if err := db.QueryRow("SELECT COALESCE(MAX(last_used), 0) FROM lru_cache").Scan(&s.seq); err != nil {
		db.Close()
		return nil, xerrors.Errorf("read sequence: %w", err)
	}
	_, err = db.Exec(`DELETE FROM lru_cache WHERE key NOT IN
		(SELECT key FROM lru_cache ORDER BY last_used DESC LIMIT ?)`, capacity)
	if err != nil {
		db.Close()
		return nil, xerrors.Errorf("trim to capacity: %w", err)
	}
	return s, nil
}

func (s *SQLiteCache) Get(key string) ([]byte, bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	var createdAt int64
	var bytes []byte
	err = tx.QueryRow("SELECT created_at, bytes FROM lru_cache WHERE key = ?", key).Scan(&createdAt, &bytes)
	if xerrors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, xerrors.Errorf("select %q: %w", key, err)
	}
	if isExpired(time.UnixMilli(createdAt), s.clock.Now("cache", "get"), s.expiration) {
		if _, err := tx.Exec("DELETE FROM lru_cache WHERE key = ?", key); err != nil {
			return nil, false, xerrors.Errorf("delete expired %q: %w", key, err)
		}
		return nil, false, tx.Commit()
	}
	s.seq++
	if _, err := tx.Exec("UPDATE lru_cache SET last_used = ? WHERE key = ?", s.seq, key); err != nil {
		return nil, false, xerrors.Errorf("touch %q: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (s *SQLiteCache) Put(key string, bytes []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM lru_cache WHERE key = ?", key); err != nil {
		return xerrors.Errorf("delete %q: %w", key, err)
	}
	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM lru_cache").Scan(&count); err != nil {
		return xerrors.Errorf("count: %w", err)
	}
	if count >= s.capacity {
		_, err := tx.Exec(`DELETE FROM lru_cache WHERE key =
			(SELECT key FROM lru_cache ORDER BY last_used ASC LIMIT 1)`)
		if err != nil {
			return xerrors.Errorf("evict: %w", err)
		}
	}
	s.seq++
	_, err = tx.Exec("INSERT INTO lru_cache (key, created_at, last_used, bytes) VALUES (?, ?, ?, ?)",
		key, s.clock.Now("cache", "put").UnixMilli(), s.seq, bytes)
	if err != nil {
		return xerrors.Errorf("insert %q: %w", key, err)
	}
	return tx.Commit()
}

func (s *SQLiteCache) Purge(key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM lru_cache WHERE key = ?", key)
	return err
}

func (s *SQLiteCache) Keys() ([]string, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	rows, err := s.db.Query("SELECT key FROM lru_cache ORDER BY last_used DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteCache) Close() error {
	return s.db.Close()
}
