package hlsprefetch

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Store persists per-task segment completion across restarts, adapted from
// the teacher's internal/database/sqlite.go (WAL-mode open) and
// internal/task/repository.go (segment bookkeeping), swapping the
// aria2-GID-keyed rows for completed/failed counters keyed by task+filename.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the sqlite database under cacheDir.
func OpenStore(cacheDir string) (*Store, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create cache dir")
	}
	dbFile := filepath.Join(cacheDir, "hls_segments.db")
	db, err := sql.Open("sqlite", dbFile)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "ping sqlite")
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000; PRAGMA journal_mode = WAL;`); err != nil {
		return nil, errors.Wrap(err, "configure sqlite")
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS hls_segments (
		task_id    TEXT NOT NULL,
		filename   TEXT NOT NULL,
		seg_index  INTEGER NOT NULL,
		url        TEXT NOT NULL,
		downloaded INTEGER NOT NULL DEFAULT 0,
		failures   INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (task_id, filename)
	);
	CREATE INDEX IF NOT EXISTS idx_hls_segments_task ON hls_segments(task_id);
	`)
	return errors.Wrap(err, "create hls_segments table")
}

// UpsertSegment records a segment discovered during playlist parsing,
// leaving any existing downloaded/failures counters untouched.
func (s *Store) UpsertSegment(taskID, filename string, index int, url string) error {
	_, err := s.db.Exec(`
		INSERT INTO hls_segments (task_id, filename, seg_index, url, downloaded, failures)
		VALUES (?, ?, ?, ?, 0, 0)
		ON CONFLICT(task_id, filename) DO UPDATE SET seg_index = excluded.seg_index, url = excluded.url
	`, taskID, filename, index, url)
	return errors.Wrap(err, "upsert segment")
}

// MarkDownloaded flips a segment's downloaded flag and resets its failure count.
func (s *Store) MarkDownloaded(taskID, filename string) error {
	_, err := s.db.Exec(`UPDATE hls_segments SET downloaded = 1, failures = 0 WHERE task_id = ? AND filename = ?`, taskID, filename)
	return errors.Wrap(err, "mark downloaded")
}

// IncrementFailure bumps a segment's failure counter and returns the new count.
func (s *Store) IncrementFailure(taskID, filename string) (int, error) {
	if _, err := s.db.Exec(`UPDATE hls_segments SET failures = failures + 1 WHERE task_id = ? AND filename = ?`, taskID, filename); err != nil {
		return 0, errors.Wrap(err, "increment failure")
	}
	var failures int
	err := s.db.QueryRow(`SELECT failures FROM hls_segments WHERE task_id = ? AND filename = ?`, taskID, filename).Scan(&failures)
	return failures, errors.Wrap(err, "read failure count")
}

// IsDownloaded reports whether filename was already fetched for taskID.
func (s *Store) IsDownloaded(taskID, filename string) (bool, error) {
	var downloaded int
	err := s.db.QueryRow(`SELECT downloaded FROM hls_segments WHERE task_id = ? AND filename = ?`, taskID, filename).Scan(&downloaded)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "read downloaded")
	}
	return downloaded == 1, nil
}

// DownloadedSet returns the set of downloaded filenames for taskID.
func (s *Store) DownloadedSet(taskID string) (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT filename FROM hls_segments WHERE task_id = ? AND downloaded = 1`, taskID)
	if err != nil {
		return nil, errors.Wrap(err, "query downloaded set")
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var filename string
		if err := rows.Scan(&filename); err != nil {
			return nil, errors.Wrap(err, "scan downloaded set")
		}
		out[filename] = true
	}
	return out, errors.Wrap(rows.Err(), "iterate downloaded set")
}

// CompletedCount returns how many segments of taskID are downloaded.
func (s *Store) CompletedCount(taskID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM hls_segments WHERE task_id = ? AND downloaded = 1`, taskID).Scan(&n)
	return n, errors.Wrap(err, "count completed")
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
