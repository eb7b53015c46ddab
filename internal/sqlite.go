package internal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var _ KnowledgeStore = (*SQLiteStore)(nil)

// SQLiteStore keeps contexts, sources, blobs and links in one SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := initKnowledgeSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func initKnowledgeSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS contexts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		context_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		hash TEXT NOT NULL,
		vector_hex TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		FOREIGN KEY (context_id) REFERENCES contexts(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_sources_context ON sources(context_id);
	CREATE INDEX IF NOT EXISTS idx_sources_hash ON sources(context_id, hash);

	CREATE TABLE IF NOT EXISTS blobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id INTEGER NOT NULL,
		text TEXT NOT NULL,
		blob_index INTEGER NOT NULL,
		start INTEGER NOT NULL DEFAULT 0,
		vector_hex TEXT NOT NULL,
		FOREIGN KEY (source_id) REFERENCES sources(id) ON DELETE CASCADE
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_blobs_position ON blobs(source_id, blob_index);

	CREATE TABLE IF NOT EXISTS links (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		blob_id INTEGER NOT NULL,
		target_source_id INTEGER NOT NULL,
		origin_distance REAL NOT NULL,
		destination_distance REAL NOT NULL,
		FOREIGN KEY (blob_id) REFERENCES blobs(id) ON DELETE CASCADE,
		FOREIGN KEY (target_source_id) REFERENCES sources(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_links_blob ON links(blob_id);
	CREATE INDEX IF NOT EXISTS idx_links_target ON links(target_source_id);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetOrCreateContext(ctx context.Context, name string) (*KnowledgeContext, error) {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contexts (name, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET updated_at = excluded.updated_at`,
		name, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create context: %w", err)
	}
	return s.GetContext(ctx, name)
}

func (s *SQLiteStore) GetContext(ctx context.Context, name string) (*KnowledgeContext, error) {
	var c KnowledgeContext
	var created, updated int64

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, updated_at FROM contexts WHERE name = ?`, name,
	).Scan(&c.ID, &c.Name, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrContextNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("get context: %w", err)
	}

	c.CreatedAt = time.Unix(created, 0)
	c.UpdatedAt = time.Unix(updated, 0)
	return &c, nil
}

func (s *SQLiteStore) ListContexts(ctx context.Context) ([]*KnowledgeContext, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at, updated_at FROM contexts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}
	defer rows.Close()

	var out []*KnowledgeContext
	for rows.Next() {
		var c KnowledgeContext
		var created, updated int64
		if err := rows.Scan(&c.ID, &c.Name, &created, &updated); err != nil {
			return nil, err
		}
		c.CreatedAt = time.Unix(created, 0)
		c.UpdatedAt = time.Unix(updated, 0)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// DeleteContext removes the context together with its links, blobs and
// sources.
func (s *SQLiteStore) DeleteContext(ctx context.Context, contextID int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := deleteContextLinks(ctx, tx, contextID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM blobs WHERE source_id IN (SELECT id FROM sources WHERE context_id = ?)`, contextID); err != nil {
			return fmt.Errorf("delete blobs: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE context_id = ?`, contextID); err != nil {
			return fmt.Errorf("delete sources: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM contexts WHERE id = ?`, contextID)
		if err != nil {
			return fmt.Errorf("delete context: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: id %d", ErrContextNotFound, contextID)
		}
		return nil
	})
}

func (s *SQLiteStore) SourceExists(ctx context.Context, contextID int64, hash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sources WHERE context_id = ? AND hash = ?`, contextID, hash,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check source: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) CreateSource(ctx context.Context, src *Source) error {
	src.CreatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (context_id, name, hash, vector_hex, created_at) VALUES (?, ?, ?, ?, ?)`,
		src.ContextID, src.Name, src.Hash, src.VectorHex, src.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create source: %w", err)
	}
	src.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) UpdateSourceVector(ctx context.Context, sourceID int64, vectorHex string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sources SET vector_hex = ? WHERE id = ?`, vectorHex, sourceID)
	if err != nil {
		return fmt.Errorf("update source: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("source %d: %w", sourceID, ErrNotFound)
	}
	return nil
}

// AddSource inserts src and its blobs in one transaction, filling in the
// generated IDs. A failure leaves no trace of the source.
func (s *SQLiteStore) AddSource(ctx context.Context, src *Source, blobs []*Blob) error {
	createdAt := time.Now()
	var sourceID int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO sources (context_id, name, hash, vector_hex, created_at) VALUES (?, ?, ?, ?, ?)`,
			src.ContextID, src.Name, src.Hash, src.VectorHex, createdAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("create source: %w", err)
		}
		if sourceID, err = res.LastInsertId(); err != nil {
			return err
		}
		if len(blobs) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO blobs (source_id, text, blob_index, start, vector_hex) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare blob insert: %w", err)
		}
		defer stmt.Close()

		for _, b := range blobs {
			res, err := stmt.ExecContext(ctx, sourceID, b.Text, b.BlobIndex, b.Start, b.VectorHex)
			if err != nil {
				return fmt.Errorf("create blob: %w", err)
			}
			if b.ID, err = res.LastInsertId(); err != nil {
				return err
			}
			b.SourceID = sourceID
		}
		return nil
	})
	if err != nil {
		return err
	}
	src.ID = sourceID
	src.CreatedAt = createdAt
	return nil
}

func (s *SQLiteStore) ListSources(ctx context.Context, contextID int64) ([]*Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, context_id, name, hash, vector_hex, created_at
		 FROM sources WHERE context_id = ? ORDER BY id`, contextID)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []*Source
	for rows.Next() {
		var src Source
		var created int64
		if err := rows.Scan(&src.ID, &src.ContextID, &src.Name, &src.Hash, &src.VectorHex, &created); err != nil {
			return nil, err
		}
		src.CreatedAt = time.Unix(created, 0)
		out = append(out, &src)
	}
	return out, rows.Err()
}

// CreateBlobs inserts all blobs in one transaction and fills in their ids.
func (s *SQLiteStore) CreateBlobs(ctx context.Context, blobs []*Blob) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO blobs (source_id, text, blob_index, start, vector_hex) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare blob insert: %w", err)
		}
		defer stmt.Close()

		for _, b := range blobs {
			res, err := stmt.ExecContext(ctx, b.SourceID, b.Text, b.BlobIndex, b.Start, b.VectorHex)
			if err != nil {
				return fmt.Errorf("create blob: %w", err)
			}
			if b.ID, err = res.LastInsertId(); err != nil {
				return err
			}
		}
		return nil
	})
}

const blobColumns = `b.id, b.source_id, b.text, b.blob_index, b.start, b.vector_hex`

func (s *SQLiteStore) ListBlobs(ctx context.Context, contextID int64) ([]*Blob, error) {
	return s.queryBlobs(ctx,
		`SELECT `+blobColumns+` FROM blobs b JOIN sources s ON b.source_id = s.id
		 WHERE s.context_id = ? ORDER BY b.source_id, b.blob_index`, contextID)
}

func (s *SQLiteStore) ListSourceBlobs(ctx context.Context, sourceID int64) ([]*Blob, error) {
	return s.queryBlobs(ctx,
		`SELECT `+blobColumns+` FROM blobs b WHERE b.source_id = ? ORDER BY b.blob_index`, sourceID)
}

// LoadBlobs returns the blobs with the given ids ordered by source and
// position. Unknown ids are skipped.
func (s *SQLiteStore) LoadBlobs(ctx context.Context, ids []int64) ([]*Blob, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	return s.queryBlobs(ctx,
		`SELECT `+blobColumns+` FROM blobs b WHERE b.id IN (`+placeholders+`)
		 ORDER BY b.source_id, b.blob_index`, args...)
}

func (s *SQLiteStore) queryBlobs(ctx context.Context, query string, args ...any) ([]*Blob, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query blobs: %w", err)
	}
	defer rows.Close()

	var out []*Blob
	for rows.Next() {
		var b Blob
		if err := rows.Scan(&b.ID, &b.SourceID, &b.Text, &b.BlobIndex, &b.Start, &b.VectorHex); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// ReplaceLinks drops every link touching the context and inserts links in
// the same transaction.
func (s *SQLiteStore) ReplaceLinks(ctx context.Context, contextID int64, links []*Link) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := deleteContextLinks(ctx, tx, contextID); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO links (blob_id, target_source_id, origin_distance, destination_distance)
			 VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare link insert: %w", err)
		}
		defer stmt.Close()

		for _, l := range links {
			res, err := stmt.ExecContext(ctx, l.BlobID, l.TargetSourceID, l.OriginDistance, l.DestinationDistance)
			if err != nil {
				return fmt.Errorf("create link: %w", err)
			}
			if l.ID, err = res.LastInsertId(); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListLinks(ctx context.Context, contextID int64) ([]*Link, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT l.id, l.blob_id, l.target_source_id, l.origin_distance, l.destination_distance
		 FROM links l
		 JOIN blobs b ON l.blob_id = b.id
		 JOIN sources s ON b.source_id = s.id
		 WHERE s.context_id = ?
		 ORDER BY b.source_id, b.blob_index, l.id`, contextID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	var out []*Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.ID, &l.BlobID, &l.TargetSourceID, &l.OriginDistance, &l.DestinationDistance); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Count(ctx context.Context, contextID int64) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM sources WHERE context_id = ?1),
			(SELECT COUNT(*) FROM blobs b JOIN sources s ON b.source_id = s.id WHERE s.context_id = ?1),
			(SELECT COUNT(*) FROM links l JOIN blobs b ON l.blob_id = b.id
				JOIN sources s ON b.source_id = s.id WHERE s.context_id = ?1)`, contextID,
	).Scan(&c.Sources, &c.Blobs, &c.Links)
	if err != nil {
		return c, fmt.Errorf("count: %w", err)
	}
	return c, nil
}

func deleteContextLinks(ctx context.Context, tx *sql.Tx, contextID int64) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM links
		 WHERE blob_id IN (SELECT b.id FROM blobs b JOIN sources s ON b.source_id = s.id WHERE s.context_id = ?1)
		    OR target_source_id IN (SELECT id FROM sources WHERE context_id = ?1)`, contextID)
	if err != nil {
		return fmt.Errorf("delete links: %w", err)
	}
	return nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
