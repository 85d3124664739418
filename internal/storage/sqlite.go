// Package storage provides the SQLite implementation of the record store.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kura/internal/codec"
	"github.com/hyperjump/kura/internal/errs"
	"github.com/hyperjump/kura/internal/models"
)

// RecordStore implements Store on a per-collection SQLite database in WAL
// mode. Vectors are stored as little-endian float32 blobs, metadata as a
// JSON column. The seq column is AUTOINCREMENT so sequences stay monotonic
// and are never reused, even after deletes.
type RecordStore struct {
	db         *sql.DB
	collection string
}

// NewRecordStore opens or creates the database at dbPath. Parent
// directories are created if they do not exist.
func NewRecordStore(dbPath, collection string) (*RecordStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errs.Storage("open", collection, fmt.Errorf("create store directory: %w", err))
		}
	}
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errs.Storage("open", collection, err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, errs.Storage("open", collection, fmt.Errorf("initialize schema: %w", err))
	}
	return &RecordStore{db: db, collection: collection}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		vector BLOB NOT NULL,
		document TEXT NOT NULL,
		metadata TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS collection_meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		dimension INTEGER NOT NULL,
		metric TEXT NOT NULL,
		index_kind TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS store_version (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL
	);
	INSERT OR IGNORE INTO store_version (id, version) VALUES (1, 0);
	`
	_, err := db.Exec(schema)
	return err
}

// Put inserts or replaces a record. The record's Seq, CreatedAt and
// UpdatedAt fields are filled in from the committed row.
func (s *RecordStore) Put(ctx context.Context, rec *models.Record) (uint64, error) {
	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return 0, errs.Storage("put", s.collection, fmt.Errorf("marshal metadata: %w", err))
	}
	blob := codec.EncodeVector(rec.Vector)
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errs.Storage("put", s.collection, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO records (id, vector, document, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   vector = excluded.vector,
		   document = excluded.document,
		   metadata = excluded.metadata,
		   updated_at = excluded.updated_at`,
		rec.ID, blob, rec.Document, string(metadataJSON), now, now,
	)
	if err != nil {
		return 0, errs.Storage("put", s.collection, err)
	}

	var seq uint64
	var createdAt time.Time
	if err := tx.QueryRowContext(ctx,
		`SELECT seq, created_at FROM records WHERE id = ?`, rec.ID,
	).Scan(&seq, &createdAt); err != nil {
		return 0, errs.Storage("put", s.collection, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE store_version SET version = version + 1 WHERE id = 1`,
	); err != nil {
		return 0, errs.Storage("put", s.collection, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, errs.Storage("put", s.collection, err)
	}

	rec.Seq = seq
	rec.CreatedAt = createdAt
	rec.UpdatedAt = now
	return seq, nil
}

// Get returns the record for id.
func (s *RecordStore) Get(ctx context.Context, id string) (*models.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT seq, id, vector, document, metadata, created_at, updated_at
		 FROM records WHERE id = ?`, id,
	)
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound(s.collection, id)
	}
	if err != nil {
		return nil, errs.Storage("get", s.collection, err)
	}
	return rec, nil
}

// Delete removes a record and reports whether it existed.
func (s *RecordStore) Delete(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errs.Storage("delete", s.collection, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return false, errs.Storage("delete", s.collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errs.Storage("delete", s.collection, err)
	}
	if n == 0 {
		if err := tx.Commit(); err != nil {
			return false, errs.Storage("delete", s.collection, err)
		}
		return false, nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE store_version SET version = version + 1 WHERE id = 1`,
	); err != nil {
		return false, errs.Storage("delete", s.collection, err)
	}
	if err := tx.Commit(); err != nil {
		return false, errs.Storage("delete", s.collection, err)
	}
	return true, nil
}

// Scan streams records in ascending sequence order, the replay order for
// index rebuilds.
func (s *RecordStore) Scan(ctx context.Context, fn func(*models.Record) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, vector, document, metadata, created_at, updated_at
		 FROM records ORDER BY seq ASC`,
	)
	if err != nil {
		return errs.Storage("scan", s.collection, err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return errs.Storage("scan", s.collection, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return errs.Storage("scan", s.collection, err)
	}
	return nil
}

// Count returns the number of stored records.
func (s *RecordStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, errs.Storage("count", s.collection, err)
	}
	return n, nil
}

// CountsByMetadata groups records by the value of one metadata key and
// returns per-value counts, most frequent first. Records without the key
// are excluded.
func (s *RecordStore) CountsByMetadata(ctx context.Context, key string) ([]models.SourceCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT json_extract(metadata, '$.' || ?1) AS val, COUNT(*) AS n
		 FROM records
		 WHERE json_extract(metadata, '$.' || ?1) IS NOT NULL
		 GROUP BY val ORDER BY n DESC, val ASC`,
		key,
	)
	if err != nil {
		return nil, errs.Storage("counts_by_metadata", s.collection, err)
	}
	defer rows.Close()

	var counts []models.SourceCount
	for rows.Next() {
		var val any
		var sc models.SourceCount
		if err := rows.Scan(&val, &sc.Count); err != nil {
			return nil, errs.Storage("counts_by_metadata", s.collection, err)
		}
		switch v := val.(type) {
		case string:
			sc.Name = v
		default:
			sc.Name = fmt.Sprint(v)
		}
		counts = append(counts, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage("counts_by_metadata", s.collection, err)
	}
	return counts, nil
}

// Version returns the mutation counter.
func (s *RecordStore) Version(ctx context.Context) (uint64, error) {
	var v uint64
	if err := s.db.QueryRowContext(ctx,
		`SELECT version FROM store_version WHERE id = 1`,
	).Scan(&v); err != nil {
		return 0, errs.Storage("version", s.collection, err)
	}
	return v, nil
}

// Meta reads the pinned collection configuration.
func (s *RecordStore) Meta(ctx context.Context) (*Meta, error) {
	var m Meta
	err := s.db.QueryRowContext(ctx,
		`SELECT dimension, metric, index_kind, created_at FROM collection_meta WHERE id = 1`,
	).Scan(&m.Dimension, &m.Metric, &m.IndexKind, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Storage("meta", s.collection, err)
	}
	return &m, nil
}

// SetMeta pins the collection configuration.
func (s *RecordStore) SetMeta(ctx context.Context, m *Meta) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO collection_meta (id, dimension, metric, index_kind, created_at)
		 VALUES (1, ?, ?, ?, ?)`,
		m.Dimension, m.Metric, m.IndexKind, m.CreatedAt.UTC(),
	)
	if err != nil {
		return errs.Storage("set_meta", s.collection, err)
	}
	return nil
}

// Flush checkpoints the WAL so all committed writes land in the main
// database file.
func (s *RecordStore) Flush(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return errs.Storage("flush", s.collection, err)
	}
	return nil
}

// Close closes the database connection.
func (s *RecordStore) Close() error {
	return s.db.Close()
}

func scanRecord(scan func(dest ...any) error) (*models.Record, error) {
	var rec models.Record
	var blob []byte
	var metadataJSON sql.NullString
	if err := scan(&rec.Seq, &rec.ID, &blob, &rec.Document, &metadataJSON, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	vec, err := codec.DecodeVector(blob)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	rec.Vector = vec
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("record %s: unmarshal metadata: %w", rec.ID, err)
		}
	}
	return &rec, nil
}
