// Package storage persists collection records durably on local disk.
package storage

import (
	"context"
	"time"

	"github.com/hyperjump/kura/internal/models"
)

// Meta is the collection configuration pinned at creation time. It is
// stored next to the records so a restart can validate the running
// configuration against what is on disk.
type Meta struct {
	Dimension int
	Metric    string
	IndexKind string
	CreatedAt time.Time
}

// Store is the durable record store for one collection. Writes are
// committed before the caller's indexes see them, so the store is the
// source of truth: every index can be rebuilt by replaying Scan.
type Store interface {
	// Put inserts or replaces a record by ID and returns its sequence.
	// A replaced record keeps the sequence it was first ingested with.
	Put(ctx context.Context, rec *models.Record) (uint64, error)
	// Get returns the record for id, or a not-found error.
	Get(ctx context.Context, id string) (*models.Record, error)
	// Delete removes a record and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
	// Scan streams all records in ascending sequence order. Returning an
	// error from fn stops the scan and surfaces that error. Scan takes no
	// filter: metadata predicates are evaluated by the metadata index,
	// which is itself rebuilt from this scan.
	Scan(ctx context.Context, fn func(*models.Record) error) error
	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)
	// CountsByMetadata groups records by the value of one metadata key,
	// most frequent first, excluding records without the key.
	CountsByMetadata(ctx context.Context, key string) ([]models.SourceCount, error)
	// Version returns the mutation counter, bumped by every successful
	// Put and Delete. Index snapshots record it to detect staleness.
	Version(ctx context.Context) (uint64, error)
	// Meta reads the pinned collection configuration; nil when the store
	// was just created and none has been written yet.
	Meta(ctx context.Context) (*Meta, error)
	// SetMeta pins the collection configuration.
	SetMeta(ctx context.Context, m *Meta) error
	// Flush forces buffered state onto stable storage.
	Flush(ctx context.Context) error

	Close() error
}
