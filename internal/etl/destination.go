package etl

import "context"

// ── Destination ────────────────────────────────────────────
// A Store persists validated records into the relational mirror.
// Implementations live in dbclient.

// SyncMode determines how a batch is written.
type SyncMode string

const (
	// SyncInsert adds every record as a new row. A key collision is an error.
	SyncInsert SyncMode = "insert"
	// SyncMerge upserts by primary key.
	SyncMerge SyncMode = "merge"
)

// Store is the relational side of a refresh.
type Store interface {
	// EnsureSchema creates the dataset's table if it does not exist.
	EnsureSchema(ctx context.Context, d *Descriptor) error

	// CurrentFrontier returns the primary key of the row holding the largest
	// filter-field value. ok is false when the table is empty. The table is
	// created first if needed.
	CurrentFrontier(ctx context.Context, d *Descriptor) (key any, ok bool, err error)

	// WriteBatch applies records atomically using mode. Truncation failures
	// are reported as *TruncationError.
	WriteBatch(ctx context.Context, d *Descriptor, records []Record, mode SyncMode) error
}
