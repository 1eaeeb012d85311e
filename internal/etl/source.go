package etl

import "context"

// ── Source ──────────────────────────────────────────────────
// A PageSource fetches one fixed-size page of a remote collection.
// The HTTP implementation lives in etl/sources.

// Direction is the sort order requested from the remote.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// DefaultPageSize is the number of records requested per page.
const DefaultPageSize = 1000

// PageSource is implemented by remote paginators.
type PageSource interface {
	// FetchPage returns the records at offset, ordered by orderField.
	// It never retries; a failure is returned to the caller as is.
	FetchPage(ctx context.Context, endpoint string, offset int, orderField string, dir Direction) ([]RawRecord, error)

	// PageSize is the number of records requested per call.
	PageSize() int
}
