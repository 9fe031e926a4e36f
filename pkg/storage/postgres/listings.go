package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/estateloop/estateloop/pkg/storage"
)

// ListingStore updates listing documents in the listings table.
type ListingStore struct {
	db *sql.DB
}

// NewListingStore creates a ListingStore over an open connection.
func NewListingStore(db *sql.DB) *ListingStore {
	return &ListingStore{db: db}
}

// UpdateManyByAuthor rewrites the denormalized author snapshot on every
// listing the author owns. One bulk statement; the caller decides whether
// to retry.
func (s *ListingStore) UpdateManyByAuthor(ctx context.Context, authorID string, snapshot storage.AuthorSnapshot) (int64, error) {
	author, err := json.Marshal(snapshot)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal author snapshot: %w", err)
	}

	query := `UPDATE listings SET author = $2, updated_at = $3 WHERE author_id = $1`
	result, err := s.db.ExecContext(ctx, query, authorID, author, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to update listings for author %s: %w", authorID, err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return count, nil
}

var _ storage.ListingStore = (*ListingStore)(nil)
