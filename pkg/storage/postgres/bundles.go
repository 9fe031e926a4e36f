package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/estateloop/estateloop/pkg/storage"
)

// BundleStore persists permission bundle definitions.
type BundleStore struct {
	db *sql.DB
}

// NewBundleStore creates a BundleStore over an open connection.
func NewBundleStore(db *sql.DB) *BundleStore {
	return &BundleStore{db: db}
}

func (s *BundleStore) CreateBundle(ctx context.Context, bundle *storage.Bundle) error {
	if bundle.ID == "" {
		bundle.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	bundle.CreatedAt = now
	bundle.UpdatedAt = now

	doc, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("failed to marshal bundle %s: %w", bundle.Name, err)
	}

	query := `INSERT INTO permission_bundles (id, name, doc, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.db.ExecContext(ctx, query, bundle.ID, bundle.Name, doc, bundle.CreatedAt, bundle.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create bundle %s: %w", bundle.Name, err)
	}
	return nil
}

func (s *BundleStore) GetBundle(ctx context.Context, id string) (*storage.Bundle, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM permission_bundles WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query bundle %s: %w", id, err)
	}

	var bundle storage.Bundle
	if err := json.Unmarshal(doc, &bundle); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bundle %s: %w", id, err)
	}
	return &bundle, nil
}

func (s *BundleStore) ListBundles(ctx context.Context) ([]*storage.Bundle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM permission_bundles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bundles: %w", err)
	}
	defer rows.Close()

	var bundles []*storage.Bundle
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan bundle row: %w", err)
		}
		var bundle storage.Bundle
		if err := json.Unmarshal(doc, &bundle); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bundle: %w", err)
		}
		bundles = append(bundles, &bundle)
	}
	return bundles, rows.Err()
}

func (s *BundleStore) UpdateBundle(ctx context.Context, bundle *storage.Bundle) error {
	bundle.UpdatedAt = time.Now().UTC()
	doc, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("failed to marshal bundle %s: %w", bundle.ID, err)
	}

	query := `UPDATE permission_bundles SET name = $2, doc = $3, updated_at = $4 WHERE id = $1`
	result, err := s.db.ExecContext(ctx, query, bundle.ID, bundle.Name, doc, bundle.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update bundle %s: %w", bundle.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *BundleStore) DeleteBundle(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM permission_bundles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete bundle %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

var _ storage.BundleStore = (*BundleStore)(nil)
