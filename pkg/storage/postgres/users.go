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

// UserStore persists user documents in the users table.
type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a UserStore over an open connection.
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

// FindUserByExternalID loads the document for an identity-provider user id.
func (s *UserStore) FindUserByExternalID(ctx context.Context, externalID string) (*storage.UserRecord, error) {
	query := `SELECT doc FROM users WHERE external_id = $1`

	var doc []byte
	err := s.db.QueryRowContext(ctx, query, externalID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user %s: %w", externalID, err)
	}

	var record storage.UserRecord
	if err := json.Unmarshal(doc, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user %s: %w", externalID, err)
	}
	return &record, nil
}

// SaveUser upserts the document keyed by external id.
func (s *UserStore) SaveUser(ctx context.Context, record *storage.UserRecord) (*storage.UserRecord, error) {
	now := time.Now().UTC()
	stored := *record
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	doc, err := json.Marshal(&stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user %s: %w", stored.ExternalID, err)
	}

	query := `
		INSERT INTO users (id, external_id, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_id)
		DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, stored.ID, stored.ExternalID, doc, stored.CreatedAt, stored.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to save user %s: %w", stored.ExternalID, err)
	}
	return &stored, nil
}

var _ storage.UserStore = (*UserStore)(nil)
