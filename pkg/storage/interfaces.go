package storage

import "context"

// UserStore persists user documents. FindUserByExternalID returns
// ErrNotFound when no document exists for the id.
type UserStore interface {
	FindUserByExternalID(ctx context.Context, externalID string) (*UserRecord, error)

	// SaveUser upserts the document keyed by external id and returns the
	// stored record.
	SaveUser(ctx context.Context, record *UserRecord) (*UserRecord, error)
}

// ListingStore exposes the single listing operation the core needs: the
// bulk refresh of denormalized author snapshots.
type ListingStore interface {
	// UpdateManyByAuthor rewrites the author snapshot on every listing the
	// author owns and returns the number touched.
	UpdateManyByAuthor(ctx context.Context, authorID string, snapshot AuthorSnapshot) (int64, error)
}

// BundleStore persists permission bundles.
type BundleStore interface {
	CreateBundle(ctx context.Context, bundle *Bundle) error
	GetBundle(ctx context.Context, id string) (*Bundle, error)
	ListBundles(ctx context.Context) ([]*Bundle, error)
	UpdateBundle(ctx context.Context, bundle *Bundle) error
	DeleteBundle(ctx context.Context, id string) error
}
