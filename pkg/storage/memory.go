package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory implementation of UserStore, ListingStore
// and BundleStore used by unit tests.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]*UserRecord // keyed by external id
	listings map[string]*memoryListing
	bundles  map[string]*Bundle

	// FailNextSave, when set, makes the next SaveUser call return the
	// error once.
	FailNextSave error
	// FailListings, when set, makes UpdateManyByAuthor fail until cleared.
	FailListings error

	// SaveCalls counts SaveUser invocations, including failed ones.
	SaveCalls int
}

type memoryListing struct {
	ID       string
	AuthorID string
	Author   AuthorSnapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*UserRecord),
		listings: make(map[string]*memoryListing),
		bundles:  make(map[string]*Bundle),
	}
}

func (m *MemoryStore) FindUserByExternalID(ctx context.Context, externalID string) (*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[externalID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := cloneUser(user)
	return clone, nil
}

func (m *MemoryStore) SaveUser(ctx context.Context, record *UserRecord) (*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls++
	if m.FailNextSave != nil {
		err := m.FailNextSave
		m.FailNextSave = nil
		return nil, err
	}

	now := time.Now().UTC()
	stored := cloneUser(record)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if existing, ok := m.users[record.ExternalID]; ok {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	m.users[record.ExternalID] = stored
	return cloneUser(stored), nil
}

// AddListing seeds a listing owned by the given author.
func (m *MemoryStore) AddListing(id, authorID string, author AuthorSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[id] = &memoryListing{ID: id, AuthorID: authorID, Author: author}
}

// ListingAuthor returns the stored snapshot for a listing, for assertions.
func (m *MemoryStore) ListingAuthor(id string) (AuthorSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	listing, ok := m.listings[id]
	if !ok {
		return AuthorSnapshot{}, false
	}
	return listing.Author, true
}

func (m *MemoryStore) UpdateManyByAuthor(ctx context.Context, authorID string, snapshot AuthorSnapshot) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailListings != nil {
		return 0, m.FailListings
	}
	var count int64
	for _, listing := range m.listings {
		if listing.AuthorID == authorID {
			listing.Author = snapshot
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) CreateBundle(ctx context.Context, bundle *Bundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bundle.ID == "" {
		bundle.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	bundle.CreatedAt = now
	bundle.UpdatedAt = now
	clone := *bundle
	m.bundles[bundle.ID] = &clone
	return nil
}

func (m *MemoryStore) GetBundle(ctx context.Context, id string) (*Bundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bundle, ok := m.bundles[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *bundle
	return &clone, nil
}

func (m *MemoryStore) ListBundles(ctx context.Context) ([]*Bundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Bundle, 0, len(m.bundles))
	for _, bundle := range m.bundles {
		clone := *bundle
		out = append(out, &clone)
	}
	return out, nil
}

func (m *MemoryStore) UpdateBundle(ctx context.Context, bundle *Bundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.bundles[bundle.ID]
	if !ok {
		return ErrNotFound
	}
	bundle.CreatedAt = existing.CreatedAt
	bundle.UpdatedAt = time.Now().UTC()
	clone := *bundle
	m.bundles[bundle.ID] = &clone
	return nil
}

func (m *MemoryStore) DeleteBundle(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bundles[id]; !ok {
		return ErrNotFound
	}
	delete(m.bundles, id)
	return nil
}

func cloneUser(u *UserRecord) *UserRecord {
	clone := *u
	clone.SyncHistory = append([]SyncHistoryEntry(nil), u.SyncHistory...)
	clone.RoleHistory = append([]RoleHistoryEntry(nil), u.RoleHistory...)
	clone.Grants = append([]PermissionGrant(nil), u.Grants...)
	return &clone
}
