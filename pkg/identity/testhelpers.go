package identity

import (
	"context"
	"sort"
	"sync"

	"github.com/estateloop/estateloop/pkg/roles"
)

// FakeClient is an in-memory Client for tests. Error fields, when set, are
// returned by the corresponding method before touching state.
type FakeClient struct {
	mu    sync.Mutex
	users map[string]*UserRecord

	GetErr    error
	UpdateErr error
	ListErr   error

	// UpdateCalls counts metadata writes, including failed ones.
	UpdateCalls int
}

// NewFakeClient creates an empty fake provider.
func NewFakeClient() *FakeClient {
	return &FakeClient{users: make(map[string]*UserRecord)}
}

// AddUser seeds a provider user.
func (f *FakeClient) AddUser(user *UserRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
}

func (f *FakeClient) GetUser(ctx context.Context, userID string) (*UserRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	user, ok := f.users[userID]
	if !ok {
		return nil, &ProviderError{Op: "get_user", Category: CategoryNotFound, Err: ErrNotFound}
	}
	clone := *user
	return &clone, nil
}

func (f *FakeClient) UpdateUserMetadata(ctx context.Context, userID string, update MetadataUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UpdateCalls++
	if f.UpdateErr != nil {
		return f.UpdateErr
	}
	user, ok := f.users[userID]
	if !ok {
		return &ProviderError{Op: "update_user_metadata", Category: CategoryNotFound, Err: ErrNotFound}
	}
	if user.Metadata == nil {
		user.Metadata = make(map[string]interface{})
	}
	user.Metadata["role"] = string(update.Role)
	user.Metadata["approved"] = update.Approved
	for k, v := range update.Extra {
		user.Metadata[k] = v
	}
	return nil
}

func (f *FakeClient) ListUsers(ctx context.Context, limit, offset int) ([]*UserRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	all := make([]*UserRecord, 0, len(f.users))
	for _, u := range f.users {
		clone := *u
		all = append(all, &clone)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// MetadataRole returns the raw role stored for a user, for assertions.
func (f *FakeClient) MetadataRole(userID string) roles.Role {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok || user.Metadata == nil {
		return ""
	}
	v, _ := user.Metadata["role"].(string)
	return roles.Role(v)
}
