package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/estateloop/estateloop/pkg/observability"
)

// Client is the interface the application requires from the identity
// provider. Implementations must categorize every failure (see errors.go).
type Client interface {
	// GetUser fetches a single user by provider id.
	GetUser(ctx context.Context, userID string) (*UserRecord, error)

	// UpdateUserMetadata merges role metadata into the user's provider
	// record.
	UpdateUserMetadata(ctx context.Context, userID string, update MetadataUpdate) error

	// ListUsers pages through all provider users, used by batch
	// reconciliation.
	ListUsers(ctx context.Context, limit, offset int) ([]*UserRecord, error)
}

// Config holds connection settings for the provider's admin API.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// HTTPClient talks to the provider's REST admin API using a
// client-credentials OAuth2 token.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	metrics *observability.Metrics
}

// WithMetrics attaches Prometheus counters for provider calls.
func (c *HTTPClient) WithMetrics(metrics *observability.Metrics) *HTTPClient {
	c.metrics = metrics
	return c
}

// NewHTTPClient creates a provider client. When no client id is configured
// the requests go out unauthenticated, which only makes sense against a
// local development stub.
func NewHTTPClient(ctx context.Context, cfg Config) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var client *http.Client
	if cfg.ClientID != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		client = cc.Client(ctx)
	} else {
		client = &http.Client{}
	}
	client.Timeout = timeout

	return &HTTPClient{
		baseURL: cfg.BaseURL,
		client:  client,
	}
}

// GetUser fetches a single user by provider id.
func (c *HTTPClient) GetUser(ctx context.Context, userID string) (*UserRecord, error) {
	endpoint := fmt.Sprintf("%s/v1/users/%s", c.baseURL, url.PathEscape(userID))

	var user UserRecord
	if err := c.doJSON(ctx, http.MethodGet, "get_user", endpoint, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUserMetadata merges role metadata into the user's provider record.
func (c *HTTPClient) UpdateUserMetadata(ctx context.Context, userID string, update MetadataUpdate) error {
	endpoint := fmt.Sprintf("%s/v1/users/%s/metadata", c.baseURL, url.PathEscape(userID))

	metadata := map[string]interface{}{
		"role":     string(update.Role),
		"approved": update.Approved,
	}
	for k, v := range update.Extra {
		metadata[k] = v
	}
	body := map[string]interface{}{"public_metadata": metadata}

	return c.doJSON(ctx, http.MethodPatch, "update_user_metadata", endpoint, body, nil)
}

// ListUsers pages through provider users.
func (c *HTTPClient) ListUsers(ctx context.Context, limit, offset int) ([]*UserRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	endpoint := fmt.Sprintf("%s/v1/users?limit=%s&offset=%s",
		c.baseURL, strconv.Itoa(limit), strconv.Itoa(offset))

	var page struct {
		Data []*UserRecord `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "list_users", endpoint, nil, &page); err != nil {
		return nil, err
	}
	return page.Data, nil
}

// doJSON performs one provider request and maps every failure mode to a
// categorized error.
func (c *HTTPClient) doJSON(ctx context.Context, method, op, endpoint string, body, out interface{}) error {
	start := time.Now()
	err := c.doJSONOnce(ctx, method, op, endpoint, body, out)

	if c.metrics != nil {
		status := "ok"
		if err != nil {
			status = string(CategoryOf(err))
		}
		c.metrics.ProviderRequestsTotal.WithLabelValues(op, status).Inc()
		c.metrics.ProviderRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
	return err
}

func (c *HTTPClient) doJSONOnce(ctx context.Context, method, op, endpoint string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &ProviderError{Op: op, Category: CategoryUnknown, Err: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return &ProviderError{Op: op, Category: CategoryUnknown, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return categorize(op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &ProviderError{Op: op, Category: CategoryNotFound, Err: ErrNotFound}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &ProviderError{Op: op, Category: CategoryRateLimited, Err: fmt.Errorf("rate limited (status %d)", resp.StatusCode)}
	case resp.StatusCode >= 500:
		return &ProviderError{Op: op, Category: CategoryConnection, Err: fmt.Errorf("provider unavailable (status %d)", resp.StatusCode)}
	case resp.StatusCode >= 400:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &ProviderError{Op: op, Category: CategoryUnknown, Err: fmt.Errorf("status %d: %s", resp.StatusCode, payload)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &ProviderError{Op: op, Category: CategoryUnknown, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}
