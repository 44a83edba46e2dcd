package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Schema is a schema definition as served by the registry.
type Schema struct {
	ID     int    `json:"id"`
	Schema string `json:"schema"`
	Type   string `json:"schemaType"` // empty means AVRO
}

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Registry looks schemas up by global id against a Confluent compatible
// schema registry and caches them for a TTL.
type Registry struct {
	baseURL string
	client  HTTPClient
	mu      sync.RWMutex
	cache   map[int]cachedSchema
	ttl     time.Duration
	clock   func() time.Time
}

type cachedSchema struct {
	schema    *Schema
	fetchedAt time.Time
}

// RegistryOption configures the Registry.
type RegistryOption func(*Registry)

func WithCacheTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) { r.ttl = ttl }
}

func WithHTTPClient(c HTTPClient) RegistryOption {
	return func(r *Registry) { r.client = c }
}

func WithRegistryClock(clock func() time.Time) RegistryOption {
	return func(r *Registry) { r.clock = clock }
}

func NewRegistry(baseURL string, opts ...RegistryOption) (*Registry, error) {
	if baseURL == "" {
		return nil, errors.New("stream: schema registry url is required")
	}
	r := &Registry{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		cache:   make(map[int]cachedSchema),
		ttl:     5 * time.Minute,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// GetByID returns the schema registered under id.
func (r *Registry) GetByID(ctx context.Context, id int) (*Schema, error) {
	if s := r.fromCache(id); s != nil {
		return s, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/schemas/ids/%d", r.baseURL, id), nil)
	if err != nil {
		return nil, fmt.Errorf("stream: schema %d: %w", id, err)
	}
	req.Header.Set("Accept", "application/vnd.schemaregistry.v1+json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream: schema %d: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("stream: schema %d: registry returned %d: %s", id, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var s Schema
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("stream: schema %d: decode response: %w", id, err)
	}
	s.ID = id

	r.mu.Lock()
	r.cache[id] = cachedSchema{schema: &s, fetchedAt: r.clock()}
	r.mu.Unlock()
	return &s, nil
}

func (r *Registry) fromCache(id int) *Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cache[id]
	if !ok || r.clock().Sub(c.fetchedAt) > r.ttl {
		return nil
	}
	return c.schema
}
