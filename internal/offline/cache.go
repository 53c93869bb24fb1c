// Package offline keeps a versioned snapshot of the page shell so it stays
// usable without connectivity. A Worker installs the asset manifest into a
// cache namespace, activates by pruning every other namespace, and answers
// requests cache-first with a network fallback.
package offline

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ErrCacheMiss is returned by Cache.Match when no entry exists for a URL.
var ErrCacheMiss = errors.New("cache miss")

// Response is a stored snapshot of an HTTP response.
type Response struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	Digest   string
	StoredAt time.Time
}

// Snapshot reads resp fully and returns the stored form together with a
// replacement response that can still be handed to the caller. The original
// body is consumed and closed.
func Snapshot(url string, resp *http.Response) (*Response, *http.Response, error) {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	sum := blake2b.Sum256(body)
	snap := &Response{
		URL:      url,
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		Digest:   hex.EncodeToString(sum[:]),
		StoredAt: time.Now().UTC(),
	}
	clone := *resp
	clone.Body = io.NopCloser(bytes.NewReader(body))
	clone.ContentLength = int64(len(body))
	return snap, &clone, nil
}

// HTTP rebuilds an *http.Response for req from the snapshot.
func (r *Response) HTTP(req *http.Request) *http.Response {
	header := r.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if header.Get("ETag") == "" && r.Digest != "" {
		header.Set("ETag", `"`+r.Digest+`"`)
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", r.Status, http.StatusText(r.Status)),
		StatusCode:    r.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

// Cache is one namespace of stored responses keyed by URL.
type Cache interface {
	Match(ctx context.Context, url string) (*Response, error)
	Put(ctx context.Context, r *Response) error
	// PutAll stores every response or none of them.
	PutAll(ctx context.Context, rs []*Response) error
	Keys(ctx context.Context) ([]string, error)
}

// CacheStorage is the durable set of named cache namespaces.
type CacheStorage interface {
	// Open returns the namespace, creating it when absent.
	Open(ctx context.Context, name string) (Cache, error)
	Has(ctx context.Context, name string) (bool, error)
	// Keys lists namespace names in creation order.
	Keys(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) (bool, error)
}

// MemoryStorage is an in-process CacheStorage. Contents are lost on exit.
type MemoryStorage struct {
	mu    sync.RWMutex
	order []string
	named map[string]*memoryCache
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{named: make(map[string]*memoryCache)}
}

func (s *MemoryStorage) Open(_ context.Context, name string) (Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.named[name]
	if !ok {
		c = &memoryCache{entries: make(map[string]*Response)}
		s.named[name] = c
		s.order = append(s.order, name)
	}
	return c, nil
}

func (s *MemoryStorage) Has(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.named[name]
	return ok, nil
}

func (s *MemoryStorage) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order), nil
}

func (s *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.named[name]; !ok {
		return false, nil
	}
	delete(s.named, name)
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
	return true, nil
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Response
}

func (c *memoryCache) Match(_ context.Context, url string) (*Response, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.entries[url]
	if !ok {
		return nil, ErrCacheMiss
	}
	return r, nil
}

func (c *memoryCache) Put(_ context.Context, r *Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[r.URL] = r
	return nil
}

func (c *memoryCache) PutAll(_ context.Context, rs []*Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range rs {
		c.entries[r.URL] = r
	}
	return nil
}

func (c *memoryCache) Keys(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}
