package storage

import (
	"context"
	"net/url"
	"strings"
	"sync"
)

type object struct {
	contentType string
	body        []byte
}

// MemoryStore keeps objects in process memory. Used for local runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]object
	puts    int
}

func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string]object),
	}
}

func (m *MemoryStore) Put(_ context.Context, name, contentType string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.puts++
	if _, ok := m.objects[name]; ok {
		return ErrObjectExists
	}
	m.objects[name] = object{contentType: contentType, body: append([]byte(nil), body...)}
	return nil
}

func (m *MemoryStore) PublicURL(name string) string {
	return m.baseURL + "/" + url.PathEscape(name)
}

// Get returns a stored object's content type and body.
func (m *MemoryStore) Get(name string) (string, []byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.objects[name]
	return o.contentType, o.body, ok
}

// Puts is the number of Put calls the store has received, rejected ones included.
func (m *MemoryStore) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}
