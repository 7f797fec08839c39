package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/Ehm-Ehs/project-nexus/internal/db"
)

// Document ids under users/{uid}/preferences.
const (
	ProfileDoc = "profile"
	ListsDoc   = "lists"
)

// Remote is the per-user document store. Writes merge top-level fields and
// stamp db.UpdatedAtField.
type Remote interface {
	Get(ctx context.Context, uid, docID string) (map[string]json.RawMessage, bool, error)
	Merge(ctx context.Context, uid, docID string, fields map[string]any) error
}

var _ Remote = (*db.DocumentRepository)(nil)

// MemoryRemote is an in-process Remote.
type MemoryRemote struct {
	mu   sync.RWMutex
	docs map[string]map[string]json.RawMessage
	now  func() time.Time
}

// NewMemoryRemote creates an empty MemoryRemote.
func NewMemoryRemote() *MemoryRemote {
	return &MemoryRemote{
		docs: make(map[string]map[string]json.RawMessage),
		now:  time.Now,
	}
}

func memoryPath(uid, docID string) string {
	return db.UsersCollection + "/" + uid + "/" + db.PreferencesCollection + "/" + docID
}

// Get implements Remote.
func (m *MemoryRemote) Get(ctx context.Context, uid, docID string) (map[string]json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[memoryPath(uid, docID)]
	if !ok {
		return nil, false, nil
	}
	return maps.Clone(doc), true, nil
}

// Merge implements Remote.
func (m *MemoryRemote) Merge(ctx context.Context, uid, docID string, fields map[string]any) error {
	encoded := make(map[string]json.RawMessage, len(fields)+1)
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding field %s: %w", k, err)
		}
		encoded[k] = raw
	}
	stamp, err := json.Marshal(m.now().UTC())
	if err != nil {
		return fmt.Errorf("encoding timestamp: %w", err)
	}
	encoded[db.UpdatedAtField] = stamp

	m.mu.Lock()
	defer m.mu.Unlock()

	path := memoryPath(uid, docID)
	doc, ok := m.docs[path]
	if !ok {
		doc = make(map[string]json.RawMessage, len(encoded))
		m.docs[path] = doc
	}
	maps.Copy(doc, encoded)
	return nil
}
