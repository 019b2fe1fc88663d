package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Artifact is the result of one successful capture.
type Artifact struct {
	Angle    Angle
	Data     []byte
	MimeType string
	Width    int
	Height   int
	// PreviewHandle addresses the locally stored preview. It is invalid once
	// the artifact is discarded.
	PreviewHandle string
	CapturedAt    time.Time
}

// Previews stores artifact previews so they can be shown before submission.
type Previews interface {
	Publish(ctx context.Context, a *Artifact) (handle string, err error)
	Revoke(ctx context.Context, handle string) error
}

// MemoryPreviews keeps previews in memory.
type MemoryPreviews struct {
	mu    sync.Mutex
	items map[string][]byte
}

func NewMemoryPreviews() *MemoryPreviews {
	return &MemoryPreviews{items: make(map[string][]byte)}
}

func (m *MemoryPreviews) Publish(_ context.Context, a *Artifact) (string, error) {
	handle := fmt.Sprintf("%s-%s", a.Angle, uuid.NewString())
	m.mu.Lock()
	m.items[handle] = a.Data
	m.mu.Unlock()
	return handle, nil
}

func (m *MemoryPreviews) Revoke(_ context.Context, handle string) error {
	m.mu.Lock()
	delete(m.items, handle)
	m.mu.Unlock()
	return nil
}

// Get returns the preview bytes for handle.
func (m *MemoryPreviews) Get(handle string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.items[handle]
	return data, ok
}

func (m *MemoryPreviews) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
