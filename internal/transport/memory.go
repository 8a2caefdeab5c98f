package transport

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"savesync/internal/saves"
)

// Operation names used for failure injection and call counting.
const (
	OpUpload   = "upload"
	OpDownload = "download"
	OpDelete   = "delete"
	OpExists   = "exists"
	OpList     = "list"
)

type memoryObject struct {
	data    []byte
	modTime time.Time
}

// MemoryTransport keeps the cloud replica in memory. Two services pointed at
// the same MemoryTransport behave like two devices sharing one remote.
// Failures can be injected per operation and uploads can be held open to
// exercise detach and drain paths. Safe for concurrent use.
type MemoryTransport struct {
	mu       sync.Mutex
	objects  map[string]memoryObject
	failures map[string]int
	calls    map[string]int
	offline  bool
	gate     chan struct{}
	now      func() time.Time
}

var _ saves.Transport = (*MemoryTransport)(nil)

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		objects:  make(map[string]memoryObject),
		failures: make(map[string]int),
		calls:    make(map[string]int),
		now:      time.Now,
	}
}

// FailNext makes the next n calls of op fail with a transport error.
func (m *MemoryTransport) FailNext(op string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = n
}

// SetOffline makes every call fail until it is cleared.
func (m *MemoryTransport) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// Hold blocks uploads and downloads until Release is called.
func (m *MemoryTransport) Hold() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate == nil {
		m.gate = make(chan struct{})
	}
}

func (m *MemoryTransport) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
}

// Calls returns how many times op was invoked, failed calls included.
func (m *MemoryTransport) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Put stores data under key directly.
func (m *MemoryTransport) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: slices.Clone(data), modTime: m.now()}
}

// Get returns the stored object for key.
func (m *MemoryTransport) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return slices.Clone(obj.data), ok
}

// Keys returns every stored key in sorted order.
func (m *MemoryTransport) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (m *MemoryTransport) Upload(ctx context.Context, localPath, remoteKey string) error {
	if err := m.begin(ctx, OpUpload, true); err != nil {
		return err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", localPath, err)
	}
	m.Put(remoteKey, data)
	return nil
}

func (m *MemoryTransport) Download(ctx context.Context, remoteKey, localPath string) error {
	if err := m.begin(ctx, OpDownload, true); err != nil {
		return err
	}
	data, ok := m.Get(remoteKey)
	if !ok {
		return fmt.Errorf("%s: %w", remoteKey, saves.ErrNotFound)
	}
	return writeFile(localPath, bytes.NewReader(data))
}

func (m *MemoryTransport) Delete(ctx context.Context, remoteKey string) error {
	if err := m.begin(ctx, OpDelete, false); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, remoteKey)
	return nil
}

func (m *MemoryTransport) Exists(ctx context.Context, remoteKey string) (saves.Existence, error) {
	if err := m.begin(ctx, OpExists, false); err != nil {
		return saves.ExistenceUnknown, err
	}
	if _, ok := m.Get(remoteKey); ok {
		return saves.ExistenceTrue, nil
	}
	return saves.ExistenceFalse, nil
}

func (m *MemoryTransport) List(ctx context.Context, prefix string) ([]saves.RemoteObject, error) {
	if err := m.begin(ctx, OpList, false); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []saves.RemoteObject
	for k, obj := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, saves.RemoteObject{Key: k, Size: int64(len(obj.data)), ModTime: obj.modTime})
		}
	}
	slices.SortFunc(out, func(a, b saves.RemoteObject) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

// begin counts the call, applies injected failures and waits on the hold
// gate for transfers.
func (m *MemoryTransport) begin(ctx context.Context, op string, gated bool) error {
	m.mu.Lock()
	m.calls[op]++
	gate := m.gate
	if m.offline {
		m.mu.Unlock()
		return fmt.Errorf("%s: remote offline: %w", op, saves.ErrTransportFailure)
	}
	if m.failures[op] > 0 {
		m.failures[op]--
		m.mu.Unlock()
		return fmt.Errorf("%s: injected failure: %w", op, saves.ErrTransportFailure)
	}
	m.mu.Unlock()

	if gated && gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}
