// Package storagetest provides an in-memory storage.Backend for tests.
package storagetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/lgulliver/webglpub/internal/storage"
)

// Call records one backend operation
type Call struct {
	Op        string
	Container string
	Key       string
}

// Object is a stored blob with its metadata
type Object struct {
	Data            []byte
	ContentType     string
	ContentEncoding string
}

// Memory is a thread-safe in-memory backend. Dedicated selects whether each
// site gets its own container (like S3) or shares "shared" (like Azure).
type Memory struct {
	Dedicated bool
	PageSize  int

	mu         sync.Mutex
	containers map[string]map[string]Object
	visibility map[string]storage.Visibility
	calls      []Call
	faults     map[string]error
	// DeleteHook runs after every successful Delete, outside the lock
	DeleteHook func(container, key string)
	// SkipDelete makes Delete report success without removing these keys
	SkipDelete map[string]bool
}

// NewMemory creates an empty backend
func NewMemory(dedicated bool, pageSize int) *Memory {
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &Memory{
		Dedicated:  dedicated,
		PageSize:   pageSize,
		containers: make(map[string]map[string]Object),
		visibility: make(map[string]storage.Visibility),
		faults:     make(map[string]error),
	}
}

// Fail makes every subsequent op (e.g. "put", "list") return err until cleared
// with a nil err. A key restricts the fault to that key.
func (m *Memory) Fail(op, key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := op + "|" + key
	if err == nil {
		delete(m.faults, id)
		return
	}
	m.faults[id] = err
}

func (m *Memory) fault(op, key string) error {
	if err, ok := m.faults[op+"|"+key]; ok {
		return err
	}
	return m.faults[op+"|"]
}

func (m *Memory) record(op, container, key string) {
	m.calls = append(m.calls, Call{Op: op, Container: container, Key: key})
}

// Calls returns a copy of the recorded operations
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CountOps counts recorded calls of op
func (m *Memory) CountOps(op string) int {
	n := 0
	for _, c := range m.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Objects returns a snapshot of a container's contents
func (m *Memory) Objects(container string) map[string]Object {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Object, len(m.containers[container]))
	for k, v := range m.containers[container] {
		out[k] = v
	}
	return out
}

// HasContainer reports whether container exists
func (m *Memory) HasContainer(container string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.containers[container]
	return ok
}

// Visibility returns the visibility a container was created with
func (m *Memory) Visibility(container string) storage.Visibility {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visibility[container]
}

// Kind implements storage.Backend
func (m *Memory) Kind() storage.Kind { return storage.KindLocal }

// Layout implements storage.Backend
func (m *Memory) Layout(prefix string) storage.Layout {
	if m.Dedicated {
		return storage.Layout{Container: prefix, KeyPrefix: "folder/" + prefix, Dedicated: true}
	}
	return storage.Layout{Container: "shared", KeyPrefix: prefix}
}

// EnsureContainer implements storage.Backend
func (m *Memory) EnsureContainer(ctx context.Context, container string, visibility storage.Visibility) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ensure", container, "")
	if err := m.fault("ensure", ""); err != nil {
		return err
	}
	if _, ok := m.containers[container]; !ok {
		m.containers[container] = make(map[string]Object)
		m.visibility[container] = visibility
	}
	return nil
}

// DeleteContainer implements storage.Backend
func (m *Memory) DeleteContainer(ctx context.Context, container string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("delete-container", container, "")
	if err := m.fault("delete-container", ""); err != nil {
		return err
	}
	objects, ok := m.containers[container]
	if !ok {
		return nil
	}
	if len(objects) > 0 {
		return fmt.Errorf("memory: %s: %w", container, storage.ErrNotEmpty)
	}
	delete(m.containers, container)
	return nil
}

// Put implements storage.Backend
func (m *Memory) Put(ctx context.Context, container, key string, content io.Reader, opts storage.PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("put", container, key)
	if err := m.fault("put", key); err != nil {
		return err
	}
	objects, ok := m.containers[container]
	if !ok {
		return fmt.Errorf("memory: container %s: %w", container, storage.ErrNotFound)
	}
	objects[key] = Object{Data: data, ContentType: opts.ContentType, ContentEncoding: opts.ContentEncoding}
	return nil
}

// List implements storage.Backend
func (m *Memory) List(ctx context.Context, container, keyPrefix string) storage.Pager {
	return &memoryPager{m: m, container: container, prefix: keyPrefix, more: true}
}

type memoryPager struct {
	m         *Memory
	container string
	prefix    string
	marker    string
	more      bool
}

func (p *memoryPager) More() bool { return p.more }

func (p *memoryPager) NextPage(ctx context.Context) ([]storage.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	p.m.record("list", p.container, p.prefix)
	if err := p.m.fault("list", ""); err != nil {
		return nil, err
	}
	objects, ok := p.m.containers[p.container]
	if !ok {
		p.more = false
		return nil, fmt.Errorf("memory: container %s: %w", p.container, storage.ErrNotFound)
	}

	var keys []string
	for k := range objects {
		if strings.HasPrefix(k, p.prefix) && k > p.marker {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) > p.m.PageSize {
		keys = keys[:p.m.PageSize]
	} else {
		p.more = false
	}
	page := make([]storage.Object, 0, len(keys))
	for _, k := range keys {
		page = append(page, storage.Object{Key: k, URL: p.m.url(p.container, k), Size: int64(len(objects[k].Data))})
	}
	if len(keys) > 0 {
		p.marker = keys[len(keys)-1]
	}
	return page, nil
}

// Get implements storage.Backend
func (m *Memory) Get(ctx context.Context, container, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("get", container, key)
	if err := m.fault("get", key); err != nil {
		return nil, err
	}
	obj, ok := m.containers[container][key]
	if !ok {
		return nil, fmt.Errorf("memory: %s/%s: %w", container, key, storage.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(obj.Data)), nil
}

// Delete implements storage.Backend
func (m *Memory) Delete(ctx context.Context, container, key string) error {
	m.mu.Lock()
	m.record("delete", container, key)
	if err := m.fault("delete", key); err != nil {
		m.mu.Unlock()
		return err
	}
	if !m.SkipDelete[key] {
		delete(m.containers[container], key)
	}
	hook := m.DeleteHook
	m.mu.Unlock()

	if hook != nil {
		hook(container, key)
	}
	return nil
}

// URL implements storage.Backend
func (m *Memory) URL(container, key string) string {
	return m.url(container, key)
}

func (m *Memory) url(container, key string) string {
	return "mem://" + container + "/" + key
}

// Seed stores objects directly, creating the container if needed
func (m *Memory) Seed(container string, objects map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.containers[container]; !ok {
		m.containers[container] = make(map[string]Object)
	}
	for k, v := range objects {
		m.containers[container][k] = Object{Data: []byte(v)}
	}
}
