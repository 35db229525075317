package testutils

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/migadu/sieveedit/consts"
	"github.com/migadu/sieveedit/store"
)

// MemoryStore is an in-memory store.ScriptStore following the same rules
// as the real backends.
type MemoryStore struct {
	mu      sync.RWMutex
	scripts map[string]string
	active  string
	errors  map[string]error // operation -> error to simulate failures
	calls   map[string]int
	closed  bool
}

var _ store.ScriptStore = (*MemoryStore)(nil)

// NewMemoryStore returns a store holding scripts, with active activated
// when non-empty.
func NewMemoryStore(scripts map[string]string, active string) *MemoryStore {
	m := &MemoryStore{
		scripts: make(map[string]string, len(scripts)),
		active:  active,
		errors:  make(map[string]error),
		calls:   make(map[string]int),
	}
	for name, content := range scripts {
		m.scripts[name] = content
	}
	return m
}

// SetError makes the named operation ("list", "get", "put", "set_active",
// "delete", "rename") fail with err. A nil err clears it.
func (m *MemoryStore) SetError(operation string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errors, operation)
		return
	}
	m.errors[operation] = err
}

// Calls returns how often an operation was invoked.
func (m *MemoryStore) Calls(operation string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[operation]
}

// Content returns the stored content of a script.
func (m *MemoryStore) Content(name string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	content, ok := m.scripts[name]
	return content, ok
}

func (m *MemoryStore) begin(operation string) error {
	m.calls[operation]++
	if m.closed {
		return fmt.Errorf("store closed")
	}
	return m.errors[operation]
}

func (m *MemoryStore) ListScripts(ctx context.Context) ([]store.ScriptInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("list"); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(m.scripts))
	for name := range m.scripts {
		names = append(names, name)
	}
	sort.Strings(names)
	scripts := make([]store.ScriptInfo, 0, len(names))
	for _, name := range names {
		scripts = append(scripts, store.ScriptInfo{Name: name, Active: name == m.active})
	}
	return scripts, nil
}

func (m *MemoryStore) GetScript(ctx context.Context, name string) (*store.Script, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("get"); err != nil {
		return nil, err
	}
	content, ok := m.scripts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", consts.ErrScriptNotFound, name)
	}
	return &store.Script{Name: name, Content: content, Active: name == m.active, UpdatedAt: time.Now()}, nil
}

func (m *MemoryStore) PutScript(ctx context.Context, name, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("put"); err != nil {
		return err
	}
	if err := store.ValidateName(name); err != nil {
		return err
	}
	m.scripts[name] = content
	return nil
}

func (m *MemoryStore) SetActive(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("set_active"); err != nil {
		return err
	}
	if name != "" {
		if _, ok := m.scripts[name]; !ok {
			return fmt.Errorf("%w: %s", consts.ErrScriptNotFound, name)
		}
	}
	m.active = name
	return nil
}

func (m *MemoryStore) DeleteScript(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("delete"); err != nil {
		return err
	}
	if _, ok := m.scripts[name]; !ok {
		return fmt.Errorf("%w: %s", consts.ErrScriptNotFound, name)
	}
	if name == m.active {
		return fmt.Errorf("%w: %s", consts.ErrActiveScript, name)
	}
	delete(m.scripts, name)
	return nil
}

func (m *MemoryStore) RenameScript(ctx context.Context, oldName, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("rename"); err != nil {
		return err
	}
	if err := store.ValidateName(newName); err != nil {
		return err
	}
	content, ok := m.scripts[oldName]
	if !ok {
		return fmt.Errorf("%w: %s", consts.ErrScriptNotFound, oldName)
	}
	if _, exists := m.scripts[newName]; exists {
		return fmt.Errorf("%w: %s", consts.ErrScriptExists, newName)
	}
	delete(m.scripts, oldName)
	m.scripts[newName] = content
	if m.active == oldName {
		m.active = newName
	}
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
