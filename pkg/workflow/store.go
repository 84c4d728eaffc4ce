package workflow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by Store.Get when a workflow id is unknown.
var ErrNotFound = errors.New("workflow: not found")

// Store is the collaborator contract for resolving workflow definitions by
// id. Implementations must be safe for concurrent use; workflow definitions
// are immutable once loaded, so reads never race with mutation.
type Store interface {
	Get(id string) (*Workflow, error)
	Exists(id string) bool
}

// memoryStore is an in-memory Store backed by a map, grounded on the
// teacher's session in-memory service pattern (map guarded by RWMutex).
type memoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
}

// NewMemoryStore returns a Store seeded with the given workflows, keyed by
// their Name.
func NewMemoryStore(workflows ...*Workflow) Store {
	s := &memoryStore{workflows: make(map[string]*Workflow, len(workflows))}
	for _, w := range workflows {
		s.workflows[w.Name] = w
	}
	return s
}

func (s *memoryStore) Get(id string) (*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return w, nil
}

func (s *memoryStore) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.workflows[id]
	return ok
}

// Put registers or replaces a workflow. Exposed for seeding in tests and
// for the authoring/seeding pipeline, which is otherwise out of scope.
func Put(s Store, w *Workflow) {
	ms, ok := s.(*memoryStore)
	if !ok {
		return
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.workflows[w.Name] = w
}

// All returns every workflow currently held by an in-memory Store built
// via NewMemoryStore or LoadDir. Returns nil for any other Store
// implementation, including pkg/store's SQL-backed WorkflowStore.
func All(s Store) []*Workflow {
	ms, ok := s.(*memoryStore)
	if !ok {
		return nil
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make([]*Workflow, 0, len(ms.workflows))
	for _, w := range ms.workflows {
		out = append(out, w)
	}
	return out
}

// LoadDir reads every *.yaml/*.yml file in dir as a single Workflow
// definition and returns a Store over all of them, validating each
// workflow's internal edges. Grounded on the teacher's koanf file-provider
// usage for reading declarative YAML resources off disk.
func LoadDir(dir string) (Store, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("workflow: read dir %s: %w", dir, err)
	}

	workflows := make([]*Workflow, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("workflow: read %s: %w", path, err)
		}
		var w Workflow
		if err := yaml.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("workflow: parse %s: %w", path, err)
		}
		if err := w.Validate(); err != nil {
			return nil, fmt.Errorf("workflow: validate %s: %w", path, err)
		}
		workflows = append(workflows, &w)
	}

	store := NewMemoryStore(workflows...)

	for _, w := range workflows {
		if err := validateLinks(store, w); err != nil {
			return nil, err
		}
	}

	return store, nil
}

// validateLinks checks that every suggested_link.target_workflow_id
// resolves to a workflow known to store.
// Cross-workflow resolution can't be checked by Workflow.Validate alone
// since it has no visibility into sibling workflows.
func validateLinks(store Store, w *Workflow) error {
	for stepID, step := range w.Steps {
		for _, link := range step.SuggestedLinks {
			if !store.Exists(link.TargetWorkflowID) {
				return fmt.Errorf("workflow %q: step %q links to unknown workflow %q",
					w.Name, stepID, link.TargetWorkflowID)
			}
		}
	}
	return nil
}
