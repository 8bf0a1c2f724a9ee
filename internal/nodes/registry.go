package nodes

import (
	"sort"
	"sync"

	"github.com/reivaj/flowstate/pkg/schema"
)

// Registry is the thread-safe node-type → executor mapping.
type Registry struct {
	mu        sync.RWMutex
	executors map[schema.NodeType]Executor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[schema.NodeType]Executor),
	}
}

// Register adds an executor. Returns error on duplicate type.
func (r *Registry) Register(e Executor) error {
	if e == nil {
		return schema.NewError(schema.ErrCodeValidation, "executor is nil")
	}
	t := e.Type()
	if t == "" {
		return schema.NewError(schema.ErrCodeValidation, "executor type is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[t]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "executor for node type %q already registered", t)
	}
	r.executors[t] = e
	return nil
}

// Get retrieves the executor for a node type.
func (r *Registry) Get(t schema.NodeType) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.executors[t]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "no executor for node type %q", t)
	}
	return e, nil
}

// Has checks whether a node type has an executor.
func (r *Registry) Has(t schema.NodeType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[t]
	return ok
}

// Types returns the registered node types, sorted.
func (r *Registry) Types() []schema.NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]schema.NodeType, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// DefaultRegistry builds a registry with every known node type wired.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, e := range []Executor{
		&StartExecutor{},
		&ToolExecutor{},
		&HTTPRequestExecutor{},
		&LLMExecutor{},
		&DataManipulationExecutor{},
		&CodeExecutor{},
		&KnowledgeExecutor{},
		&ConditionExecutor{},
		&ListenExecutor{},
		&PromptExecutor{},
		&FormExecutor{},
		&ResponseExecutor{},
		&IntentRouterExecutor{},
		&EntityCollectorExecutor{},
		&CheckEntityExecutor{},
		&UpdateContextExecutor{},
		&TagConversationExecutor{},
		&AssignToAgentExecutor{},
		&SetStatusExecutor{},
		&QuestionClassifierExecutor{},
		&ExtractEntitiesExecutor{},
		&SubworkflowExecutor{},
	} {
		// Types are unique by construction.
		_ = r.Register(e)
	}
	return r
}
