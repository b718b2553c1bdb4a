package relm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Registry holds the named tools an Agent may dispatch to.
//
// A Registry is shared across all calls made through one Agent, so mutation
// (Add/Remove) and lookup (Execute) are guarded by a mutex. List returns a
// copy, in insertion order, so callers never observe concurrent mutation.
//
// Error split: Add and Remove return errors immediately because a duplicate
// registration or a remove of an unknown name is a programming error by the
// embedding application. Execute never returns an error; unknown tools,
// missing parameters, tool errors, and tool panics are all reported as a
// failed ToolResult so a single bad call cannot abort a reconciliation turn.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*Tool),
	}
}

// Add registers a tool. Returns ErrEmptyToolName for a nil tool or empty
// name, and ErrDuplicateTool if the name is already taken; the registry is
// left unchanged in both cases.
func (r *Registry) Add(t *Tool) error {
	if t == nil || t.Name == "" {
		return ErrEmptyToolName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[t.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateTool, t.Name)
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Remove unregisters a tool by name. Returns ErrToolNotFound if absent.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[name]; !ok {
		return fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns all registered tools in insertion order.
// The returned slice is a copy.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// clone returns a new Registry with the same tools, used to layer per-call
// tools on top of the shared set without mutating it.
func (r *Registry) clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c := NewRegistry()
	c.order = append(c.order, r.order...)
	for name, t := range r.tools {
		c.tools[name] = t
	}
	return c
}

// Execute looks up and runs the named tool with the given parameter mapping.
//
// The outcome is always a ToolResult:
//   - unknown tool name: failed result, the tool is never invoked
//   - missing required parameters: failed result listing every missing name,
//     the tool is never invoked
//   - the tool returns an error or panics: failed result with the message
//   - otherwise: successful result carrying the tool's output
func (r *Registry) Execute(ctx context.Context, call ToolCall) ToolResult {
	r.mu.RLock()
	t, ok := r.tools[call.Name]
	r.mu.RUnlock()

	if !ok {
		return ToolResult{Err: fmt.Sprintf("tool %q not found", call.Name)}
	}

	var missing []string
	for _, p := range t.Parameters {
		if !p.Required {
			continue
		}
		if _, present := call.Args[p.Name]; !present {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		return ToolResult{Err: fmt.Sprintf(
			"missing required parameters: %s", strings.Join(missing, ", "))}
	}

	return invoke(ctx, t, call.Args)
}

// invoke runs the tool's execute capability, converting panics to failures.
func invoke(ctx context.Context, t *Tool, args map[string]any) (result ToolResult) {
	defer func() {
		if p := recover(); p != nil {
			result = ToolResult{Err: fmt.Sprintf("tool %q panicked: %v", t.Name, p)}
		}
	}()

	data, err := t.Execute(ctx, args)
	if err != nil {
		return ToolResult{Err: err.Error()}
	}
	return ToolResult{OK: true, Data: data}
}
