// Package registry implements the Tool Registry: a name-keyed lookup of
// pluggable tools, shared across sessions and safe for concurrent reads
// with infrequent writes.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/laios/laios/internal/laioserr"
	"github.com/laios/laios/pkg/models"
)

// Registry is a thread-safe name -> Tool map with schema-validated execution.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]models.Tool
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{tools: make(map[string]models.Tool)}
}

// Register adds a tool by its name. It fails with ErrDuplicateName if the
// name is already registered, or ErrInvalidTool if required attributes are
// missing.
func (r *Registry) Register(tool models.Tool) error {
	if tool == nil {
		return fmt.Errorf("%w: nil tool", laioserr.ErrInvalidTool)
	}
	if tool.Name() == "" || tool.Description() == "" || tool.InputSchema() == nil {
		return fmt.Errorf("%w: tool %q missing name, description, or input_schema", laioserr.ErrInvalidTool, tool.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; exists {
		return fmt.Errorf("%w: %s", laioserr.ErrDuplicateName, tool.Name())
	}
	r.tools[tool.Name()] = tool
	return nil
}

// Unregister removes a tool by name. Unregistering an absent tool is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name and whether it was found.
func (r *Registry) Get(name string) (models.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether a tool is registered under name.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List returns all registered tool names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes every registered tool.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = make(map[string]models.Tool)
}

// Schema returns the LLM-tool-choice-shaped schema for a registered tool.
func (r *Registry) Schema(name string) (*models.ToolSchema, bool) {
	tool, ok := r.Get(name)
	if !ok {
		return nil, false
	}
	return &models.ToolSchema{
		Name:        tool.Name(),
		Description: tool.Description(),
		Parameters:  tool.InputSchema(),
	}, true
}

// validatable is implemented by tools that want a second validation pass
// beyond JSON-schema checking (e.g. semantic constraints on params).
type validatable interface {
	Validate(params map[string]any) error
}

// Execute runs the pipeline: lookup, schema validation, optional tool-level
// validation, invocation, and total error wrapping. It never returns a Go
// error for tool-level failures — those come back as ToolOutput.Success=false.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (out *models.ToolOutput, err error) {
	tool, ok := r.Get(name)
	if !ok {
		return &models.ToolOutput{Success: false, Error: "Tool not found"}, nil
	}

	if verr := validateAgainstSchema(tool.InputSchema(), params); verr != nil {
		return &models.ToolOutput{Success: false, Error: fmt.Sprintf("validation error: %v", verr)}, nil
	}

	if v, ok := tool.(validatable); ok {
		if verr := v.Validate(params); verr != nil {
			return &models.ToolOutput{Success: false, Error: fmt.Sprintf("validation error: %v", verr)}, nil
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			out = &models.ToolOutput{Success: false, Error: fmt.Sprintf("tool panicked: %v", rec)}
			err = nil
		}
	}()

	result, execErr := tool.Execute(ctx, params)
	if execErr != nil {
		return &models.ToolOutput{Success: false, Error: execErr.Error()}, nil
	}
	if result == nil {
		return &models.ToolOutput{Success: false, Error: "tool returned no result"}, nil
	}
	return result, nil
}

// validateAgainstSchema compiles and checks params against a JSON-schema-shaped
// map. A nil or empty schema is treated as "accept anything".
func validateAgainstSchema(schema map[string]any, params map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil // malformed schema on the tool's side; don't block execution
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil
	}
	if params == nil {
		params = map[string]any{}
	}
	return compiled.ValidateInterface(params)
}
