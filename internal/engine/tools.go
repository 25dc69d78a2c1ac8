package engine

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/xeipuuv/gojsonschema"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ToolDescriptor is the immutable, model-visible description of a tool.
// SchemaJSON holds a JSON schema object describing the args mapping.
type ToolDescriptor struct {
	Name        string
	Description string
	SchemaJSON  string
}

// MarshalJSON renders the descriptor the way it is shown to the model.
func (d ToolDescriptor) MarshalJSON() ([]byte, error) {
	var params any = map[string]any{}
	if d.SchemaJSON != "" {
		if err := json.UnmarshalFromString(d.SchemaJSON, &params); err != nil {
			return nil, fmt.Errorf("tool %s: invalid schema: %w", d.Name, err)
		}
	}
	return json.Marshal(struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Parameters  any    `json:"parameters"`
	}{d.Name, d.Description, params})
}

// Tool is a constructed capability ready to run once.
type Tool interface {
	Execute(ctx context.Context) (string, error)
}

// ToolFunc adapts a closure to Tool.
type ToolFunc func(ctx context.Context) (string, error)

// Execute implements Tool.
func (f ToolFunc) Execute(ctx context.Context) (string, error) { return f(ctx) }

// Constructor validates and coerces raw model arguments into a runnable Tool.
// Argument problems are reported as *ToolArgumentError.
type Constructor func(args map[string]any) (Tool, error)

type registeredTool struct {
	desc ToolDescriptor
	ctor Constructor
}

// RegistryBuilder collects tools in registration order. It is not safe for
// concurrent use; build the registry once at startup.
type RegistryBuilder struct {
	tools []registeredTool
	index map[string]int
}

// NewRegistryBuilder returns an empty builder.
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{index: make(map[string]int)}
}

// Register adds a tool. Names must be unique and non-empty.
func (b *RegistryBuilder) Register(desc ToolDescriptor, ctor Constructor) error {
	if desc.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if ctor == nil {
		return fmt.Errorf("tool %s: constructor is required", desc.Name)
	}
	if desc.SchemaJSON != "" {
		if _, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(desc.SchemaJSON)); err != nil {
			return fmt.Errorf("tool %s: invalid schema: %w", desc.Name, err)
		}
	}
	if _, dup := b.index[desc.Name]; dup {
		return &DuplicateToolError{Name: desc.Name}
	}
	b.index[desc.Name] = len(b.tools)
	b.tools = append(b.tools, registeredTool{desc: desc, ctor: ctor})
	return nil
}

// MustRegister is Register for static tool tables; it panics on error.
func (b *RegistryBuilder) MustRegister(desc ToolDescriptor, ctor Constructor) *RegistryBuilder {
	if err := b.Register(desc, ctor); err != nil {
		panic(err)
	}
	return b
}

// Build freezes the collected tools into a read-only registry.
func (b *RegistryBuilder) Build() *ToolRegistry {
	r := &ToolRegistry{
		tools: make([]registeredTool, len(b.tools)),
		index: make(map[string]int, len(b.index)),
	}
	copy(r.tools, b.tools)
	for name, i := range b.index {
		r.index[name] = i
	}
	return r
}

// ToolRegistry maps tool names to constructors. It never changes after
// Build, so concurrent readers need no locking. A nil registry is empty.
type ToolRegistry struct {
	tools []registeredTool
	index map[string]int
}

// Get resolves a constructor by exact name.
func (r *ToolRegistry) Get(name string) (Constructor, bool) {
	if r == nil {
		return nil, false
	}
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.tools[i].ctor, true
}

// Schemas lists descriptors in registration order.
func (r *ToolRegistry) Schemas() []ToolDescriptor {
	if r == nil {
		return nil
	}
	out := make([]ToolDescriptor, len(r.tools))
	for i, t := range r.tools {
		out[i] = t.desc
	}
	return out
}

// Names lists tool names in registration order.
func (r *ToolRegistry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.tools))
	for i, t := range r.tools {
		out[i] = t.desc.Name
	}
	return out
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.tools)
}

// ValidateArgs validates args against the descriptor's JSON schema.
func ValidateArgs(desc ToolDescriptor, args map[string]any) error {
	if desc.SchemaJSON == "" {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	schemaLoader := gojsonschema.NewStringLoader(desc.SchemaJSON)
	documentLoader := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		var errorMsgs []string
		for _, err := range result.Errors() {
			errorMsgs = append(errorMsgs, err.String())
		}
		return &ToolArgumentError{
			ToolName: desc.Name,
			Errors:   errorMsgs,
		}
	}

	return nil
}

// SchemaConstructor builds a Constructor that fills schema defaults,
// validates the args and decodes them into P before calling build.
func SchemaConstructor[P any](desc ToolDescriptor, build func(params P) (Tool, error)) Constructor {
	defaults := schemaDefaults(desc.SchemaJSON)
	return func(args map[string]any) (Tool, error) {
		merged := make(map[string]any, len(args)+len(defaults))
		for k, v := range defaults {
			merged[k] = v
		}
		for k, v := range args {
			merged[k] = v
		}
		if err := ValidateArgs(desc, merged); err != nil {
			return nil, err
		}
		var params P
		raw, err := json.Marshal(merged)
		if err == nil {
			err = json.Unmarshal(raw, &params)
		}
		if err != nil {
			return nil, &ToolArgumentError{ToolName: desc.Name, Errors: []string{err.Error()}}
		}
		return build(params)
	}
}

// schemaDefaults collects top-level property defaults from a JSON schema.
func schemaDefaults(schemaJSON string) map[string]any {
	if schemaJSON == "" {
		return nil
	}
	var schema struct {
		Properties map[string]struct {
			Default any `json:"default"`
		} `json:"properties"`
	}
	if err := json.UnmarshalFromString(schemaJSON, &schema); err != nil {
		return nil
	}
	defaults := make(map[string]any)
	for name, prop := range schema.Properties {
		if prop.Default != nil {
			defaults[name] = prop.Default
		}
	}
	return defaults
}
