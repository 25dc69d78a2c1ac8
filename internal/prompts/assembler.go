package prompts

import (
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/ChamsBouzaiene/agentd/internal/engine"
)

// PersonaSeparator divides the persona from the base template.
const PersonaSeparator = "\n\n---\n\n"

// ToolSchemasVariable is the template placeholder replaced by tool schemas.
const ToolSchemasVariable = "tool_schemas"

var schemaJSON = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// Assembler implements engine.Assembler.
type Assembler struct {
	source TemplateSource
}

// NewAssembler uses source for the base template; nil means the fallback.
func NewAssembler(source TemplateSource) *Assembler {
	if source == nil {
		source = StaticTemplate(FallbackTemplate)
	}
	return &Assembler{source: source}
}

// SystemPrompt renders the system message content.
func (a *Assembler) SystemPrompt(tools []engine.ToolDescriptor, persona string) string {
	template := a.source.Template()
	if strings.TrimSpace(template) == "" {
		template = FallbackTemplate
	}
	prompt := NewPromptBuilder(template).
		SetVariable(ToolSchemasVariable, RenderToolSchemas(tools)).
		Build()
	if persona != "" {
		prompt = persona + PersonaSeparator + prompt
	}
	return prompt
}

// Assemble returns [system, history..., user].
func (a *Assembler) Assemble(tools []engine.ToolDescriptor, persona string, history []engine.Message, user string) []engine.Message {
	out := make([]engine.Message, 0, len(history)+2)
	out = append(out, engine.SystemMessage(a.SystemPrompt(tools, persona)))
	out = append(out, history...)
	return append(out, engine.UserMessage(user))
}

type toolSchema struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

// RenderToolSchemas renders descriptors as indented JSON without escaping
// non-ASCII text.
func RenderToolSchemas(tools []engine.ToolDescriptor) string {
	schemas := make([]toolSchema, 0, len(tools))
	for _, t := range tools {
		var params any = map[string]any{}
		if t.SchemaJSON != "" {
			if err := schemaJSON.UnmarshalFromString(t.SchemaJSON, &params); err != nil {
				continue
			}
		}
		schemas = append(schemas, toolSchema{Name: t.Name, Description: t.Description, Parameters: params})
	}
	out, err := schemaJSON.MarshalIndent(schemas, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(out)
}
