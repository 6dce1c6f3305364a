package stream

import (
	"encoding/json"
	"fmt"

	"github.com/alexschlessinger/pollychat/messages"
	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// toolEventPayload and chatEventPayload describe the wire objects. Fields
// without omitempty are required by the generated schema.
type toolEventPayload struct {
	EventName  string `json:"event_name"`
	ToolName   string `json:"tool_name"`
	ToolParam  string `json:"tool_param,omitempty"`
	ToolResult string `json:"tool_result,omitempty"`
}

type chatEventPayload struct {
	EventName string `json:"event_name"`
	Content   string `json:"content"`
}

// reflectSchema builds the JSON schema for a payload struct.
func reflectSchema(v any) *jsonschema.Schema {
	r := &jsonschema.Reflector{
		Anonymous:                 true,
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	s := r.Reflect(v)
	// gojsonschema only understands drafts up to 7
	s.Version = ""
	return s
}

func toolEventSchema() *jsonschema.Schema {
	s := reflectSchema(&toolEventPayload{})
	if s.Properties != nil {
		if prop, ok := s.Properties.Get("tool_name"); ok {
			prop.Enum = nil
			for _, n := range messages.ToolNames() {
				prop.Enum = append(prop.Enum, string(n))
			}
		}
	}
	return s
}

func chatEventSchema() *jsonschema.Schema {
	return reflectSchema(&chatEventPayload{})
}

func compileSchema(s *jsonschema.Schema) (*gojsonschema.Schema, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}
