package script

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// response is the shape requested from the script model. Style is set
// locally, so it is not part of it.
type response struct {
	Title           string  `json:"title" jsonschema_description:"An engaging English title for the video"`
	ScientificField string  `json:"scientific_field" jsonschema_description:"The scientific field this paper belongs to"`
	Scenes          []Scene `json:"scenes" jsonschema_description:"Array of video scenes"`
}

// ResponseSchema returns the JSON schema for structured script output.
func ResponseSchema() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(&response{})
	schema.Version = ""
	schema.ID = ""

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal response schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode response schema: %w", err)
	}
	return out, nil
}

// Parse decodes a model response into a script stamped with style and
// validates it.
func Parse(text string, style Style) (*Script, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var s Script
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return nil, fmt.Errorf("failed to parse script JSON: %w", err)
	}
	s.Style = style
	if err := Validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}
