package jobfile

import "github.com/joseph-ayodele/pdf-watermarker/constants"

// BuildJobSchema returns the JSON-Schema (draft 2020-12 subset) of a job file as a generic map.
// HTTP job submissions are validated against the same schema.
func BuildJobSchema() map[string]any {
	positions := constants.PositionsAsStringSlice()
	props := map[string]any{
		"input_roots": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items":    map[string]any{"type": "string", "minLength": 1},
		},
		"output_root":      map[string]any{"type": "string", "minLength": 1},
		"include":          map[string]any{"type": "array", "items": map[string]any{"type": "string", "minLength": 1}},
		"watermark_text":   map[string]any{"type": "string"},
		"watermark_image":  map[string]any{"type": "string"},
		"transparency":     map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
		"position":         map[string]any{"type": "string", "enum": positions},
		"font_color":       map[string]any{"type": "string", "pattern": `^#?([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`},
		"ocr_enabled":      map[string]any{"type": "boolean"},
		"ocr_language":     map[string]any{"type": "string", "pattern": `^[a-z][a-z_]*(\+[a-z][a-z_]*)*$`},
		"compress_enabled": map[string]any{"type": "boolean"},
		"dpi":              map[string]any{"type": "integer", "enum": constants.AllowedDPI},
		"failure_policy": map[string]any{
			"type": "string",
			"enum": []string{string(constants.FailureContinue), string(constants.FailureAbort)},
		},
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             []string{"input_roots", "output_root"},
	}
}
