package llm

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// DecodeJSON unmarshals model output into v. Model JSON is frequently
// wrapped in markdown fences or slightly malformed, so a failed strict
// decode goes through jsonrepair before giving up.
func DecodeJSON(content string, v any) error {
	trimmed := stripFences(content)
	if err := json.Unmarshal([]byte(trimmed), v); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(trimmed)
	if err != nil {
		return WrapError(ErrInvalidOutput, "model output is not valid JSON", err)
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return WrapError(ErrInvalidOutput, "model output is not valid JSON after repair", err)
	}
	return nil
}

func stripFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
