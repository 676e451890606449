package llm

import (
	"encoding/json"
	"log"
	"strings"
)

// ParseJSONResponse parses a JSON object from an LLM reply. Markdown code
// fences and chatter around the object are tolerated. It returns nil when
// no object can be decoded.
func ParseJSONResponse(text string) map[string]any {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		end := len(lines)
		for i := len(lines) - 1; i > 0; i-- {
			if strings.TrimSpace(lines[i]) == "```" {
				end = i
				break
			}
		}
		text = strings.Join(lines[1:end], "\n")
	}

	start, stop := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start < 0 || stop < start {
		log.Printf("LLM response has no JSON object: %.60q", text)
		return nil
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(text[start:stop+1]), &result); err != nil {
		log.Printf("Failed to parse LLM response as JSON: %v", err)
		return nil
	}
	return result
}

// StringField returns m[key] when it is a string, else fallback.
func StringField(m map[string]any, key, fallback string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}
