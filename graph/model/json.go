package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned by DecodeJSON when the text holds no JSON value.
var ErrNoJSON = errors.New("no JSON value found in model output")

// DecodeJSON parses model output into v. Markdown code fences are stripped,
// and when the text is not valid JSON the outermost object or array found
// in it is tried instead.
func DecodeJSON(text string, v interface{}) error {
	content := strings.TrimSpace(text)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	err := json.Unmarshal([]byte(content), v)
	if err == nil {
		return nil
	}

	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(content, pair[0])
		end := strings.LastIndex(content, pair[1])
		if start == -1 || end <= start {
			continue
		}
		if json.Unmarshal([]byte(content[start:end+1]), v) == nil {
			return nil
		}
	}
	if content == "" {
		return ErrNoJSON
	}
	return fmt.Errorf("invalid JSON response: %w", err)
}
