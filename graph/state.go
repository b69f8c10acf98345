package graph

import (
	"encoding/json"
	"fmt"
)

// deepCopy clones state through a JSON round trip so a node can never alias
// the engine's copy. Unexported fields are not copied.
func deepCopy[S any](state S) (S, error) {
	var zero S

	data, err := json.Marshal(state)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal state: %w", err)
	}

	var copied S
	if err := json.Unmarshal(data, &copied); err != nil {
		return zero, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return copied, nil
}
