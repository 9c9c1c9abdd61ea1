package analysis

import (
	"fmt"
	"sort"

	"github.com/tsarna/go-structdiff"
)

// Changes returns the fields of next that differ from prev, keyed by their
// JSON names.
func Changes(prev, next Result) (map[string]any, error) {
	before, err := toJQInput(prev)
	if err != nil {
		return nil, err
	}
	after, err := toJQInput(next)
	if err != nil {
		return nil, err
	}

	diff, err := structdiff.Diff(before, after)
	if err != nil {
		return nil, fmt.Errorf("failed to diff results: %w", err)
	}

	changes, _ := any(diff).(map[string]any)
	if changes == nil {
		changes = map[string]any{}
	}
	return changes, nil
}

// ChangedKeys lists the top level keys of Changes in sorted order.
func ChangedKeys(prev, next Result) ([]string, error) {
	changes, err := Changes(prev, next)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
