package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
)

// Query is a compiled jq program run against analysis results. The session id
// is available to programs as $session.
type Query struct {
	source string
	code   *gojq.Code
}

// CompileQuery parses and compiles a jq program such as
// ".market_analysis.size" or "{summary, status}".
func CompileQuery(source string) (*Query, error) {
	parsed, err := gojq.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse query '%s': %w", source, err)
	}

	code, err := gojq.Compile(parsed, gojq.WithVariables([]string{"$session"}))
	if err != nil {
		return nil, fmt.Errorf("failed to compile query '%s': %w", source, err)
	}

	return &Query{source: source, code: code}, nil
}

func (q *Query) String() string {
	return q.source
}

// Run evaluates the query against result and returns every value it emits.
// An empty slice means the query produced nothing.
func (q *Query) Run(ctx context.Context, result Result) ([]any, error) {
	input, err := toJQInput(result)
	if err != nil {
		return nil, err
	}

	iter := q.code.RunWithContext(ctx, input, result.SessionID)

	values := []any{}
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			// halt with a null value is a normal exit
			if halt, ok := err.(*gojq.HaltError); ok && halt.Value() == nil {
				break
			}
			return nil, fmt.Errorf("query '%s': %w", q.source, err)
		}
		values = append(values, v)
	}

	return values, nil
}

// First returns the first value the query emits, or nil.
func (q *Query) First(ctx context.Context, result Result) (any, error) {
	values, err := q.Run(ctx, result)
	if err != nil || len(values) == 0 {
		return nil, err
	}
	return values[0], nil
}

// toJQInput turns result into the plain maps and slices gojq operates on.
func toJQInput(result Result) (any, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return input, nil
}
