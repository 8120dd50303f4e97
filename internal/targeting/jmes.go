package targeting

import (
	"encoding/json"
	"fmt"

	"github.com/jmespath/go-jmespath"
)

// EvalAny returns the raw value selected by the compiled JMESPath expression.
// It will return nil and no error if the expression does not match anything.
// That is the same effect as having the expression evaluate to `null`.
func EvalAny(expr *jmespath.JMESPath, doc any) (any, error) {
	v, err := expr.Search(doc)
	if err != nil {
		return nil, fmt.Errorf("jmespath: %w", err)
	}
	return v, nil
}

// EvalString coerces the selection to string; primitives are JSON-encoded if needed.
func EvalString(expr *jmespath.JMESPath, doc any) (*string, error) {
	v, err := EvalAny(expr, doc)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case string:
		return &t, nil
	default:
		b, _ := json.Marshal(t)
		bs := string(b)
		return &bs, nil
	}
}
