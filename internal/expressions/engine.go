package expressions

import "context"

// Engine evaluates expressions inside data_manipulation operations.
// Three implementations: Expr (default logic), CEL (guards), GoJQ (reshaping).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
