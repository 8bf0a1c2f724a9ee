// Package script runs the interpreted Go snippets of code nodes. Snippets
// declare an entry function taking and returning a map; the runner evaluates
// the source in a fresh interpreter per call so state never leaks between
// executions.
package script

import "context"

// DefaultEntry is the entry function name when the node does not set one.
const DefaultEntry = "run"

// Runner evaluates a script and invokes its entry function with the given
// input. Implementations must be safe for concurrent use.
type Runner interface {
	Run(ctx context.Context, source, entry string, input map[string]any) (map[string]any, error)
}
