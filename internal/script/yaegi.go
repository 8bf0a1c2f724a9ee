package script

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/reivaj/flowstate/pkg/schema"
)

// DefaultTimeout bounds a single script execution.
const DefaultTimeout = 5 * time.Second

// YaegiRunner interprets scripts with yaegi. Each Run builds a fresh
// interpreter with stdlib symbols available.
type YaegiRunner struct {
	timeout time.Duration
}

// NewYaegiRunner creates a runner. A non-positive timeout uses DefaultTimeout.
func NewYaegiRunner(timeout time.Duration) *YaegiRunner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &YaegiRunner{timeout: timeout}
}

type runResult struct {
	output map[string]any
	err    error
}

func (r *YaegiRunner) Run(ctx context.Context, source, entry string, input map[string]any) (map[string]any, error) {
	if strings.TrimSpace(source) == "" {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "script source is empty")
	}
	if entry == "" {
		entry = DefaultEntry
	}

	// The caller's deadline wins when it is tighter than the runner's bound.
	timeout := r.timeout
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining < timeout {
			timeout = remaining
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The interpreter cannot be interrupted mid-evaluation, so run it on its
	// own goroutine and abandon it on timeout.
	done := make(chan runResult, 1)
	go func() {
		output, err := evaluate(source, entry, input)
		done <- runResult{output: output, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"script execution exceeded %s", timeout).WithCause(ctx.Err())
	case res := <-done:
		return res.output, res.err
	}
}

func evaluate(source, entry string, input map[string]any) (output map[string]any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = schema.NewErrorf(schema.ErrCodeExecution, "script panicked: %v", p)
		}
	}()

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("load interpreter symbols: %w", err)
	}
	if _, err := i.Eval(source); err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "script failed to evaluate").WithCause(err)
	}

	fnValue, err := i.Eval(entry)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
			"script must define %s(map[string]any) (map[string]any, error)", entry).WithCause(err)
	}
	return invoke(fnValue, entry, input)
}

// invoke calls the entry function, accepting both the full
// (map) (map, error) shape and the bare (map) map shape.
func invoke(value reflect.Value, entry string, input map[string]any) (map[string]any, error) {
	if !value.IsValid() || value.Kind() != reflect.Func {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "%s is not a function", entry)
	}
	fnType := value.Type()
	if fnType.NumIn() != 1 {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
			"%s must take exactly one map[string]any argument", entry)
	}

	if input == nil {
		input = map[string]any{}
	}
	results := value.Call([]reflect.Value{reflect.ValueOf(input)})
	if len(results) == 0 || len(results) > 2 {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
			"%s must return (map[string]any[, error])", entry)
	}

	if len(results) == 2 && !results[1].IsNil() {
		if e, ok := results[1].Interface().(error); ok && e != nil {
			return nil, schema.NewError(schema.ErrCodeExecution, "script returned error").WithCause(e)
		}
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
			"%s returned a non-error second value", entry)
	}

	out := results[0].Interface()
	if out == nil {
		return map[string]any{}, nil
	}
	m, ok := out.(map[string]any)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
			"%s must return map[string]any, got %T", entry, out)
	}
	return m, nil
}
