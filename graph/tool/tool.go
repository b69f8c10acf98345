// Package tool defines callable tools that a model may request during a
// step, and the error type that marks a failed invocation.
package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dshills/questforge/graph/model"
)

// Tool is an external capability a model can invoke by name.
//
// Implementations validate their input, respect ctx, and return structured
// output. Call should be safe to repeat.
type Tool interface {
	// Name is the identifier the model uses in a tool call.
	Name() string

	// Call executes the tool. input matches the tool's schema and may be nil.
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// Describer is implemented by tools that can advertise themselves to a model.
type Describer interface {
	Spec() model.ToolSpec
}

// Error reports a failed tool invocation. Callers in degraded paths treat it
// as recoverable and substitute a fallback.
type Error struct {
	Tool string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Invoke calls t and wraps any failure other than context cancellation in
// *Error.
func Invoke(ctx context.Context, t Tool, input map[string]interface{}) (map[string]interface{}, error) {
	out, err := t.Call(ctx, input)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, context.Canceled) {
		return nil, err
	}
	var te *Error
	if errors.As(err, &te) {
		return nil, err
	}
	return nil, &Error{Tool: t.Name(), Err: err}
}

// Registry resolves tools by name.
type Registry map[string]Tool

// NewRegistry indexes tools by Name.
func NewRegistry(tools ...Tool) Registry {
	r := make(Registry, len(tools))
	for _, t := range tools {
		r[t.Name()] = t
	}
	return r
}

// Specs returns the specs of every tool that implements Describer, sorted by
// name.
func (r Registry) Specs() []model.ToolSpec {
	var specs []model.ToolSpec
	for _, t := range r {
		if d, ok := t.(Describer); ok {
			specs = append(specs, d.Spec())
		}
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Call invokes the named tool. An unknown name is reported as *Error.
func (r Registry) Call(ctx context.Context, name string, input map[string]interface{}) (map[string]interface{}, error) {
	t, ok := r[name]
	if !ok {
		return nil, &Error{Tool: name, Err: errors.New("unknown tool")}
	}
	return Invoke(ctx, t, input)
}
