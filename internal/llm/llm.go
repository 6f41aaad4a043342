// Package llm is the contract with the generative provider: a role-tagged prompt plus a
// tool schema the provider is forced to call, returning the call's JSON arguments.
package llm

import (
	"context"
	"encoding/json"
)

// Tool is the function the provider must call. Schema is a JSON Schema object.
type Tool struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Request is one structured generation.
type Request struct {
	System string
	User   string
	Tool   Tool
}

// Generator returns the raw JSON arguments of the forced tool call.
type Generator interface {
	Generate(ctx context.Context, req Request) (json.RawMessage, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (json.RawMessage, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (json.RawMessage, error) {
	return f(ctx, req)
}
