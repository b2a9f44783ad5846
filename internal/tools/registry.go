package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/opentalon/panelpilot/internal/provider"
)

// Handler executes one tool. The returned payload is JSON-encoded into the
// tool result; a returned error becomes a structured error payload.
type Handler interface {
	Handle(ctx context.Context, args Args) (any, error)
}

type HandlerFunc func(ctx context.Context, args Args) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, args Args) (any, error) { return f(ctx, args) }

// UserFacing is implemented by payloads that carry a message meant for the
// user verbatim, bypassing the model's own phrasing.
type UserFacing interface {
	UserMessage() string
}

// Invocation is one tool call requested by the model.
type Invocation struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Result is the outcome of one invocation. Content is always valid JSON.
type Result struct {
	CallID      string
	Name        string
	Content     string
	Kind        string // empty on success, an error kind otherwise
	UserMessage string
}

func (r Result) Failed() bool { return r.Kind != "" }

type entry struct {
	def     Definition
	handler Handler
	schema  *jsonschema.Schema
}

// Registry maps tool names to their definition and handler.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

func (r *Registry) Register(def Definition, h Handler) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if h == nil {
		return fmt.Errorf("tool %q has no handler", def.Name)
	}
	schema, err := compileSchema(def)
	if err != nil {
		return fmt.Errorf("tool %q schema: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}
	r.entries[def.Name] = &entry{def: def, handler: h, schema: schema}
	r.order = append(r.order, def.Name)
	return nil
}

// Definitions returns every registered definition in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].def)
	}
	return out
}

func (r *Registry) Specs() []provider.ToolSpec {
	defs := r.Definitions()
	out := make([]provider.ToolSpec, len(defs))
	for i, d := range defs {
		out[i] = d.Spec()
	}
	return out
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Execute runs one invocation. It never returns an error: every failure,
// including a panicking handler, is folded into the Result.
func (r *Registry) Execute(ctx context.Context, inv Invocation) (res Result) {
	res = Result{CallID: inv.ID, Name: inv.Name}

	r.mu.RLock()
	e, ok := r.entries[inv.Name]
	r.mu.RUnlock()
	if !ok {
		return failed(res, ErrorPayload{Error: fmt.Sprintf("tool %q does not exist", inv.Name), Kind: KindUnknownTool})
	}

	args, err := decodeArgs(inv.Arguments)
	if err != nil {
		return failed(res, ErrorPayload{Error: err.Error(), Kind: KindInvalidArguments})
	}
	if err := e.schema.Validate(map[string]any(args)); err != nil {
		return failed(res, ErrorPayload{Error: fmt.Sprintf("arguments do not match the %s schema: %v", inv.Name, err), Kind: KindInvalidArguments})
	}

	defer func() {
		if p := recover(); p != nil {
			res = failed(Result{CallID: inv.ID, Name: inv.Name}, ErrorPayload{Error: fmt.Sprintf("tool %s crashed: %v", inv.Name, p), Kind: KindInternal})
		}
	}()

	payload, err := e.handler.Handle(ctx, args)
	if err != nil {
		return failed(res, PayloadFor(err))
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return failed(res, ErrorPayload{Error: fmt.Sprintf("encoding result: %v", err), Kind: KindInternal})
	}
	res.Content = string(data)
	if uf, ok := payload.(UserFacing); ok {
		res.UserMessage = uf.UserMessage()
	}
	return res
}

// ErrorResult builds the failed result of inv carrying p.
func ErrorResult(inv Invocation, p ErrorPayload) Result {
	return failed(Result{CallID: inv.ID, Name: inv.Name}, p)
}

func failed(res Result, p ErrorPayload) Result {
	data, err := json.Marshal(p)
	if err != nil {
		data = []byte(`{"error":"unencodable error","kind":"internal"}`)
	}
	res.Content = string(data)
	res.Kind = p.Kind
	return res
}
