package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/opentalon/panelpilot/internal/tools"
)

const (
	DefaultMaxResultBytes = 64 * 1024 // 64KB
	DefaultTimeout        = 30 * time.Second
)

var defaultForbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[tool_call\]`),
	regexp.MustCompile(`\[tool_use\]`),
	regexp.MustCompile(`<tool_call>`),
	regexp.MustCompile(`<function_call>`),
	regexp.MustCompile(`(?i)ignore (all )?previous instructions`),
}

// Executor runs one tool invocation. *tools.Registry implements it.
type Executor interface {
	Execute(ctx context.Context, inv tools.Invocation) tools.Result
}

// Guard wraps every tool execution: it bounds its duration and cleans its
// result before the model sees it. Panel data such as server names and
// descriptions is user-controlled text.
type Guard struct {
	MaxResultBytes    int
	Timeout           time.Duration
	ForbiddenPatterns []*regexp.Regexp
}

func NewGuard() *Guard {
	return &Guard{
		MaxResultBytes:    DefaultMaxResultBytes,
		Timeout:           DefaultTimeout,
		ForbiddenPatterns: defaultForbiddenPatterns,
	}
}

// Execute runs inv through exec within the guard's timeout and returns the
// validated and sanitized result.
func (g *Guard) Execute(ctx context.Context, exec Executor, inv tools.Invocation) tools.Result {
	res := g.ExecuteWithTimeout(ctx, exec, inv)
	res = g.ValidateResult(inv, res)
	return g.Sanitize(res)
}

func (g *Guard) ExecuteWithTimeout(ctx context.Context, exec Executor, inv tools.Invocation) tools.Result {
	callCtx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	done := make(chan tools.Result, 1)
	go func() {
		done <- exec.Execute(callCtx, inv)
	}()

	select {
	case res := <-done:
		return res
	case <-callCtx.Done():
		return tools.ErrorResult(inv, tools.ErrorPayload{
			Error: fmt.Sprintf("tool %q timed out after %s", inv.Name, g.Timeout),
			Kind:  tools.KindTimeout,
		})
	}
}

func (g *Guard) ValidateResult(inv tools.Invocation, res tools.Result) tools.Result {
	if res.CallID != inv.ID {
		return tools.ErrorResult(inv, tools.ErrorPayload{Error: "tool returned mismatched call ID", Kind: tools.KindInternal})
	}
	if !json.Valid([]byte(res.Content)) {
		return tools.ErrorResult(inv, tools.ErrorPayload{Error: "tool returned malformed JSON", Kind: tools.KindInternal})
	}
	return res
}

// Sanitize masks forbidden patterns inside every string of the result and
// replaces an oversized result with a truncated copy. The content stays
// valid JSON.
func (g *Guard) Sanitize(res tools.Result) tools.Result {
	if res.Content == "" {
		return res
	}
	var v any
	if err := json.Unmarshal([]byte(res.Content), &v); err == nil {
		if data, err := json.Marshal(g.sanitizeValue(v)); err == nil {
			res.Content = string(data)
		}
	} else {
		res.Content = g.mask(res.Content)
	}
	if g.MaxResultBytes > 0 && len(res.Content) > g.MaxResultBytes {
		data, _ := json.Marshal(map[string]any{
			"truncated": true,
			"notice":    fmt.Sprintf("result exceeded %d bytes and was cut", g.MaxResultBytes),
			"partial":   strings.ToValidUTF8(res.Content[:g.MaxResultBytes], ""),
		})
		res.Content = string(data)
	}
	res.UserMessage = g.mask(res.UserMessage)
	return res
}

func (g *Guard) sanitizeValue(v any) any {
	switch t := v.(type) {
	case string:
		return g.mask(t)
	case []any:
		for i := range t {
			t[i] = g.sanitizeValue(t[i])
		}
		return t
	case map[string]any:
		for k, val := range t {
			t[k] = g.sanitizeValue(val)
		}
		return t
	default:
		return v
	}
}

func (g *Guard) mask(s string) string {
	for _, pat := range g.ForbiddenPatterns {
		s = pat.ReplaceAllStringFunc(s, func(match string) string {
			return strings.Repeat("*", len(match))
		})
	}
	return s
}
