// Package orchestrator runs the dialogue loop: it asks the model what to
// do, executes the tools it picks, feeds the results back and repeats until
// the model answers or the round-trip cap is reached.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opentalon/panelpilot/internal/provider"
	"github.com/opentalon/panelpilot/internal/tools"
)

const DefaultMaxIterations = 5

type LLMClient interface {
	Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error)
}

// ToolSet is the catalog offered to the model and the executor behind it.
// *tools.Registry implements it.
type ToolSet interface {
	Executor
	Definitions() []tools.Definition
	Specs() []provider.ToolSpec
}

// Observer is told about finished runs and executed tools.
type Observer interface {
	RunFinished(outcome string, roundTrips int, elapsed time.Duration)
	ToolExecuted(tool, kind string, elapsed time.Duration)
}

type Orchestrator struct {
	llm           LLMClient
	tools         ToolSet
	guard         *Guard
	rules         *RulesConfig
	maxIterations int
	observer      Observer
	logger        *slog.Logger

	systemPrompt string
	specs        []provider.ToolSpec
}

type Option func(*Orchestrator)

func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

func WithRules(custom []string) Option {
	return func(o *Orchestrator) { o.rules = NewRulesConfig(custom) }
}

func WithGuard(g *Guard) Option       { return func(o *Orchestrator) { o.guard = g } }
func WithObserver(ob Observer) Option { return func(o *Orchestrator) { o.observer = ob } }
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New builds an orchestrator. The system prompt and tool specs are fixed
// here; the catalog does not change after start.
func New(llm LLMClient, ts ToolSet, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		llm:           llm,
		tools:         ts,
		guard:         NewGuard(),
		rules:         DefaultRulesConfig(),
		maxIterations: DefaultMaxIterations,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "orchestrator")

	sp, err := o.rules.BuildSystemPrompt(ts.Definitions())
	if err != nil {
		return nil, err
	}
	o.systemPrompt = sp
	o.specs = ts.Specs()
	return o, nil
}

func (o *Orchestrator) SystemPrompt() string { return o.systemPrompt }

// Run handles one utterance. The conversation lives only for this call.
// A model failure is returned as an error together with the partial result.
func (o *Orchestrator) Run(ctx context.Context, utterance string) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{}
	defer func() {
		if o.observer != nil {
			o.observer.RunFinished(string(result.Outcome), result.RoundTrips, time.Since(start))
		}
	}()

	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: o.systemPrompt},
		{Role: provider.RoleUser, Content: utterance},
	}

	for i := 0; i < o.maxIterations; i++ {
		resp, err := o.llm.Complete(ctx, &provider.CompletionRequest{
			Messages: messages,
			Tools:    o.specs,
		})
		result.RoundTrips++
		if err != nil {
			result.Outcome = OutcomeError
			return result, fmt.Errorf("model completion: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			if strings.TrimSpace(resp.Content) == "" {
				result.Outcome = OutcomeEmpty
				result.Response = FallbackApology
				return result, nil
			}
			result.Outcome = OutcomeAnswered
			result.Response = resp.Content
			return result, nil
		}

		// Calls requested on the last allowed round trip are not executed.
		if i == o.maxIterations-1 {
			break
		}

		messages = append(messages, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		var userMessage string
		for _, tc := range resp.ToolCalls {
			inv := tools.Invocation{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
			res := o.execute(ctx, inv)
			result.ToolCalls = append(result.ToolCalls, inv)
			result.Results = append(result.Results, res)
			messages = append(messages, provider.Message{
				Role:       provider.RoleTool,
				ToolCallID: tc.ID,
				Content:    res.Content,
			})
			if userMessage == "" && res.UserMessage != "" {
				userMessage = res.UserMessage
			}
		}
		if userMessage != "" {
			result.Outcome = OutcomeUserMessage
			result.Response = userMessage
			return result, nil
		}
	}

	o.logger.Warn("round-trip cap reached", "max_iterations", o.maxIterations, "tool_calls", len(result.ToolCalls))
	result.Outcome = OutcomeLoopLimit
	result.Response = LoopApology
	return result, nil
}

func (o *Orchestrator) execute(ctx context.Context, inv tools.Invocation) tools.Result {
	start := time.Now()
	res := o.guard.Execute(ctx, o.tools, inv)
	elapsed := time.Since(start)
	if res.Failed() {
		o.logger.Warn("tool failed", "tool", inv.Name, "call_id", inv.ID, "kind", res.Kind, "result", res.Content)
	} else {
		o.logger.Debug("tool executed", "tool", inv.Name, "call_id", inv.ID, "elapsed", elapsed)
	}
	if o.observer != nil {
		kind := res.Kind
		if kind == "" {
			kind = "ok"
		}
		o.observer.ToolExecuted(inv.Name, kind, elapsed)
	}
	return res
}

// Handle answers one utterance. It always returns something to show the
// user; failures become a fixed apology.
func (o *Orchestrator) Handle(ctx context.Context, utterance string) string {
	result, err := o.Run(ctx, utterance)
	if err != nil {
		o.logger.Error("run failed", "error", err, "round_trips", result.RoundTrips)
		return ErrorApology
	}
	return result.Response
}
