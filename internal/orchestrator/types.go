package orchestrator

import (
	"github.com/opentalon/panelpilot/internal/tools"
)

// Fixed replies for runs that end without a model answer.
const (
	LoopApology     = "Sorry, I went around in circles on that one and stopped. Could you rephrase or split the request?"
	FallbackApology = "Sorry, I don't have an answer for that."
	ErrorApology    = "Sorry, something went wrong while handling your request. Please try again in a moment."
)

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeAnswered    Outcome = "answered"
	OutcomeUserMessage Outcome = "user_message"
	OutcomeEmpty       Outcome = "empty"
	OutcomeLoopLimit   Outcome = "loop_limit"
	OutcomeError       Outcome = "error"
)

type RunResult struct {
	Response   string
	Outcome    Outcome
	RoundTrips int
	ToolCalls  []tools.Invocation
	Results    []tools.Result
}
