package tools

import (
	"errors"
	"fmt"

	"github.com/opentalon/panelpilot/internal/resolve"
)

// Error kinds carried in error payloads so the model can decide whether to
// ask the user, retry, or give up.
const (
	KindNotFound         = "not_found"
	KindAmbiguous        = "ambiguous"
	KindRefused          = "refused"
	KindBackend          = "backend"
	KindInvalidArguments = "invalid_arguments"
	KindUnknownTool      = "unknown_tool"
	KindInternal         = "internal"
	KindTimeout          = "timeout"
)

// RefusalError is returned when a tool declines to act without calling the
// panel, for example because creation is not configured.
type RefusalError struct {
	Reason string
}

func (e *RefusalError) Error() string { return e.Reason }

func refuse(format string, args ...any) error {
	return &RefusalError{Reason: fmt.Sprintf(format, args...)}
}

// ArgumentError reports a missing or malformed argument.
type ArgumentError struct {
	Name   string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("argument %q %s", e.Name, e.Reason)
}

// ErrorPayload is the JSON body of a failed tool result.
type ErrorPayload struct {
	Error      string   `json:"error"`
	Kind       string   `json:"kind"`
	Candidates []string `json:"candidates,omitempty"`
	Hint       string   `json:"hint,omitempty"`
}

// PayloadFor classifies err into an ErrorPayload.
func PayloadFor(err error) ErrorPayload {
	var (
		rerr *resolve.Error
		ref  *RefusalError
		aerr *ArgumentError
	)
	switch {
	case errors.As(err, &rerr):
		p := ErrorPayload{Error: rerr.Error(), Kind: KindNotFound, Candidates: rerr.Candidates}
		if rerr.Status == resolve.Ambiguous {
			p.Kind = KindAmbiguous
			p.Hint = "ask the user which one they mean"
		}
		return p
	case errors.As(err, &ref):
		return ErrorPayload{Error: ref.Reason, Kind: KindRefused}
	case errors.As(err, &aerr):
		return ErrorPayload{Error: aerr.Error(), Kind: KindInvalidArguments}
	default:
		return ErrorPayload{Error: err.Error(), Kind: KindBackend}
	}
}
