// Package origin records where a request came from so that replies sent
// later, outside the request, reach the same conversation.
package origin

import "context"

// Origin is a channel and the conversation within it.
type Origin struct {
	Channel      string `json:"channel"`
	Conversation string `json:"conversation"`
	Sender       string `json:"sender,omitempty"`
}

func (o Origin) IsZero() bool {
	return o.Channel == ""
}

// String is "channel:conversation", or "" for the zero Origin.
func (o Origin) String() string {
	if o.IsZero() {
		return ""
	}
	return o.Channel + ":" + o.Conversation
}

type contextKey struct{}

// With returns a context carrying o. A zero Origin leaves ctx unchanged.
func With(ctx context.Context, o Origin) context.Context {
	if o.IsZero() {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, o)
}

// From returns the Origin carried by ctx, or the zero Origin.
func From(ctx context.Context) Origin {
	if ctx == nil {
		return Origin{}
	}
	o, _ := ctx.Value(contextKey{}).(Origin)
	return o
}
