package origin

import (
	"context"
	"testing"
)

func TestWithAndFrom(t *testing.T) {
	o := Origin{Channel: "console", Conversation: "stdin", Sender: "operator"}
	ctx := With(context.Background(), o)
	if got := From(ctx); got != o {
		t.Errorf("From = %+v, want %+v", got, o)
	}
	if got := From(ctx).String(); got != "console:stdin" {
		t.Errorf("String = %q", got)
	}
}

func TestZeroOrigin(t *testing.T) {
	ctx := context.Background()
	if With(ctx, Origin{}) != ctx {
		t.Error("zero origin should not wrap the context")
	}
	if !From(ctx).IsZero() {
		t.Error("expected zero origin from bare context")
	}
	if !From(nil).IsZero() {
		t.Error("expected zero origin from nil context")
	}
	if (Origin{}).String() != "" {
		t.Error("zero origin should render empty")
	}
}
