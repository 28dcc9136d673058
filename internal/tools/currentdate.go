package tools

import (
	"context"
	"time"
)

// CurrentDate is the builtin tool silently appended to every tool list
// (§4.E: "so that models can obtain time without special prompting"). It
// never makes a network call.
type CurrentDate struct{}

func (CurrentDate) Search(ctx context.Context, params map[string]any) (string, error) {
	return time.Now().UTC().Format(time.RFC3339), nil
}
