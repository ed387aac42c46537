package application

import (
	"context"

	"kitchen-voice/internal/domain"
)

// CommandParser turns a transcript into a structured command. It never
// fails: anything it cannot understand comes back as an unknown action
// with zero confidence.
type CommandParser interface {
	Parse(ctx context.Context, text string, numbers domain.OrderNumberMap) domain.CommandResult
}
