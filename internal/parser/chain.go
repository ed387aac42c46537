package parser

import (
	"context"
	"log/slog"

	"kitchen-voice/internal/domain"
)

// Strategy is one way of turning text into a command. Cloud strategies
// return an error on any transport or decoding failure.
type Strategy interface {
	Name() string
	Parse(ctx context.Context, text string, numbers domain.OrderNumberMap) (domain.CommandResult, error)
}

// Outcome labels reported to the outcome hook.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeDeclined = "declined"
)

type ChainOption func(*Chain)

// WithOutcomeHook reports which strategy served each request.
func WithOutcomeHook(fn func(strategy, outcome string)) ChainOption {
	return func(c *Chain) {
		c.onOutcome = fn
	}
}

// Chain tries the cloud strategy first and falls back to the local grammar
// on any failure, or when the cloud strategy does not understand the text.
// The caller cannot tell which one answered.
type Chain struct {
	cloud     Strategy
	local     *Grammar
	logger    *slog.Logger
	onOutcome func(strategy, outcome string)
}

// NewChain builds a chain. cloud may be nil, in which case only the grammar
// is used.
func NewChain(cloud Strategy, logger *slog.Logger, opts ...ChainOption) *Chain {
	c := &Chain{
		cloud:     cloud,
		local:     NewGrammar(),
		logger:    logger,
		onOutcome: func(string, string) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chain) Parse(ctx context.Context, text string, numbers domain.OrderNumberMap) domain.CommandResult {
	if c.cloud == nil {
		return c.fallback(text)
	}

	res, err := c.cloud.Parse(ctx, text, numbers)
	if err != nil {
		c.logger.Warn("cloud parser failed, using local grammar",
			"strategy", c.cloud.Name(),
			"error", err,
		)
		c.onOutcome(c.cloud.Name(), OutcomeError)
		return c.fallback(text)
	}

	res = res.Normalize()
	if res.Action == domain.ActionUnknown {
		c.logger.Debug("cloud parser declined, using local grammar", "strategy", c.cloud.Name(), "text", text)
		c.onOutcome(c.cloud.Name(), OutcomeDeclined)
		return c.fallback(text)
	}

	res.OriginalText = text
	c.onOutcome(c.cloud.Name(), OutcomeOK)
	return res
}

func (c *Chain) fallback(text string) domain.CommandResult {
	c.onOutcome(c.local.Name(), OutcomeOK)
	return c.local.Match(text)
}
