package parser

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"kitchen-voice/internal/domain"
)

// CloudFactory builds a cloud strategy for a caller-supplied API key.
type CloudFactory func(apiKey string) Strategy

// Service answers the text-only endpoint. It runs the same cloud-then-local
// chain as the voice engine, independent of any audio pipeline.
type Service struct {
	chain   *Chain
	factory CloudFactory
	opts    []ChainOption
	logger  *slog.Logger
	numbers atomic.Pointer[domain.OrderNumberMap]
}

// NewService wraps the default chain. factory may be nil, in which case
// per-request API keys are ignored.
func NewService(chain *Chain, factory CloudFactory, logger *slog.Logger, opts ...ChainOption) *Service {
	s := &Service{
		chain:   chain,
		factory: factory,
		opts:    opts,
		logger:  logger,
	}
	empty := domain.BuildOrderNumberMap(nil)
	s.numbers.Store(&empty)
	return s
}

// UpdateOrderNumbers replaces the numbering used for text requests.
func (s *Service) UpdateOrderNumbers(orders []domain.Order) {
	m := domain.BuildOrderNumberMap(orders)
	s.numbers.Store(&m)
}

func (s *Service) OrderNumbers() domain.OrderNumberMap {
	return *s.numbers.Load()
}

// ParseText parses typed or pre-transcribed text. A non-empty apiKey selects
// a cloud strategy built for that key for this request only.
func (s *Service) ParseText(ctx context.Context, text, apiKey string) domain.CommandResult {
	chain := s.chain
	if key := strings.TrimSpace(apiKey); key != "" && s.factory != nil {
		if cloud := s.factory(key); cloud != nil {
			chain = NewChain(cloud, s.logger, s.opts...)
		}
	}
	return chain.Parse(ctx, text, s.OrderNumbers())
}
