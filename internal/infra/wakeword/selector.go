package wakeword

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"kitchen-voice/internal/application"
)

// Selector prefers the primary backend. A primary that fails to start is
// covered by the fallback for that arm; one that reports it cannot run on
// this host is replaced by the fallback for good. Permission errors are
// returned as is.
type Selector struct {
	primary  application.WakeWordBackend
	fallback application.WakeWordBackend
	logger   *slog.Logger

	mu          sync.Mutex
	useFallback bool
}

func NewSelector(primary, fallback application.WakeWordBackend, logger *slog.Logger) *Selector {
	return &Selector{
		primary:     primary,
		fallback:    fallback,
		logger:      logger,
		useFallback: primary == nil,
	}
}

func (s *Selector) active() application.WakeWordBackend {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.useFallback {
		return s.fallback
	}
	return s.primary
}

func (s *Selector) Name() string {
	return s.active().Name()
}

func (s *Selector) Detect(ctx context.Context, frames <-chan application.Frame, opts application.WakeOptions) (<-chan application.WakeEvent, error) {
	backend := s.active()
	events, err := backend.Detect(ctx, frames, opts)
	if backend == s.fallback {
		return events, err
	}
	if err != nil {
		if errors.Is(err, application.ErrPermissionDenied) || ctx.Err() != nil {
			return nil, err
		}
		if errors.Is(err, application.ErrBackendUnavailable) {
			s.demote(err)
		} else {
			s.logger.Warn("wake word backend failed to start, using fallback",
				"backend", s.primary.Name(), "fallback", s.fallback.Name(), "error", err)
		}
		return s.fallback.Detect(ctx, frames, opts)
	}

	// The primary can also give up after connecting; the engine restarts
	// detection, which then lands on the fallback.
	out := make(chan application.WakeEvent, 1)
	go func() {
		defer close(out)
		for ev := range events {
			if ev.Err != nil && errors.Is(ev.Err, application.ErrBackendUnavailable) {
				s.demote(ev.Err)
			}
			out <- ev
		}
	}()
	return out, nil
}

func (s *Selector) demote(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.useFallback {
		return
	}
	s.useFallback = true
	s.logger.Warn("wake word backend unavailable, switching to fallback",
		"backend", s.primary.Name(), "fallback", s.fallback.Name(), "error", err)
}

var _ application.WakeWordBackend = (*Selector)(nil)
