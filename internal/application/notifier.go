package application

import (
	"context"

	"kitchen-voice/internal/domain"
)

type Notifier interface {
	Notify(ctx context.Context, message string) error
}

type NoopNotifier struct{}

func (n *NoopNotifier) Notify(_ context.Context, _ string) error {
	return nil
}

// Observer receives engine lifecycle events for metrics and event streams.
// Calls happen on the engine goroutine and must not block.
type Observer interface {
	StateChanged(from, to domain.EngineState)
	SessionStarted(sessionID string)
	CommandDispatched(cmd domain.VoiceCommand)
	CommandRejected(reason string)
	WakeRestarted(backend string)
}

type NoopObserver struct{}

func (NoopObserver) StateChanged(_, _ domain.EngineState)    {}
func (NoopObserver) SessionStarted(_ string)                 {}
func (NoopObserver) CommandDispatched(_ domain.VoiceCommand) {}
func (NoopObserver) CommandRejected(_ string)                {}
func (NoopObserver) WakeRestarted(_ string)                  {}

// Observers fans each event out to every member in order.
type Observers []Observer

func (o Observers) StateChanged(from, to domain.EngineState) {
	for _, ob := range o {
		ob.StateChanged(from, to)
	}
}

func (o Observers) SessionStarted(id string) {
	for _, ob := range o {
		ob.SessionStarted(id)
	}
}

func (o Observers) CommandDispatched(cmd domain.VoiceCommand) {
	for _, ob := range o {
		ob.CommandDispatched(cmd)
	}
}

func (o Observers) CommandRejected(reason string) {
	for _, ob := range o {
		ob.CommandRejected(reason)
	}
}

func (o Observers) WakeRestarted(backend string) {
	for _, ob := range o {
		ob.WakeRestarted(backend)
	}
}
