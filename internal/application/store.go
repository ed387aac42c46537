package application

import (
	"context"

	"kitchen-voice/internal/domain"
)

// OrderStore is the external system that owns orders. The engine never
// writes to it directly; the Bridge forwards dispatched commands.
type OrderStore interface {
	FetchOrders(ctx context.Context) ([]domain.Order, error)
	ApplyCommand(ctx context.Context, cmd domain.VoiceCommand) error
}
