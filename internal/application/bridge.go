package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kitchen-voice/internal/domain"
)

const applyTimeout = 10 * time.Second

// OrderSink receives order snapshots. *Engine satisfies it.
type OrderSink interface {
	UpdateOrderNumbers(orders []domain.Order)
}

// OrderSinks hands each snapshot to every member in order.
type OrderSinks []OrderSink

func (s OrderSinks) UpdateOrderNumbers(orders []domain.Order) {
	for _, sink := range s {
		sink.UpdateOrderNumbers(orders)
	}
}

// Bridge connects an engine to the external order store: it keeps the
// engine's order numbering fresh and forwards dispatched commands.
type Bridge struct {
	store    OrderStore
	sink     OrderSink
	notifier Notifier
	logger   *slog.Logger
}

func NewBridge(store OrderStore, sink OrderSink, notifier Notifier, logger *slog.Logger) *Bridge {
	if notifier == nil {
		notifier = &NoopNotifier{}
	}
	return &Bridge{
		store:    store,
		sink:     sink,
		notifier: notifier,
		logger:   logger,
	}
}

// Sync fetches a snapshot and hands it to the sink.
func (b *Bridge) Sync(ctx context.Context) error {
	orders, err := b.store.FetchOrders(ctx)
	if err != nil {
		return fmt.Errorf("fetching orders: %w", err)
	}
	b.sink.UpdateOrderNumbers(orders)
	b.logger.Debug("order snapshot synced", "orders", len(orders))
	return nil
}

// Run performs an initial sync and then re-syncs every interval until ctx
// is done. A zero interval disables polling.
func (b *Bridge) Run(ctx context.Context, interval time.Duration) error {
	if err := b.Sync(ctx); err != nil {
		return fmt.Errorf("initial order sync: %w", err)
	}
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := b.Sync(ctx); err != nil {
				b.logger.Error("periodic order sync failed", "error", err)
			}
		}
	}
}

// Forward returns an OnCommand handler that applies each dispatched command
// to the store in the background and re-syncs afterwards.
func (b *Bridge) Forward(ctx context.Context) func(domain.VoiceCommand) {
	return func(cmd domain.VoiceCommand) {
		go func() {
			applyCtx, cancel := context.WithTimeout(ctx, applyTimeout)
			defer cancel()

			if err := b.store.ApplyCommand(applyCtx, cmd); err != nil {
				b.logger.Error("applying command to order store",
					"error", err,
					"action", cmd.Action,
					"order_id", cmd.OrderID,
				)
				if notifyErr := b.notifier.Notify(ctx, fmt.Sprintf("Error: could not apply %s: %s", cmd.Action, err)); notifyErr != nil {
					b.logger.Error("notifying error", "error", notifyErr)
				}
				return
			}

			b.logger.Info("command applied", "action", cmd.Action, "order_id", cmd.OrderID)
			if err := b.Sync(applyCtx); err != nil {
				b.logger.Warn("re-sync after command", "error", err)
			}
		}()
	}
}
