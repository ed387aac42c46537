package application_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kitchen-voice/internal/application"
	"kitchen-voice/internal/domain"
)

type mockStore struct {
	mu       sync.Mutex
	orders   []domain.Order
	fetchErr error
	applyErr error
	applied  []domain.VoiceCommand
	fetches  int
}

func (m *mockStore) FetchOrders(_ context.Context) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	return m.orders, m.fetchErr
}

func (m *mockStore) ApplyCommand(_ context.Context, cmd domain.VoiceCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied = append(m.applied, cmd)
	return m.applyErr
}

func (m *mockStore) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

type mockSink struct {
	mu        sync.Mutex
	snapshots [][]domain.Order
}

func (m *mockSink) UpdateOrderNumbers(orders []domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, orders)
}

type mockNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (m *mockNotifier) Notify(_ context.Context, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func TestBridge_RunSyncsPeriodically(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &mockStore{orders: []domain.Order{{ID: "a", Status: domain.OrderPending}}}
	sink := &mockSink{}
	bridge := application.NewBridge(store, sink, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- bridge.Run(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool { return store.fetchCount() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.NotEmpty(t, sink.snapshots)
	assert.Equal(t, "a", sink.snapshots[0][0].ID)
}

func TestBridge_RunFailsOnInitialSync(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &mockStore{fetchErr: errors.New("store down")}
	bridge := application.NewBridge(store, &mockSink{}, nil, logger)

	err := bridge.Run(context.Background(), time.Minute)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "initial order sync")
}

func TestBridge_ForwardAppliesCommand(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &mockStore{}
	notifier := &mockNotifier{}
	bridge := application.NewBridge(store, &mockSink{}, notifier, logger)

	handler := bridge.Forward(context.Background())
	handler(domain.VoiceCommand{
		CommandResult: domain.CommandResult{Action: domain.ActionUpdateStatus, Status: domain.StatusReady},
		OrderID:       "ord-1",
	})

	require.Eventually(t, func() bool { return store.fetchCount() == 1 }, time.Second, 5*time.Millisecond)
	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.applied, 1)
	assert.Equal(t, "ord-1", store.applied[0].OrderID)
	assert.Zero(t, notifier.count())
}

func TestBridge_ForwardNotifiesOnFailure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &mockStore{applyErr: errors.New("rejected")}
	notifier := &mockNotifier{}
	bridge := application.NewBridge(store, &mockSink{}, notifier, logger)

	bridge.Forward(context.Background())(domain.VoiceCommand{
		CommandResult: domain.CommandResult{Action: domain.ActionCompleteAll},
	})

	require.Eventually(t, func() bool { return notifier.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, store.fetchCount())
}

func TestOrderSinks_FansOut(t *testing.T) {
	a, b := &mockSink{}, &mockSink{}
	orders := []domain.Order{{ID: "x", Status: domain.OrderPreparing}}

	application.OrderSinks{a, b}.UpdateOrderNumbers(orders)

	assert.Equal(t, [][]domain.Order{orders}, a.snapshots)
	assert.Equal(t, [][]domain.Order{orders}, b.snapshots)
}
