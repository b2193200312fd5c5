package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sessionguard/backend/internal/telemetry/domain"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*domain.SecurityEvent
	emitErr error
	done    chan struct{}
}

func newMockEmitter() *mockEventEmitter {
	return &mockEventEmitter{done: make(chan struct{}, 16)}
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *domain.SecurityEvent) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	m.done <- struct{}{}
	return m.emitErr
}

func (m *mockEventEmitter) getEvents() []*domain.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.SecurityEvent(nil), m.events...)
}

func (m *mockEventEmitter) wait(t *testing.T) {
	t.Helper()
	select {
	case <-m.done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit did not run")
	}
}

func TestEmitAsync_NilEmitterOrEvent(t *testing.T) {
	EmitAsync(context.Background(), nil, &domain.SecurityEvent{Type: domain.EventLogin})

	emitter := newMockEmitter()
	EmitAsync(context.Background(), emitter, nil)
	time.Sleep(10 * time.Millisecond)
	if n := len(emitter.getEvents()); n != 0 {
		t.Errorf("expected 0 events, got %d", n)
	}
}

func TestEmitAsync_SuccessfulEmit(t *testing.T) {
	emitter := newMockEmitter()
	event := &domain.SecurityEvent{Type: domain.EventLogin, UserID: "u1", DeviceID: "d1"}

	EmitAsync(context.Background(), emitter, event)
	emitter.wait(t)

	events := emitter.getEvents()
	if len(events) != 1 || events[0].UserID != "u1" {
		t.Fatalf("events = %+v", events)
	}
	if events[0].CreatedAt.IsZero() {
		t.Error("CreatedAt should be stamped")
	}
}

func TestEmitAsync_CancelledRequestContextStillEmits(t *testing.T) {
	emitter := newMockEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	EmitAsync(ctx, emitter, &domain.SecurityEvent{Type: domain.EventLogout})
	emitter.wait(t)
}

func TestEmitAsync_ErrorIsSwallowed(t *testing.T) {
	emitter := newMockEmitter()
	emitter.emitErr = errors.New("boom")
	EmitAsync(context.Background(), emitter, &domain.SecurityEvent{Type: domain.EventLogout})
	emitter.wait(t)
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	a, b := newMockEmitter(), newMockEmitter()
	b.emitErr = errors.New("b failed")
	m := Multi{a, nil, b}

	err := m.Emit(context.Background(), &domain.SecurityEvent{Type: domain.EventLogin})
	if err == nil || err.Error() != "b failed" {
		t.Errorf("err = %v, want b failed", err)
	}
	if len(a.getEvents()) != 1 || len(b.getEvents()) != 1 {
		t.Error("both emitters should receive the event")
	}
}

type blockingEmitter struct {
	release chan struct{}
	emitted chan struct{}
}

func (b *blockingEmitter) Emit(ctx context.Context, _ *domain.SecurityEvent) error {
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	close(b.emitted)
	return nil
}

func TestDrain_WaitsForPendingEmits(t *testing.T) {
	b := &blockingEmitter{release: make(chan struct{}), emitted: make(chan struct{})}
	EmitAsync(context.Background(), b, &domain.SecurityEvent{Type: domain.EventPolicyAction})

	if Drain(20 * time.Millisecond) {
		t.Fatal("Drain reported done while an emit was still blocked")
	}
	close(b.release)
	if !Drain(2 * time.Second) {
		t.Fatal("Drain timed out after the emit was released")
	}
	select {
	case <-b.emitted:
	default:
		t.Error("emit should have completed before Drain returned")
	}
}

func TestDrain_NothingPending(t *testing.T) {
	if !Drain(time.Second) {
		t.Error("Drain with no pending emits should return true")
	}
}
