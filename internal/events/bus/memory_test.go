package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jeffjacobsen/orchestrator/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return log
}

func TestMemoryEventBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	received := make(chan *Event, 1)

	sub, err := bus.Subscribe("agent.created", func(ctx context.Context, event *Event) error {
		received <- event
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	event := NewEvent("agent.created", "registry", map[string]interface{}{"agent_id": "a1"})
	if err := bus.Publish(ctx, "agent.created", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// Delivery is synchronous, so the event is already buffered.
	select {
	case e := <-received:
		if e.ID != event.ID {
			t.Errorf("Expected event ID %s, got %s", event.ID, e.ID)
		}
	default:
		t.Fatal("Event not delivered synchronously")
	}
}

func TestMemoryEventBus_MultipleSubscribers(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	var count int32

	for i := 0; i < 3; i++ {
		sub, err := bus.Subscribe("agent.deleted", func(ctx context.Context, event *Event) error {
			atomic.AddInt32(&count, 1)
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe %d failed: %v", i, err)
		}
		defer func() {
			_ = sub.Unsubscribe()
		}()
	}

	if err := bus.Publish(ctx, "agent.deleted", NewEvent("agent.deleted", "registry", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if atomic.LoadInt32(&count) != 3 {
		t.Errorf("Expected 3 handlers to be called, got %d", count)
	}
}

func TestMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	var count int32

	sub, err := bus.Subscribe("task.updated", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	event := NewEvent("task.updated", "orchestrator", nil)
	if err := bus.Publish(ctx, "task.updated", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if sub.IsValid() {
		t.Error("Expected subscription to be invalid after unsubscribe")
	}

	if err := bus.Publish(ctx, "task.updated", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("Expected 1 handler call, got %d", count)
	}
}

func TestMemoryEventBus_ErroringSubscriberIsDropped(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	var badCalls, goodCalls int32

	bad, err := bus.Subscribe("agent.progress", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&badCalls, 1)
		return errors.New("handler exploded")
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if _, err := bus.Subscribe("agent.progress", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&goodCalls, 1)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := bus.Publish(ctx, "agent.progress", NewEvent("agent.progress", "agent", nil)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	if atomic.LoadInt32(&badCalls) != 1 {
		t.Errorf("Erroring subscriber called %d times, want 1", badCalls)
	}
	if atomic.LoadInt32(&goodCalls) != 3 {
		t.Errorf("Healthy subscriber called %d times, want 3", goodCalls)
	}
	if bad.IsValid() {
		t.Error("Erroring subscriber should have been dropped")
	}
}

func TestMemoryEventBus_SingleTokenWildcard(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	var count int32

	sub, err := bus.Subscribe("agent.progress.*", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	_ = bus.Publish(ctx, "agent.progress.a1", NewEvent("agent.progress", "agent", nil))
	_ = bus.Publish(ctx, "agent.progress.a2", NewEvent("agent.progress", "agent", nil))
	// Missing token: should not match
	_ = bus.Publish(ctx, "agent.progress", NewEvent("agent.progress", "agent", nil))

	if atomic.LoadInt32(&count) != 2 {
		t.Errorf("Expected 2 events received, got %d", count)
	}
}

func TestMemoryEventBus_MultiTokenWildcard(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	var count int32

	sub, err := bus.Subscribe("agent.>", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	_ = bus.Publish(ctx, "agent.created", NewEvent("agent.created", "registry", nil))
	_ = bus.Publish(ctx, "agent.progress.a1", NewEvent("agent.progress", "agent", nil))
	_ = bus.Publish(ctx, "task.updated", NewEvent("task.updated", "orchestrator", nil))

	if atomic.LoadInt32(&count) != 2 {
		t.Errorf("Expected 2 agent events received, got %d", count)
	}
}

func TestMemoryEventBus_QueueSubscribe(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	var count int32
	var mu sync.Mutex
	handlerCalls := make([]int, 3)

	for i := 0; i < 3; i++ {
		idx := i
		sub, err := bus.QueueSubscribe("task.planned", "persisters", func(ctx context.Context, event *Event) error {
			atomic.AddInt32(&count, 1)
			mu.Lock()
			handlerCalls[idx]++
			mu.Unlock()
			return nil
		})
		if err != nil {
			t.Fatalf("QueueSubscribe %d failed: %v", i, err)
		}
		defer func() {
			_ = sub.Unsubscribe()
		}()
	}

	for i := 0; i < 6; i++ {
		if err := bus.Publish(ctx, "task.planned", NewEvent("task.planned", "planner", nil)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	// Each event goes to exactly one subscriber, round-robin.
	if atomic.LoadInt32(&count) != 6 {
		t.Errorf("Expected 6 handler calls, got %d", count)
	}
	mu.Lock()
	defer mu.Unlock()
	for i, calls := range handlerCalls {
		if calls != 2 {
			t.Errorf("Subscriber %d handled %d events, want 2", i, calls)
		}
	}
}

func TestMemoryEventBus_MessageOrdering(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	const numEvents = 100

	var mu sync.Mutex
	receivedOrder := make([]int, 0, numEvents)

	sub, err := bus.Subscribe("agent.progress.a1", func(ctx context.Context, event *Event) error {
		seq := event.Data["seq"].(int)
		mu.Lock()
		receivedOrder = append(receivedOrder, seq)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	for i := 0; i < numEvents; i++ {
		event := NewEvent("agent.progress", "agent", map[string]interface{}{"seq": i})
		if err := bus.Publish(ctx, "agent.progress.a1", event); err != nil {
			t.Fatalf("Publish failed at seq %d: %v", i, err)
		}
	}

	// Synchronous dispatch means every handler has already run.
	mu.Lock()
	defer mu.Unlock()
	if len(receivedOrder) != numEvents {
		t.Fatalf("Expected %d events, got %d", numEvents, len(receivedOrder))
	}
	for i, seq := range receivedOrder {
		if seq != i {
			t.Fatalf("Ordering violation at position %d: expected seq %d, got %d", i, i, seq)
		}
	}
}

func TestMemoryEventBus_ConcurrentAccess(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	var receivedCount int32
	var wg sync.WaitGroup

	sub, err := bus.Subscribe("agent.progress.*", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&receivedCount, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	numGoroutines := 10
	eventsPerGoroutine := 100
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				_ = bus.Publish(ctx, "agent.progress.a1", NewEvent("agent.progress", "agent", nil))
			}
		}()
	}
	wg.Wait()

	expected := int32(numGoroutines * eventsPerGoroutine)
	if atomic.LoadInt32(&receivedCount) != expected {
		t.Errorf("Expected %d events, got %d", expected, receivedCount)
	}
}

func TestMemoryEventBus_Close(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))

	if !bus.IsConnected() {
		t.Error("Expected bus to be connected initially")
	}
	bus.Close()
	if bus.IsConnected() {
		t.Error("Expected bus to be disconnected after Close")
	}

	ctx := context.Background()
	if err := bus.Publish(ctx, "agent.created", NewEvent("agent.created", "registry", nil)); err == nil {
		t.Error("Expected error when publishing to closed bus")
	}
	if _, err := bus.Subscribe("agent.created", func(ctx context.Context, event *Event) error {
		return nil
	}); err == nil {
		t.Error("Expected error when subscribing to closed bus")
	}
}

func TestMemoryEventBus_Request(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()

	sub, err := bus.Subscribe("service.echo", func(ctx context.Context, event *Event) error {
		replySubject, ok := event.Data["_reply"].(string)
		if !ok {
			return nil
		}
		response := NewEvent("echo.response", "responder", map[string]interface{}{
			"echo": event.Data["message"],
		})
		return bus.Publish(ctx, replySubject, response)
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	request := NewEvent("echo.request", "requester", map[string]interface{}{"message": "hello"})
	response, err := bus.Request(ctx, "service.echo", request, 2*time.Second)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if response.Data["echo"] != "hello" {
		t.Errorf("Expected echo 'hello', got %v", response.Data["echo"])
	}
}

func TestMemoryEventBus_RequestTimeout(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	request := NewEvent("service.nonexistent", "requester", map[string]interface{}{})
	if _, err := bus.Request(context.Background(), "service.nonexistent", request, 50*time.Millisecond); err == nil {
		t.Error("Expected timeout error")
	}
}
