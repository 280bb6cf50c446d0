package eventbus

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPersistentBus_PublishAndReplay(t *testing.T) {
	dir := t.TempDir()
	logger := zap.NewNop()

	bus, err := NewPersistentBus(PersistentBusConfig{WALDir: dir, BufferSize: 64}, logger)
	if err != nil {
		t.Fatalf("NewPersistentBus: %v", err)
	}

	ctx := context.Background()
	bus.Publish(ctx, NewEvent(EventSessionSwept, SessionSweptPayload{Count: 1}))
	bus.Publish(ctx, NewEvent(EventCredentialsUpdated, CredentialsPayload{Backend: "qwen-web"}))
	bus.Publish(ctx, NewEvent(EventSettingsChanged, SettingsChangedPayload{Key: "log.level"}))
	time.Sleep(50 * time.Millisecond)
	bus.Close()

	walPath := filepath.Join(dir, "events.wal")
	info, err := os.Stat(walPath)
	if err != nil {
		t.Fatalf("WAL file not found: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("WAL file is empty")
	}

	bus2, err := NewPersistentBus(PersistentBusConfig{WALDir: dir, BufferSize: 64}, logger)
	if err != nil {
		t.Fatalf("NewPersistentBus (reopen): %v", err)
	}
	defer bus2.Close()

	var mu sync.Mutex
	var replayed []string
	bus2.Subscribe("*", func(ctx context.Context, event Event) {
		mu.Lock()
		replayed = append(replayed, event.Type())
		mu.Unlock()
	})

	count, err := bus2.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 replayed events, got %d", count)
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(replayed) != 3 {
		t.Fatalf("expected 3 handler calls, got %d", len(replayed))
	}
}

func TestPersistentBus_ReplayMissingWALIsNotAnError(t *testing.T) {
	bus, err := NewPersistentBus(PersistentBusConfig{WALDir: t.TempDir()}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewPersistentBus: %v", err)
	}
	defer bus.Close()

	if err := os.Remove(bus.walPath); err != nil {
		t.Fatalf("remove WAL: %v", err)
	}

	count, err := bus.Replay(context.Background())
	if err != nil {
		t.Fatalf("Replay on missing WAL should not error, got %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 replayed events, got %d", count)
	}
}

func TestPersistentBus_Truncate(t *testing.T) {
	dir := t.TempDir()
	bus, err := NewPersistentBus(PersistentBusConfig{WALDir: dir, BufferSize: 64}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewPersistentBus: %v", err)
	}
	defer bus.Close()

	ctx := context.Background()
	bus.Publish(ctx, NewEvent(EventLifecycle, LifecyclePayload{ProviderID: "p1", Action: LifecycleLoaded}))
	time.Sleep(20 * time.Millisecond)

	if bus.WALSize() == 0 {
		t.Fatal("expected non-zero WAL size after publish")
	}
	if err := bus.Truncate(); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if bus.WALSize() != 0 {
		t.Fatal("expected zero WAL size after truncate")
	}

	count, err := bus.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay after truncate: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected nothing left to replay after truncate, got %d", count)
	}
}

func TestPersistentBus_WALRotation(t *testing.T) {
	dir := t.TempDir()
	bus, err := NewPersistentBus(PersistentBusConfig{WALDir: dir, BufferSize: 256, MaxWALSize: 100}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewPersistentBus: %v", err)
	}
	defer bus.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		bus.Publish(ctx, NewEvent(EventSessionSwept, SessionSweptPayload{Count: int64(i)}))
	}
	time.Sleep(50 * time.Millisecond)

	oldPath := filepath.Join(dir, "events.wal.old")
	if _, err := os.Stat(oldPath); os.IsNotExist(err) {
		t.Fatal("expected .old WAL file after rotation")
	}
}

func TestPersistentBus_ImplementsBusInterface(t *testing.T) {
	bus, err := NewPersistentBus(PersistentBusConfig{WALDir: t.TempDir()}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewPersistentBus: %v", err)
	}
	defer bus.Close()

	var _ Bus = bus
}

func TestNewPersistentBus_RejectsEmptyWALDir(t *testing.T) {
	if _, err := NewPersistentBus(PersistentBusConfig{}, zap.NewNop()); err == nil {
		t.Fatal("expected error for empty WALDir")
	}
}
