package eventbus

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	gerrors "github.com/openrelay/gateway/pkg/errors"
	"go.uber.org/zap"
)

// PersistentBus wraps InMemoryBus with a write-ahead log, so the
// notification stream (`lifecycle`, `settings-changed`,
// `credentials-updated`, `credentials-invalid`, `session-swept`)
// survives a crash between the event firing and a
// websocket client observing it. The store row that triggered an event is
// always the durable record (per InMemoryBus's doc comment); the WAL exists
// so a gateway restarted mid-incident can still replay what it missed to
// anyone watching the admin websocket, not so events become a second
// source of truth.
type PersistentBus struct {
	inner   *InMemoryBus
	walFile *os.File
	writer  *bufio.Writer
	walPath string
	mu      sync.Mutex
	logger  *zap.Logger

	maxWALSize int64
	written    int64
}

// walEntry is the on-disk form of one event.
type walEntry struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"ts"`
	Payload   any       `json:"payload"`
}

// PersistentBusConfig configures NewPersistentBus.
type PersistentBusConfig struct {
	WALDir     string // directory holding events.wal; required
	BufferSize int    // InMemoryBus channel buffer; default 256
	MaxWALSize int64  // bytes before rotation; default 10MB, <=0 selects the default
}

const defaultMaxWALSize = 10 * 1024 * 1024

// NewPersistentBus opens (or creates) the WAL file under cfg.WALDir and
// returns a bus ready to Publish/Subscribe. Call Replay once every
// subscriber from a prior run's missed notifications has resubscribed.
func NewPersistentBus(cfg PersistentBusConfig, logger *zap.Logger) (*PersistentBus, error) {
	if cfg.WALDir == "" {
		return nil, gerrors.Validation("event bus WAL directory must not be empty")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.MaxWALSize <= 0 {
		cfg.MaxWALSize = defaultMaxWALSize
	}

	if err := os.MkdirAll(cfg.WALDir, 0755); err != nil {
		return nil, gerrors.Store("create event WAL directory", err)
	}

	walPath := filepath.Join(cfg.WALDir, "events.wal")
	f, err := os.OpenFile(walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, gerrors.Store("open event WAL", err)
	}

	var written int64
	if stat, statErr := f.Stat(); statErr == nil {
		written = stat.Size()
	}

	return &PersistentBus{
		inner:      NewInMemoryBus(logger, cfg.BufferSize),
		walFile:    f,
		writer:     bufio.NewWriterSize(f, 64*1024),
		walPath:    walPath,
		logger:     logger.With(zap.String("component", "persistent-event-bus")),
		maxWALSize: cfg.MaxWALSize,
		written:    written,
	}, nil
}

var _ Bus = (*PersistentBus)(nil)

// Publish appends the event to the WAL before handing it to InMemoryBus. A
// marshal or write failure is logged but never blocks dispatch — a missed
// WAL line only degrades crash-recovery replay, and in-process delivery to
// already-subscribed handlers (the gateway's actual notification path)
// must not depend on disk I/O succeeding.
func (b *PersistentBus) Publish(ctx context.Context, event Event) {
	entry := walEntry{Type: event.Type(), Timestamp: event.Timestamp(), Payload: event.Payload()}

	if data, err := json.Marshal(entry); err != nil {
		b.logger.Error("marshal event for WAL failed", zap.String("type", event.Type()), zap.Error(err))
	} else {
		b.appendLocked(event.Type(), data)
	}

	b.inner.Publish(ctx, event)
}

func (b *PersistentBus) appendLocked(eventType string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n, err := b.writer.Write(append(data, '\n'))
	if err != nil {
		b.logger.Error("WAL write failed", zap.String("type", eventType), zap.Error(err))
		return
	}
	b.written += int64(n)
	_ = b.writer.Flush()

	if b.maxWALSize > 0 && b.written >= b.maxWALSize {
		b.rotateLocked()
	}
}

func (b *PersistentBus) Subscribe(eventType string, handler Handler) {
	b.inner.Subscribe(eventType, handler)
}

func (b *PersistentBus) Unsubscribe(eventType string, handler Handler) {
	b.inner.Unsubscribe(eventType, handler)
}

// Close flushes and closes the WAL, then shuts down the wrapped bus.
func (b *PersistentBus) Close() {
	b.mu.Lock()
	_ = b.writer.Flush()
	_ = b.walFile.Sync()
	_ = b.walFile.Close()
	b.mu.Unlock()

	b.inner.Close()
	b.logger.Info("persistent event bus closed")
}

// Replay reads the WAL front to back and republishes each entry to
// currently-registered handlers (skipping the WAL write itself — a replay
// must not re-append what it's reading). Returns the number of events
// replayed. A missing WAL file is not an error: a fresh gateway home has
// nothing to replay yet.
func (b *PersistentBus) Replay(ctx context.Context) (int, error) {
	f, err := os.Open(b.walPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, gerrors.Store("open event WAL for replay", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	count := 0
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return count, ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry walEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			b.logger.Warn("skipping corrupt WAL entry", zap.Error(err))
			continue
		}

		b.inner.Publish(ctx, &BaseEvent{
			EventType:      entry.Type,
			EventTimestamp: entry.Timestamp,
			EventPayload:   entry.Payload,
		})
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, gerrors.Store("scan event WAL", err)
	}

	b.logger.Info("replayed event WAL", zap.Int("events", count))
	return count, nil
}

// Truncate resets the WAL to empty. Useful after an operator has confirmed
// a Replay was fully consumed and wants to avoid re-replaying the same
// entries on the next restart.
func (b *PersistentBus) Truncate() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_ = b.writer.Flush()
	_ = b.walFile.Close()

	f, err := os.Create(b.walPath)
	if err != nil {
		return gerrors.Store("truncate event WAL", err)
	}

	b.walFile = f
	b.writer = bufio.NewWriterSize(f, 64*1024)
	b.written = 0
	b.logger.Info("event WAL truncated")
	return nil
}

// rotateLocked must be called with b.mu held.
func (b *PersistentBus) rotateLocked() {
	_ = b.writer.Flush()
	_ = b.walFile.Close()

	oldPath := b.walPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(b.walPath, oldPath)

	f, err := os.OpenFile(b.walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		b.logger.Error("WAL rotation failed", zap.Error(err))
		return
	}

	b.walFile = f
	b.writer = bufio.NewWriterSize(f, 64*1024)
	b.written = 0
	b.logger.Info("event WAL rotated", zap.String("old_path", oldPath))
}

// WALSize reports the current WAL file size in bytes.
func (b *PersistentBus) WALSize() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}
