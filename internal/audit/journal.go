package audit

/*
Журнал релея: неблокирующая запись событий из горячего пути.
События копятся в буфере канала и уходят в Sink пачками по размеру или по таймеру.
Stop закрывает вход и дожидается финального сброса.
*/

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sink определяет, куда физически будут сохраняться события
type Sink interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []RelayEvent) error
}

type Auditor interface {
	Log(event RelayEvent)
}

type Options struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = 10000
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 500 * time.Millisecond
	}
	return o
}

type Journal struct {
	ch     chan RelayEvent // Буфер для асинхронности
	sink   Sink
	opts   Options
	logger *zap.Logger
	wg     sync.WaitGroup

	// closed защищен mu: Log держит RLock на время отправки, поэтому close(ch) безопасен.
	mu     sync.RWMutex
	closed bool
}

func NewJournal(sink Sink, opts Options, logger *zap.Logger) *Journal {
	opts = opts.withDefaults()
	return &Journal{
		ch:     make(chan RelayEvent, opts.BufferSize),
		sink:   sink,
		opts:   opts,
		logger: logger.With(zap.String("mod", "journal")),
	}
}

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.worker()
}

// Stop запирает вход и ждет, пока воркер всё допишет.
func (j *Journal) Stop() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	close(j.ch)
	j.mu.Unlock()

	j.logger.Info("stopping journal: flushing buffer...")
	j.wg.Wait()
	j.logger.Info("journal stopped gracefully")
}

func (j *Journal) Log(event RelayEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.logger.Warn("audit event dropped: journal is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: при переполнении не блокируем горячий путь.
	select {
	case j.ch <- event:
	default:
		j.logger.Error("audit_buffer_overflow",
			zap.String("origin", event.Origin),
			zap.String("trace_id", event.TraceID),
		)
	}
}

// Len: текущая заполненность буфера.
func (j *Journal) Len() int {
	return len(j.ch)
}

func (j *Journal) worker() {
	defer j.wg.Done()

	batch := make([]RelayEvent, 0, j.opts.BatchSize)
	ticker := time.NewTicker(j.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст к этому моменту может быть уже закрыт.
		if err := j.sink.WriteBatch(context.Background(), batch); err != nil {
			j.logger.Error("audit flush failed", zap.Error(err), zap.Int("events", len(batch)))
		}
		batch = make([]RelayEvent, 0, j.opts.BatchSize)
	}

	for {
		select {
		case event, ok := <-j.ch:
			if !ok {
				flush() // Финальный сброс
				j.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= j.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Nop: журнал-заглушка для компонентов, которым аудит не передали.
type Nop struct{}

func (Nop) Log(RelayEvent) {}
