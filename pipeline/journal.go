package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-grocery-prices/models"
)

var (
	// ErrJournalClosed is returned when Process is called after shutdown.
	ErrJournalClosed = errors.New("journal: closed")
	// ErrJournalCloseTimeout is returned when workers do not drain in time.
	ErrJournalCloseTimeout = errors.New("journal: close timed out")
	// ErrJournalFull is returned when prices were dropped because the
	// writer has fallen behind.
	ErrJournalFull = errors.New("journal: buffer full")
)

// drainTimeout bounds how long Close waits for pending batches.
var drainTimeout = 10 * time.Second

// OutputWriter defines the interface for journal output.
type OutputWriter interface {
	Write(prices []models.Price) error
	Close() error
	Validate() error
}

// Journal batches recorded prices onto an OutputWriter in the background.
type Journal struct {
	writer        OutputWriter
	priceCh       chan models.Price
	batchSize     int
	flushInterval time.Duration

	wg sync.WaitGroup

	metrics journalMetrics

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	writerOnce   sync.Once
	writerErr    error
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewJournal builds a journal writing batches of up to batchSize rows. A
// partial batch is flushed at least once a second.
func NewJournal(writer OutputWriter, batchSize int) *Journal {
	if batchSize <= 0 {
		batchSize = 64
	}
	return &Journal{
		writer:        writer,
		priceCh:       make(chan models.Price, 512),
		batchSize:     batchSize,
		flushInterval: time.Second,
		metrics:       newJournalMetrics(),
		shutdown:      make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (j *Journal) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.mu.Unlock()

	for i := 0; i < workers; i++ {
		j.wg.Add(1)
		go j.worker()
	}
}

// Process enqueues prices for writing without blocking. Prices that do not
// fit in the buffer are dropped, counted as "buffer_full" and reported with
// ErrJournalFull.
func (j *Journal) Process(prices ...models.Price) error {
	if len(prices) == 0 {
		return nil
	}

	closed, err := j.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrJournalClosed
	}

	dropped := 0
	for _, p := range prices {
		err := j.enqueue(p)
		switch {
		case errors.Is(err, ErrJournalFull):
			j.metrics.addValidation("buffer_full")
			dropped++
		case err != nil:
			return err
		}
	}
	if dropped > 0 {
		return fmt.Errorf("%w: dropped %d of %d prices", ErrJournalFull, dropped, len(prices))
	}
	return nil
}

// Close stops accepting prices, waits for workers to flush, then validates
// and closes the writer. The writer stays open if the drain times out.
func (j *Journal) Close() error {
	j.mu.Lock()
	if !j.closed {
		j.closed = true
	}
	j.mu.Unlock()

	j.signalShutdown()
	j.closeOnce.Do(func() {
		close(j.priceCh)
	})

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		return ErrJournalCloseTimeout
	}

	j.writerOnce.Do(func() {
		j.writerErr = j.closeWriter()
	})
	return errors.Join(j.Err(), j.writerErr)
}

// closeWriter validates the output once something was journaled, then
// releases the writer.
func (j *Journal) closeWriter() error {
	var errs []error
	if journaled, _ := j.metrics.snapshot()["journaled_prices"].(int64); journaled > 0 {
		if err := j.writer.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("validate journal output: %w", err))
		}
	}
	if err := j.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close journal writer: %w", err))
	}
	return errors.Join(errs...)
}

// Err returns the first error encountered while writing.
func (j *Journal) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// GetMetrics returns a snapshot of the internal counters.
func (j *Journal) GetMetrics() map[string]interface{} {
	return j.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs.
func (j *Journal) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				metrics := j.GetMetrics()
				slog.Debug("journal progress",
					slog.Int64("journaled", metrics["journaled_prices"].(int64)),
					slog.Any("validation_errors", metrics["validation_errors"]),
				)
			case <-j.shutdown:
				return
			}
		}
	}()
}

func (j *Journal) worker() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.flushInterval)
	defer ticker.Stop()

	batch := make([]models.Price, 0, j.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := j.writer.Write(batch); err != nil {
			return err
		}
		j.metrics.addJournaled(len(batch))
		batch = batch[:0]
		return nil
	}

	for {
		select {
		case p, ok := <-j.priceCh:
			if !ok {
				if err := flush(); err != nil {
					j.setErr(fmt.Errorf("write batch: %w", err))
				}
				return
			}
			if !j.prepare(p) {
				continue
			}
			batch = append(batch, p)
			if len(batch) >= j.batchSize {
				if err := flush(); err != nil {
					j.setErr(fmt.Errorf("write batch: %w", err))
					return
				}
			}
		case <-ticker.C:
			if err := flush(); err != nil {
				j.setErr(fmt.Errorf("write batch: %w", err))
				return
			}
		}
	}
}

func (j *Journal) prepare(p models.Price) bool {
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.ProductID) == "" || strings.TrimSpace(p.Store) == "" {
		j.metrics.addValidation("invalid_record")
		return false
	}
	return true
}

func (j *Journal) enqueue(p models.Price) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrJournalClosed
		}
	}()

	select {
	case <-j.shutdown:
		return ErrJournalClosed
	case j.priceCh <- p:
		return nil
	default:
		return ErrJournalFull
	}
}

func (j *Journal) setErr(err error) {
	if err == nil {
		return
	}

	j.mu.Lock()
	if j.err != nil {
		j.mu.Unlock()
		return
	}
	j.err = err
	j.closed = true
	j.mu.Unlock()

	j.signalShutdown()
	j.closeOnce.Do(func() {
		close(j.priceCh)
	})
}

func (j *Journal) state() (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closed, j.err
}

func (j *Journal) signalShutdown() {
	j.shutdownOnce.Do(func() {
		close(j.shutdown)
	})
}

type journalMetrics struct {
	mu         sync.Mutex
	journaled  int64
	validation map[string]int
}

func newJournalMetrics() journalMetrics {
	return journalMetrics{
		validation: make(map[string]int),
	}
}

func (m *journalMetrics) addJournaled(n int) {
	m.mu.Lock()
	m.journaled += int64(n)
	m.mu.Unlock()
}

func (m *journalMetrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *journalMetrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"journaled_prices":  m.journaled,
		"validation_errors": copyValidation,
	}
}
