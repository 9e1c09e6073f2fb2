// Package pipeline batches scraped products and hands them to an output
// writer from a pool of background workers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-market/config"
	"github.com/aluiziolira/go-scrape-market/models"
	"github.com/aluiziolira/go-scrape-market/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when workers do not drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
)

// drainTimeout bounds how long Close waits for workers.
var drainTimeout = 30 * time.Second

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(products []models.ScrapedProduct) error
	Close() error
	Validate() error
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithDedupe drops products whose (marketplace, productId) was seen among
// the last size accepted products. Disabled by default so repeated scrapes
// still refresh the cache.
func WithDedupe(size int) Option {
	return func(p *Pipeline) {
		if size <= 0 {
			return
		}
		seen, err := lru.New[models.ProductKey, struct{}](size)
		if err == nil {
			p.seen = seen
		}
	}
}

// WithFlushInterval makes workers flush partial batches every d, for
// long-lived pipelines that may never fill a batch.
func WithFlushInterval(d time.Duration) Option {
	return func(p *Pipeline) {
		p.flushInterval = d
	}
}

// Pipeline coordinates validation, de-duplication, and output writing.
type Pipeline struct {
	ctx       context.Context
	writer    OutputWriter
	productCh chan models.ScrapedProduct
	batchSize int

	flushInterval time.Duration

	wg sync.WaitGroup

	seen *lru.Cache[models.ProductKey, struct{}]

	metrics metrics

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline sized from cfg.
func NewPipeline(ctx context.Context, writer OutputWriter, cfg *config.Config, opts ...Option) *Pipeline {
	buffer := cfg.PipelineBuffer
	if buffer <= 0 {
		buffer = 256
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 32
	}

	p := &Pipeline{
		ctx:       ctx,
		writer:    writer,
		productCh: make(chan models.ScrapedProduct, buffer),
		batchSize: batch,
		metrics:   newMetrics(),
		shutdown:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches worker goroutines.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process enqueues products for downstream processing. It blocks while the
// buffer is full.
func (p *Pipeline) Process(products ...models.ScrapedProduct) error {
	if len(products) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, product := range products {
		if err := p.enqueue(product); err != nil {
			return err
		}
	}
	return nil
}

// Close waits for workers to finish and prevents more submissions. The
// writer stays open; its owner closes it.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
	}
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.productCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		return fmt.Errorf("%w after %s", ErrPipelineCloseTimeout, drainTimeout)
	}
	return p.Err()
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stats is a snapshot of the pipeline counters.
type Stats struct {
	Processed int64
	Rejected  map[string]int
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() Stats {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				stats := p.GetMetrics()
				slog.Info("pipeline progress",
					slog.Int64("processed", stats.Processed),
					slog.Any("rejected", stats.Rejected),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]models.ScrapedProduct, 0, p.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writer.Write(batch); err != nil {
			return err
		}
		batch = make([]models.ScrapedProduct, 0, p.batchSize)
		return nil
	}

	var tick <-chan time.Time
	if p.flushInterval > 0 {
		ticker := time.NewTicker(p.flushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case product, ok := <-p.productCh:
			if !ok {
				if err := flush(); err != nil {
					p.setErr(fmt.Errorf("write batch: %w", err))
				}
				return
			}
			if !p.prepare(&product) {
				continue
			}
			batch = append(batch, product)
			if len(batch) >= p.batchSize {
				if err := flush(); err != nil {
					p.setErr(fmt.Errorf("write batch: %w", err))
					return
				}
			}
		case <-tick:
			if err := flush(); err != nil {
				p.setErr(fmt.Errorf("write batch: %w", err))
				return
			}
		}
	}
}

func (p *Pipeline) prepare(product *models.ScrapedProduct) bool {
	if err := parser.ValidateProduct(product); err != nil {
		p.metrics.addRejected("invalid_record")
		return false
	}

	if p.seen != nil {
		if ok, _ := p.seen.ContainsOrAdd(product.Key(), struct{}{}); ok {
			p.metrics.addRejected("duplicate_product")
			return false
		}
	}

	p.metrics.incrementProcessed()
	return true
}

func (p *Pipeline) enqueue(product models.ScrapedProduct) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.productCh <- product:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu        sync.Mutex
	processed int64
	rejected  map[string]int
}

func newMetrics() metrics {
	return metrics{
		rejected: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) addRejected(kind string) {
	m.mu.Lock()
	m.rejected[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	rejected := make(map[string]int, len(m.rejected))
	for k, v := range m.rejected {
		rejected[k] = v
	}
	return Stats{Processed: m.processed, Rejected: rejected}
}
