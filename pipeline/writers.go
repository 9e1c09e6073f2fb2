package pipeline

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-scrape-market/models"
	"github.com/aluiziolira/go-scrape-market/store"
)

var csvHeader = []string{"marketplace", "product_id", "title", "price", "currency", "rating", "reviews_count", "image", "product_url"}

// CSVWriter writes records to CSV.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter initialises a CSV writer and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(csvHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		file:   f,
		writer: writer,
	}, nil
}

// Write appends products to the CSV output. A missing rating is written as
// an empty cell, not zero.
func (cw *CSVWriter) Write(products []models.ScrapedProduct) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, p := range products {
		rating := ""
		if p.Rating != nil {
			rating = strconv.FormatFloat(*p.Rating, 'f', -1, 64)
		}
		record := []string{
			p.Marketplace,
			p.ProductID,
			p.Title,
			strconv.FormatFloat(p.Price, 'f', 2, 64),
			p.Currency,
			rating,
			strconv.Itoa(p.ReviewsCount),
			p.Image,
			p.ProductURL,
		}
		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate ensures the file has content besides the header.
func (cw *CSVWriter) Validate() error {
	info, err := os.Stat(cw.file.Name())
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}

// JSONWriter writes newline-delimited JSON records.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends products in JSONL format.
func (jw *JSONWriter) Write(products []models.ScrapedProduct) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, p := range products {
		if err := jw.encoder.Encode(p); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}

	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	info, err := os.Stat(jw.file.Name())
	if err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("json file is empty")
	}
	return nil
}

// Upserter is the cache write path used by CacheWriter. *store.Cache
// implements it.
type Upserter interface {
	Upsert(ctx context.Context, products []models.ScrapedProduct) store.Report
}

// CacheWriter upserts batches into the product cache. Write never fails;
// cache errors are already logged and counted by the cache.
type CacheWriter struct {
	cache   Upserter
	timeout time.Duration

	written atomic.Int64
	failed  atomic.Int64
}

// NewCacheWriter returns a writer bounding each batch upsert by timeout.
func NewCacheWriter(cache Upserter, timeout time.Duration) *CacheWriter {
	return &CacheWriter{cache: cache, timeout: timeout}
}

// Write implements OutputWriter. It runs detached from any request context
// so a finished request does not abort the write.
func (w *CacheWriter) Write(products []models.ScrapedProduct) error {
	ctx := context.Background()
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	report := w.cache.Upsert(ctx, products)
	w.written.Add(int64(report.Written))
	w.failed.Add(int64(report.Failed))
	return nil
}

// Close implements OutputWriter. The cache is owned by the caller.
func (w *CacheWriter) Close() error {
	return nil
}

// Validate reports an error when writes were attempted and none landed.
func (w *CacheWriter) Validate() error {
	if w.written.Load() == 0 && w.failed.Load() > 0 {
		return errors.New("cache writer: every upsert failed")
	}
	return nil
}

// Counts returns the number of products written and failed so far.
func (w *CacheWriter) Counts() (written, failed int64) {
	return w.written.Load(), w.failed.Load()
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
