package pipeline

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/aluiziolira/go-scrape-market/models"
	"github.com/aluiziolira/go-scrape-market/store"
)

func sampleProduct() models.ScrapedProduct {
	rating := 4.5
	return models.ScrapedProduct{
		Marketplace:  "jumia",
		ProductID:    "TE298MP4AB",
		Title:        "Tecno Spark 20",
		Price:        1899,
		Currency:     "GHS",
		Image:        "https://img.jumia.test/spark.jpg",
		Rating:       &rating,
		ReviewsCount: 128,
		ProductURL:   "https://www.jumia.test/tecno-spark-20-TE298MP4AB.html",
	}
}

func TestCSVWriterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "products.csv")

	writer, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}

	unrated := sampleProduct()
	unrated.ProductID = "NR1"
	unrated.Rating = nil

	if err := writer.Write([]models.ScrapedProduct{sampleProduct(), unrated}); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate csv: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records=%d, want 3", len(records))
	}
	if records[0][0] != "marketplace" || records[0][1] != "product_id" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	if records[1][3] != "1899.00" || records[1][5] != "4.5" {
		t.Fatalf("unexpected row: %v", records[1])
	}
	if records[2][5] != "" {
		t.Fatalf("missing rating written as %q, want empty", records[2][5])
	}
}

func TestJSONWriterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "products.jsonl")

	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}

	unrated := sampleProduct()
	unrated.Rating = nil
	if err := writer.Write([]models.ScrapedProduct{sampleProduct(), unrated}); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open json: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var decoded []models.ScrapedProduct
	for scanner.Scan() {
		var p models.ScrapedProduct
		if err := json.Unmarshal(scanner.Bytes(), &p); err != nil {
			t.Fatalf("invalid json line: %v", err)
		}
		decoded = append(decoded, p)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan json: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("json lines=%d, want 2", len(decoded))
	}
	if decoded[1].Rating != nil {
		t.Fatalf("null rating decoded as %v", *decoded[1].Rating)
	}
}

func TestDualWriterWrite(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "out", "products.csv")
	jsonPath := filepath.Join(dir, "out", "products.jsonl")

	writer, err := NewDualWriter(csvPath, jsonPath)
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}

	if err := writer.Write([]models.ScrapedProduct{sampleProduct()}); err != nil {
		t.Fatalf("write dual: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate dual: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close dual: %v", err)
	}

	if info, err := os.Stat(csvPath); err != nil || info.Size() == 0 {
		t.Fatalf("csv file missing or empty")
	}
	if info, err := os.Stat(jsonPath); err != nil || info.Size() == 0 {
		t.Fatalf("json file missing or empty")
	}
}

func TestCacheWriterWrite(t *testing.T) {
	mem, err := store.NewMemory(10)
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	cache := store.NewCache(mem, 0, nil)
	writer := NewCacheWriter(cache, 0)

	invalid := sampleProduct()
	invalid.ProductID = ""
	if err := writer.Write([]models.ScrapedProduct{sampleProduct(), invalid}); err != nil {
		t.Fatalf("cache writes are best-effort, got %v", err)
	}

	written, failed := writer.Counts()
	if written != 1 || failed != 1 {
		t.Fatalf("counts = %d written / %d failed, want 1/1", written, failed)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, err := cache.FindByKey(context.Background(), "jumia", "TE298MP4AB"); err != nil {
		t.Fatalf("product not cached: %v", err)
	}
}

type failingUpserter struct{}

func (failingUpserter) Upsert(_ context.Context, products []models.ScrapedProduct) store.Report {
	return store.Report{Failed: len(products)}
}

func TestCacheWriterValidateAllFailed(t *testing.T) {
	writer := NewCacheWriter(failingUpserter{}, 0)
	if err := writer.Write([]models.ScrapedProduct{sampleProduct()}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := writer.Validate(); err == nil {
		t.Fatalf("expected validation error when nothing was written")
	}
}
