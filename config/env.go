package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load builds a Config from defaults, optional .env files and the process
// environment. Missing .env files are ignored; malformed values are not.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}

	cfg := DefaultConfig()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := []struct {
		key string
		dst *string
	}{
		{"SCOUT_USER_AGENT", &c.UserAgent},
		{"SCOUT_MARKETPLACE", &c.DefaultMarketplace},
		{"SCOUT_CACHE_DRIVER", &c.CacheDriver},
		{"SCOUT_CACHE_DSN", &c.CacheDSN},
		{"SCOUT_LISTEN_ADDR", &c.ListenAddr},
		{"SCOUT_METRICS_ADDR", &c.MetricsAddr},
		{"JUMIA_BASE_URL", &c.Jumia.BaseURL},
		{"JUMIA_CURRENCY", &c.Jumia.Currency},
		{"JUMIA_SELECTOR_PRODUCT", &c.Jumia.Selectors.Product},
		{"JUMIA_SELECTOR_LINK", &c.Jumia.Selectors.Link},
		{"JUMIA_SELECTOR_TITLE", &c.Jumia.Selectors.Title},
		{"JUMIA_SELECTOR_PRICE", &c.Jumia.Selectors.Price},
		{"JUMIA_SELECTOR_IMAGE", &c.Jumia.Selectors.Image},
		{"JUMIA_SELECTOR_RATING", &c.Jumia.Selectors.Rating},
		{"JUMIA_SELECTOR_REVIEWS", &c.Jumia.Selectors.Reviews},
		{"JUMIA_SELECTOR_DETAIL_TITLE", &c.Jumia.Selectors.DetailTitle},
		{"JUMIA_SELECTOR_DETAIL_PRICE", &c.Jumia.Selectors.DetailPrice},
		{"JUMIA_SELECTOR_DETAIL_IMAGE", &c.Jumia.Selectors.DetailImage},
		{"JUMIA_SELECTOR_DETAIL_RATING", &c.Jumia.Selectors.DetailRating},
		{"JUMIA_SELECTOR_DETAIL_REVIEWS", &c.Jumia.Selectors.DetailReviews},
	}
	for _, s := range strs {
		if value, ok := EnvString(s.key); ok {
			*s.dst = value
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"SCOUT_MAX_RETRIES", &c.MaxRetries},
		{"SCOUT_MAX_PRODUCTS_PER_SEARCH", &c.MaxProductsPerSearch},
		{"SCOUT_DEFAULT_LIMIT", &c.DefaultLimit},
		{"SCOUT_CACHE_SIZE", &c.CacheSize},
		{"SCOUT_PIPELINE_BUFFER", &c.PipelineBuffer},
		{"SCOUT_BATCH_SIZE", &c.BatchSize},
	}
	for _, i := range ints {
		value, ok, err := EnvInt(i.key)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", i.key, err)
		}
		if ok {
			*i.dst = value
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SCOUT_THROTTLE_MS", &c.Throttle},
		{"SCOUT_TIMEOUT_MS", &c.Timeout},
		{"SCOUT_RETRY_DELAY_MS", &c.RetryDelay},
		{"SCOUT_PRODUCT_TTL_MS", &c.ProductTTL},
	}
	for _, d := range durations {
		value, ok, err := EnvMillis(d.key)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.key, err)
		}
		if ok {
			*d.dst = value
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"SCOUT_ASYNC_CACHE", &c.AsyncCache},
		{"SCOUT_VERBOSE", &c.Verbose},
	}
	for _, b := range bools {
		value, ok, err := EnvBool(b.key)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", b.key, err)
		}
		if ok {
			*b.dst = value
		}
	}
	return nil
}

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

// EnvMillis parses key as a whole number of milliseconds.
func EnvMillis(key string) (time.Duration, bool, error) {
	value, ok, err := EnvInt(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	return time.Duration(value) * time.Millisecond, true, nil
}

// EnvBool parses key with strconv.ParseBool.
func EnvBool(key string) (bool, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, err
	}
	return value, true, nil
}
