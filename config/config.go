package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Cache drivers understood by store.Open.
const (
	CacheDriverMemory   = "memory"
	CacheDriverSQLite   = "sqlite"
	CacheDriverPostgres = "postgres"
)

// Config holds scraper, cache and server configuration.
type Config struct {
	UserAgent            string
	Throttle             time.Duration
	Timeout              time.Duration
	MaxRetries           int
	RetryDelay           time.Duration
	ProductTTL           time.Duration
	MaxProductsPerSearch int
	DefaultLimit         int
	DefaultMarketplace   string

	CacheDriver    string
	CacheDSN       string
	CacheSize      int
	AsyncCache     bool
	PipelineBuffer int
	BatchSize      int

	ListenAddr  string
	MetricsAddr string
	Verbose     bool

	Jumia MarketplaceConfig
}

// MarketplaceConfig is the per-marketplace part of the configuration.
type MarketplaceConfig struct {
	BaseURL   string
	Currency  string
	Selectors Selectors
}

// Selectors are the CSS selectors used to pull fields out of marketplace
// markup. Each one can be overridden on its own when the site changes.
type Selectors struct {
	Product string
	Link    string
	Title   string
	Price   string
	Image   string
	Rating  string
	Reviews string

	DetailTitle   string
	DetailPrice   string
	DetailImage   string
	DetailRating  string
	DetailReviews string
}

// DefaultJumiaSelectors matches the Jumia catalog markup.
func DefaultJumiaSelectors() Selectors {
	return Selectors{
		Product: "article.prd",
		Link:    "a.core",
		Title:   ".name",
		Price:   ".prc",
		Image:   "img.img",
		Rating:  ".stars._s",
		Reviews: ".rev",

		DetailTitle:   "h1",
		DetailPrice:   "span.-prxs",
		DetailImage:   "#imgs img",
		DetailRating:  ".stars._m",
		DetailReviews: "a.-plxs._more",
	}
}

// DefaultConfig returns conservative defaults for the Jumia storefront.
func DefaultConfig() *Config {
	return &Config{
		UserAgent:            "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		Throttle:             2 * time.Second,
		Timeout:              15 * time.Second,
		MaxRetries:           3,
		RetryDelay:           time.Second,
		ProductTTL:           24 * time.Hour,
		MaxProductsPerSearch: 50,
		DefaultLimit:         24,
		DefaultMarketplace:   "jumia",

		CacheDriver:    CacheDriverSQLite,
		CacheDSN:       "data/products.db",
		CacheSize:      10000,
		AsyncCache:     false,
		PipelineBuffer: 256,
		BatchSize:      32,

		ListenAddr:  ":8080",
		MetricsAddr: ":9090",
		Verbose:     false,

		Jumia: MarketplaceConfig{
			BaseURL:   "https://www.jumia.com.gh",
			Currency:  "GHS",
			Selectors: DefaultJumiaSelectors(),
		},
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.Throttle < 0 {
		return fmt.Errorf("throttle cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be positive")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay cannot be negative")
	}
	if c.ProductTTL <= 0 {
		return fmt.Errorf("product ttl must be positive")
	}
	if c.MaxProductsPerSearch <= 0 {
		return fmt.Errorf("max products per search must be positive")
	}
	if c.DefaultLimit <= 0 {
		return fmt.Errorf("default limit must be positive")
	}
	if c.DefaultLimit > c.MaxProductsPerSearch {
		return fmt.Errorf("default limit (%d) cannot exceed max products per search (%d)", c.DefaultLimit, c.MaxProductsPerSearch)
	}
	if strings.TrimSpace(c.DefaultMarketplace) == "" {
		return fmt.Errorf("default marketplace cannot be empty")
	}

	switch c.CacheDriver {
	case CacheDriverMemory:
		if c.CacheSize <= 0 {
			return fmt.Errorf("cache size must be positive for the memory driver")
		}
	case CacheDriverSQLite, CacheDriverPostgres:
		if c.CacheDSN == "" {
			return fmt.Errorf("cache dsn cannot be empty for the %s driver", c.CacheDriver)
		}
	default:
		return fmt.Errorf("cache driver must be memory, sqlite, or postgres")
	}
	if c.AsyncCache {
		if c.PipelineBuffer <= 0 {
			return fmt.Errorf("pipeline buffer must be positive")
		}
		if c.BatchSize <= 0 {
			return fmt.Errorf("batch size must be positive")
		}
	}

	if err := c.Jumia.validate("jumia"); err != nil {
		return err
	}
	return nil
}

func (m MarketplaceConfig) validate(name string) error {
	if m.BaseURL == "" {
		return fmt.Errorf("%s: base URL cannot be empty", name)
	}
	parsedURL, err := url.Parse(m.BaseURL)
	if err != nil {
		return fmt.Errorf("%s: invalid base URL: %w", name, err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("%s: base URL must include a host", name)
	}
	if m.Currency == "" {
		return fmt.Errorf("%s: currency cannot be empty", name)
	}
	if m.Selectors.Product == "" || m.Selectors.Title == "" || m.Selectors.Link == "" {
		return fmt.Errorf("%s: product, title and link selectors are required", name)
	}
	return nil
}
