package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-market/config"
	"github.com/aluiziolira/go-scrape-market/models"
	"github.com/aluiziolira/go-scrape-market/parser"
)

// JumiaName is the registry key of the Jumia adapter.
const JumiaName = "jumia"

// ErrProductNotListed is returned by ProductDetails when a search for the
// product id does not surface that product.
var ErrProductNotListed = errors.New("product not listed")

// Jumia scrapes a Jumia storefront's catalog pages.
type Jumia struct {
	baseURL      *url.URL
	currency     string
	selectors    config.Selectors
	idPatterns   []*regexp.Regexp
	defaultLimit int
	maxLimit     int

	throttle *Throttle
	retry    RetryOpts
	fetch    *fetcher
	metrics  *Metrics
}

// NewJumia builds the adapter from the jumia section of cfg. The adapter
// owns its throttle window, so one instance should serve all Jumia traffic.
func NewJumia(cfg *config.Config, metrics *Metrics) (*Jumia, error) {
	base, err := url.Parse(cfg.Jumia.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	f, err := newFetcher(JumiaName, cfg.Jumia.BaseURL, cfg.UserAgent, cfg.Timeout, metrics)
	if err != nil {
		return nil, err
	}

	j := &Jumia{
		baseURL:      base,
		currency:     cfg.Jumia.Currency,
		selectors:    cfg.Jumia.Selectors,
		idPatterns:   parser.DefaultProductIDPatterns,
		defaultLimit: cfg.DefaultLimit,
		maxLimit:     cfg.MaxProductsPerSearch,
		throttle:     NewThrottle(cfg.Throttle),
		fetch:        f,
		metrics:      metrics,
	}
	j.retry = RetryOpts{
		MaxAttempts: cfg.MaxRetries,
		BaseDelay:   cfg.RetryDelay,
		Retryable:   IsRetryable,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			metrics.IncRetries()
			slog.Debug("retrying marketplace request",
				slog.String("marketplace", JumiaName),
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait),
				slog.Any("error", err),
			)
		},
	}
	return j, nil
}

// WithTransport swaps the HTTP transport used for all requests.
func (j *Jumia) WithTransport(rt http.RoundTripper) {
	j.fetch.WithTransport(rt)
}

// Name implements Adapter.
func (j *Jumia) Name() string {
	return JumiaName
}

// BuildSearchURL implements Adapter.
func (j *Jumia) BuildSearchURL(query string, page int) string {
	u := *j.baseURL
	u.Path = "/catalog/"
	q := url.Values{}
	q.Set("q", strings.TrimSpace(query))
	if page > 1 {
		q.Set("page", strconv.Itoa(page))
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String()
}

// Search implements Adapter.
func (j *Jumia) Search(ctx context.Context, query string, opts models.SearchOptions) ([]models.ScrapedProduct, error) {
	q, err := ValidateQuery(query)
	if err != nil {
		return nil, err
	}
	opts, err = NormalizeOptions(opts, j.defaultLimit, j.maxLimit)
	if err != nil {
		return nil, err
	}

	target := j.BuildSearchURL(q, opts.Page)
	body, err := Retry(ctx, j.retry, func(ctx context.Context) ([]byte, error) {
		return j.get(ctx, target)
	})
	if err != nil {
		j.logFailure(target, err)
		return nil, err
	}

	result := j.ParseSearchResults(body)
	products := result.Products
	if len(products) > opts.Limit {
		products = products[:opts.Limit]
	}

	slog.Debug("marketplace search parsed",
		slog.String("marketplace", JumiaName),
		slog.String("query", q),
		slog.Int("page", opts.Page),
		slog.Int("found", len(result.Products)),
		slog.Int("skipped", len(result.Skipped)),
		slog.Int("returned", len(products)),
	)
	return products, nil
}

// ParseSearchResults implements Adapter.
func (j *Jumia) ParseSearchResults(html []byte) ParseResult {
	var result ParseResult

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		slog.Warn("unparseable search page", slog.String("marketplace", JumiaName), slog.Any("error", err))
		result.Skipped = append(result.Skipped, ParseIssue{Index: -1, Reason: err.Error()})
		return result
	}

	doc.Find(j.selectors.Product).Each(func(i int, s *goquery.Selection) {
		product, reason := j.extractListing(s)
		if reason != "" {
			result.Skipped = append(result.Skipped, ParseIssue{Index: i, Reason: reason})
			slog.Warn("skipping malformed listing",
				slog.String("marketplace", JumiaName),
				slog.Int("index", i),
				slog.String("reason", reason),
			)
			return
		}
		result.Products = append(result.Products, product)
	})

	j.metrics.AddItems(len(result.Products))
	j.metrics.AddSkipped(len(result.Skipped))
	return result
}

// ProductDetails implements Adapter. With a URL it scrapes the detail page;
// with only an id it searches for the id and picks the matching listing.
func (j *Jumia) ProductDetails(ctx context.Context, ref models.ProductRef) (*models.ScrapedProduct, error) {
	ref.ID = strings.TrimSpace(ref.ID)
	ref.URL = strings.TrimSpace(ref.URL)
	if ref.ID == "" && ref.URL == "" {
		return nil, ValidationError{Field: "product", Reason: "id or url is required"}
	}

	if ref.URL == "" {
		products, err := j.Search(ctx, ref.ID, models.SearchOptions{Page: 1, Limit: j.maxLimit})
		if err != nil {
			return nil, err
		}
		for i := range products {
			if products[i].ProductID == ref.ID {
				return &products[i], nil
			}
		}
		return nil, ExternalServiceError{
			Marketplace: JumiaName,
			StatusCode:  http.StatusNotFound,
			Err:         fmt.Errorf("%w: %s", ErrProductNotListed, ref.ID),
		}
	}

	target := j.absoluteURL(ref.URL)
	body, err := Retry(ctx, j.retry, func(ctx context.Context) ([]byte, error) {
		return j.get(ctx, target)
	})
	if err != nil {
		j.logFailure(target, err)
		return nil, err
	}

	product, err := j.ParseProductDetails(body, target)
	if err != nil {
		return nil, ExternalServiceError{Marketplace: JumiaName, Err: err}
	}
	if ref.ID != "" {
		product.ProductID = ref.ID
	}
	return product, nil
}

// ParseProductDetails extracts a single product from a detail page.
func (j *Jumia) ParseProductDetails(html []byte, pageURL string) (*models.ScrapedProduct, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse detail page: %w", err)
	}

	sel := j.selectors
	title := cleanText(doc.Find(sel.DetailTitle).First().Text())
	if title == "" {
		return nil, fmt.Errorf("detail page missing title")
	}

	priceText := cleanText(doc.Find(sel.DetailPrice).First().Text())
	img := doc.Find(sel.DetailImage).First()
	image := img.AttrOr("data-src", "")
	if image == "" {
		image = img.AttrOr("src", "")
	}
	ratingNode := doc.Find(sel.DetailRating).First()
	reviewsText := cleanText(doc.Find(sel.DetailReviews).First().Text())

	return &models.ScrapedProduct{
		Marketplace:  JumiaName,
		ProductID:    parser.ExtractProductID(pageURL, j.idPatterns),
		Title:        title,
		Price:        parser.ParsePrice(priceText),
		Currency:     j.currency,
		Image:        j.absoluteURL(image),
		Rating:       ratingFrom(ratingNode),
		ReviewsCount: parser.ParseReviewCount(reviewsText),
		ProductURL:   pageURL,
		Raw: map[string]string{
			"source":  "detail",
			"price":   priceText,
			"reviews": reviewsText,
		},
	}, nil
}

func (j *Jumia) extractListing(s *goquery.Selection) (models.ScrapedProduct, string) {
	sel := j.selectors

	link := s.Find(sel.Link).First()
	if link.Length() == 0 && s.Is("a") {
		link = s
	}
	href := strings.TrimSpace(link.AttrOr("href", ""))

	title := cleanText(s.Find(sel.Title).First().Text())
	if title == "" {
		title = cleanText(link.AttrOr("data-name", ""))
	}
	if title == "" {
		return models.ScrapedProduct{}, "missing title"
	}
	if href == "" {
		return models.ScrapedProduct{}, "missing link"
	}

	productURL := j.absoluteURL(href)
	productID := parser.ExtractProductID(productURL, j.idPatterns)

	priceText := cleanText(s.Find(sel.Price).First().Text())
	img := s.Find(sel.Image).First()
	image := img.AttrOr("data-src", "")
	if image == "" {
		image = img.AttrOr("src", "")
	}

	ratingNode := s.Find(sel.Rating).First()
	reviewsText := cleanText(s.Find(sel.Reviews).First().Text())

	product := models.ScrapedProduct{
		Marketplace:  JumiaName,
		ProductID:    productID,
		Title:        title,
		Price:        parser.ParsePrice(priceText),
		Currency:     j.currency,
		Image:        j.absoluteURL(image),
		Rating:       ratingFrom(ratingNode),
		ReviewsCount: parser.ParseReviewCount(reviewsText),
		ProductURL:   productURL,
		Raw: map[string]string{
			"href":    href,
			"price":   priceText,
			"reviews": reviewsText,
		},
	}
	if brand := link.AttrOr("data-brand", ""); brand != "" {
		product.Raw["brand"] = brand
	}
	if category := link.AttrOr("data-category", ""); category != "" {
		product.Raw["category"] = category
	}

	if err := parser.ValidateProduct(&product); err != nil {
		return models.ScrapedProduct{}, err.Error()
	}
	return product, ""
}

func (j *Jumia) get(ctx context.Context, target string) ([]byte, error) {
	waited, err := j.throttle.Wait(ctx)
	j.metrics.ObserveThrottle(waited)
	if err != nil {
		return nil, err
	}
	return j.fetch.Get(ctx, target)
}

func (j *Jumia) absoluteURL(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return j.baseURL.ResolveReference(parsed).String()
}

func (j *Jumia) logFailure(target string, err error) {
	var rateLimited RateLimitedError
	if errors.As(err, &rateLimited) {
		slog.Warn("marketplace rate limited request, consider raising the throttle",
			slog.String("marketplace", JumiaName),
			slog.String("url", target),
		)
		return
	}
	slog.Error("marketplace request failed",
		slog.String("marketplace", JumiaName),
		slog.String("url", target),
		slog.String("category", errorTypeLabel(err)),
		slog.Any("error", err),
	)
}

// ratingFrom reads the rating from the node's class list first, then its text.
func ratingFrom(node *goquery.Selection) *float64 {
	if node.Length() == 0 {
		return nil
	}
	if rating := parser.ParseRating(node.AttrOr("class", "")); rating != nil {
		return rating
	}
	return parser.ParseRating(node.Text())
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
