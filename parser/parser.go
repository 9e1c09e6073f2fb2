// Package parser turns raw marketplace text into typed product fields and
// maps scraped listings onto their cached form.
package parser

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/aluiziolira/go-scrape-market/models"
)

// UnknownProductID is returned when no identifier can be derived from a URL.
const UnknownProductID = "unknown"

var (
	priceNumber   = regexp.MustCompile(`\d[\d,\s\x{00A0}]*(?:\.\d+)?`)
	ratingClass   = regexp.MustCompile(`(?:^|\s)_(\d)(?:-(\d))?(?:\s|$)`)
	ratingText    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*out of\s*\d+`)
	reviewsNumber = regexp.MustCompile(`\d[\d,]*`)
	reviewsParen  = regexp.MustCompile(`\((\d[\d,]*)\)`)
)

// DefaultProductIDPatterns captures the trailing alphanumeric segment before
// a file extension, then a purely numeric path segment.
var DefaultProductIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:^|[-/])([A-Za-z0-9]+)\.[A-Za-z]+$`),
	regexp.MustCompile(`/(\d+)(?:/|$)`),
}

// ValidateProduct ensures a listing carries the fields required to cache it.
func ValidateProduct(p *models.ScrapedProduct) error {
	if p == nil {
		return fmt.Errorf("product is nil")
	}
	if strings.TrimSpace(p.Marketplace) == "" {
		return fmt.Errorf("product missing marketplace")
	}
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("product missing title")
	}
	id := strings.TrimSpace(p.ProductID)
	if id == "" || id == UnknownProductID {
		return fmt.Errorf("product missing id for %s", p.Title)
	}
	return nil
}

// ParsePrice strips currency symbols, thousands separators and whitespace
// and parses what is left. Unparseable input yields 0.
func ParsePrice(price string) float64 {
	match := priceNumber.FindString(price)
	if match == "" {
		return 0
	}
	cleaned := strings.Map(func(r rune) rune {
		if r == ',' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, match)
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return value
}

// ParseRating reads a rating from a class list such as "stars _s _4-5" or
// from text such as "4.5 out of 5". It returns nil when nothing usable is
// present; a missing rating is never reported as zero.
func ParseRating(s string) *float64 {
	if m := ratingClass.FindStringSubmatch(s); m != nil {
		value, _ := strconv.ParseFloat(m[1], 64)
		if m[2] != "" {
			frac, _ := strconv.ParseFloat(m[2], 64)
			value += frac / 10
		}
		return boundedRating(value)
	}
	if m := ratingText.FindStringSubmatch(s); m != nil {
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return nil
		}
		return boundedRating(value)
	}
	return nil
}

func boundedRating(value float64) *float64 {
	if value < 0 || value > 5 {
		return nil
	}
	return &value
}

// ParseReviewCount extracts a review count from text like "(1,204)",
// preferring a parenthesised number over the first integer in s.
func ParseReviewCount(s string) int {
	match := reviewsNumber.FindString(s)
	if m := reviewsParen.FindStringSubmatch(s); m != nil {
		match = m[1]
	}
	if match == "" {
		return 0
	}
	value, err := strconv.Atoi(strings.ReplaceAll(match, ",", ""))
	if err != nil {
		return 0
	}
	return value
}

// ExtractProductID derives a product id from a listing URL using the given
// patterns, falling back to the last path segment and finally to
// UnknownProductID.
func ExtractProductID(rawURL string, patterns []*regexp.Regexp) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return UnknownProductID
	}

	path := rawURL
	if parsed, err := url.Parse(rawURL); err == nil {
		path = parsed.Path
	}

	for _, pattern := range patterns {
		if m := pattern.FindStringSubmatch(path); len(m) > 1 && m[1] != "" {
			return m[1]
		}
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	if last := segments[len(segments)-1]; last != "" {
		return last
	}
	return UnknownProductID
}
