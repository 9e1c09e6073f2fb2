// Package intent consumes the structured intent emitted by the chat model
// and decides whether it warrants a product search.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aluiziolira/go-scrape-market/models"
	"github.com/aluiziolira/go-scrape-market/scraper"
	"github.com/aluiziolira/go-scrape-market/search"
)

// Actions the chat model may emit. Anything else is passed through as a
// plain reply.
const (
	ActionSearchProducts = "search_products"
	ActionAskQuestion    = "ask_question"
)

// Intent is the model's decision for one user message. Query is empty when
// the model sent null.
type Intent struct {
	Action string `json:"action"`
	Query  string `json:"query"`
	Reply  string `json:"reply"`
}

// WantsSearch reports whether the intent should trigger a product search.
func (i Intent) WantsSearch() bool {
	return i.Action == ActionSearchProducts && strings.TrimSpace(i.Query) != ""
}

// Parse decodes a model response, tolerating a surrounding markdown code
// fence.
func Parse(raw string) (Intent, error) {
	var in struct {
		Action string  `json:"action"`
		Query  *string `json:"query"`
		Reply  string  `json:"reply"`
	}
	if err := json.Unmarshal([]byte(stripFence(raw)), &in); err != nil {
		return Intent{}, fmt.Errorf("decode intent: %w", err)
	}

	out := Intent{
		Action: strings.ToLower(strings.TrimSpace(in.Action)),
		Reply:  strings.TrimSpace(in.Reply),
	}
	if in.Query != nil {
		out.Query = strings.TrimSpace(*in.Query)
	}
	if out.Action == "" {
		return Intent{}, fmt.Errorf("decode intent: missing action")
	}
	return out, nil
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Searcher runs product searches. *search.Orchestrator implements it.
type Searcher interface {
	Search(ctx context.Context, query string, opts models.SearchOptions) (search.Outcome, error)
}

// Response is what the chat layer renders back to the user.
type Response struct {
	Action   string                  `json:"action"`
	Reply    string                  `json:"reply"`
	Searched bool                    `json:"searched"`
	Query    string                  `json:"query,omitempty"`
	Source   search.Source           `json:"source,omitempty"`
	Products []models.ScrapedProduct `json:"products,omitempty"`
	Failed   bool                    `json:"failed,omitempty"`
}

// Router hands search intents to a Searcher.
type Router struct {
	searcher Searcher
	defaults models.SearchOptions
}

// NewRouter returns a router searching with defaults applied to every query.
func NewRouter(searcher Searcher, defaults models.SearchOptions) *Router {
	return &Router{searcher: searcher, defaults: defaults}
}

// Route acts on in. Only a search_products intent with a query reaches the
// searcher; every other intent is answered with the model's own reply. A
// failed search is turned into a user-facing reply, never an error.
func (r *Router) Route(ctx context.Context, in Intent) Response {
	resp := Response{Action: in.Action, Reply: in.Reply}
	if !in.WantsSearch() {
		return resp
	}

	resp.Searched = true
	resp.Query = in.Query
	outcome, err := r.searcher.Search(ctx, in.Query, r.defaults)
	if err != nil {
		slog.Warn("intent search failed",
			slog.String("query", in.Query),
			slog.Any("error", err),
		)
		resp.Failed = true
		resp.Reply = scraper.UserMessage(err)
		return resp
	}

	resp.Source = outcome.Source
	resp.Products = outcome.Products
	if resp.Reply == "" {
		resp.Reply = summary(in.Query, len(outcome.Products))
	}
	if outcome.Source == search.SourceCache {
		resp.Reply += " (showing saved results, live prices may differ)"
	}
	return resp
}

func summary(query string, n int) string {
	switch n {
	case 0:
		return fmt.Sprintf("I couldn't find any products for %q.", query)
	case 1:
		return fmt.Sprintf("I found 1 product for %q.", query)
	default:
		return fmt.Sprintf("I found %d products for %q.", n, query)
	}
}
