package scraper

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aluiziolira/otodombot/parser"
)

// Searcher renders one page of search results.
type Searcher interface {
	Search(ctx context.Context, intentURL string, page int) (string, error)
}

// Aggregator runs a search intent against a Searcher and merges the results.
type Aggregator struct {
	searcher Searcher
	Metrics  *Metrics
}

// NewAggregator returns an Aggregator backed by s.
func NewAggregator(s Searcher, metrics *Metrics) *Aggregator {
	return &Aggregator{searcher: s, Metrics: metrics}
}

// Collect walks every sort strategy of intent in priority order, paginating
// up to pageBudget pages each, and returns the listing URLs in first-seen
// order. A strategy stops early on a page without a next-page link. Any
// render error aborts the crawl.
func (a *Aggregator) Collect(ctx context.Context, intent SearchIntent, pageBudget int) ([]string, error) {
	requests, err := intent.Requests()
	if err != nil {
		return nil, err
	}
	if pageBudget <= 0 {
		pageBudget = 1
	}

	var ordered []string
	seen := make(map[string]struct{})

	for _, req := range requests {
		for page := 1; page <= pageBudget; page++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			markup, err := a.searcher.Search(ctx, req.URL, page)
			if err != nil {
				a.Metrics.IncError(ErrorTypeLabel(err))
				return nil, fmt.Errorf("search %s page %d: %w", req.Strategy, page, err)
			}
			a.Metrics.IncPages()

			result, err := parser.ExtractSearchPage(markup, req.URL)
			if err != nil {
				return nil, fmt.Errorf("search %s page %d: %w", req.Strategy, page, err)
			}

			added := 0
			for _, link := range result.Links {
				if _, dup := seen[link]; dup {
					continue
				}
				seen[link] = struct{}{}
				ordered = append(ordered, link)
				added++
			}
			a.Metrics.AddLinks(added)

			slog.Debug("search page crawled",
				slog.String("strategy", req.Strategy),
				slog.Int("page", page),
				slog.Int("links", len(result.Links)),
				slog.Int("new", added),
			)

			if !result.HasNext {
				break
			}
		}
	}

	slog.Info("crawl complete",
		slog.Int("strategies", len(requests)),
		slog.Int("candidates", len(ordered)),
	)
	return ordered, nil
}
