package scraper

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/aluiziolira/otodombot/config"
)

var roomNames = map[int]string{
	1: "ONE", 2: "TWO", 3: "THREE", 4: "FOUR", 5: "FIVE",
	6: "SIX", 7: "SEVEN", 8: "EIGHT", 9: "NINE", 10: "TEN",
}

// SearchIntent is a base search URL plus the filters rendered into it.
type SearchIntent struct {
	BaseURL string
	Search  config.SearchConfig
}

// Request is one sort strategy's search URL, without a page number.
type Request struct {
	Strategy string
	URL      string
}

// NewSearchIntent builds the intent described by cfg.
func NewSearchIntent(cfg *config.Config) SearchIntent {
	return SearchIntent{BaseURL: cfg.BaseURL, Search: cfg.Search}
}

// Requests renders one request per sort strategy, in configured priority
// order. Strategies look like "DEFAULT", "LATEST" or "PRICE_ASC".
func (si SearchIntent) Requests() ([]Request, error) {
	base, err := url.Parse(si.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	strategies := si.Search.SortStrategies
	if len(strategies) == 0 {
		strategies = []string{"DEFAULT"}
	}

	out := make([]Request, 0, len(strategies))
	for _, strategy := range strategies {
		u := *base
		q := u.Query()
		si.applyFilters(q)

		by, direction := sortParams(strategy)
		q.Set("by", by)
		q.Set("direction", direction)
		u.RawQuery = q.Encode()

		out = append(out, Request{Strategy: strings.ToUpper(strategy), URL: u.String()})
	}
	return out, nil
}

func (si SearchIntent) applyFilters(q url.Values) {
	s := si.Search
	if s.MaxPrice > 0 {
		q.Set("priceMax", strconv.Itoa(s.MaxPrice))
	}
	if s.MinArea > 0 {
		q.Set("areaMin", strconv.Itoa(s.MinArea))
	}
	if s.BuildYearMin > 0 {
		q.Set("buildYearMin", strconv.Itoa(s.BuildYearMin))
	}
	if len(s.Rooms) > 0 {
		names := make([]string, 0, len(s.Rooms))
		for _, r := range s.Rooms {
			if name, ok := roomNames[r]; ok {
				names = append(names, name)
			}
		}
		if len(names) > 0 {
			q.Set("roomsNumber", "["+strings.Join(names, ",")+"]")
		}
	}
	if s.Market != "" {
		q.Set("market", strings.ToUpper(string(s.Market)))
	}
}

func sortParams(strategy string) (string, string) {
	strategy = strings.ToUpper(strings.TrimSpace(strategy))
	if strategy == "" {
		return "DEFAULT", "DESC"
	}
	if i := strings.LastIndex(strategy, "_"); i > 0 {
		switch dir := strategy[i+1:]; dir {
		case "ASC", "DESC":
			return strategy[:i], dir
		}
	}
	return strategy, "DESC"
}

// PageURL returns requestURL pointing at the given 1-based results page.
func PageURL(requestURL string, page int) (string, error) {
	u, err := url.Parse(requestURL)
	if err != nil {
		return "", fmt.Errorf("parse search url: %w", err)
	}
	q := u.Query()
	if page <= 1 {
		q.Del("page")
	} else {
		q.Set("page", strconv.Itoa(page))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
