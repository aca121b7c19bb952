// Package parser extracts listing fields and search-result links from
// rendered otodom markup.
package parser

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/otodombot/models"
)

// ErrNoPrice is returned alongside the extracted fields when the page did not
// expose a parsable price. Such pages are dropped by the pipeline.
var ErrNoPrice = errors.New("listing has no price")

const (
	listingLinkSelector = "article a[data-cy='listing-item-link']"
	floorLabel          = "Piętro"
)

var (
	externalIDPattern = regexp.MustCompile(`(?i)(?:nr oferty w otodom|id ogłoszenia|ad id)\s*:?\s*(\d{5,})`)
	nextDataIDPattern = regexp.MustCompile(`"ad"\s*:\s*\{\s*"id"\s*:\s*(\d+)`)
)

// SearchPage is the outcome of parsing one results page.
type SearchPage struct {
	Links   []string
	HasNext bool
}

// ExtractSearchPage returns the absolute listing links on a results page and
// whether the page links to a further page.
func ExtractSearchPage(markup, base string) (SearchPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return SearchPage{}, fmt.Errorf("parse search page: %w", err)
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return SearchPage{}, fmt.Errorf("parse base url: %w", err)
	}

	var page SearchPage
	seen := make(map[string]struct{})
	doc.Find(listingLinkSelector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := baseURL.ResolveReference(ref)
		abs.Fragment = ""
		link := abs.String()
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		page.Links = append(page.Links, link)
	})

	page.HasNext = hasNextPage(doc)
	return page, nil
}

func hasNextPage(doc *goquery.Document) bool {
	next := doc.Find("[data-cy='pagination.next-page'], a[rel='next'], li[title='Go to next Page']").First()
	if next.Length() == 0 {
		return false
	}
	if _, disabled := next.Attr("disabled"); disabled {
		return false
	}
	if v, _ := next.Attr("aria-disabled"); v == "true" {
		return false
	}
	return true
}

// ExtractListing pulls the raw fields out of a rendered listing page. When no
// price can be found the partially filled record is returned with ErrNoPrice.
func ExtractListing(markup, pageURL string) (*models.RawListing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse listing page: %w", err)
	}

	raw := &models.RawListing{
		URL:         pageURL,
		Title:       firstText(doc, "h1[data-cy='adPageAdTitle']", "h1"),
		Description: firstText(doc, "[data-cy='adPageAdDescription']", "[data-testid='ad-description']"),
		AddressHint: firstText(doc, "a[href='#map']", "[data-testid='ad-header-location']", "[data-sentry-element='MapLink']"),
		Floor:       floorFromDoc(doc),
		ExternalID:  externalID(doc, markup),
		PhotoURLs:   photoURLs(doc, pageURL),
	}
	if raw.Title == "" {
		raw.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	priceText := firstText(doc, "[data-cy='adPageHeaderPrice']", "strong[aria-label='Cena']")
	if price, ok := ParsePrice(priceText); ok {
		raw.Price = &price
		return raw, nil
	}
	return raw, ErrNoPrice
}

// ParsePrice turns a displayed price such as "1 250 000 zł" or "1,250,000"
// into an integer. A trailing "," or "." group of one or two digits is a
// fractional part and is dropped; any other "," or "." groups thousands.
func ParsePrice(text string) (int64, bool) {
	var b strings.Builder
	for _, r := range text {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' {
			b.WriteRune(r)
		}
	}
	num := strings.Trim(b.String(), ",.")
	if i := strings.LastIndexAny(num, ",."); i >= 0 {
		if frac := len(num) - i - 1; frac == 1 || frac == 2 {
			num = num[:i]
		}
	}
	num = strings.NewReplacer(",", "", ".", "").Replace(num)
	if num == "" {
		return 0, false
	}
	price, err := strconv.ParseInt(num, 10, 64)
	if err != nil || price <= 0 {
		return 0, false
	}
	return price, true
}

// ParseFloor finds a "Piętro:" label and returns the text of the element
// that follows it, e.g. "1/4". It returns "" when the label is absent.
func ParseFloor(markup string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return ""
	}
	return floorFromDoc(doc)
}

func floorFromDoc(doc *goquery.Document) string {
	if v := normalizeSpace(doc.Find("[data-testid='table-value-floor']").First().Text()); v != "" {
		return v
	}

	var floor string
	doc.Find("p, dt, div, span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Children().Length() > 0 {
			return true
		}
		label := strings.TrimSuffix(normalizeSpace(s.Text()), ":")
		if label != floorLabel {
			return true
		}
		floor = normalizeSpace(s.Next().Text())
		return floor == ""
	})
	return floor
}

func externalID(doc *goquery.Document, markup string) *int64 {
	candidates := []string{
		doc.Find("[data-cy='adPageAdId'], [data-testid='ad-id']").First().Text(),
		doc.Find("body").Text(),
	}
	for _, text := range candidates {
		if m := externalIDPattern.FindStringSubmatch(text); m != nil {
			if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				return &id
			}
		}
	}
	if m := nextDataIDPattern.FindStringSubmatch(markup); m != nil {
		if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return &id
		}
	}
	return nil
}

func photoURLs(doc *goquery.Document, pageURL string) []string {
	base, _ := url.Parse(pageURL)
	var out []string
	seen := make(map[string]struct{})
	add := func(src string) {
		src = strings.TrimSpace(src)
		if src == "" || strings.HasPrefix(src, "data:") {
			return
		}
		if base != nil {
			if ref, err := url.Parse(src); err == nil {
				src = base.ResolveReference(ref).String()
			}
		}
		if _, dup := seen[src]; dup {
			return
		}
		seen[src] = struct{}{}
		out = append(out, src)
	}

	doc.Find("[data-cy='mosaic-gallery-main-view'] img, [data-cy='adPageGallery'] img, [data-testid='gallery'] img").Each(func(_ int, s *goquery.Selection) {
		add(s.AttrOr("src", s.AttrOr("data-src", "")))
	})
	if len(out) == 0 {
		doc.Find("meta[property='og:image']").Each(func(_ int, s *goquery.Selection) {
			add(s.AttrOr("content", ""))
		})
	}
	return out
}

func firstText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if text := blockText(doc.Find(sel).First()); text != "" {
			return text
		}
	}
	return ""
}

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "tr": true, "td": true, "th": true,
}

// blockText is Selection.Text with block elements separated by a space, so
// "<p>a</p><p>b</p>" reads "a b" rather than "ab".
func blockText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(*goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, c *goquery.Selection) {
			switch name := goquery.NodeName(c); {
			case name == "#text":
				b.WriteString(c.Text())
			case name == "script" || name == "style":
			case blockTags[name]:
				b.WriteByte(' ')
				walk(c)
				b.WriteByte(' ')
			default:
				walk(c)
			}
		})
	}
	walk(sel)
	return normalizeSpace(b.String())
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
