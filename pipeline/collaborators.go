package pipeline

import (
	"context"
	"time"

	"github.com/aluiziolira/otodombot/models"
	"github.com/aluiziolira/otodombot/scraper"
)

// Renderer returns fully rendered page markup.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
	Search(ctx context.Context, intentURL string, page int) (string, error)
}

// Crawler produces the ordered, deduplicated candidate URLs of one run.
type Crawler interface {
	Collect(ctx context.Context, intent scraper.SearchIntent, pageBudget int) ([]string, error)
}

// AddressResolver derives a postal address from a parsed listing page.
type AddressResolver interface {
	ResolveAddress(ctx context.Context, raw models.RawListing, markup string) (string, error)
}

// Geocoder resolves addresses and transit durations.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (models.Coordinates, bool, error)
	TransitDuration(ctx context.Context, origin models.Coordinates, destination string, departure time.Time) (*int, error)
}

// Rater writes a short evaluation of a listing.
type Rater interface {
	Rate(ctx context.Context, l models.Listing) (string, error)
}

// Notifier delivers a message with optional photos to a set of chats.
type Notifier interface {
	SendMediaGroup(ctx context.Context, chatIDs []string, text string, photos []string) error
}

// PhotoDownloader caches a remote photo and returns where it was stored.
type PhotoDownloader interface {
	Download(ctx context.Context, listingID int64, url string) (string, error)
}
