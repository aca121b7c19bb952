// Package enrich talks to Google Maps for geocoding and transit commutes.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"googlemaps.github.io/maps"

	"github.com/aluiziolira/otodombot/models"
)

const defaultCacheSize = 512

type geocodeEntry struct {
	coords models.Coordinates
	found  bool
}

// MapsClient geocodes addresses and computes transit durations. Geocoding
// results, including misses, are cached for the life of the process.
type MapsClient struct {
	client *maps.Client
	cache  *lru.Cache[string, geocodeEntry]
	region string
}

// Option customises a MapsClient.
type Option func(*mapsOptions)

type mapsOptions struct {
	httpClient *http.Client
	baseURL    string
	cacheSize  int
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *mapsOptions) { o.httpClient = c }
}

// WithBaseURL points the client at a different API host.
func WithBaseURL(u string) Option {
	return func(o *mapsOptions) { o.baseURL = u }
}

// WithCacheSize bounds the geocode cache.
func WithCacheSize(n int) Option {
	return func(o *mapsOptions) { o.cacheSize = n }
}

// NewMapsClient returns a client authenticated with apiKey.
func NewMapsClient(apiKey string, opts ...Option) (*MapsClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("google maps api key is empty")
	}

	o := mapsOptions{cacheSize: defaultCacheSize}
	for _, opt := range opts {
		opt(&o)
	}

	clientOpts := []maps.ClientOption{maps.WithAPIKey(apiKey)}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, maps.WithHTTPClient(o.httpClient))
	}
	if o.baseURL != "" {
		clientOpts = append(clientOpts, maps.WithBaseURL(o.baseURL))
	}
	client, err := maps.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create maps client: %w", err)
	}

	cache, err := lru.New[string, geocodeEntry](o.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create geocode cache: %w", err)
	}

	return &MapsClient{client: client, cache: cache, region: "pl"}, nil
}

// Geocode resolves address to coordinates. The boolean is false when the
// address is unknown to the service.
func (m *MapsClient) Geocode(ctx context.Context, address string) (models.Coordinates, bool, error) {
	key := strings.ToLower(strings.Join(strings.Fields(address), " "))
	if key == "" {
		return models.Coordinates{}, false, nil
	}
	if entry, ok := m.cache.Get(key); ok {
		return entry.coords, entry.found, nil
	}

	results, err := m.client.Geocode(ctx, &maps.GeocodingRequest{
		Address: address,
		Region:  m.region,
	})
	if err != nil && !isZeroResults(err) {
		return models.Coordinates{}, false, fmt.Errorf("geocode %q: %w", address, err)
	}

	entry := geocodeEntry{}
	if len(results) > 0 {
		loc := results[0].Geometry.Location
		entry = geocodeEntry{coords: models.Coordinates{Lat: loc.Lat, Lng: loc.Lng}, found: true}
	}
	m.cache.Add(key, entry)

	slog.Debug("geocoded address",
		slog.String("address", address),
		slog.Bool("found", entry.found),
	)
	return entry.coords, entry.found, nil
}

// TransitDuration returns the public-transport travel time in whole minutes
// from origin to destination when departing at departure. A nil result with
// a nil error means no route exists.
func (m *MapsClient) TransitDuration(ctx context.Context, origin models.Coordinates, destination string, departure time.Time) (*int, error) {
	routes, _, err := m.client.Directions(ctx, &maps.DirectionsRequest{
		Origin:        formatLatLng(origin),
		Destination:   destination,
		Mode:          maps.TravelModeTransit,
		DepartureTime: strconv.FormatInt(departure.Unix(), 10),
		Region:        m.region,
	})
	if err != nil {
		if isZeroResults(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("directions to %q: %w", destination, err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return nil, nil
	}

	var total time.Duration
	for _, leg := range routes[0].Legs {
		total += leg.Duration
	}
	minutes := int(math.Round(total.Minutes()))
	return &minutes, nil
}

func formatLatLng(c models.Coordinates) string {
	return strconv.FormatFloat(c.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(c.Lng, 'f', 6, 64)
}

func isZeroResults(err error) bool {
	return err != nil && strings.Contains(err.Error(), "ZERO_RESULTS")
}
