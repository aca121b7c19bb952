package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Market narrows the search to primary or secondary offers.
type Market string

const (
	MarketPrimary   Market = "primary"
	MarketSecondary Market = "secondary"
)

// SearchConfig holds the filter criteria rendered into crawl requests.
// Zero values mean "no filter".
type SearchConfig struct {
	MaxPrice       int
	Rooms          []int
	MinArea        int
	BuildYearMin   int
	Market         Market
	SortStrategies []string
}

// Destination is a commute point of interest. A nil MaxMinutes makes the
// destination informational only.
type Destination struct {
	Label      string
	MaxMinutes *int
}

// CommuteConfig describes when and where commutes are evaluated.
type CommuteConfig struct {
	Destinations []Destination
	Weekday      time.Weekday
	DepartAt     string // HH:MM in Timezone
	Timezone     string
}

// Config holds pipeline configuration.
type Config struct {
	BaseURL      string
	MaxPages     int
	Workers      int
	Timeout      time.Duration
	RenderWait   time.Duration
	RequestRate  float64 // page loads per second, 0 = unlimited
	Headless     bool
	Renderer     string // browser or static
	UserAgent    string
	ReparseAfter time.Duration
	Interval     time.Duration
	Verbose      bool
	MetricsAddr  string
	ReportFile   string
	APIAddr      string

	Search  SearchConfig
	Commute CommuteConfig

	Store       string // postgres or memory
	DatabaseURL string

	PhotoDir    string
	PhotoBucket string
	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string

	OpenAIKey       string
	OpenAIModel     string
	GoogleMapsKey   string
	TelegramToken   string
	TelegramChatIDs string
}

// DefaultConfig returns defaults matching the original deployment.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:      "https://www.otodom.pl/pl/wyniki/sprzedaz/mieszkanie/mazowieckie/warszawa/warszawa/warszawa",
		MaxPages:     3,
		Workers:      1,
		Timeout:      60 * time.Second,
		RenderWait:   2 * time.Second,
		RequestRate:  0.5,
		Headless:     true,
		Renderer:     "browser",
		UserAgent:    "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ReparseAfter: 7 * 24 * time.Hour,
		Interval:     time.Hour,
		APIAddr:      ":8000",
		Search: SearchConfig{
			Market:         MarketSecondary,
			SortStrategies: []string{"DEFAULT"},
		},
		Commute: CommuteConfig{
			Weekday:  time.Monday,
			DepartAt: "08:00",
			Timezone: "Europe/Warsaw",
		},
		Store:       "memory",
		PhotoDir:    "photos",
		OpenAIModel: "gpt-4o",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.RenderWait < 0 {
		return fmt.Errorf("render wait cannot be negative")
	}
	if c.RequestRate < 0 {
		return fmt.Errorf("request rate cannot be negative")
	}
	if c.Renderer != "browser" && c.Renderer != "static" {
		return fmt.Errorf("renderer must be browser or static")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.ReparseAfter < 0 {
		return fmt.Errorf("reparse window cannot be negative")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if c.Store != "postgres" && c.Store != "memory" {
		return fmt.Errorf("store must be postgres or memory")
	}
	if c.Store == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("database URL is required for the postgres store")
	}

	switch c.Search.Market {
	case MarketPrimary, MarketSecondary:
	default:
		return fmt.Errorf("market must be primary or secondary, got %q", c.Search.Market)
	}
	if len(c.Search.SortStrategies) == 0 {
		return fmt.Errorf("at least one sort strategy is required")
	}
	for _, r := range c.Search.Rooms {
		if r <= 0 || r > 10 {
			return fmt.Errorf("room count %d out of range", r)
		}
	}

	if _, _, err := c.Commute.Clock(); err != nil {
		return err
	}
	if _, err := c.Commute.Location(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Commute.Destinations))
	for _, d := range c.Commute.Destinations {
		label := strings.TrimSpace(d.Label)
		if label == "" {
			return fmt.Errorf("commute destination label cannot be empty")
		}
		if _, dup := seen[label]; dup {
			return fmt.Errorf("duplicate commute destination %q", label)
		}
		seen[label] = struct{}{}
		if d.MaxMinutes != nil && *d.MaxMinutes <= 0 {
			return fmt.Errorf("threshold for %q must be positive", label)
		}
	}

	return nil
}

// Clock parses DepartAt into hour and minute.
func (c CommuteConfig) Clock() (int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(c.DepartAt))
	if err != nil {
		return 0, 0, fmt.Errorf("commute time must be HH:MM, got %q", c.DepartAt)
	}
	return t.Hour(), t.Minute(), nil
}

// Location loads the reference timezone for departures.
func (c CommuteConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid commute timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Thresholds returns the configured minute limits keyed by destination label.
func (c CommuteConfig) Thresholds() map[string]int {
	out := make(map[string]int)
	for _, d := range c.Destinations {
		if d.MaxMinutes != nil {
			out[d.Label] = *d.MaxMinutes
		}
	}
	return out
}

// Labels returns destination labels in configuration order.
func (c CommuteConfig) Labels() []string {
	out := make([]string, 0, len(c.Destinations))
	for _, d := range c.Destinations {
		out = append(out, d.Label)
	}
	return out
}
