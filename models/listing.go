// Package models defines the records shared by the crawler, the pipeline and
// the store.
package models

import (
	"strings"
	"time"
)

// Listing is a persisted classifieds offer. URL is the stable crawl key and
// ExternalID the site-assigned numeric id, when known.
type Listing struct {
	ID          int64      `json:"id"`
	URL         string     `json:"url"`
	ExternalID  *int64     `json:"external_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Location    string     `json:"location"`
	Floor       string     `json:"floor"`
	Price       int64      `json:"price"`
	Latitude    *float64   `json:"lat"`
	Longitude   *float64   `json:"lng"`
	Notes       string     `json:"notes"`
	IsGood      bool       `json:"is_good"`
	LastParsed  *time.Time `json:"last_parsed,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// HasCoordinates reports whether the listing has been geocoded.
func (l Listing) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// PriceHistory is one observed price of a listing.
type PriceHistory struct {
	ID        int64     `json:"id"`
	ListingID int64     `json:"listing_id"`
	Price     int64     `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// CommuteTime is the latest transit evaluation for one destination.
// Minutes is nil when the destination was unreachable or the lookup failed.
type CommuteTime struct {
	ID          int64  `json:"id"`
	ListingID   int64  `json:"listing_id"`
	Destination string `json:"destination"`
	Minutes     *int   `json:"minutes"`
}

// Photo is a listing image and the location of its cached copy.
type Photo struct {
	ID        int64  `json:"id"`
	ListingID int64  `json:"listing_id"`
	URL       string `json:"url"`
	Path      string `json:"path"`
}

// Coordinates is a geocoded point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// CommuteResult is the outcome of one point-of-interest lookup.
type CommuteResult struct {
	Destination string
	Minutes     *int
}

// RawListing holds the fields extracted from one rendered listing page.
// Price is nil when the page did not expose a parsable price.
type RawListing struct {
	URL         string
	ExternalID  *int64
	Title       string
	Description string
	AddressHint string
	Floor       string
	Price       *int64
	PhotoURLs   []string
}

// Update carries everything a processing cycle learned about a listing.
type Update struct {
	Raw         RawListing
	Location    string
	Coordinates *Coordinates
	Notes       string
	IsGood      *bool
	ParsedAt    time.Time
}

// ApplyUpdate returns l with the descriptive fields of u written over it.
// Location and coordinates are only replaced when this cycle resolved them,
// notes only when the stored notes are empty, and LastParsed never moves
// backwards.
func ApplyUpdate(l Listing, u Update) Listing {
	l.URL = u.Raw.URL
	if u.Raw.ExternalID != nil {
		id := *u.Raw.ExternalID
		l.ExternalID = &id
	}
	l.Title = u.Raw.Title
	l.Description = u.Raw.Description
	l.Floor = u.Raw.Floor
	if u.Raw.Price != nil {
		l.Price = *u.Raw.Price
	}
	if u.Location != "" {
		l.Location = u.Location
	}
	if u.Coordinates != nil {
		lat, lng := u.Coordinates.Lat, u.Coordinates.Lng
		l.Latitude = &lat
		l.Longitude = &lng
	}
	if strings.TrimSpace(l.Notes) == "" && strings.TrimSpace(u.Notes) != "" {
		l.Notes = strings.TrimSpace(u.Notes)
	}
	if u.IsGood != nil {
		l.IsGood = *u.IsGood
	}
	if l.LastParsed == nil || u.ParsedAt.After(*l.LastParsed) {
		parsed := u.ParsedAt
		l.LastParsed = &parsed
	}
	return l
}

// RunResult summarises one pipeline run.
type RunResult struct {
	RunID        string
	StartTime    time.Time
	EndTime      time.Time
	Candidates   int
	Created      int
	Updated      int
	Skipped      int
	Dropped      int
	Failed       int
	Notified     int
	FailedURLs   []string
	ErrorsByType map[string]int
}
