// Package storage persists listings together with their price history,
// commute times and photos.
package storage

import (
	"context"
	"errors"

	"github.com/aluiziolira/otodombot/models"
)

// ErrNotFound is returned when a lookup matches no listing.
var ErrNotFound = errors.New("listing not found")

// Upsert describes one listing write. ID zero creates a new listing;
// otherwise Update is applied to the stored listing with that ID.
type Upsert struct {
	ID              int64
	Update          models.Update
	Commutes        []models.CommuteResult
	ReplaceCommutes bool
}

// UpsertResult reports what an upsert changed.
type UpsertResult struct {
	Listing       models.Listing
	Created       bool
	PriceRecorded bool
}

// ListingDetail is a listing with its child rows, as served by the read API.
type ListingDetail struct {
	models.Listing
	Commutes     []models.CommuteTime  `json:"commutes"`
	Photos       []models.Photo        `json:"photos,omitempty"`
	PriceHistory []models.PriceHistory `json:"price_history,omitempty"`
}

// Store is the persistence contract of the pipeline and the read API.
//
// UpsertListing runs as one transaction: the listing row, a price history
// row when the price is new or changed, and the commute replacement when
// requested.
type Store interface {
	FindByURL(ctx context.Context, url string) (*models.Listing, error)
	FindByExternalID(ctx context.Context, externalID int64) (*models.Listing, error)
	UpsertListing(ctx context.Context, u Upsert) (UpsertResult, error)
	ReplaceCommuteTimes(ctx context.Context, listingID int64, results []models.CommuteResult) error
	AddPhoto(ctx context.Context, p models.Photo) (bool, error)
	Photos(ctx context.Context, listingID int64) ([]models.Photo, error)
	PriceHistory(ctx context.Context, listingID int64) ([]models.PriceHistory, error)
	CommuteTimes(ctx context.Context, listingID int64) ([]models.CommuteTime, error)
	ListWithCoordinates(ctx context.Context) ([]ListingDetail, error)
	Get(ctx context.Context, id int64) (*ListingDetail, error)
	Close()
}
