// Package api serves stored listings over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/aluiziolira/otodombot/models"
	"github.com/aluiziolira/otodombot/storage"
)

// Reader is the part of the store the API needs.
type Reader interface {
	ListWithCoordinates(ctx context.Context) ([]storage.ListingDetail, error)
	Get(ctx context.Context, id int64) (*storage.ListingDetail, error)
}

// ListingSummary is one map marker.
type ListingSummary struct {
	ID       int64           `json:"id"`
	Title    string          `json:"title"`
	Lat      *float64        `json:"lat"`
	Lng      *float64        `json:"lng"`
	Price    int64           `json:"price"`
	URL      string          `json:"url"`
	Commutes map[string]*int `json:"commutes"`
}

// ListingDetail is the full view of one listing.
type ListingDetail struct {
	ID           int64                 `json:"id"`
	Title        string                `json:"title"`
	Description  string                `json:"description"`
	Location     string                `json:"location"`
	Floor        string                `json:"floor"`
	Price        int64                 `json:"price"`
	Lat          *float64              `json:"lat"`
	Lng          *float64              `json:"lng"`
	Notes        string                `json:"notes"`
	IsGood       bool                  `json:"is_good"`
	URL          string                `json:"url"`
	Commutes     map[string]*int       `json:"commutes"`
	Photos       []models.Photo        `json:"photos"`
	PriceHistory []models.PriceHistory `json:"price_history"`
}

// Handler serves the listing routes.
type Handler struct {
	store Reader
}

// NewHandler returns a handler reading from store.
func NewHandler(store Reader) *Handler {
	return &Handler{store: store}
}

// NewRouter builds the engine with open CORS and all routes registered.
func NewRouter(store Reader) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
		MaxAge:          12 * time.Hour,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := NewHandler(store)
	r.GET("/listings", h.ListListings)
	r.GET("/listings/:id", h.GetListing)
	return r
}

// ListListings returns every geocoded listing with its commute minutes.
func (h *Handler) ListListings(c *gin.Context) {
	rows, err := h.store.ListWithCoordinates(c.Request.Context())
	if err != nil {
		slog.Error("listing query failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
		return
	}

	out := make([]ListingSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, ListingSummary{
			ID:       row.ID,
			Title:    row.Title,
			Lat:      row.Latitude,
			Lng:      row.Longitude,
			Price:    row.Price,
			URL:      row.URL,
			Commutes: commuteMap(row.Commutes),
		})
	}
	slog.Debug("returned listings", slog.Int("count", len(out)))
	c.JSON(http.StatusOK, out)
}

// GetListing returns one listing by id.
func (h *Handler) GetListing(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid listing id"})
		return
	}

	row, err := h.store.Get(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		slog.Warn("listing not found", slog.Int64("listing_id", id))
		c.JSON(http.StatusNotFound, gin.H{"detail": "Listing not found"})
		return
	}
	if err != nil {
		slog.Error("listing lookup failed", slog.Int64("listing_id", id), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
		return
	}

	photos := row.Photos
	if photos == nil {
		photos = []models.Photo{}
	}
	history := row.PriceHistory
	if history == nil {
		history = []models.PriceHistory{}
	}
	c.JSON(http.StatusOK, ListingDetail{
		ID:           row.ID,
		Title:        row.Title,
		Description:  row.Description,
		Location:     row.Location,
		Floor:        row.Floor,
		Price:        row.Price,
		Lat:          row.Latitude,
		Lng:          row.Longitude,
		Notes:        row.Notes,
		IsGood:       row.IsGood,
		URL:          row.URL,
		Commutes:     commuteMap(row.Commutes),
		Photos:       photos,
		PriceHistory: history,
	})
}

func commuteMap(rows []models.CommuteTime) map[string]*int {
	out := make(map[string]*int, len(rows))
	for _, r := range rows {
		out[r.Destination] = r.Minutes
	}
	return out
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}
