package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aluiziolira/otodombot/models"
	"github.com/aluiziolira/otodombot/storage"
)

func int64Ptr(v int64) *int64 { return &v }
func intPtr(v int) *int { return &v }

func seededStore(t *testing.T) (*storage.MemoryStore, int64, int64) {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()

	located, err := store.UpsertListing(ctx, storage.Upsert{
		Update: models.Update{
			Raw:         models.RawListing{URL: "https://example.test/geo", Title: "Flat with map", Price: int64Ptr(640000)},
			Location:    "ul. Puławska 12, Warszawa",
			Coordinates: &models.Coordinates{Lat: 52.19, Lng: 21.02},
			Notes:       "Quiet street.",
			ParsedAt:    time.Now(),
		},
		Commutes: []models.CommuteResult{
			{Destination: "Office", Minutes: intPtr(25)},
			{Destination: "Gym"},
		},
		ReplaceCommutes: true,
	})
	if err != nil {
		t.Fatalf("seed located: %v", err)
	}
	plain, err := store.UpsertListing(ctx, storage.Upsert{
		Update: models.Update{
			Raw:      models.RawListing{URL: "https://example.test/plain", Title: "Flat without map", Price: int64Ptr(500000)},
			ParsedAt: time.Now(),
		},
	})
	if err != nil {
		t.Fatalf("seed plain: %v", err)
	}
	return store, located.Listing.ID, plain.Listing.ID
}

func serve(r http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store, _, _ := seededStore(t)

	w := serve(NewRouter(store), http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestListListingsOnlyGeocoded(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store, locatedID, _ := seededStore(t)

	w := serve(NewRouter(store), http.MethodGet, "/listings", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var got []ListingSummary
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ID != locatedID {
		t.Fatalf("listings = %+v", got)
	}
	if got[0].Commutes["Office"] == nil || *got[0].Commutes["Office"] != 25 {
		t.Fatalf("office commute = %v", got[0].Commutes["Office"])
	}
	if m, ok := got[0].Commutes["Gym"]; !ok || m != nil {
		t.Fatalf("gym commute = %v, %v; want null", m, ok)
	}
}

func TestGetListing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store, locatedID, _ := seededStore(t)
	r := NewRouter(store)

	w := serve(r, http.MethodGet, "/listings/"+strconv.FormatInt(locatedID, 10), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var got ListingDetail
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Notes != "Quiet street." || got.Location != "ul. Puławska 12, Warszawa" || len(got.PriceHistory) != 1 {
		t.Fatalf("detail = %+v", got)
	}
}

func TestGetListingErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store, _, _ := seededStore(t)
	r := NewRouter(store)

	tests := []struct {
		name   string
		path   string
		status int
		detail string
	}{
		{name: "missing", path: "/listings/9999", status: http.StatusNotFound, detail: "Listing not found"},
		{name: "not a number", path: "/listings/abc", status: http.StatusBadRequest, detail: "invalid listing id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(r, http.MethodGet, tt.path, nil)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			var body map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["detail"] != tt.detail {
				t.Fatalf("detail = %q, want %q", body["detail"], tt.detail)
			}
		})
	}
}

type failingReader struct{}

func (failingReader) ListWithCoordinates(context.Context) ([]storage.ListingDetail, error) {
	return nil, errors.New("connection refused")
}

func (failingReader) Get(context.Context, int64) (*storage.ListingDetail, error) {
	return nil, errors.New("connection refused")
}

func TestStoreFailuresReturn500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(failingReader{})

	for _, path := range []string{"/listings", "/listings/1"} {
		if w := serve(r, http.MethodGet, path, nil); w.Code != http.StatusInternalServerError {
			t.Fatalf("%s: status = %d, want 500", path, w.Code)
		}
	}
}

func TestCORSAllowsAnyOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store, _, _ := seededStore(t)

	w := serve(NewRouter(store), http.MethodGet, "/listings", http.Header{"Origin": {"http://localhost:5173"}})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow origin = %q, want *", got)
	}
}
