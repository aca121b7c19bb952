package photos

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"
)

func TestDownloaderWritesFile(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://img.example.com/a.webp?w=800",
		func(*http.Request) (*http.Response, error) {
			resp := httpmock.NewStringResponse(http.StatusOK, "RIFF....WEBP")
			resp.Header.Set("Content-Type", "image/jpeg")
			return resp, nil
		})

	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	d := NewDownloader(store, &http.Client{Transport: transport})

	path, err := d.Download(context.Background(), 7, "https://img.example.com/a.webp?w=800")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if !strings.HasPrefix(path, filepath.Join(store.Dir, "7")) || filepath.Ext(path) != ".jpg" {
		t.Fatalf("path = %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "RIFF....WEBP" {
		t.Fatalf("file content = %q, %v", data, err)
	}

	again, err := d.Download(context.Background(), 7, "https://img.example.com/a.webp?w=800")
	if err != nil {
		t.Fatalf("second Download() error = %v", err)
	}
	if again != path {
		t.Fatalf("same url mapped to %q and %q", path, again)
	}
}

func TestDownloaderFailures(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://img.example.com/missing.jpg", httpmock.NewStringResponder(http.StatusNotFound, ""))
	transport.RegisterResponder("GET", "https://img.example.com/empty.jpg", httpmock.NewStringResponder(http.StatusOK, ""))

	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	d := NewDownloader(store, &http.Client{Transport: transport})

	for _, u := range []string{"https://img.example.com/missing.jpg", "https://img.example.com/empty.jpg", "https://img.example.com/unregistered.jpg"} {
		if _, err := d.Download(context.Background(), 1, u); err == nil {
			t.Errorf("Download(%s) expected error", u)
		}
	}

	entries, _ := os.ReadDir(store.Dir)
	if len(entries) != 0 {
		t.Fatalf("failed downloads left files behind: %v", entries)
	}
}

func TestKey(t *testing.T) {
	a := Key(3, "https://img.example.com/x.png", "")
	b := Key(3, "https://img.example.com/x.png", "")
	c := Key(3, "https://img.example.com/y.png", "")
	if a != b {
		t.Fatalf("key is not deterministic: %s vs %s", a, b)
	}
	if a == c {
		t.Fatalf("different urls share a key")
	}
	if !strings.HasPrefix(a, "3/") || !strings.HasSuffix(a, ".png") {
		t.Fatalf("key = %s", a)
	}
	if got := Key(3, "https://img.example.com/image", "image/webp; charset=binary"); !strings.HasSuffix(got, ".webp") {
		t.Fatalf("content type extension = %s", got)
	}
}

func TestS3StoreSave(t *testing.T) {
	// A CA bundle or profile from the host would make LoadDefaultConfig
	// reject or reconfigure the mock client.
	t.Setenv("AWS_CA_BUNDLE", "")
	t.Setenv("AWS_PROFILE", "")

	transport := httpmock.NewMockTransport()
	var uploaded string
	transport.RegisterRegexpResponder("PUT", regexp.MustCompile(`^https://s3\.example\.test/bucket/listings/7/`),
		func(req *http.Request) (*http.Response, error) {
			body, _ := io.ReadAll(req.Body)
			uploaded = string(body)
			if got := req.Header.Get("Content-Type"); got != "image/jpeg" {
				t.Errorf("content type = %q", got)
			}
			return httpmock.NewStringResponse(http.StatusOK, ""), nil
		})

	store, err := NewS3Store(context.Background(), S3Options{
		Bucket:     "bucket",
		Prefix:     "/listings/",
		Region:     "us-east-1",
		Endpoint:   "https://s3.example.test",
		AccessKey:  "key",
		SecretKey:  "secret",
		HTTPClient: &http.Client{Transport: transport},
	})
	if err != nil {
		t.Fatalf("new s3 store: %v", err)
	}

	ref, err := store.Save(context.Background(), "7/abc.jpg", []byte("jpeg"), "image/jpeg")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if ref != "s3://bucket/listings/7/abc.jpg" {
		t.Fatalf("ref = %q", ref)
	}
	if uploaded != "jpeg" {
		t.Fatalf("uploaded = %q", uploaded)
	}
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	if _, err := NewS3Store(context.Background(), S3Options{}); err == nil {
		t.Fatalf("expected error for empty bucket")
	}
}
