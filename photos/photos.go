// Package photos downloads listing images into a local directory or an S3
// bucket.
package photos

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxPhotoBytes = 15 << 20

// Store persists a downloaded photo under key and returns where it ended up.
type Store interface {
	Save(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Downloader fetches photos over HTTP and hands them to a Store.
type Downloader struct {
	client *http.Client
	store  Store
}

// NewDownloader returns a Downloader writing into store. A nil client gets
// one with a 30 second timeout.
func NewDownloader(store Store, client *http.Client) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Downloader{client: client, store: store}
}

// Download fetches photoURL and stores it under a name derived from the URL,
// so the same photo always maps to the same file.
func (d *Downloader) Download(ctx context.Context, listingID int64, photoURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, photoURL, nil)
	if err != nil {
		return "", fmt.Errorf("build photo request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch photo %s: %w", photoURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch photo %s: status %d", photoURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes+1))
	if err != nil {
		return "", fmt.Errorf("read photo %s: %w", photoURL, err)
	}
	if len(body) > maxPhotoBytes {
		return "", fmt.Errorf("photo %s exceeds %d bytes", photoURL, maxPhotoBytes)
	}
	if len(body) == 0 {
		return "", fmt.Errorf("photo %s is empty", photoURL)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}

	return d.store.Save(ctx, Key(listingID, photoURL, contentType), body, contentType)
}

// Key names the stored object for a photo of a listing.
func Key(listingID int64, photoURL, contentType string) string {
	name := uuid.NewSHA1(uuid.NameSpaceURL, []byte(photoURL)).String()
	return fmt.Sprintf("%d/%s%s", listingID, name, extension(photoURL, contentType))
}

func extension(photoURL, contentType string) string {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mediaType {
		case "image/jpeg":
			return ".jpg"
		case "image/png":
			return ".png"
		case "image/webp":
			return ".webp"
		case "image/gif":
			return ".gif"
		}
	}
	p := photoURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if ext := strings.ToLower(path.Ext(p)); len(ext) > 1 && len(ext) <= 5 {
		return ext
	}
	return ".jpg"
}

// FileStore writes photos below a local directory.
type FileStore struct {
	Dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create photo dir: %w", err)
	}
	return &FileStore{Dir: dir}, nil
}

// Save writes body to Dir/key and returns the file path.
func (s *FileStore) Save(_ context.Context, key string, body []byte, _ string) (string, error) {
	dest := filepath.Join(s.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create photo dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".photo-*")
	if err != nil {
		return "", fmt.Errorf("create temp photo: %w", err)
	}
	if _, err := io.Copy(tmp, bytes.NewReader(body)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write photo: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close photo: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("move photo: %w", err)
	}
	return dest, nil
}
