package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	storage_go "github.com/supabase-community/storage-go"
)

// Supabase stores objects in one bucket of Supabase Storage.
type Supabase struct {
	endpoint string
	key      string
	bucket   string
	timeout  time.Duration
}

// NewSupabase takes the project URL (https://<ref>.supabase.co) and a service key.
func NewSupabase(projectURL, key, bucket string, timeout time.Duration) *Supabase {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Supabase{
		endpoint: strings.TrimRight(projectURL, "/") + "/storage/v1",
		key:      key,
		bucket:   bucket,
		timeout:  timeout,
	}
}

// client is built per call: storage-go keeps per-upload options in
// client-wide headers, so a shared client would mix concurrent uploads.
func (s *Supabase) client() *storage_go.Client {
	return storage_go.NewClient(s.endpoint, s.key, map[string]string{"apikey": s.key})
}

func (s *Supabase) Put(ctx context.Context, name, contentType string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cacheControl := "3600"
	upsert := false
	opts := storage_go.FileOptions{
		ContentType:  &contentType,
		CacheControl: &cacheControl,
		Upsert:       &upsert,
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.client().UploadFile(s.bucket, name, bytes.NewReader(body), opts)
		done <- err
	}()

	select {
	case err := <-done:
		return classifyUpload(name, err)
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	}
}

func (s *Supabase) PublicURL(name string) string {
	return s.client().GetPublicUrl(s.bucket, name).SignedURL
}

// classifyUpload maps storage-go errors to the driver sentinels. Storage API
// failures only reach us as the server's error text, so the server's
// documented "Duplicate" / "already exists" wording identifies a taken name.
func classifyUpload(name string, err error) error {
	if err == nil {
		return nil
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "duplicate"), strings.Contains(msg, "already exists"):
		return fmt.Errorf("%w: %s", ErrObjectExists, name)
	case strings.Contains(msg, "unavailable"), strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "timeout"), strings.Contains(msg, "internal server error"),
		strings.Contains(msg, "connection refused"):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
}
