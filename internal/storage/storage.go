// Package storage uploads payment proofs to an object store under a
// deterministic name and never replaces an existing object.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
)

// MaxScreenshotBytes is the largest accepted payment proof (5 MiB).
const MaxScreenshotBytes = 5 << 20

var allowedTypes = []string{"image/jpeg", "image/png", "application/pdf"}

var typeExtensions = map[string][]string{
	"image/jpeg":      {"jpg", "jpeg"},
	"image/png":       {"png"},
	"application/pdf": {"pdf"},
}

// Driver sentinels. ObjectStore implementations return these, optionally wrapped.
var (
	ErrObjectExists = errors.New("object already exists")
	ErrRejected     = errors.New("object rejected by store")
	ErrUnavailable  = errors.New("object store unavailable")
)

type Reason string

const (
	ReasonUnsupportedType Reason = "unsupported_type"
	ReasonTooLarge        Reason = "too_large"
	ReasonExists          Reason = "exists"
	ReasonUnavailable     Reason = "unavailable"
	ReasonRejected        Reason = "rejected"
)

// Error is the only error type returned by Adapter. For ReasonExists, URL
// points at the object already stored under Object.
type Error struct {
	Reason Reason
	Object string
	URL    string
	Err    error
}

func (e *Error) Error() string {
	msg := "upload " + string(e.Reason)
	if e.Object != "" {
		msg += " (" + e.Object + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ReasonOf extracts the upload failure reason from err.
func ReasonOf(err error) (Reason, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Reason, true
	}
	return "", false
}

// File is an uploaded payment proof. Size is the size declared by the client.
type File struct {
	Name    string
	Size    int64
	Content io.Reader
}

type ObjectStore interface {
	Put(ctx context.Context, name, contentType string, body []byte) error
	PublicURL(name string) string
}

type Adapter struct {
	store    ObjectStore
	maxBytes int64
	log      *zerolog.Logger
}

func NewAdapter(store ObjectStore, log *zerolog.Logger) *Adapter {
	return &Adapter{store: store, maxBytes: MaxScreenshotBytes, log: log}
}

// Upload stores f as {firstName}_{regNo}.{ext} and returns its public URL.
// Fallback stems are tried in order while the name is already taken.
func (a *Adapter) Upload(ctx context.Context, f File, firstName, regNo string, fallbacks ...string) (string, error) {
	return a.UploadAs(ctx, f, firstName+"_"+regNo, fallbacks...)
}

// UploadAs checks type and size locally, then stores f as {stem}.{ext}. The
// body is read once, so fallbacks work with non-seekable readers. When every
// name is taken the returned error carries the URL of the last one.
func (a *Adapter) UploadAs(ctx context.Context, f File, stem string, fallbacks ...string) (string, error) {
	if f.Content == nil {
		return "", &Error{Reason: ReasonRejected, Err: errors.New("empty file")}
	}
	body, err := io.ReadAll(io.LimitReader(f.Content, a.maxBytes+1))
	if err != nil {
		return "", &Error{Reason: ReasonRejected, Err: fmt.Errorf("read upload: %w", err)}
	}

	mtype := mimetype.Detect(body)
	if !mimetype.EqualsAny(mtype.String(), allowedTypes...) {
		return "", &Error{Reason: ReasonUnsupportedType, Err: fmt.Errorf("detected %s", mtype.String())}
	}
	if f.Size > a.maxBytes || int64(len(body)) > a.maxBytes {
		return "", &Error{Reason: ReasonTooLarge, Err: fmt.Errorf("limit is %d bytes", a.maxBytes)}
	}

	ext := extension(f.Name, mtype)
	stems := append([]string{stem}, fallbacks...)

	var lastErr error
	for _, st := range stems {
		name := st + "." + ext
		start := time.Now()
		lastErr = a.put(ctx, name, mtype.String(), body)
		if lastErr == nil {
			a.log.Info().
				Str("object", name).
				Str("content_type", mtype.String()).
				Int("bytes", len(body)).
				Dur("took", time.Since(start)).
				Msg("payment screenshot uploaded")
			return a.store.PublicURL(name), nil
		}
		if reason, _ := ReasonOf(lastErr); reason != ReasonExists {
			return "", lastErr
		}
		a.log.Warn().Str("object", name).Msg("object name taken")
	}
	return "", lastErr
}

func (a *Adapter) put(ctx context.Context, name, contentType string, body []byte) error {
	err := a.store.Put(ctx, name, contentType, body)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrObjectExists):
		return &Error{Reason: ReasonExists, Object: name, URL: a.store.PublicURL(name), Err: err}
	case errors.Is(err, ErrRejected):
		return &Error{Reason: ReasonRejected, Object: name, Err: err}
	default:
		return &Error{Reason: ReasonUnavailable, Object: name, Err: err}
	}
}

// extension keeps the client's extension when it names the sniffed type and
// uses the sniffed one otherwise.
func extension(fileName string, mtype *mimetype.MIME) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	for _, known := range typeExtensions[mtype.String()] {
		if ext == known {
			return ext
		}
	}
	return strings.TrimPrefix(mtype.Extension(), ".")
}
