package store

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"
)

// BlobStore holds uploaded image bytes and derived artifacts.
type BlobStore interface {
	// Save stores data under a key generated from suggestedName and returns
	// the backend's storage path together with the key.
	Save(ctx context.Context, data []byte, suggestedName string) (storagePath, key string, err error)

	// Put stores data under an explicit key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte) (storagePath string, err error)

	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Open returns a reader for the object under key.
	// Returns ErrBlobNotFound if nothing is stored there.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object under key. Deleting a missing object is not
	// an error.
	Delete(ctx context.Context, key string) error

	// Locate returns the storage path an object under key has, whether or
	// not it exists.
	Locate(key string) string
}

// blobKeyTimeLayout prefixes generated keys so they sort by upload time.
const blobKeyTimeLayout = "20060102_150405"

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// NewBlobKey builds a key of the form YYYYMMDD_HHMMSS_<name>. A positive
// attempt is inserted before the extension to resolve collisions.
func NewBlobKey(now time.Time, suggestedName string, attempt int) string {
	name := SanitizeName(suggestedName)
	if attempt > 0 {
		ext := path.Ext(name)
		name = fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), attempt, ext)
	}
	return now.UTC().Format(blobKeyTimeLayout) + "_" + name
}

// SanitizeName reduces a client supplied filename to a safe base name.
func SanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeKeyChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "upload"
	}
	return name
}

// ValidateKey rejects keys that could escape the store's namespace.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return fmt.Errorf("%w: invalid blob key %q", ErrInvalidEntity, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: invalid blob key %q", ErrInvalidEntity, key)
		}
	}
	return nil
}
