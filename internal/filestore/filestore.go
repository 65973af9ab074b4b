package filestore

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/h2non/filetype"
)

var (
	ErrInvalidKey  = errors.New("invalid object key")
	ErrUnknownType = errors.New("unknown file type")
)

// FileStore is the blob store: objects are addressed by slash-separated keys.
type FileStore interface {
	// Put stores the content under key, replacing any previous object.
	Put(r io.Reader, key string) error

	// Get retrieves the object stored under key.
	Get(key string) (io.ReadCloser, error)
}

// ValidateKey rejects keys that could escape the store root.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%q: %w", key, ErrInvalidKey)
	}
	if path.Clean(key) != key {
		return fmt.Errorf("%q: %w", key, ErrInvalidKey)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." {
			return fmt.Errorf("%q: %w", key, ErrInvalidKey)
		}
	}
	return nil
}

// Detect identifies the type of a file from its leading bytes.
// It returns the MIME type and canonical extension.
func Detect(head []byte) (string, string, error) {
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		return "", "", ErrUnknownType
	}
	return kind.MIME.Value, kind.Extension, nil
}

// IsImage reports whether head starts an image file.
func IsImage(head []byte) bool {
	return filetype.IsImage(head)
}

// URL returns the public path an object is served from.
func URL(key string) string {
	return "/storage/" + key
}
