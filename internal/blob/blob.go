// Package blob stores raw messages and attachments by key.
package blob

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = eris.New("blob: not found")

// Store puts and gets opaque objects inside one configured bucket.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// RawKey is where the original MIME bytes of a message live.
func RawKey(messageID string) string {
	return path.Join("messages", safeSegment(messageID), "raw.eml")
}

// AttachmentKey is where one attachment of a message lives. The attachment id
// keeps two files with the same name apart.
func AttachmentKey(messageID, attachmentID, filename string) string {
	return path.Join("messages", safeSegment(messageID), "attachments", safeSegment(attachmentID)+"-"+safeSegment(filename))
}

// safeSegment keeps a value inside one path segment.
func safeSegment(s string) string {
	s = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(strings.TrimSpace(s))
	if s == "" || s == "." {
		return "_"
	}
	return s
}

// ReadAll fetches a key fully into memory.
func ReadAll(ctx context.Context, s Store, key string) ([]byte, error) {
	rc, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, eris.Wrapf(err, "blob: read %s", key)
	}
	return data, nil
}
