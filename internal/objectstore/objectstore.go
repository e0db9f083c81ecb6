// Package objectstore keeps uploaded note images. S3 is the production
// backend; Local backs development and tests.
package objectstore

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("objectstore: object not found")
	ErrPresignUnsupported = errors.New("objectstore: presigned uploads not supported by this backend")
)

// Metadata keys written alongside an uploaded image.
const (
	MetaOriginalName = "originalName"
	MetaUploadedBy   = "uploadedBy"
	MetaUploadDate   = "uploadDate"
	MetaTitle        = "title"
	MetaSubject      = "subject"
	MetaTags         = "tags"
)

type Object struct {
	Key         string
	ContentType string
	Size        int64
	Metadata    map[string]string
	Body        []byte // nil for Head
}

// Meta looks up a metadata value ignoring case; S3 lowercases user
// metadata keys.
func (o *Object) Meta(key string) string {
	if v, ok := o.Metadata[key]; ok {
		return v
	}
	for k, v := range o.Metadata {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// Presigned describes a time-limited direct upload.
type Presigned struct {
	URL       string            `json:"uploadUrl"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	Key       string            `json:"s3Key"`
	Bucket    string            `json:"bucket"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string, meta map[string]string) error
	Get(ctx context.Context, key string) (*Object, error)
	Head(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error
	PresignPut(ctx context.Context, key, contentType string, meta map[string]string, ttl time.Duration) (Presigned, error)
	URL(key string) string
	Bucket() string
}

// NoteKey returns notes/<userID>/<uuid><ext>. A file name without an
// extension yields a key without one.
func NoteKey(userID, fileName string) string {
	return "notes/" + userID + "/" + uuid.NewString() + strings.ToLower(path.Ext(fileName))
}
