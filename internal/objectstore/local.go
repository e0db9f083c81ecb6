package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Local stores objects as files under a directory, with metadata in a
// "<file>.meta.json" sidecar.
type Local struct {
	dir string
}

func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create object dir: %w", err)
	}
	return &Local{dir: abs}, nil
}

type sidecar struct {
	ContentType string            `json:"contentType"`
	Metadata    map[string]string `json:"metadata"`
}

func (l *Local) path(key string) (string, error) {
	p := filepath.Join(l.dir, filepath.FromSlash(key))
	if p != l.dir && !strings.HasPrefix(p, l.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("objectstore: key %q escapes root", key)
	}
	return p, nil
}

func (l *Local) Bucket() string { return filepath.Base(l.dir) }

func (l *Local) URL(key string) string {
	return "file://" + filepath.ToSlash(filepath.Join(l.dir, filepath.FromSlash(key)))
}

func (l *Local) Put(ctx context.Context, key string, data []byte, contentType string, meta map[string]string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return err
	}
	sc, err := json.Marshal(sidecar{ContentType: contentType, Metadata: meta})
	if err != nil {
		return err
	}
	return os.WriteFile(p+".meta.json", sc, 0o644)
}

func (l *Local) Head(ctx context.Context, key string) (*Object, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sc sidecar
	if b, err := os.ReadFile(p + ".meta.json"); err == nil {
		_ = json.Unmarshal(b, &sc)
	}
	if sc.Metadata == nil {
		sc.Metadata = map[string]string{}
	}
	return &Object{Key: key, ContentType: sc.ContentType, Size: fi.Size(), Metadata: sc.Metadata}, nil
}

func (l *Local) Get(ctx context.Context, key string) (*Object, error) {
	obj, err := l.Head(ctx, key)
	if err != nil {
		return nil, err
	}
	p, _ := l.path(key)
	if obj.Body, err = os.ReadFile(p); err != nil {
		return nil, err
	}
	return obj, nil
}

func (l *Local) Delete(ctx context.Context, key string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	_ = os.Remove(p + ".meta.json")
	return nil
}

func (l *Local) PresignPut(ctx context.Context, key, contentType string, meta map[string]string, ttl time.Duration) (Presigned, error) {
	return Presigned{}, ErrPresignUnsupported
}
