// Package indexer finds note images on disk for bulk import.
package indexer

import (
	"crypto/sha256"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

type ImageFile struct {
	Path     string // relative to the scanned root, slash separated
	AbsPath  string
	Size     int64
	SHA      string
	MimeType string
	ModTime  time.Time
}

type Options struct {
	MaxFiles    int
	MaxFileSize int64    // bytes
	Include     []string // glob patterns relative to root
	Exclude     []string // glob patterns relative to root
}

var defaultSkips = map[string]struct{}{
	".git": {}, "node_modules": {}, ".cache": {}, ".thumbnails": {}, "__MACOSX": {},
}

var extAllow = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".bmp": {}, ".tif": {}, ".tiff": {},
}

// Scan walks root and returns image files up to limits, sorted by path.
// Files are accepted by extension and then by sniffed content type.
func Scan(root string, opt Options) ([]ImageFile, error) {
	if opt.MaxFiles <= 0 {
		opt.MaxFiles = 500
	}
	if opt.MaxFileSize <= 0 {
		opt.MaxFileSize = 10 << 20
	}
	if fi, err := os.Stat(root); err != nil {
		return nil, err
	} else if !fi.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	var out []ImageFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if _, skip := defaultSkips[d.Name()]; skip && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if len(out) >= opt.MaxFiles {
			return fs.SkipAll
		}
		if _, ok := extAllow[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		rel = filepath.ToSlash(rel)
		if len(opt.Include) > 0 && !matchAny(rel, opt.Include) {
			return nil
		}
		if len(opt.Exclude) > 0 && matchAny(rel, opt.Exclude) {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() == 0 || info.Size() > opt.MaxFileSize {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		mime := http.DetectContentType(b)
		if !strings.HasPrefix(mime, "image/") {
			return nil
		}
		out = append(out, ImageFile{
			Path:     rel,
			AbsPath:  path,
			Size:     info.Size(),
			SHA:      sha256Hex(b),
			MimeType: mime,
			ModTime:  info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func sha256Hex(b []byte) string {
	h := sha256.Sum256(b)
	return fmt.Sprintf("%x", h[:])
}

func matchAny(rel string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(p, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}

// TitleFromPath turns "biology/cell_division-1.png" into "cell division 1".
func TitleFromPath(rel string) string {
	base := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
	return strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(base))
}

// SubjectFromPath uses the first directory as the subject, or "".
func SubjectFromPath(rel string) string {
	if i := strings.Index(rel, "/"); i > 0 {
		return rel[:i]
	}
	return ""
}
