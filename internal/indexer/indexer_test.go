package indexer

import (
	"os"
	"path/filepath"
	"testing"
)

// minimal PNG signature plus padding; enough for content sniffing
var pngBytes = append([]byte("\x89PNG\x0d\x0a\x1a\x0a"), make([]byte, 16)...)

func TestScanBasic(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "생물"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "생물", "cell_division.png"), pngBytes, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "top.PNG"), pngBytes, 0o644); err != nil {
		t.Fatal(err)
	}
	// text renamed to .png is rejected by sniffing
	_ = os.WriteFile(filepath.Join(dir, "fake.png"), []byte("hello world"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644)
	_ = os.MkdirAll(filepath.Join(dir, ".git"), 0o755)
	_ = os.WriteFile(filepath.Join(dir, ".git", "x.png"), pngBytes, 0o644)

	files, err := Scan(dir, Options{MaxFiles: 10, MaxFileSize: 1024})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 images, got %+v", files)
	}
	if files[0].Path != "top.PNG" || files[1].Path != "생물/cell_division.png" {
		t.Fatalf("unexpected paths: %q %q", files[0].Path, files[1].Path)
	}
	if files[1].MimeType != "image/png" || files[1].SHA == "" {
		t.Fatalf("unexpected file info: %+v", files[1])
	}
	if got := TitleFromPath(files[1].Path); got != "cell division" {
		t.Fatalf("title: %q", got)
	}
	if got := SubjectFromPath(files[1].Path); got != "생물" {
		t.Fatalf("subject: %q", got)
	}
	if got := SubjectFromPath(files[0].Path); got != "" {
		t.Fatalf("subject of top-level file: %q", got)
	}
}

func TestScanIncludeExcludeAndSize(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "a.png"), pngBytes, 0o644)
	_ = os.WriteFile(filepath.Join(dir, "b.png"), pngBytes, 0o644)
	files, err := Scan(dir, Options{MaxFiles: 10, MaxFileSize: 1024, Include: []string{"b.*"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Path != "b.png" {
		t.Fatalf("include filter failed: %+v", files)
	}
	files, err = Scan(dir, Options{MaxFiles: 10, MaxFileSize: 1024, Exclude: []string{"b.*"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Path != "a.png" {
		t.Fatalf("exclude filter failed: %+v", files)
	}
	files, err = Scan(dir, Options{MaxFileSize: 8})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 0 {
		t.Fatalf("size limit ignored: %+v", files)
	}
	if _, err := Scan(filepath.Join(dir, "a.png"), Options{}); err == nil {
		t.Fatal("expected error scanning a file")
	}
}
