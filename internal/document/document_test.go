package document

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestNewFileRefResolvesMetadata(t *testing.T) {
	path := writeTemp(t, "receipt-starbucks.txt", "Total: $25.55")
	ref, err := NewFileRef(path)
	if err != nil {
		t.Fatalf("new file ref: %v", err)
	}
	if ref.Name() != "receipt-starbucks.txt" {
		t.Fatalf("name = %q", ref.Name())
	}
	if ref.Size() != int64(len("Total: $25.55")) {
		t.Fatalf("size = %d", ref.Size())
	}
	if !strings.HasPrefix(ref.ContentType(), "text/plain") {
		t.Fatalf("content type = %q", ref.ContentType())
	}
}

func TestImageRefsSkipTextSnapshot(t *testing.T) {
	path := writeTemp(t, "receipt.jpg", "binary-ish bytes")
	ref, err := NewFileRef(path)
	if err != nil {
		t.Fatalf("new file ref: %v", err)
	}
	if !ref.IsImage() {
		t.Fatalf("jpg not detected as image (%s)", ref.ContentType())
	}
	if got := ref.TextSnapshot(); got != "" {
		t.Fatalf("image snapshot = %q, want empty", got)
	}
}

func TestTextSnapshotIsCached(t *testing.T) {
	path := writeTemp(t, "receipt.txt", "Dinner Total: $42.10 WINE")
	ref, err := NewFileRef(path)
	if err != nil {
		t.Fatalf("new file ref: %v", err)
	}
	first := ref.TextSnapshot()
	if !strings.Contains(first, "WINE") {
		t.Fatalf("snapshot = %q", first)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if second := ref.TextSnapshot(); second != first {
		t.Fatalf("snapshot re-read after removal: %q", second)
	}
}

func TestNewFileRefRejectsDirectory(t *testing.T) {
	if _, err := NewFileRef(t.TempDir()); err == nil {
		t.Fatalf("expected error for directory")
	}
}
