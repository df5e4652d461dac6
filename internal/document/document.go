// Package document provides the read-only handle for a submitted receipt
// file. The handle exposes just enough metadata for classification and
// upload: name, size, content type, and a lazily-read text snapshot.
package document

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// snapshotLimit caps how much of a text document the classifier sees.
const snapshotLimit = 64 * 1024

// FileRef is a read-only handle to a document on disk.
type FileRef struct {
	name        string
	path        string
	size        int64
	contentType string

	textLoaded bool
	text       string
}

// NewFileRef stats the file and resolves its content type from the
// extension. The file body is not read until TextSnapshot is called.
func NewFileRef(path string) (*FileRef, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("document: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("document: %s is a directory", path)
	}
	ext := strings.ToLower(filepath.Ext(path))
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &FileRef{
		name:        filepath.Base(path),
		path:        path,
		size:        info.Size(),
		contentType: contentType,
	}, nil
}

// Name returns the base file name.
func (f *FileRef) Name() string {
	if f == nil {
		return ""
	}
	return f.name
}

// Path returns the on-disk location.
func (f *FileRef) Path() string {
	if f == nil {
		return ""
	}
	return f.path
}

// Size returns the file size in bytes.
func (f *FileRef) Size() int64 {
	if f == nil {
		return 0
	}
	return f.size
}

// ContentType returns the MIME type guessed from the extension, falling
// back to application/octet-stream.
func (f *FileRef) ContentType() string {
	if f == nil {
		return ""
	}
	return f.contentType
}

// IsImage reports whether the document is an image. Image content is never
// read for classification heuristics.
func (f *FileRef) IsImage() bool {
	if f == nil {
		return false
	}
	return strings.HasPrefix(f.contentType, "image/")
}

// Open returns a reader over the file body for upload.
func (f *FileRef) Open() (io.ReadCloser, error) {
	if f == nil {
		return nil, fmt.Errorf("document: nil file ref")
	}
	return os.Open(f.path)
}

// TextSnapshot lazily reads up to 64 KiB of the document body. Images and
// unreadable files yield an empty snapshot; the result is cached so the
// file is read at most once.
func (f *FileRef) TextSnapshot() string {
	if f == nil {
		return ""
	}
	if f.textLoaded {
		return f.text
	}
	f.textLoaded = true
	if f.IsImage() {
		return ""
	}
	file, err := os.Open(f.path)
	if err != nil {
		return ""
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, snapshotLimit))
	if err != nil {
		return ""
	}
	f.text = string(data)
	return f.text
}
