// Package upload stores product images on local disk under the directory that
// is served back at /uploads/.
package upload

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
)

// sniffLen matches the default read limit of mimetype.
const sniffLen = 3072

var (
	ErrNotAnImage      = apperr.Validation("Uploaded file must be a PNG, JPEG, GIF or WebP image")
	ErrInvalidFilename = errors.New("upload: invalid filename")
)

// allowedTypes maps accepted sniffed types to the extension files are stored
// with. The extension decides the Content-Type /uploads/ serves, so it never
// comes from the client filename.
var allowedTypes = []struct {
	mime string
	ext  string
}{
	{"image/png", ".png"},
	{"image/jpeg", ".jpg"},
	{"image/gif", ".gif"},
	{"image/webp", ".webp"},
}

type DiskStore struct {
	dir string
	now func() time.Time
}

// NewDiskStore creates dir if it does not exist.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("upload: failed to create %s: %w", dir, err)
	}
	return &DiskStore{dir: dir, now: time.Now}, nil
}

func (s *DiskStore) Dir() string {
	return s.dir
}

// Save writes content to a new file named <unix-millis>-<short-uuid><ext> and
// returns that name. The extension follows the sniffed type, never the client
// filename. Content that is not an allowed raster image is rejected.
func (s *DiskStore) Save(_ string, content io.Reader) (string, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(content, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("upload: failed to read content: %w", err)
	}
	head = head[:n]

	ext, ok := imageExtension(mimetype.Detect(head))
	if !ok {
		return "", ErrNotAnImage
	}

	id, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("upload: failed to generate name: %w", err)
	}
	name := fmt.Sprintf("%d-%s%s", s.now().UnixMilli(), id.String()[:8], ext)

	path := filepath.Join(s.dir, name)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("upload: failed to create %s: %w", name, err)
	}

	if _, err := io.Copy(file, io.MultiReader(bytes.NewReader(head), content)); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("upload: failed to write %s: %w", name, err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("upload: failed to close %s: %w", name, err)
	}

	return name, nil
}

func imageExtension(mtype *mimetype.MIME) (string, bool) {
	for _, t := range allowedTypes {
		if mtype.Is(t.mime) {
			return t.ext, true
		}
	}
	return "", false
}

// Remove deletes a stored file. Missing files are not an error.
func (s *DiskStore) Remove(filename string) error {
	if filename == "" || filename != filepath.Base(filename) || filename == "." || filename == ".." {
		return ErrInvalidFilename
	}
	err := os.Remove(filepath.Join(s.dir, filename))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("upload: failed to remove %s: %w", filename, err)
	}
	return nil
}
