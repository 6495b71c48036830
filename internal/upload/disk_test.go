package upload

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
)

// pngHeader is the PNG signature followed by the start of an IHDR chunk.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func TestDiskStore_Save(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	store, err := NewDiskStore(dir)
	require.NoError(t, err)
	store.now = func() time.Time { return time.UnixMilli(1700000000000) }

	name, err := store.Save("Photo.PNG", bytes.NewReader(pngHeader))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(name, "1700000000000-"), "unexpected name %q", name)
	assert.True(t, strings.HasSuffix(name, ".png"), "extension should be lower-cased, got %q", name)

	stored, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Equal(t, pngHeader, stored)
}

func TestDiskStore_Save_ExtensionFromContent(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)

	name, err := store.Save("blob", bytes.NewReader(pngHeader))
	require.NoError(t, err)
	assert.Equal(t, ".png", filepath.Ext(name))
}

func TestDiskStore_Save_RejectsNonImage(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir)
	require.NoError(t, err)

	_, err = store.Save("notes.png", strings.NewReader("just some text, not an image"))
	require.ErrorIs(t, err, ErrNotAnImage)
	require.ErrorIs(t, err, apperr.ErrValidation)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing should be written for rejected uploads")
}

func TestDiskStore_Remove(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir)
	require.NoError(t, err)

	name, err := store.Save("a.png", bytes.NewReader(pngHeader))
	require.NoError(t, err)

	require.NoError(t, store.Remove(name))
	_, err = os.Stat(filepath.Join(dir, name))
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, store.Remove(name), "removing a missing file is not an error")
	assert.ErrorIs(t, store.Remove("../etc/passwd"), ErrInvalidFilename)
	assert.ErrorIs(t, store.Remove(""), ErrInvalidFilename)
}

func TestDiskStore_Save_ExtensionIgnoresClientName(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)

	tests := []struct {
		name     string
		filename string
		content  []byte
		wantExt  string
	}{
		{
			name:     "html_named_png_polyglot",
			filename: "evil.html",
			content:  append(append([]byte{}, pngHeader...), []byte("<script>alert(1)</script>")...),
			wantExt:  ".png",
		},
		{
			name:     "jpeg_named_png",
			filename: "photo.png",
			content:  []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00"),
			wantExt:  ".jpg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, err := store.Save(tt.filename, bytes.NewReader(tt.content))
			require.NoError(t, err)
			assert.Equal(t, tt.wantExt, filepath.Ext(name))
		})
	}
}

func TestDiskStore_Save_RejectsSVG(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir)
	require.NoError(t, err)

	svg := `<svg xmlns="http://www.w3.org/2000/svg"><script>alert(1)</script></svg>`
	_, err = store.Save("logo.svg", strings.NewReader(svg))
	require.ErrorIs(t, err, ErrNotAnImage)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
