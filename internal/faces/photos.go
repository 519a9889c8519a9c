package faces

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "golang.org/x/image/bmp"
)

// SupportedImage reports whether name has a roster image extension.
func SupportedImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".bmp":
		return true
	default:
		return false
	}
}

// DecodeImage decodes JPEG, PNG or BMP data.
func DecodeImage(data []byte) (image.Image, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("decode image: empty %s image", format)
	}
	return img, nil
}

// DirSource reads roster photos from one directory. Subdirectories and
// hidden files are ignored.
type DirSource struct {
	Dir string
}

// Entries returns the supported images in name order.
func (s DirSource) Entries(ctx context.Context) ([]Photo, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("read photo directory %s: %w", s.Dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !SupportedImage(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	photos := make([]Photo, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(s.Dir, name))
		if err != nil {
			return nil, fmt.Errorf("read photo %s: %w", name, err)
		}
		photos = append(photos, Photo{Name: name, Data: data})
	}
	return photos, nil
}
