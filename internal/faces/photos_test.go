package faces

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDirSourceEntries(t *testing.T) {
	dir := t.TempDir()
	files := map[string][]byte{
		"20_bob.png":   pngBytes(t, 2, 2, 1),
		"10_alice.jpg": []byte("jpeg-ish"),
		".hidden.png":  pngBytes(t, 2, 2, 1),
		"notes.txt":    []byte("x"),
		"30_carol.BMP": []byte("bmp-ish"),
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.png"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	photos, err := DirSource{Dir: dir}.Entries(context.Background())
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	var names []string
	for _, p := range photos {
		names = append(names, p.Name)
	}
	if diff := cmp.Diff([]string{"10_alice.jpg", "20_bob.png", "30_carol.BMP"}, names); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestDirSourceMissingDirectory(t *testing.T) {
	if _, err := (DirSource{Dir: filepath.Join(t.TempDir(), "missing")}).Entries(context.Background()); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
