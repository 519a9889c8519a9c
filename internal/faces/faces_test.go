package faces

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"
)

func pngBytes(t *testing.T, w, h int, shade uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: shade, B: shade, A: 0xff})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestCosineMetric(t *testing.T) {
	m := CosineMetric{}
	tests := []struct {
		name string
		a, b Feature
		want float64
	}{
		{"identical", Feature{1, 2, 3}, Feature{1, 2, 3}, 1},
		{"opposite", Feature{1, 0}, Feature{-1, 0}, -1},
		{"orthogonal", Feature{1, 0}, Feature{0, 1}, 0},
		{"length mismatch", Feature{1, 0}, Feature{1, 0, 0}, 0},
		{"empty", Feature{}, Feature{}, 0},
		{"zero norm", Feature{0, 0}, Feature{1, 1}, 0},
		{"nan component", Feature{float32(math.NaN()), 1}, Feature{1, 1}, 0},
		{"infinite component", Feature{float32(math.Inf(1)), 1}, Feature{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Similarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("Similarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLargestRegionKeepsFirstOnTie(t *testing.T) {
	regions := []Region{
		{X: 0, Y: 0, W: 10, H: 10},
		{X: 50, Y: 0, W: 20, H: 5},
		{X: 90, Y: 0, W: 5, H: 20},
		{X: 5, Y: 5, W: 2, H: 2},
	}
	if got := LargestRegion(regions); got != 0 {
		t.Fatalf("expected first of the equal-area regions, got %d", got)
	}
	regions = append(regions, Region{W: 11, H: 10})
	if got := LargestRegion(regions); got != 4 {
		t.Fatalf("expected strictly larger region to win, got %d", got)
	}
	if got := LargestRegion(nil); got != -1 {
		t.Fatalf("expected -1 for no regions, got %d", got)
	}
}

func TestParseIdentityID(t *testing.T) {
	tests := []struct {
		name string
		want int64
		ok   bool
	}{
		{"1042_jane_doe.jpg", 1042, true},
		{"photos/7.png", 7, true},
		{"007-bond.jpeg", 7, true},
		{"jane_1042.jpg", 0, false},
		{"99999999999999999999_overflow.jpg", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got := ParseIdentityID(tt.name)
		if (got != nil) != tt.ok {
			t.Fatalf("ParseIdentityID(%q) present=%v, want %v", tt.name, got != nil, tt.ok)
		}
		if got != nil && *got != tt.want {
			t.Fatalf("ParseIdentityID(%q) = %d, want %d", tt.name, *got, tt.want)
		}
	}
}

func TestDisplayLabelAndSearchKey(t *testing.T) {
	if got := DisplayLabel("1042_Jiří_Novák.jpg"); got != "Jiří Novák" {
		t.Fatalf("unexpected label %q", got)
	}
	if got := DisplayLabel("1042.jpg"); got != "1042" {
		t.Fatalf("expected stem fallback, got %q", got)
	}
	if got := SearchKey("  Jiří   Novák "); got != "jiri novak" {
		t.Fatalf("unexpected search key %q", got)
	}
}

func TestDecodeImageFormats(t *testing.T) {
	if _, err := DecodeImage(pngBytes(t, 4, 4, 10)); err != nil {
		t.Fatalf("png decode: %v", err)
	}
	if _, err := DecodeImage([]byte("not an image")); err == nil {
		t.Fatal("expected decode error")
	}
	for name, want := range map[string]bool{"a.JPG": true, "b.bmp": true, "c.gif": false, "d": false} {
		if SupportedImage(name) != want {
			t.Fatalf("SupportedImage(%q) != %v", name, want)
		}
	}
}
