package testsupport

import (
	"encoding/json"
	"image"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"rollcall/internal/faces"
)

// FaceService is an in-process stand-in for the face service. Every image
// with a non-black average colour holds one face covering its centre, and
// the embedding is the normalised average colour, so photos of the same
// colour match each other.
type FaceService struct {
	URL      string
	requests atomic.Int32
}

// NewFaceService starts a fake face service that is closed with the test.
func NewFaceService(t testing.TB) *FaceService {
	t.Helper()
	fs := &FaceService{}
	srv := httptest.NewServer(http.HandlerFunc(fs.serve))
	t.Cleanup(srv.Close)
	fs.URL = srv.URL
	return fs
}

// Requests returns the number of embed requests served.
func (f *FaceService) Requests() int {
	return int(f.requests.Load())
}

func (f *FaceService) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/embed/face" {
		if r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
		return
	}
	f.requests.Add(1)
	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()
	img, _, err := image.Decode(file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := faces.FaceResponse{Model: "fake-embedder"}
	if embedding := averageColour(img); embedding != nil {
		b := img.Bounds()
		w4, h4 := float64(b.Dx())/4, float64(b.Dy())/4
		resp.Faces = []faces.FaceDetection{{
			Dim:       len(embedding),
			Embedding: embedding,
			BBox:      []float64{float64(b.Min.X) + w4, float64(b.Min.Y) + h4, float64(b.Max.X) - w4, float64(b.Max.Y) - h4},
			DetScore:  0.99,
		}}
		resp.FacesCount = 1
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// averageColour returns the unit-length mean RGB of img, or nil when the
// image is close to black.
func averageColour(img image.Image) []float32 {
	b := img.Bounds()
	var sum [3]float64
	n := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			sum[0] += float64(r)
			sum[1] += float64(g)
			sum[2] += float64(bl)
			n++
		}
	}
	if n == 0 {
		return nil
	}
	norm := math.Sqrt(sum[0]*sum[0] + sum[1]*sum[1] + sum[2]*sum[2])
	if norm/float64(n) < 0x1000 {
		return nil
	}
	return []float32{float32(sum[0] / norm), float32(sum[1] / norm), float32(sum[2] / norm)}
}
