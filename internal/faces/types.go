package faces

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"
)

// ErrNoFace reports an image in which no face was detected.
var ErrNoFace = errors.New("no face detected")

// Feature is a face encoding.
type Feature []float32

// Region is a detected face box in image coordinates.
type Region struct {
	X     int     `json:"x"`
	Y     int     `json:"y"`
	W     int     `json:"w"`
	H     int     `json:"h"`
	Score float64 `json:"score,omitempty"`
}

// Area returns the box area in pixels.
func (r Region) Area() int {
	if r.W <= 0 || r.H <= 0 {
		return 0
	}
	return r.W * r.H
}

// Rect returns the region as an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// LargestRegion returns the index of the region with the greatest area.
// Equal areas keep the first one seen. It returns -1 for an empty slice.
func LargestRegion(regions []Region) int {
	best := -1
	for i, r := range regions {
		if best < 0 || r.Area() > regions[best].Area() {
			best = i
		}
	}
	return best
}

// DetectedFace is a face found in a live frame together with its encoding.
type DetectedFace struct {
	Region  Region
	Feature Feature
}

// Template is one roster entry.
type Template struct {
	// IdentityID is nil when the photo name carries no leading number.
	IdentityID *int64
	Feature    Feature
	Label      string
	Order      int
}

// Photo is one roster source entry.
type Photo struct {
	Name string
	Data []byte
}

// Detector locates faces in an image.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Region, error)
}

// Encoder turns one face region into a Feature.
type Encoder interface {
	Encode(ctx context.Context, img image.Image, r Region) (Feature, error)
}

// Metric scores two features; higher means more similar.
type Metric interface {
	Similarity(a, b Feature) float64
}

// PhotoSource lists roster photos.
type PhotoSource interface {
	Entries(ctx context.Context) ([]Photo, error)
}

// TemplateLoadError records a roster entry that could not become a template.
type TemplateLoadError struct {
	Name  string
	Stage string
	Err   error
}

func (e *TemplateLoadError) Error() string {
	return fmt.Sprintf("template %s: %s: %v", e.Name, e.Stage, e.Err)
}

func (e *TemplateLoadError) Unwrap() error { return e.Err }

// SkippedEntry is a roster entry left out of a load.
type SkippedEntry struct {
	Name   string `json:"name"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// LoadReport summarises one roster load.
type LoadReport struct {
	Loaded    int            `json:"loaded"`
	CacheHits int            `json:"cache_hits"`
	Skipped   []SkippedEntry `json:"skipped,omitempty"`
	Duration  time.Duration  `json:"duration"`
}

// DetectFaces runs det over img and encodes every region with enc.
// Regions that fail to encode are dropped.
func DetectFaces(ctx context.Context, det Detector, enc Encoder, img image.Image) ([]DetectedFace, error) {
	regions, err := det.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}
	out := make([]DetectedFace, 0, len(regions))
	for _, r := range regions {
		feature, err := enc.Encode(ctx, img, r)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		out = append(out, DetectedFace{Region: r, Feature: feature})
	}
	return out, nil
}
