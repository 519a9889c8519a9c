package faces

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"reflect"
	"strings"
	"sync"
	"time"

	"golang.org/x/image/draw"
)

const (
	defaultModel   = "face-service"
	maxUploadSide  = 1280
	cropMargin     = 0.25
	uploadQuality  = 90
	maxErrorBodyKB = 4
)

// Client talks to a face service exposing POST /embed/face. It implements
// Detector and Encoder; the response for the most recent image is kept so
// Detect followed by Encode on the same image costs one request.
type Client struct {
	baseURL string
	client  *http.Client

	mu       sync.Mutex
	lastImg  image.Image
	lastResp *FaceResponse
	model    string
}

// FaceDetection is one face in a service response.
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// Region converts the bounding box into a Region.
func (f FaceDetection) Region() Region {
	if len(f.BBox) < 4 {
		return Region{Score: f.DetScore}
	}
	x1, y1 := math.Round(f.BBox[0]), math.Round(f.BBox[1])
	x2, y2 := math.Round(f.BBox[2]), math.Round(f.BBox[3])
	return Region{X: int(x1), Y: int(y1), W: int(x2 - x1), H: int(y2 - y1), Score: f.DetScore}
}

// FaceResponse is the /embed/face response body.
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// NewClient returns a client for baseURL with the given request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
		model:   defaultModel,
	}
}

// Model returns the encoder model name reported by the service.
func (c *Client) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// Detect returns the face regions in img.
func (c *Client) Detect(ctx context.Context, img image.Image) ([]Region, error) {
	resp, err := c.analyze(ctx, img)
	if err != nil {
		return nil, err
	}
	regions := make([]Region, 0, len(resp.Faces))
	for _, face := range resp.Faces {
		regions = append(regions, face.Region())
	}
	return regions, nil
}

// Encode returns the encoding of region r in img. When img is the image
// last passed to Detect the cached encoding is returned; otherwise the
// region is cropped and sent on its own.
func (c *Client) Encode(ctx context.Context, img image.Image, r Region) (Feature, error) {
	if feature, ok := c.cachedFeature(img, r); ok {
		return feature, nil
	}
	crop := cropRegion(img, r)
	resp, err := c.post(ctx, crop)
	if err != nil {
		return nil, err
	}
	regions := make([]Region, len(resp.Faces))
	for i, face := range resp.Faces {
		regions[i] = face.Region()
	}
	best := LargestRegion(regions)
	if best < 0 || len(resp.Faces[best].Embedding) == 0 {
		return nil, ErrNoFace
	}
	return Feature(resp.Faces[best].Embedding), nil
}

// Analyze detects and encodes every face in img with a single request.
func (c *Client) Analyze(ctx context.Context, img image.Image) ([]DetectedFace, error) {
	resp, err := c.analyze(ctx, img)
	if err != nil {
		return nil, err
	}
	out := make([]DetectedFace, 0, len(resp.Faces))
	for _, face := range resp.Faces {
		if len(face.Embedding) == 0 {
			continue
		}
		out = append(out, DetectedFace{Region: face.Region(), Feature: Feature(face.Embedding)})
	}
	return out, nil
}

// Ping checks that the service answers HTTP requests.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("face service unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 {
		return fmt.Errorf("face service unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}

func (c *Client) analyze(ctx context.Context, img image.Image) (*FaceResponse, error) {
	c.mu.Lock()
	if c.lastResp != nil && sameImage(c.lastImg, img) {
		resp := c.lastResp
		c.mu.Unlock()
		return resp, nil
	}
	c.mu.Unlock()

	resp, err := c.post(ctx, img)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.lastImg = img
	c.lastResp = resp
	c.mu.Unlock()
	return resp, nil
}

func (c *Client) cachedFeature(img image.Image, r Region) (Feature, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastResp == nil || !sameImage(c.lastImg, img) {
		return nil, false
	}
	for _, face := range c.lastResp.Faces {
		fr := face.Region()
		if fr.X == r.X && fr.Y == r.Y && fr.W == r.W && fr.H == r.H && len(face.Embedding) > 0 {
			return Feature(face.Embedding), true
		}
	}
	return nil, false
}

func sameImage(a, b image.Image) bool {
	if a == nil || b == nil {
		return false
	}
	if !reflect.TypeOf(a).Comparable() || !reflect.TypeOf(b).Comparable() {
		return false
	}
	return a == b
}

// post uploads img as JPEG, downscaling large images, and maps returned
// boxes back to img coordinates.
func (c *Client) post(ctx context.Context, img image.Image) (*FaceResponse, error) {
	upload, scale := fitForUpload(img)

	var payload bytes.Buffer
	if err := jpeg.Encode(&payload, upload, &jpeg.Options{Quality: uploadQuality}); err != nil {
		return nil, fmt.Errorf("encode upload: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(payload.Bytes()); err != nil {
		return nil, fmt.Errorf("write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed/face", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face service request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read face service response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(body) > maxErrorBodyKB<<10 {
			body = body[:maxErrorBodyKB<<10]
		}
		return nil, fmt.Errorf("face service error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("parse face service response: %w", err)
	}
	if faceResp.FacesCount != len(faceResp.Faces) && faceResp.FacesCount != 0 {
		return nil, errors.New("face service response: faces_count does not match faces")
	}

	offset := img.Bounds().Min
	for i := range faceResp.Faces {
		box := faceResp.Faces[i].BBox
		for j := range box {
			box[j] /= scale
		}
		if len(box) >= 4 {
			box[0] += float64(offset.X)
			box[2] += float64(offset.X)
			box[1] += float64(offset.Y)
			box[3] += float64(offset.Y)
		}
	}

	if model := strings.TrimSpace(faceResp.Model); model != "" {
		c.mu.Lock()
		c.model = model
		c.mu.Unlock()
	}
	return &faceResp, nil
}

// fitForUpload returns an image whose longer side is at most maxUploadSide,
// with origin at (0,0), and the scale factor applied.
func fitForUpload(img image.Image) (image.Image, float64) {
	b := img.Bounds()
	longer := max(b.Dx(), b.Dy())
	scale := 1.0
	if longer > maxUploadSide {
		scale = float64(maxUploadSide) / float64(longer)
	}
	w := max(1, int(math.Round(float64(b.Dx())*scale)))
	h := max(1, int(math.Round(float64(b.Dy())*scale)))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if scale == 1.0 {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	}
	return dst, scale
}

// cropRegion returns r grown by a margin and clipped to img, keeping the
// original coordinates so boxes stay comparable.
func cropRegion(img image.Image, r Region) image.Image {
	mx := int(float64(r.W) * cropMargin)
	my := int(float64(r.H) * cropMargin)
	rect := image.Rect(r.X-mx, r.Y-my, r.X+r.W+mx, r.Y+r.H+my).Intersect(img.Bounds())
	if rect.Empty() {
		return img
	}
	dst := image.NewRGBA(rect)
	draw.Draw(dst, rect, img, rect.Min, draw.Src)
	return dst
}
