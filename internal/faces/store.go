package faces

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"rollcall/internal/logging"
)

// CacheKey identifies one cached template encoding.
type CacheKey struct {
	Label  string
	Digest string
	Model  string
}

// TemplateCache stores encodings so unchanged photos skip the face service
// on reload.
type TemplateCache interface {
	LookupTemplate(ctx context.Context, key CacheKey) (Feature, bool, error)
	SaveTemplate(ctx context.Context, key CacheKey, feature Feature) error
}

// Snapshot is an immutable roster. Readers must not modify Templates.
type Snapshot struct {
	Templates []Template
	Model     string
	Version   uint64
	LoadedAt  time.Time
}

// Len returns the number of templates.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Templates)
}

// StoreOptions configures a Store.
type StoreOptions struct {
	Detector Detector
	Encoder  Encoder
	Cache    TemplateCache
	// Model names the encoder for cache keys; ModelFunc wins when set.
	Model     string
	ModelFunc func() string
	Logger    *slog.Logger
	// Progress is called after each entry with the number processed.
	Progress func(done, total int)
}

// Store holds the current roster snapshot.
type Store struct {
	opts    StoreOptions
	logger  *slog.Logger
	current atomic.Pointer[Snapshot]
	loadMu  sync.Mutex
	version atomic.Uint64
}

// NewStore returns a Store with an empty snapshot.
func NewStore(opts StoreOptions) *Store {
	s := &Store{opts: opts, logger: logging.NewComponentLogger(opts.Logger, "templates")}
	s.current.Store(&Snapshot{})
	return s
}

// Snapshot returns the current roster.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

func (s *Store) model() string {
	if s.opts.ModelFunc != nil {
		if m := s.opts.ModelFunc(); m != "" {
			return m
		}
	}
	if s.opts.Model != "" {
		return s.opts.Model
	}
	return defaultModel
}

// Load builds a new roster from src and swaps it in. Entries that cannot be
// decoded, contain no face, or fail detection or encoding are skipped and
// reported; they never abort the load. An error is returned only when src
// cannot be listed or ctx ends, in which case the current snapshot is kept.
func (s *Store) Load(ctx context.Context, src PhotoSource) (LoadReport, error) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	started := time.Now()
	photos, err := src.Entries(ctx)
	if err != nil {
		return LoadReport{}, fmt.Errorf("list roster photos: %w", err)
	}
	sort.SliceStable(photos, func(i, j int) bool { return photos[i].Name < photos[j].Name })

	var report LoadReport
	templates := make([]Template, 0, len(photos))
	for i, photo := range photos {
		if err := ctx.Err(); err != nil {
			return LoadReport{}, err
		}
		feature, cached, err := s.templateFeature(ctx, photo)
		if err != nil {
			if ctx.Err() != nil {
				return LoadReport{}, ctx.Err()
			}
			s.reportSkip(&report, err)
		} else {
			if cached {
				report.CacheHits++
			}
			templates = append(templates, Template{
				IdentityID: ParseIdentityID(photo.Name),
				Feature:    feature,
				Label:      photo.Name,
				Order:      len(templates),
			})
		}
		if s.opts.Progress != nil {
			s.opts.Progress(i+1, len(photos))
		}
	}

	snap := &Snapshot{
		Templates: templates,
		Model:     s.model(),
		Version:   s.version.Add(1),
		LoadedAt:  time.Now(),
	}
	s.current.Store(snap)

	report.Loaded = len(templates)
	report.Duration = time.Since(started)
	s.logger.Info("templates loaded",
		logging.String(logging.FieldEventType, "templates_loaded"),
		logging.Int("loaded", report.Loaded),
		logging.Int("skipped", len(report.Skipped)),
		logging.Int("cache_hits", report.CacheHits),
		logging.Uint64("version", snap.Version),
		logging.Duration("duration", report.Duration),
	)
	return report, nil
}

func (s *Store) templateFeature(ctx context.Context, photo Photo) (Feature, bool, error) {
	key := CacheKey{Label: photo.Name, Digest: digest(photo.Data), Model: s.model()}
	if s.opts.Cache != nil {
		feature, ok, err := s.opts.Cache.LookupTemplate(ctx, key)
		if err != nil {
			s.logger.Debug("template cache lookup failed", logging.String("label", photo.Name), logging.Error(err))
		} else if ok && len(feature) > 0 {
			return feature, true, nil
		}
	}

	img, err := DecodeImage(photo.Data)
	if err != nil {
		return nil, false, &TemplateLoadError{Name: photo.Name, Stage: "decode", Err: err}
	}
	if s.opts.Detector == nil || s.opts.Encoder == nil {
		return nil, false, &TemplateLoadError{Name: photo.Name, Stage: "detect", Err: fmt.Errorf("no face detector configured")}
	}
	regions, err := s.opts.Detector.Detect(ctx, img)
	if err != nil {
		return nil, false, &TemplateLoadError{Name: photo.Name, Stage: "detect", Err: err}
	}
	best := LargestRegion(regions)
	if best < 0 {
		return nil, false, &TemplateLoadError{Name: photo.Name, Stage: "detect", Err: ErrNoFace}
	}
	feature, err := s.opts.Encoder.Encode(ctx, img, regions[best])
	if err != nil {
		return nil, false, &TemplateLoadError{Name: photo.Name, Stage: "encode", Err: err}
	}
	if len(feature) == 0 {
		return nil, false, &TemplateLoadError{Name: photo.Name, Stage: "encode", Err: ErrNoFace}
	}

	if s.opts.Cache != nil {
		// The model may only be known after the first service response.
		key.Model = s.model()
		if err := s.opts.Cache.SaveTemplate(ctx, key, feature); err != nil {
			logging.WarnWithContext(s.logger, "template cache write failed", "template_cache_write_failed",
				logging.String("label", photo.Name),
				logging.Error(err),
				logging.String(logging.FieldImpact, "photo is re-encoded on the next load"),
			)
		}
	}
	return feature, false, nil
}

func (s *Store) reportSkip(report *LoadReport, err error) {
	entry := SkippedEntry{Reason: err.Error()}
	var tle *TemplateLoadError
	if errors.As(err, &tle) {
		entry.Name = tle.Name
		entry.Stage = tle.Stage
		entry.Reason = tle.Err.Error()
	}
	report.Skipped = append(report.Skipped, entry)
	logging.WarnWithContext(s.logger, "roster photo skipped", "template_skipped",
		logging.String("label", entry.Name),
		logging.String("stage", entry.Stage),
		logging.String("reason", entry.Reason),
		logging.String(logging.FieldImpact, "this person cannot be recognised until the photo is replaced"),
		logging.String(logging.FieldErrorHint, "use a clear, front-facing photo with one visible face"),
	)
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
