package match

import (
	"log/slog"
	"math"
	"sync"

	"rollcall/internal/config"
	"rollcall/internal/faces"
	"rollcall/internal/logging"
)

// Result is an accepted match.
type Result struct {
	IdentityID *int64       `json:"identity_id,omitempty"`
	Label      string       `json:"label"`
	Score      float64      `json:"score"`
	Region     faces.Region `json:"region"`
	Order      int          `json:"order"`
}

// Identified reports whether the matched template carries an identity id.
func (r Result) Identified() bool {
	return r.IdentityID != nil
}

// Options configures an Engine.
type Options struct {
	Threshold float64
	Metric    faces.Metric
	// Index selects "exact" or "hnsw".
	Index            string
	HNSWMinTemplates int
	HNSWCandidates   int
	Logger           *slog.Logger
}

// OptionsFromConfig maps recognition settings onto engine options.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) Options {
	return Options{
		Threshold:        cfg.Recognition.Threshold,
		Metric:           faces.CosineMetric{},
		Index:            cfg.Recognition.Index,
		HNSWMinTemplates: cfg.Recognition.HNSWMinTemplates,
		HNSWCandidates:   cfg.Recognition.HNSWCandidates,
		Logger:           logger,
	}
}

// Engine makes match decisions. It is safe for concurrent use.
type Engine struct {
	opts   Options
	metric faces.Metric
	logger *slog.Logger

	mu    sync.Mutex
	index *candidateIndex
}

// New returns an Engine. A nil Metric means cosine similarity.
func New(opts Options) *Engine {
	metric := opts.Metric
	if metric == nil {
		metric = faces.CosineMetric{}
	}
	if opts.HNSWCandidates <= 0 {
		opts.HNSWCandidates = 16
	}
	return &Engine{opts: opts, metric: metric, logger: logging.NewComponentLogger(opts.Logger, "match")}
}

// Threshold returns the acceptance threshold.
func (e *Engine) Threshold() float64 {
	return e.opts.Threshold
}

// Best returns the best template for face when its score is strictly above
// the threshold.
func (e *Engine) Best(face faces.DetectedFace, snap *faces.Snapshot) (Result, bool) {
	return e.BestAbove(face, snap, e.opts.Threshold)
}

// BestAbove is Best with an explicit threshold.
func (e *Engine) BestAbove(face faces.DetectedFace, snap *faces.Snapshot, threshold float64) (Result, bool) {
	res, ok := e.Nearest(face, snap)
	if !ok || !(res.Score > threshold) {
		return Result{}, false
	}
	return res, true
}

// Nearest returns the highest scoring template regardless of the threshold.
// It reports false only when the roster is empty or face has no encoding.
// A NaN score ranks below every real score.
func (e *Engine) Nearest(face faces.DetectedFace, snap *faces.Snapshot) (Result, bool) {
	if snap.Len() == 0 || len(face.Feature) == 0 {
		return Result{}, false
	}
	candidates := e.candidates(face.Feature, snap)
	best := -1
	bestScore := 0.0
	for _, i := range candidates {
		score := e.metric.Similarity(face.Feature, snap.Templates[i].Feature)
		if math.IsNaN(score) {
			score = math.Inf(-1)
		}
		if best < 0 || better(score, snap.Templates[i].Order, bestScore, snap.Templates[best].Order) {
			best = i
			bestScore = score
		}
	}
	if best < 0 {
		return Result{}, false
	}
	tpl := snap.Templates[best]
	return Result{
		IdentityID: tpl.IdentityID,
		Label:      tpl.Label,
		Score:      bestScore,
		Region:     face.Region,
		Order:      tpl.Order,
	}, true
}

// MatchAll applies Best to every face and returns the accepted results in
// face order.
func (e *Engine) MatchAll(detected []faces.DetectedFace, snap *faces.Snapshot) []Result {
	var out []Result
	for _, face := range detected {
		if res, ok := e.Best(face, snap); ok {
			out = append(out, res)
		}
	}
	return out
}

// better reports whether (score, order) beats the current best. Ties keep
// the earlier template.
func better(score float64, order int, bestScore float64, bestOrder int) bool {
	if score != bestScore {
		return score > bestScore
	}
	return order < bestOrder
}

// candidates returns the template indices to score. Every template is
// scored unless the HNSW prefilter is enabled and the roster is large
// enough for it. The earlier-template tie break then only applies among the
// returned candidates.
func (e *Engine) candidates(query faces.Feature, snap *faces.Snapshot) []int {
	if e.opts.Index == config.IndexHNSW && snap.Len() >= e.opts.HNSWMinTemplates {
		if idx := e.indexFor(snap); idx != nil {
			if found := idx.search(query, e.opts.HNSWCandidates); len(found) > 0 {
				return found
			}
		}
	}
	all := make([]int, snap.Len())
	for i := range all {
		all[i] = i
	}
	return all
}

func (e *Engine) indexFor(snap *faces.Snapshot) *candidateIndex {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.index != nil && e.index.snap == snap {
		return e.index
	}
	idx, err := buildCandidateIndex(snap)
	if err != nil {
		logging.WarnWithContext(e.logger, "candidate index unavailable", "match_index_unavailable",
			logging.Error(err),
			logging.Uint64("snapshot_version", snap.Version),
			logging.String(logging.FieldImpact, "every template is scored for this roster"),
		)
		e.index = &candidateIndex{snap: snap}
		return nil
	}
	e.index = idx
	e.logger.Debug("candidate index built",
		logging.Int("templates", snap.Len()),
		logging.Uint64("snapshot_version", snap.Version),
	)
	return idx
}
