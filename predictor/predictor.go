// Package predictor implements LabelPredictor: the three-tier cache
// that maps a free-form vulnerability summary to a set of taxonomy
// labels (§4.3).
package predictor

import (
	"context"
	"errors"
	"time"

	"github.com/quay/vulnassess"
	"github.com/quay/vulnassess/store"
	"github.com/quay/vulnassess/telemetry"
)

// Embedder is the external sentence-embedding collaborator: deterministic,
// and required to be available at process startup (§4.3, external
// collaborators).
type Embedder interface {
	Embed(ctx context.Context, text string) ([384]float32, error)
}

// LLMBackend is the external LLM collaborator. Predict returns exactly
// once: on success, on timeout, or on a backend error; Tier 3 never
// retries (§5).
type LLMBackend interface {
	Predict(ctx context.Context, prompt string, deadline time.Time) (labels []string, confidence float64, err error)
}

// Request is LabelPredictor's input (§4.3).
type Request struct {
	Summary    string
	Platform   vulnassess.Platform
	ExternalID string // optional
}

// Predictor is LabelPredictor.
type Predictor struct {
	Store      store.Store
	Embedder   Embedder
	LLM        LLMBackend
	Index      *ExampleIndex
	Taxonomy   Taxonomy
	LLMTimeout time.Duration // default 4s per §5

	Metrics *telemetry.Metrics
}

// Option configures a Predictor at construction time.
type Option func(*Predictor)

// WithLLMTimeout overrides the default Tier-3 deadline.
func WithLLMTimeout(d time.Duration) Option {
	return func(p *Predictor) { p.LLMTimeout = d }
}

// New builds a Predictor. embedder may be nil, in which case Tier 2 is a
// permanent no-op (equivalent to a startup EmbedderUnavailable
// degradation, §7).
func New(s store.Store, embedder Embedder, llm LLMBackend, index *ExampleIndex, tax Taxonomy, m *telemetry.Metrics, opts ...Option) *Predictor {
	p := &Predictor{
		Store:      s,
		Embedder:   embedder,
		LLM:        llm,
		Index:      index,
		Taxonomy:   tax,
		LLMTimeout: 4 * time.Second,
		Metrics:    m,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Predict runs the three-tier cache in order, short-circuiting on the
// first tier that answers definitively (§4.3).
func (p *Predictor) Predict(ctx context.Context, req Request) (vulnassess.LabelPrediction, error) {
	ctx, end := telemetry.StartSpan(ctx, "predictor.Predict")
	var err error
	defer func() { end(&err) }()

	if req.ExternalID != "" {
		if pred, ok, tErr := p.tier1(ctx, req); tErr != nil {
			err = tErr
			return vulnassess.LabelPrediction{}, err
		} else if ok {
			p.Metrics.TierHit("store")
			return pred, nil
		}
	}

	examples, exactMatch, lowSimilarity := p.tier2(ctx, req)
	if exactMatch != nil {
		p.Metrics.TierHit("faiss")
		return vulnassess.LabelPrediction{
			Labels:           exactMatch.Labels,
			Confidence:       1.0,
			ConfidenceSource: vulnassess.ConfidenceCache,
			Source:           vulnassess.PredictionSourceFAISS,
			Cached:           true,
			NeedsReview:      false,
		}, nil
	}

	pred := p.tier3(ctx, req, examples, lowSimilarity)
	p.Metrics.TierHit("llm")

	if vulnassess.EligibleForCacheWrite(req.ExternalID, pred) {
		v := &vulnassess.Vulnerability{
			ExternalID:   req.ExternalID,
			Platform:     req.Platform,
			Kind:         vulnassess.KindAdvisory,
			Severity:     vulnassess.SeverityMedium,
			Summary:      req.Summary,
			PatternKind:  vulnassess.PatternUnknown,
			Labels:       pred.Labels,
			LabelsSource: vulnassess.LabelsSourceLLM,
		}
		if werr := p.Store.InsertVulnerability(ctx, v); werr != nil && !errors.Is(werr, vulnassess.ErrDuplicateExternalID) {
			err = werr
			return vulnassess.LabelPrediction{}, err
		}
		// A DuplicateExternalID here is the benign "someone else already
		// cached this" race from §5; the in-hand prediction is returned as-is.
	}

	return pred, nil
}

// tier1 is the VulnStore lookup (§4.3 Tier 1).
func (p *Predictor) tier1(ctx context.Context, req Request) (vulnassess.LabelPrediction, bool, error) {
	v, err := p.Store.QueryByAdvisory(ctx, req.ExternalID, req.Platform)
	if err != nil {
		return vulnassess.LabelPrediction{}, false, err
	}
	if v == nil || len(v.Labels) == 0 {
		return vulnassess.LabelPrediction{}, false, nil
	}
	return vulnassess.LabelPrediction{
		Labels:           v.Labels,
		Confidence:       1.0,
		ConfidenceSource: vulnassess.ConfidenceCache,
		Source:           vulnassess.PredictionSourceStore,
		Cached:           true,
		NeedsReview:      false,
	}, true, nil
}

// tier2 is the nearest-example lookup (§4.3 Tier 2). It returns the
// retrieved few-shot examples, an exact-ID match if the best hit shares
// req.ExternalID, and whether the best similarity was below the 0.70
// sticky-review threshold.
func (p *Predictor) tier2(ctx context.Context, req Request) (examples []vulnassess.RetrievedExample, exact *ExampleMatch, lowSimilarity bool) {
	if p.Embedder == nil || p.Index == nil {
		return nil, nil, true
	}
	vec, err := p.Embedder.Embed(ctx, req.Summary)
	if err != nil {
		// EmbedderUnavailable degrades Tier 2 to a no-op per-request (§7).
		return nil, nil, true
	}
	matches := p.Index.TopK(vec, 5)
	if len(matches) == 0 {
		return nil, nil, true
	}
	best := matches[0]
	if req.ExternalID != "" && best.ExternalID == req.ExternalID {
		return nil, &best, false
	}
	for _, m := range matches {
		examples = append(examples, vulnassess.RetrievedExample{
			ExternalID: m.ExternalID,
			Labels:     m.Labels,
			Similarity: m.Similarity,
		})
	}
	return examples, nil, best.Similarity < 0.70
}

// tier3 is the LLM inference tier (§4.3 Tier 3). It never returns an
// error: a timeout or backend failure degrades to a needs_review
// response, per the outcome policy.
func (p *Predictor) tier3(ctx context.Context, req Request, examples []vulnassess.RetrievedExample, lowSimilarity bool) vulnassess.LabelPrediction {
	deadline := time.Now().Add(p.LLMTimeout)
	cctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	prompt := buildPrompt(p.Taxonomy, req.Platform, req.Summary, examples)
	labels, confidence, err := p.LLM.Predict(cctx, prompt, deadline)
	if err != nil {
		return vulnassess.LabelPrediction{
			Labels:            []string{},
			Confidence:        0,
			ConfidenceSource:  vulnassess.ConfidenceHeuristic,
			Source:            vulnassess.PredictionSourceLLM,
			Cached:            false,
			NeedsReview:       true,
			RetrievedExamples: examples,
		}
	}

	confSource := vulnassess.ConfidenceModel
	if confidence < 0.70 {
		confSource = vulnassess.ConfidenceHeuristic
	}
	review := vulnassess.NeedsReview(confidence, confSource) || lowSimilarity

	return vulnassess.LabelPrediction{
		Labels:            labels,
		Confidence:        confidence,
		ConfidenceSource:  confSource,
		Source:            vulnassess.PredictionSourceLLM,
		Cached:            false,
		NeedsReview:       review,
		RetrievedExamples: examples,
	}
}
