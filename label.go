package vulnassess

// PredictionSource records which tier of LabelPredictor produced a
// LabelPrediction (§3).
type PredictionSource string

const (
	PredictionSourceStore PredictionSource = "Store"
	PredictionSourceFAISS PredictionSource = "FAISS"
	PredictionSourceLLM   PredictionSource = "LLM"
)

// ConfidenceSource records how a LabelPrediction's confidence value was
// derived.
type ConfidenceSource string

const (
	ConfidenceModel     ConfidenceSource = "Model"
	ConfidenceHeuristic ConfidenceSource = "Heuristic"
	ConfidenceCache     ConfidenceSource = "Cache"
)

// RetrievedExample is one few-shot context entry surfaced by Tier 2 and
// passed through to Tier 3 of LabelPredictor.
type RetrievedExample struct {
	ExternalID string
	Labels     []string
	Similarity float64
}

// LabelPrediction is LabelPredictor's output (§3). NeedsReview is a
// sticky bit: once true anywhere in the pipeline it must stay true, and
// it disqualifies the result from the cache-write policy regardless of
// the raw confidence value.
type LabelPrediction struct {
	Labels            []string
	Confidence        float64
	ConfidenceSource  ConfidenceSource
	Source            PredictionSource
	Cached            bool
	NeedsReview       bool
	RetrievedExamples []RetrievedExample
}

// NeedsReview computes the §3 definition: confidence < 0.70 OR
// confidence_source == Heuristic.
func NeedsReview(confidence float64, source ConfidenceSource) bool {
	return confidence < 0.70 || source == ConfidenceHeuristic
}

// EligibleForCacheWrite implements the five-condition predicate from
// §4.3. All five must hold for a Tier-3 result to be written back to
// VulnStore.
func EligibleForCacheWrite(externalID string, p LabelPrediction) bool {
	if externalID == "" {
		return false
	}
	if p.Confidence < 0.75 {
		return false
	}
	if len(p.Labels) == 0 {
		return false
	}
	if p.ConfidenceSource != ConfidenceModel {
		return false
	}
	if p.NeedsReview {
		return false
	}
	return true
}
