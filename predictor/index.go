package predictor

import (
	"math"
	"sort"
)

// ExampleMatch is one scored entry returned by ExampleIndex.TopK.
type ExampleMatch struct {
	ExternalID string
	Labels     []string
	Similarity float64
}

type exampleEntry struct {
	externalID string
	labels     []string
	vector     [384]float32
}

// ExampleIndex holds labeled training examples for Tier 2's
// nearest-neighbor lookup. It is built once at startup and is read-only
// for the process lifetime; rebuilding it requires a restart or an
// explicit atomic swap (§5).
type ExampleIndex struct {
	version string
	entries []exampleEntry
}

// NewExampleIndex builds an empty index tagged with version, the model
// identifier the embeddings were produced under.
func NewExampleIndex(version string) *ExampleIndex {
	return &ExampleIndex{version: version}
}

// Version reports the embedding-model version this index was built
// against (§4.3, "Model-version binding").
func (idx *ExampleIndex) Version() string {
	return idx.version
}

// Add inserts a labeled training example.
func (idx *ExampleIndex) Add(externalID string, labels []string, vector [384]float32) {
	idx.entries = append(idx.entries, exampleEntry{externalID: externalID, labels: labels, vector: vector})
}

// Len reports how many examples are indexed.
func (idx *ExampleIndex) Len() int {
	return len(idx.entries)
}

// TopK returns the k examples with highest cosine similarity to query,
// sorted descending by similarity.
func (idx *ExampleIndex) TopK(query [384]float32, k int) []ExampleMatch {
	if len(idx.entries) == 0 {
		return nil
	}
	out := make([]ExampleMatch, len(idx.entries))
	for i, e := range idx.entries {
		out[i] = ExampleMatch{
			ExternalID: e.externalID,
			Labels:     e.labels,
			Similarity: cosineSimilarity(query, e.vector),
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if k > 0 && k < len(out) {
		out = out[:k]
	}
	return out
}

func cosineSimilarity(a, b [384]float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
