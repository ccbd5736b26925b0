package predictor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quay/vulnassess"
)

// Taxonomy maps a platform to its label -> short description table,
// loaded once at startup and read-only thereafter (§5). Dynamic
// dispatch over platform-specific label sets is modeled as this
// platform-keyed map rather than per-platform types (§9).
type Taxonomy map[vulnassess.Platform]map[string]string

// Labels returns the sorted label names defined for platform.
func (t Taxonomy) Labels(platform vulnassess.Platform) []string {
	names := make([]string, 0, len(t[platform]))
	for name := range t[platform] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// buildPrompt constructs the deterministic Tier-3 prompt from the
// platform's taxonomy and the retrieved few-shot examples (§4.3).
func buildPrompt(tax Taxonomy, platform vulnassess.Platform, summary string, examples []vulnassess.RetrievedExample) string {
	var b strings.Builder
	fmt.Fprintf(&b, "platform: %s\n\nlabel taxonomy:\n", platform)
	for _, name := range tax.Labels(platform) {
		fmt.Fprintf(&b, "- %s: %s\n", name, tax[platform][name])
	}
	if len(examples) > 0 {
		b.WriteString("\nfew-shot examples:\n")
		for _, e := range examples {
			fmt.Fprintf(&b, "- %s (similarity %.2f): %s\n", e.ExternalID, e.Similarity, strings.Join(e.Labels, ", "))
		}
	}
	fmt.Fprintf(&b, "\nsummary:\n%s\n", summary)
	return b.String()
}
