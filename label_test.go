package vulnassess

import "testing"

func TestNeedsReview(t *testing.T) {
	tt := []struct {
		confidence float64
		source     ConfidenceSource
		want       bool
	}{
		{0.9, ConfidenceModel, false},
		{0.69, ConfidenceModel, true},
		{0.95, ConfidenceHeuristic, true},
		{0.70, ConfidenceModel, false},
	}
	for _, tc := range tt {
		if got := NeedsReview(tc.confidence, tc.source); got != tc.want {
			t.Errorf("NeedsReview(%v, %v) = %v, want %v", tc.confidence, tc.source, got, tc.want)
		}
	}
}

func TestEligibleForCacheWrite(t *testing.T) {
	tt := []struct {
		name       string
		externalID string
		p          LabelPrediction
		want       bool
	}{
		{
			name:       "fully eligible",
			externalID: "cisco-sa-new",
			p: LabelPrediction{
				Confidence:       0.9,
				Labels:           []string{"SEC_CoPP"},
				ConfidenceSource: ConfidenceModel,
				NeedsReview:      false,
			},
			want: true,
		},
		{
			name:       "no external id",
			externalID: "",
			p: LabelPrediction{
				Confidence:       0.9,
				Labels:           []string{"SEC_CoPP"},
				ConfidenceSource: ConfidenceModel,
			},
			want: false,
		},
		{
			name:       "low confidence",
			externalID: "cisco-sa-new",
			p: LabelPrediction{
				Confidence:       0.74,
				Labels:           []string{"SEC_CoPP"},
				ConfidenceSource: ConfidenceModel,
			},
			want: false,
		},
		{
			name:       "empty labels",
			externalID: "cisco-sa-new",
			p: LabelPrediction{
				Confidence:       0.9,
				ConfidenceSource: ConfidenceModel,
			},
			want: false,
		},
		{
			name:       "heuristic confidence source",
			externalID: "cisco-sa-new",
			p: LabelPrediction{
				Confidence:       0.9,
				Labels:           []string{"SEC_CoPP"},
				ConfidenceSource: ConfidenceHeuristic,
			},
			want: false,
		},
		{
			name:       "sticky needs_review blocks caching despite high confidence",
			externalID: "cisco-sa-new",
			p: LabelPrediction{
				Confidence:       0.95,
				Labels:           []string{"SEC_CoPP"},
				ConfidenceSource: ConfidenceModel,
				NeedsReview:      true,
			},
			want: false,
		},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			if got := EligibleForCacheWrite(tc.externalID, tc.p); got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}
