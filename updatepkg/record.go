package updatepkg

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quay/vulnassess"
)

// rawRecord mirrors one line of labeled_update.jsonl (§6.1). Fields
// accept the several spellings the format allows before being resolved
// into a vulnassess.Vulnerability.
type rawRecord struct {
	BugID      string `json:"bug_id"`
	AdvisoryID string `json:"advisory_id"`

	Kind     string `json:"kind"`
	VulnType string `json:"vuln_type"`
	Type     string `json:"type"`

	Platform         vulnassess.Platform `json:"platform"`
	Headline         string              `json:"headline"`
	Summary          string              `json:"summary"`
	AffectedVersions json.RawMessage     `json:"affected_versions"`
	FixedVersion     string              `json:"fixed_version"`
	Severity         json.RawMessage     `json:"severity"`
	Labels           []string            `json:"labels"`
	HardwareModel    string              `json:"hardware_model"`
}

// resolve converts a decoded rawRecord into a Vulnerability, or returns
// an error describing why the record is malformed. taxonomy, when
// non-nil, is used to drop labels outside the platform's taxonomy
// (logged as a warning by the caller; the record is still inserted).
func (r rawRecord) resolve(taxonomy map[vulnassess.Platform]map[string]string) (*vulnassess.Vulnerability, []string, error) {
	externalID, kindStr, err := r.identity()
	if err != nil {
		return nil, nil, err
	}
	kind, err := resolveKind(kindStr)
	if err != nil {
		return nil, nil, err
	}
	if !r.Platform.Valid() {
		return nil, nil, fmt.Errorf("unrecognized platform %q", r.Platform)
	}

	rawAffected, err := joinedAffectedVersions(r.AffectedVersions)
	if err != nil {
		return nil, nil, err
	}
	av, err := vulnassess.ParseExpression(rawAffected)
	if err != nil {
		return nil, nil, fmt.Errorf("affected_versions %q: %w", rawAffected, err)
	}

	var fixed *vulnassess.Version
	if r.FixedVersion != "" {
		v, err := vulnassess.Normalize(r.FixedVersion)
		if err != nil {
			return nil, nil, fmt.Errorf("fixed_version %q: %w", r.FixedVersion, err)
		}
		fixed = &v
	}

	severity, err := resolveSeverity(r.Severity)
	if err != nil {
		return nil, nil, err
	}

	labels, rejected := filterLabels(r.Platform, r.Labels, taxonomy)

	v := &vulnassess.Vulnerability{
		ExternalID:          externalID,
		Kind:                kind,
		Platform:            r.Platform,
		HardwareModel:       r.HardwareModel,
		Severity:            severity,
		Headline:            r.Headline,
		Summary:             r.Summary,
		AffectedVersionsRaw: rawAffected,
		PatternKind:         av.Kind,
		VersionMin:          av.Min,
		VersionMax:          av.Max,
		FixedVersion:        fixed,
		ExplicitList:        av.Explicit,
		Labels:              labels,
		LabelsSource:        vulnassess.LabelsSourceImported,
	}
	return v, rejected, nil
}

func (r rawRecord) identity() (externalID, kind string, err error) {
	switch {
	case r.BugID != "" && r.AdvisoryID != "":
		return "", "", fmt.Errorf("record carries both bug_id and advisory_id")
	case r.BugID != "":
		externalID = r.BugID
	case r.AdvisoryID != "":
		externalID = r.AdvisoryID
	default:
		return "", "", fmt.Errorf("record missing bug_id/advisory_id")
	}
	for _, k := range []string{r.Kind, r.VulnType, r.Type} {
		if k != "" {
			kind = k
			break
		}
	}
	if kind == "" {
		return "", "", fmt.Errorf("record missing kind")
	}
	return externalID, kind, nil
}

func resolveKind(s string) (vulnassess.Kind, error) {
	switch strings.ToLower(s) {
	case "bug":
		return vulnassess.KindBug, nil
	case "psirt", "advisory":
		return vulnassess.KindAdvisory, nil
	default:
		return "", fmt.Errorf("unrecognized kind %q", s)
	}
}

func resolveSeverity(raw json.RawMessage) (vulnassess.Severity, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("record missing severity")
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return vulnassess.ParseSeverity(fmt.Sprint(n))
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return 0, fmt.Errorf("severity must be an integer or a name: %w", err)
	}
	return vulnassess.ParseSeverity(name)
}

// joinedAffectedVersions accepts a single string or an array of strings,
// joining the latter with spaces before it's handed to
// vulnassess.ParseExpression (§6.1).
func joinedAffectedVersions(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("record missing affected_versions")
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return "", fmt.Errorf("affected_versions must be a string or an array of strings: %w", err)
	}
	return strings.Join(list, " "), nil
}

func filterLabels(platform vulnassess.Platform, labels []string, taxonomy map[vulnassess.Platform]map[string]string) (kept []string, rejected []string) {
	if taxonomy == nil {
		return labels, nil
	}
	allowed := taxonomy[platform]
	for _, l := range labels {
		if _, ok := allowed[l]; ok {
			kept = append(kept, l)
		} else {
			rejected = append(rejected, l)
		}
	}
	return kept, rejected
}
