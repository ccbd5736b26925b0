package vulnassess

import (
	"fmt"
	"time"
)

// Kind distinguishes a vendor bug report from a security advisory.
type Kind string

const (
	KindBug      Kind = "Bug"
	KindAdvisory Kind = "Advisory"
)

// Platform is one of the network operating systems the store tracks
// vulnerabilities for.
type Platform string

const (
	PlatformIOSXE Platform = "IOS-XE"
	PlatformIOSXR Platform = "IOS-XR"
	PlatformASA   Platform = "ASA"
	PlatformFTD   Platform = "FTD"
	PlatformNXOS  Platform = "NX-OS"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformIOSXE, PlatformIOSXR, PlatformASA, PlatformFTD, PlatformNXOS:
		return true
	default:
		return false
	}
}

// LabelsSource records where a Vulnerability's label set came from.
type LabelsSource string

const (
	LabelsSourceTraining LabelsSource = "Training"
	LabelsSourceLLM      LabelsSource = "LLM"
	LabelsSourceManual   LabelsSource = "Manual"
	LabelsSourceImported LabelsSource = "Imported"
)

// Vulnerability is one record for a bug or an advisory (§3). VulnStore
// owns persisted instances; everything else receives immutable copies.
type Vulnerability struct {
	VulnID     int64
	ExternalID string
	Kind       Kind

	Platform     Platform
	HardwareModel string // empty means "applies to any hardware on the platform"
	Severity     Severity

	Headline    string
	Summary     string
	Status      string
	AdvisoryURL string

	AffectedVersionsRaw string
	PatternKind         PatternKind
	VersionMin          *Version
	VersionMax          *Version
	FixedVersion        *Version
	ExplicitList        []Version

	Labels       []string
	LabelsSource LabelsSource

	CreatedAt    time.Time
	LastModified time.Time
}

// HasHardwareConstraint reports whether v applies only to a specific
// hardware model rather than to any hardware on the platform.
func (v *Vulnerability) HasHardwareConstraint() bool {
	return v.HardwareModel != ""
}

// Unlabeled reports whether v carries no taxonomy labels at all. Used by
// ScanEngine's feature filter to decide the conservative keep-and-flag
// path (§4.4 step 4).
func (v *Vulnerability) Unlabeled() bool {
	return len(v.Labels) == 0
}

// LabelSet returns v's labels as a set for intersection tests.
func (v *Vulnerability) LabelSet() map[string]struct{} {
	set := make(map[string]struct{}, len(v.Labels))
	for _, l := range v.Labels {
		set[l] = struct{}{}
	}
	return set
}

// IntersectsFeatures reports whether any of v's labels appear in
// features.
func (v *Vulnerability) IntersectsFeatures(features map[string]struct{}) bool {
	for _, l := range v.Labels {
		if _, ok := features[l]; ok {
			return true
		}
	}
	return false
}

// AffectedVersions reconstructs the parsed affected-versions projection
// carried on v into the form VersionSemantics operates on.
func (v *Vulnerability) AffectedVersions() AffectedVersions {
	return AffectedVersions{
		Raw:      v.AffectedVersionsRaw,
		Kind:     v.PatternKind,
		Min:      v.VersionMin,
		Max:      v.VersionMax,
		Explicit: v.ExplicitList,
	}
}

// Validate checks the invariants from §3 that a Vulnerability must
// satisfy before being persisted. Every failure wraps ErrValidation, so
// callers can check with errors.Is(err, ErrValidation) regardless of
// which invariant tripped.
func (v *Vulnerability) Validate() error {
	if v.ExternalID == "" {
		return fmt.Errorf("%w: external_id required", ErrValidation)
	}
	if !v.Platform.Valid() {
		return fmt.Errorf("%w: unrecognized platform %s", ErrValidation, v.Platform)
	}
	if !v.Severity.Valid() {
		return fmt.Errorf("%w: severity out of range", ErrValidation)
	}
	switch v.PatternKind {
	case PatternExplicit:
		if len(v.ExplicitList) == 0 {
			return fmt.Errorf("%w: Explicit pattern requires a non-empty explicit_list", ErrValidation)
		}
	case PatternOpenLater:
		if v.VersionMin == nil {
			return fmt.Errorf("%w: OpenLater pattern requires version_min", ErrValidation)
		}
	case PatternOpenEarlier:
		if v.VersionMax == nil {
			return fmt.Errorf("%w: OpenEarlier pattern requires version_max", ErrValidation)
		}
	case PatternWildcard:
		if v.VersionMin == nil {
			return fmt.Errorf("%w: Wildcard pattern requires version_min", ErrValidation)
		}
	}
	return nil
}
