// Package scanner implements ScanEngine: the read-only filter cascade
// that turns a (platform, version, hardware, features) request into a
// severity-grouped list of applicable vulnerabilities (§4.4).
package scanner

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quay/vulnassess"
	"github.com/quay/vulnassess/store"
	"github.com/quay/vulnassess/telemetry"
)

// Engine is ScanEngine. It holds no mutable state of its own; every
// Scan call is independent and shares nothing with concurrent calls
// (§4.4).
type Engine struct {
	Store   store.Store
	Metrics *telemetry.Metrics
}

// New builds an Engine over s.
func New(s store.Store, m *telemetry.Metrics) *Engine {
	return &Engine{Store: s, Metrics: m}
}

// Scan runs the version -> hardware -> feature -> severity filter
// cascade against every vulnerability on req.Platform, groups the
// survivors by severity, and paginates the result (§4.4).
func (e *Engine) Scan(ctx context.Context, req vulnassess.ScanRequest) (*vulnassess.ScanResult, error) {
	start := time.Now()
	scanID := uuid.NewString()
	ctx, end := telemetry.StartSpan(ctx, "scanner.Scan")
	ctx = telemetry.WithAttrs(ctx, slog.String("scan_id", scanID), slog.String("platform", string(req.Platform)))
	var err error
	defer func() { end(&err) }()

	seq, stop := e.Store.QueryByPlatform(ctx, req.Platform)

	var totalChecked, versionMatches, hardwareFiltered, featureFiltered int
	var critical, rest []vulnassess.MatchedVulnerability

	severitySet := make(map[vulnassess.Severity]struct{}, len(req.SeverityFilter))
	for _, s := range req.SeverityFilter {
		severitySet[s] = struct{}{}
	}
	featureSet := make(map[string]struct{}, len(req.Features))
	for _, f := range req.Features {
		featureSet[f] = struct{}{}
	}

	for v := range seq {
		totalChecked++

		ok, reason := vulnassess.IsAffected(req.Version, v.AffectedVersions(), v.FixedVersion)
		if !ok {
			continue
		}
		versionMatches++

		if req.HardwareModel != "" && v.HasHardwareConstraint() && v.HardwareModel != req.HardwareModel {
			hardwareFiltered++
			continue
		}

		unlabeled := false
		if len(featureSet) > 0 {
			switch {
			case v.Unlabeled():
				unlabeled = true
			case v.IntersectsFeatures(featureSet):
			default:
				featureFiltered++
				continue
			}
		}

		if len(severitySet) > 0 {
			if _, ok := severitySet[v.Severity]; !ok {
				continue
			}
		}

		m := vulnassess.MatchedVulnerability{
			ExternalID:  v.ExternalID,
			Kind:        v.Kind,
			Severity:    v.Severity,
			Headline:    v.Headline,
			Unlabeled:   unlabeled,
			MatchReason: reason,
		}
		if v.Severity.CriticalHigh() {
			m.Labels = v.Labels
			m.AffectedVersionsRaw = v.AffectedVersionsRaw
			m.FixedVersion = v.FixedVersion
			m.AdvisoryURL = v.AdvisoryURL
			critical = append(critical, m)
		} else {
			m.ShortSummary = firstSentence(v.Summary)
			rest = append(rest, m)
		}
	}
	if err = stop(); err != nil {
		return nil, err
	}

	sortMatched(critical)
	sortMatched(rest)

	critical, rest = paginate(critical, rest, req.Limit, req.Offset)

	result := &vulnassess.ScanResult{
		ScanSummary: vulnassess.ScanSummary{
			ScanID:                scanID,
			Timestamp:             time.Now().UTC(),
			Platform:              req.Platform,
			Version:               req.Version,
			HardwareModel:         req.HardwareModel,
			HardwareFilteredCount: hardwareFiltered,
			FeatureFilteredCount:  featureFiltered,
		},
		CriticalHigh:   critical,
		MediumLow:      rest,
		TotalChecked:   totalChecked,
		VersionMatches: versionMatches,
	}
	summarize(result)
	result.QueryTimeMS = time.Since(start).Milliseconds()
	e.Metrics.ObserveScan(time.Since(start).Seconds())
	slog.DebugContext(ctx, "scan complete", "total_checked", totalChecked, "version_matches", versionMatches, "query_time_ms", result.QueryTimeMS)
	return result, nil
}

func sortMatched(m []vulnassess.MatchedVulnerability) {
	sort.Slice(m, func(i, j int) bool {
		if m[i].Severity != m[j].Severity {
			return m[i].Severity < m[j].Severity
		}
		return m[i].ExternalID < m[j].ExternalID
	})
}

// paginate applies limit/offset across the combined critical+rest
// sequence (§4.4 step 6), preserving each bucket's membership.
func paginate(critical, rest []vulnassess.MatchedVulnerability, limit, offset int) ([]vulnassess.MatchedVulnerability, []vulnassess.MatchedVulnerability) {
	if limit <= 0 && offset <= 0 {
		return critical, rest
	}
	combined := append(append([]vulnassess.MatchedVulnerability(nil), critical...), rest...)
	if offset > len(combined) {
		offset = len(combined)
	}
	combined = combined[offset:]
	if limit > 0 && limit < len(combined) {
		combined = combined[:limit]
	}
	var newCritical, newRest []vulnassess.MatchedVulnerability
	for _, m := range combined {
		if m.Severity.CriticalHigh() {
			newCritical = append(newCritical, m)
		} else {
			newRest = append(newRest, m)
		}
	}
	return newCritical, newRest
}

func summarize(r *vulnassess.ScanResult) {
	for _, m := range r.CriticalHigh {
		tallySummary(r, m)
	}
	for _, m := range r.MediumLow {
		tallySummary(r, m)
	}
}

func tallySummary(r *vulnassess.ScanResult, m vulnassess.MatchedVulnerability) {
	switch m.Kind {
	case vulnassess.KindBug:
		r.TotalBugs++
		if m.Severity.CriticalHigh() {
			r.BugCriticalHigh++
		}
	case vulnassess.KindAdvisory:
		r.TotalPSIRTs++
		if m.Severity.CriticalHigh() {
			r.PSIRTCriticalHigh++
		}
	}
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".\n"); i >= 0 {
		return strings.TrimSpace(s[:i+1])
	}
	return s
}
