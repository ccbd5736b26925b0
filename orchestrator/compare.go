package orchestrator

import (
	"context"
	"fmt"

	"github.com/quay/vulnassess"
	"github.com/quay/vulnassess/telemetry"
)

// CompareScans compares device's LastScan and PreviousScan by
// external_id, producing the fixed/new/unchanged sets and their
// per-severity counts (§4.5 c). Both scans must exist.
func (o *Orchestrator) CompareScans(ctx context.Context, deviceID int64) (*vulnassess.ScanComparison, error) {
	d, err := o.Store.GetDeviceByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("orchestrator: device %d not found", deviceID)
	}
	if d.LastScan == nil || d.PreviousScan == nil {
		return nil, fmt.Errorf("orchestrator: device %d needs two completed scans to compare", deviceID)
	}

	last, err := o.Store.GetScanResult(ctx, d.LastScan.ScanID)
	if err != nil {
		return nil, err
	}
	prev, err := o.Store.GetScanResult(ctx, d.PreviousScan.ScanID)
	if err != nil {
		return nil, err
	}
	return diffScans(prev, last), nil
}

func diffScans(prev, last *vulnassess.ScanResult) *vulnassess.ScanComparison {
	prevByID := make(map[string]vulnassess.MatchedVulnerability)
	for _, m := range prev.Combined() {
		prevByID[m.ExternalID] = m
	}
	lastByID := make(map[string]vulnassess.MatchedVulnerability)
	for _, m := range last.Combined() {
		lastByID[m.ExternalID] = m
	}

	cmp := &vulnassess.ScanComparison{
		BySeverity: make(map[vulnassess.Severity]vulnassess.ScanComparisonCounts),
	}
	bump := func(sev vulnassess.Severity, f func(*vulnassess.ScanComparisonCounts)) {
		c := cmp.BySeverity[sev]
		f(&c)
		cmp.BySeverity[sev] = c
	}

	for id, m := range prevByID {
		if _, stillPresent := lastByID[id]; !stillPresent {
			cmp.Fixed = append(cmp.Fixed, id)
			bump(m.Severity, func(c *vulnassess.ScanComparisonCounts) { c.Fixed++ })
		}
	}
	for id, m := range lastByID {
		if _, wasPresent := prevByID[id]; !wasPresent {
			cmp.New = append(cmp.New, id)
			bump(m.Severity, func(c *vulnassess.ScanComparisonCounts) { c.New++ })
		} else {
			cmp.Unchanged = append(cmp.Unchanged, id)
			bump(m.Severity, func(c *vulnassess.ScanComparisonCounts) { c.Unchanged++ })
		}
	}
	return cmp
}

// CompareVersion runs a hypothetical second ScanEngine pass for device
// at targetVersion and compares it with the device's current LastScan,
// producing a risk recommendation from the fixed table in §4.5 c:
// a Critical-count increase forces High; a net bug decrease with no new
// Critical is Low; everything else is Medium.
func (o *Orchestrator) CompareVersion(ctx context.Context, deviceID int64, targetVersion vulnassess.Version) (*vulnassess.VersionComparison, error) {
	ctx, end := telemetry.StartSpan(ctx, "orchestrator.CompareVersion")
	var err error
	defer func() { end(&err) }()

	d, derr := o.Store.GetDeviceByID(ctx, deviceID)
	if derr != nil {
		err = derr
		return nil, err
	}
	if d == nil {
		err = fmt.Errorf("orchestrator: device %d not found", deviceID)
		return nil, err
	}
	if d.LastScan == nil {
		err = fmt.Errorf("orchestrator: device %d has no completed scan to compare against", deviceID)
		return nil, err
	}
	current, gerr := o.Store.GetScanResult(ctx, d.LastScan.ScanID)
	if gerr != nil {
		err = gerr
		return nil, err
	}

	target, serr := o.Scanner.Scan(ctx, vulnassess.ScanRequest{
		Platform:      d.Platform,
		Version:       targetVersion,
		HardwareModel: d.HardwareModel,
		Features:      d.Features,
	})
	if serr != nil {
		err = serr
		return nil, err
	}

	return buildVersionComparison(current, target), nil
}

func buildVersionComparison(current, target *vulnassess.ScanResult) *vulnassess.VersionComparison {
	currentCriticalHigh := current.BugCriticalHigh + current.PSIRTCriticalHigh
	targetCriticalHigh := target.BugCriticalHigh + target.PSIRTCriticalHigh
	currentTotalBugs := current.TotalBugs + current.TotalPSIRTs
	targetTotalBugs := target.TotalBugs + target.TotalPSIRTs

	countCritical := func(r *vulnassess.ScanResult) int {
		n := 0
		for _, m := range r.CriticalHigh {
			if m.Severity == vulnassess.SeverityCritical {
				n++
			}
		}
		return n
	}
	criticalDelta := countCritical(target) - countCritical(current)

	vc := &vulnassess.VersionComparison{
		CurrentCriticalHigh: currentCriticalHigh,
		TargetCriticalHigh:  targetCriticalHigh,
		CurrentTotalBugs:    currentTotalBugs,
		TargetTotalBugs:     targetTotalBugs,
	}

	switch {
	case criticalDelta > 0:
		vc.RiskLevel = vulnassess.RiskHigh
		vc.RiskScore = clampScore(70 + criticalDelta*10)
		vc.Narrative = fmt.Sprintf("target version introduces %d additional critical finding(s)", criticalDelta)
	case targetTotalBugs < currentTotalBugs && criticalDelta <= 0:
		vc.RiskLevel = vulnassess.RiskLow
		vc.RiskScore = clampScore(30 - (currentTotalBugs - targetTotalBugs))
		vc.Narrative = fmt.Sprintf("target version reduces total findings from %d to %d with no new critical", currentTotalBugs, targetTotalBugs)
	default:
		vc.RiskLevel = vulnassess.RiskMedium
		vc.RiskScore = 50
		vc.Narrative = "target version changes the finding set without a clear net improvement"
	}
	return vc
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
