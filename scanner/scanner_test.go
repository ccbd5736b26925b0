package scanner

import (
	"context"
	"testing"

	"github.com/quay/vulnassess"
)

func mustVersion(t *testing.T, raw string) vulnassess.Version {
	t.Helper()
	v, err := vulnassess.Normalize(raw)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

// scenario 1: exact-version bug match (§8 end-to-end scenario 1).
func TestScanExactVersionMatch(t *testing.T) {
	fs := &fakeStore{vulns: []*vulnassess.Vulnerability{{
		ExternalID:   "CSCwx00001",
		Kind:         vulnassess.KindBug,
		Platform:     vulnassess.PlatformIOSXE,
		Severity:     vulnassess.SeverityHigh,
		PatternKind:  vulnassess.PatternExplicit,
		ExplicitList: []vulnassess.Version{mustVersion(t, "17.10.1")},
		Labels:       []string{"MGMT_SSH_HTTP"},
	}}}
	e := New(fs, nil)
	result, err := e.Scan(context.Background(), vulnassess.ScanRequest{
		Platform: vulnassess.PlatformIOSXE,
		Version:  mustVersion(t, "17.10.1"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.TotalBugs != 1 || result.BugCriticalHigh != 1 {
		t.Fatalf("got TotalBugs=%d BugCriticalHigh=%d", result.TotalBugs, result.BugCriticalHigh)
	}
}

// scenario 2: "and later" within train (§8 end-to-end scenario 2).
func TestScanOpenLaterWithinTrain(t *testing.T) {
	min := mustVersion(t, "17.10.3")
	fs := &fakeStore{vulns: []*vulnassess.Vulnerability{{
		ExternalID:  "CSCwx00002",
		Kind:        vulnassess.KindBug,
		Platform:    vulnassess.PlatformIOSXE,
		Severity:    vulnassess.SeverityMedium,
		PatternKind: vulnassess.PatternOpenLater,
		VersionMin:  &min,
	}}}
	e := New(fs, nil)

	r1, err := e.Scan(context.Background(), vulnassess.ScanRequest{Platform: vulnassess.PlatformIOSXE, Version: mustVersion(t, "17.10.5")})
	if err != nil {
		t.Fatal(err)
	}
	if len(r1.Combined()) != 1 {
		t.Fatalf("expected 1 match at 17.10.5, got %d", len(r1.Combined()))
	}

	r2, err := e.Scan(context.Background(), vulnassess.ScanRequest{Platform: vulnassess.PlatformIOSXE, Version: mustVersion(t, "17.11.0")})
	if err != nil {
		t.Fatal(err)
	}
	if len(r2.Combined()) != 0 {
		t.Fatalf("expected 0 matches at 17.11.0, got %d", len(r2.Combined()))
	}
}

// scenario 3: fix override (§8 end-to-end scenario 3).
func TestScanFixOverride(t *testing.T) {
	min := mustVersion(t, "17.10.3")
	fixed := mustVersion(t, "17.10.7")
	fs := &fakeStore{vulns: []*vulnassess.Vulnerability{{
		ExternalID:   "CSCwx00002",
		Kind:         vulnassess.KindBug,
		Platform:     vulnassess.PlatformIOSXE,
		Severity:     vulnassess.SeverityMedium,
		PatternKind:  vulnassess.PatternOpenLater,
		VersionMin:   &min,
		FixedVersion: &fixed,
	}}}
	e := New(fs, nil)

	atFix, err := e.Scan(context.Background(), vulnassess.ScanRequest{Platform: vulnassess.PlatformIOSXE, Version: mustVersion(t, "17.10.7")})
	if err != nil {
		t.Fatal(err)
	}
	if len(atFix.Combined()) != 0 {
		t.Fatalf("expected 0 matches at the fix version, got %d", len(atFix.Combined()))
	}

	belowFix, err := e.Scan(context.Background(), vulnassess.ScanRequest{Platform: vulnassess.PlatformIOSXE, Version: mustVersion(t, "17.10.6")})
	if err != nil {
		t.Fatal(err)
	}
	if len(belowFix.Combined()) != 1 {
		t.Fatalf("expected 1 match below the fix version, got %d", len(belowFix.Combined()))
	}
}

// scenario 4: hardware filter reduction (§8 end-to-end scenario 4).
func TestScanHardwareFilterReduction(t *testing.T) {
	v := mustVersion(t, "17.10.1")
	mk := func(id, hw string) *vulnassess.Vulnerability {
		return &vulnassess.Vulnerability{
			ExternalID:    id,
			Kind:          vulnassess.KindBug,
			Platform:      vulnassess.PlatformIOSXE,
			Severity:      vulnassess.SeverityLow,
			PatternKind:   vulnassess.PatternExplicit,
			ExplicitList:  []vulnassess.Version{v},
			HardwareModel: hw,
		}
	}
	fs := &fakeStore{vulns: []*vulnassess.Vulnerability{
		mk("CSCwx00003", "Cat9300"),
		mk("CSCwx00004", "Cat9300"),
		mk("CSCwx00005", ""),
	}}
	e := New(fs, nil)
	result, err := e.Scan(context.Background(), vulnassess.ScanRequest{
		Platform:      vulnassess.PlatformIOSXE,
		Version:       v,
		HardwareModel: "Cat9500",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Combined()) != 1 {
		t.Fatalf("expected 1 match, got %d", len(result.Combined()))
	}
	if result.HardwareFilteredCount != 2 {
		t.Fatalf("expected hardware_filtered_count=2, got %d", result.HardwareFilteredCount)
	}
}

func TestScanFeatureFilterKeepsUnlabeled(t *testing.T) {
	v := mustVersion(t, "17.10.1")
	fs := &fakeStore{vulns: []*vulnassess.Vulnerability{{
		ExternalID:   "CSCwx00006",
		Kind:         vulnassess.KindBug,
		Platform:     vulnassess.PlatformIOSXE,
		Severity:     vulnassess.SeverityLow,
		PatternKind:  vulnassess.PatternExplicit,
		ExplicitList: []vulnassess.Version{v},
	}}}
	e := New(fs, nil)
	result, err := e.Scan(context.Background(), vulnassess.ScanRequest{
		Platform: vulnassess.PlatformIOSXE,
		Version:  v,
		Features: []string{"MGMT_SSH_HTTP"},
	})
	if err != nil {
		t.Fatal(err)
	}
	combined := result.Combined()
	if len(combined) != 1 || !combined[0].Unlabeled {
		t.Fatalf("expected 1 unlabeled match kept, got %+v", combined)
	}
}
