package vulnassess

import "time"

// DeviceSource records where a DeviceStub originated.
type DeviceSource string

const (
	DeviceSourceDirectory DeviceSource = "Directory"
	DeviceSourceManual    DeviceSource = "Manual"
)

// DiscoveryStatus tracks a Device's position in the discovery state
// machine described in §4.5.
type DiscoveryStatus string

const (
	DiscoveryPending DiscoveryStatus = "Pending"
	DiscoverySuccess DiscoveryStatus = "Success"
	DiscoveryFailed  DiscoveryStatus = "Failed"
	DiscoveryStale   DiscoveryStatus = "Stale"
)

// DeviceStub is the minimal identity seeded from an inventory source or
// a manual add. Identity key is (Hostname, IP).
type DeviceStub struct {
	ExternalID string
	Hostname   string
	IP         string
	Location   string
	DeviceType string
	Source     DeviceSource
}

// Device is a DeviceStub enriched by discovery, plus its two rotation
// slots. Discovered fields are filled in by a successful discovery;
// FailDiscovery changes only DiscoveryStatus and DiscoveryError, so
// fields from an earlier successful discovery stay in place.
type Device struct {
	DeviceStub
	DeviceID int64

	Platform      Platform
	Version       Version
	HardwareModel string
	Features      []string

	DiscoveryStatus DiscoveryStatus
	DiscoveryError  string
	DiscoveredAt    time.Time

	LastScan     *ScanSummary
	PreviousScan *ScanSummary
}

// FeatureSet returns Features as a set, for ScanEngine's feature filter.
func (d *Device) FeatureSet() map[string]struct{} {
	set := make(map[string]struct{}, len(d.Features))
	for _, f := range d.Features {
		set[f] = struct{}{}
	}
	return set
}

// ApplyDiscovery installs a successful discovery result (§4.5 b).
// Discovery is idempotent: re-running it overwrites the prior discovered
// fields in place.
func (d *Device) ApplyDiscovery(snap DeviceSnapshot) error {
	v, err := Normalize(snap.Version)
	if err != nil && snap.Version != "" {
		return err
	}
	d.Platform = snap.Platform
	d.Version = v
	d.HardwareModel = snap.HardwareModel
	d.Features = append([]string(nil), snap.FeaturesPresent...)
	d.DiscoveryStatus = DiscoverySuccess
	d.DiscoveryError = ""
	return nil
}

// FailDiscovery records a discovery failure (§4.5 b). The device remains
// queryable but is excluded from bulk scans.
func (d *Device) FailDiscovery(reason string) {
	d.DiscoveryStatus = DiscoveryFailed
	d.DiscoveryError = reason
}

// RotateScan installs result as the new LastScan, demoting the previous
// LastScan to PreviousScan (§3, "Rotation").
func (d *Device) RotateScan(result ScanSummary) {
	d.PreviousScan = d.LastScan
	d.LastScan = &result
}

// ScanSummary is the compact per-scan header persisted on the device row
// and embedded at the front of a ScanResult (§3).
type ScanSummary struct {
	ScanID        string
	Timestamp     time.Time
	Platform      Platform
	Version       Version
	HardwareModel string

	TotalBugs         int
	BugCriticalHigh   int
	TotalPSIRTs       int
	PSIRTCriticalHigh int

	HardwareFilteredCount int
	FeatureFilteredCount  int
	QueryTimeMS           int64
}

// DeviceSnapshot is the external, air-gapped alternative to a live
// Collector call (§6.2).
type DeviceSnapshot struct {
	SnapshotID      string    `json:"snapshot_id"`
	Platform        Platform  `json:"platform"`
	ExtractedAt     time.Time `json:"extracted_at"`
	FeaturesPresent []string  `json:"features_present"`
	FeatureCount    int       `json:"feature_count"`
	TotalChecked    int       `json:"total_checked"`
	ExtractorVersion string   `json:"extractor_version"`
	Version         string    `json:"version,omitempty"`
	HardwareModel   string    `json:"hardware_model,omitempty"`
}
