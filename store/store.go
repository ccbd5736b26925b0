// Package store implements VulnStore: the persistent record of
// vulnerabilities, their version/label indexes, and device inventory
// with scan-result rotation (§4.2).
package store

import (
	"context"
	"iter"

	"github.com/quay/vulnassess"
)

// Store is the persistence interface VulnStore exposes to the rest of
// the engine. One concrete implementation, SQLiteStore, backs it; the
// interface exists so ScanEngine, LabelPredictor, and
// VerificationOrchestrator can be tested against an in-memory fake.
type Store interface {
	// InsertVulnerability fails with vulnassess.ErrDuplicateExternalID if
	// external_id is already present. On success it populates
	// version_index and label_index in the same transaction.
	InsertVulnerability(ctx context.Context, v *vulnassess.Vulnerability) error

	// UpdateVulnerabilityLabels replaces a vulnerability's labels and
	// label_index rows atomically.
	UpdateVulnerabilityLabels(ctx context.Context, vulnID int64, labels []string, source vulnassess.LabelsSource) error

	// QueryByPlatform streams vulnerabilities ordered by severity
	// ascending (Critical first). The returned stop function reports the
	// terminal error, if any, once iteration ends.
	QueryByPlatform(ctx context.Context, platform vulnassess.Platform) (iter.Seq[*vulnassess.Vulnerability], func() error)

	// QueryByAdvisory is an equality lookup on (external_id, platform),
	// used as LabelPredictor's Tier-1 cache read.
	QueryByAdvisory(ctx context.Context, externalID string, platform vulnassess.Platform) (*vulnassess.Vulnerability, error)

	// InsertDevice creates a device row, failing if (hostname, ip) is
	// already present.
	InsertDevice(ctx context.Context, stub vulnassess.DeviceStub) (*vulnassess.Device, error)

	// GetDevice looks up a device by its (hostname, ip) identity key.
	GetDevice(ctx context.Context, hostname, ip string) (*vulnassess.Device, error)

	// GetDeviceByID looks up a device by surrogate id.
	GetDeviceByID(ctx context.Context, deviceID int64) (*vulnassess.Device, error)

	// ListDevices resolves the target set for a bulk scan: devices whose
	// platform is in platforms (when non-empty) and/or whose id is in ids
	// (when non-empty). Only devices whose discovery_status is Success are
	// returned; an empty platforms and ids selects every such device.
	ListDevices(ctx context.Context, platforms []vulnassess.Platform, ids []int64) ([]*vulnassess.Device, error)

	// ApplyDiscovery persists a successful discovery result onto a device
	// row (§4.5 b). Idempotent.
	ApplyDiscovery(ctx context.Context, deviceID int64, snap vulnassess.DeviceSnapshot) error

	// FailDiscovery persists a discovery failure onto a device row.
	FailDiscovery(ctx context.Context, deviceID int64, reason string) error

	// InsertScanResult writes a scan_results row and rotates the device's
	// last_scan_id/previous_scan_id in the same transaction.
	InsertScanResult(ctx context.Context, deviceID int64, result *vulnassess.ScanResult) error

	// GetScanResult fetches a full scan result body by scan_id.
	GetScanResult(ctx context.Context, scanID string) (*vulnassess.ScanResult, error)

	Close() error
}
