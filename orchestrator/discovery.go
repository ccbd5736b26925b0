package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quay/vulnassess"
	"github.com/quay/vulnassess/telemetry"
)

// DefaultCollectorTimeout is the default per-call deadline budget for a
// live Collector call (§4).
const DefaultCollectorTimeout = 30 * time.Second

// Credential is the transport credential handed to a Collector. Its
// shape is opaque to the orchestrator; the Collector implementation
// interprets it.
type Credential struct {
	Username string
	Secret   string
}

// Collector is the external live-discovery collaborator: it reaches a
// device over the network and returns a parsed DeviceSnapshot (§4.5 b).
type Collector interface {
	Collect(ctx context.Context, host string, cred Credential, deadline time.Time) (vulnassess.DeviceSnapshot, error)
}

// Discover runs device discovery against device using collector,
// updates the device row, and sets discovery_status accordingly. On
// success, discovery_status is Success; on transport or parse failure it
// is Failed with the error recorded, and the device stays queryable but
// excluded from bulk scans (§4.5 b). Discovery is idempotent.
func (o *Orchestrator) Discover(ctx context.Context, collector Collector, deviceID int64, host string, cred Credential) error {
	ctx, end := telemetry.StartSpan(ctx, "orchestrator.Discover")
	ctx = telemetry.WithAttrs(ctx, slog.Int64("device_id", deviceID), slog.String("host", host))
	var err error
	defer func() { end(&err) }()

	deadline := clampDeadline(ctx, DefaultCollectorTimeout)
	snap, cerr := collector.Collect(ctx, host, cred, deadline)
	if cerr != nil {
		reason := fmt.Errorf("%w: %v", vulnassess.ErrDiscoveryFailure, cerr).Error()
		if ferr := o.Store.FailDiscovery(ctx, deviceID, reason); ferr != nil {
			err = ferr
			return err
		}
		slog.WarnContext(ctx, "device discovery failed", "reason", cerr)
		return nil
	}

	if err = o.Store.ApplyDiscovery(ctx, deviceID, snap); err != nil {
		return err
	}
	slog.InfoContext(ctx, "device discovery succeeded", "platform", snap.Platform)
	return nil
}

// ApplySnapshot installs an air-gapped DeviceSnapshot directly, skipping
// the Collector call (§6.2).
func (o *Orchestrator) ApplySnapshot(ctx context.Context, deviceID int64, snap vulnassess.DeviceSnapshot) error {
	return o.Store.ApplyDiscovery(ctx, deviceID, snap)
}
