package orchestrator

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/quay/vulnassess"
	"github.com/quay/vulnassess/store"
)

// fakeStore is a minimal in-memory store.Store good enough to drive
// Orchestrator's bulk-scan, discovery, and comparison paths in tests.
type fakeStore struct {
	mu sync.Mutex

	vulns       []*vulnassess.Vulnerability
	devices     map[int64]*vulnassess.Device
	scanResults map[string]*vulnassess.ScanResult
	nextDevID   int64

	// failInsertScanFor, when non-zero, makes InsertScanResult fail for
	// that one device id, simulating a per-device ScanFailure.
	failInsertScanFor int64
}

var _ store.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		devices:     make(map[int64]*vulnassess.Device),
		scanResults: make(map[string]*vulnassess.ScanResult),
	}
}

func (f *fakeStore) addDevice(d *vulnassess.Device) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextDevID++
	d.DeviceID = f.nextDevID
	f.devices[d.DeviceID] = d
	return d.DeviceID
}

func (f *fakeStore) InsertVulnerability(ctx context.Context, v *vulnassess.Vulnerability) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vulns = append(f.vulns, v)
	return nil
}

func (f *fakeStore) UpdateVulnerabilityLabels(ctx context.Context, vulnID int64, labels []string, source vulnassess.LabelsSource) error {
	return nil
}

func (f *fakeStore) QueryByPlatform(ctx context.Context, platform vulnassess.Platform) (iter.Seq[*vulnassess.Vulnerability], func() error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot := make([]*vulnassess.Vulnerability, 0, len(f.vulns))
	for _, v := range f.vulns {
		if v.Platform == platform {
			snapshot = append(snapshot, v)
		}
	}
	return func(yield func(*vulnassess.Vulnerability) bool) {
		for _, v := range snapshot {
			if !yield(v) {
				return
			}
		}
	}, func() error { return nil }
}

func (f *fakeStore) QueryByAdvisory(ctx context.Context, externalID string, platform vulnassess.Platform) (*vulnassess.Vulnerability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.vulns {
		if v.ExternalID == externalID && v.Platform == platform {
			return v, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) InsertDevice(ctx context.Context, stub vulnassess.DeviceStub) (*vulnassess.Device, error) {
	d := &vulnassess.Device{DeviceStub: stub, DiscoveryStatus: vulnassess.DiscoveryPending}
	f.addDevice(d)
	return d, nil
}

func (f *fakeStore) GetDevice(ctx context.Context, hostname, ip string) (*vulnassess.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.devices {
		if d.Hostname == hostname && d.IP == ip {
			return d, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetDeviceByID(ctx context.Context, deviceID int64) (*vulnassess.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Mirrors SQLiteStore.GetDeviceByID: a missing row is (nil, nil), not
	// an error.
	d := f.devices[deviceID]
	return d, nil
}

func (f *fakeStore) ListDevices(ctx context.Context, platforms []vulnassess.Platform, ids []int64) ([]*vulnassess.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	platformSet := make(map[vulnassess.Platform]struct{}, len(platforms))
	for _, p := range platforms {
		platformSet[p] = struct{}{}
	}
	idSet := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}
	var out []*vulnassess.Device
	for _, d := range f.devices {
		if d.DiscoveryStatus != vulnassess.DiscoverySuccess {
			continue
		}
		if len(platformSet) > 0 {
			if _, ok := platformSet[d.Platform]; !ok {
				continue
			}
		}
		if len(idSet) > 0 {
			if _, ok := idSet[d.DeviceID]; !ok {
				continue
			}
		}
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeStore) ApplyDiscovery(ctx context.Context, deviceID int64, snap vulnassess.DeviceSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[deviceID]
	if !ok {
		return fmt.Errorf("orchestrator test: no such device %d", deviceID)
	}
	return d.ApplyDiscovery(snap)
}

func (f *fakeStore) FailDiscovery(ctx context.Context, deviceID int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[deviceID]
	if !ok {
		return fmt.Errorf("orchestrator test: no such device %d", deviceID)
	}
	d.FailDiscovery(reason)
	return nil
}

func (f *fakeStore) InsertScanResult(ctx context.Context, deviceID int64, result *vulnassess.ScanResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInsertScanFor != 0 && deviceID == f.failInsertScanFor {
		return fmt.Errorf("orchestrator test: forced scan-result write failure for device %d", deviceID)
	}
	d, ok := f.devices[deviceID]
	if !ok {
		return fmt.Errorf("orchestrator test: no such device %d", deviceID)
	}
	f.scanResults[result.ScanID] = result
	d.RotateScan(result.ScanSummary)
	return nil
}

func (f *fakeStore) GetScanResult(ctx context.Context, scanID string) (*vulnassess.ScanResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.scanResults[scanID]
	if !ok {
		return nil, fmt.Errorf("orchestrator test: no such scan %s", scanID)
	}
	return r, nil
}

func (f *fakeStore) Close() error { return nil }
