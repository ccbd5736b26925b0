package scanner

import (
	"context"
	"iter"

	"github.com/quay/vulnassess"
	"github.com/quay/vulnassess/store"
)

// fakeStore is a minimal in-memory store.Store used to exercise
// ScanEngine without a real database. Only the methods ScanEngine calls
// need to do anything.
type fakeStore struct {
	vulns []*vulnassess.Vulnerability
}

var _ store.Store = (*fakeStore)(nil)

func (f *fakeStore) InsertVulnerability(ctx context.Context, v *vulnassess.Vulnerability) error {
	f.vulns = append(f.vulns, v)
	return nil
}

func (f *fakeStore) UpdateVulnerabilityLabels(ctx context.Context, vulnID int64, labels []string, source vulnassess.LabelsSource) error {
	return nil
}

func (f *fakeStore) QueryByPlatform(ctx context.Context, platform vulnassess.Platform) (iter.Seq[*vulnassess.Vulnerability], func() error) {
	seq := func(yield func(*vulnassess.Vulnerability) bool) {
		for _, v := range f.vulns {
			if v.Platform != platform {
				continue
			}
			if !yield(v) {
				return
			}
		}
	}
	return seq, func() error { return nil }
}

func (f *fakeStore) QueryByAdvisory(ctx context.Context, externalID string, platform vulnassess.Platform) (*vulnassess.Vulnerability, error) {
	for _, v := range f.vulns {
		if v.ExternalID == externalID && v.Platform == platform {
			return v, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) InsertDevice(ctx context.Context, stub vulnassess.DeviceStub) (*vulnassess.Device, error) {
	return nil, nil
}
func (f *fakeStore) GetDevice(ctx context.Context, hostname, ip string) (*vulnassess.Device, error) {
	return nil, nil
}
func (f *fakeStore) GetDeviceByID(ctx context.Context, deviceID int64) (*vulnassess.Device, error) {
	return nil, nil
}
func (f *fakeStore) ListDevices(ctx context.Context, platforms []vulnassess.Platform, ids []int64) ([]*vulnassess.Device, error) {
	return nil, nil
}
func (f *fakeStore) ApplyDiscovery(ctx context.Context, deviceID int64, snap vulnassess.DeviceSnapshot) error {
	return nil
}
func (f *fakeStore) FailDiscovery(ctx context.Context, deviceID int64, reason string) error {
	return nil
}
func (f *fakeStore) InsertScanResult(ctx context.Context, deviceID int64, result *vulnassess.ScanResult) error {
	return nil
}
func (f *fakeStore) GetScanResult(ctx context.Context, scanID string) (*vulnassess.ScanResult, error) {
	return nil, nil
}
func (f *fakeStore) Close() error { return nil }
