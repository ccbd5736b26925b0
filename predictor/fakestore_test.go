package predictor

import (
	"context"
	"iter"
	"time"

	"github.com/quay/vulnassess"
	"github.com/quay/vulnassess/store"
)

type fakeStore struct {
	byExternalID map[string]*vulnassess.Vulnerability
}

var _ store.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{byExternalID: make(map[string]*vulnassess.Vulnerability)}
}

func (f *fakeStore) InsertVulnerability(ctx context.Context, v *vulnassess.Vulnerability) error {
	if _, ok := f.byExternalID[v.ExternalID]; ok {
		return vulnassess.ErrDuplicateExternalID
	}
	f.byExternalID[v.ExternalID] = v
	return nil
}

func (f *fakeStore) UpdateVulnerabilityLabels(ctx context.Context, vulnID int64, labels []string, source vulnassess.LabelsSource) error {
	return nil
}

func (f *fakeStore) QueryByPlatform(ctx context.Context, platform vulnassess.Platform) (iter.Seq[*vulnassess.Vulnerability], func() error) {
	return func(yield func(*vulnassess.Vulnerability) bool) {}, func() error { return nil }
}

func (f *fakeStore) QueryByAdvisory(ctx context.Context, externalID string, platform vulnassess.Platform) (*vulnassess.Vulnerability, error) {
	v, ok := f.byExternalID[externalID]
	if !ok {
		return nil, nil
	}
	return v, nil
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

// fakeEmbedder returns a fixed vector regardless of input, letting tests
// control similarity purely through the index contents.
type fakeEmbedder struct {
	vec [384]float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([384]float32, error) {
	return f.vec, f.err
}

// fakeLLM returns canned labels/confidence, or an error when forced.
type fakeLLM struct {
	labels     []string
	confidence float64
	err        error
}

func (f *fakeLLM) Predict(ctx context.Context, prompt string, deadline time.Time) ([]string, float64, error) {
	return f.labels, f.confidence, f.err
}
