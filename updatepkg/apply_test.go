package updatepkg

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quay/vulnassess"
	"github.com/quay/vulnassess/store"
)

// fakeStore is a minimal in-memory store.Store for exercising Apply.
type fakeStore struct {
	byExternalID map[string]*vulnassess.Vulnerability
	nextID       int64
}

var _ store.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{byExternalID: make(map[string]*vulnassess.Vulnerability)}
}

func (f *fakeStore) InsertVulnerability(ctx context.Context, v *vulnassess.Vulnerability) error {
	if _, ok := f.byExternalID[v.ExternalID]; ok {
		return vulnassess.ErrDuplicateExternalID
	}
	f.nextID++
	v.VulnID = f.nextID
	f.byExternalID[v.ExternalID] = v
	return nil
}

func (f *fakeStore) UpdateVulnerabilityLabels(ctx context.Context, vulnID int64, labels []string, source vulnassess.LabelsSource) error {
	for _, v := range f.byExternalID {
		if v.VulnID == vulnID {
			v.Labels = labels
			v.LabelsSource = source
			return nil
		}
	}
	return fmt.Errorf("fakeStore: no such vuln_id %d", vulnID)
}

func (f *fakeStore) QueryByPlatform(ctx context.Context, platform vulnassess.Platform) (iter.Seq[*vulnassess.Vulnerability], func() error) {
	return func(yield func(*vulnassess.Vulnerability) bool) {}, func() error { return nil }
}

func (f *fakeStore) QueryByAdvisory(ctx context.Context, externalID string, platform vulnassess.Platform) (*vulnassess.Vulnerability, error) {
	if v, ok := f.byExternalID[externalID]; ok {
		return v, nil
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

// buildPackage writes a zip update package to t.TempDir() containing the
// given jsonl body, with a correctly computed manifest sha256, and
// returns its path.
func buildPackage(t *testing.T, jsonl string) string {
	t.Helper()
	sum := sha256.Sum256([]byte(jsonl))
	manifest := Manifest{
		SchemaVersion: "1.0",
		Created:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		File:          "labeled_update.jsonl",
		SHA256:        hex.EncodeToString(sum[:]),
		RecordCount:   0,
	}
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	mw, err := zw.Create("manifest.json")
	if err != nil {
		t.Fatalf("create manifest entry: %v", err)
	}
	if _, err := mw.Write(manifestJSON); err != nil {
		t.Fatalf("write manifest entry: %v", err)
	}
	rw, err := zw.Create("labeled_update.jsonl")
	if err != nil {
		t.Fatalf("create record entry: %v", err)
	}
	if _, err := rw.Write([]byte(jsonl)); err != nil {
		t.Fatalf("write record entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}

	path := filepath.Join(t.TempDir(), "update.zip")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write package: %v", err)
	}
	return path
}

const sampleJSONL = `{"advisory_id":"cisco-sa-1","kind":"psirt","platform":"IOS-XE","headline":"CoPP bypass","summary":"x.","affected_versions":"17.9.x","severity":"High","labels":["SEC_CoPP"]}
{"bug_id":"CSCab12345","kind":"bug","platform":"IOS-XE","headline":"crash on malformed packet","summary":"y.","affected_versions":"17.1.1","severity":2,"labels":["STAB_CrashDoS"]}
not valid json at all
{"bug_id":"CSCab99999","kind":"bug","platform":"BOGUS","headline":"z","summary":"z.","affected_versions":"1.0.0","severity":1,"labels":[]}
`

func TestApplyInsertsAndSkipsMalformed(t *testing.T) {
	path := buildPackage(t, sampleJSONL)
	pkg, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pkg.Close()

	s := newFakeStore()
	report, err := Apply(context.Background(), s, pkg, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if report.Inserted != 2 {
		t.Errorf("got inserted=%d, want 2", report.Inserted)
	}
	if report.Skipped != 2 {
		t.Errorf("got skipped=%d, want 2 (bad json + bad platform)", report.Skipped)
	}
	if len(report.Errors) != 2 {
		t.Errorf("got %d errors, want 2", len(report.Errors))
	}
	if _, ok := s.byExternalID["cisco-sa-1"]; !ok {
		t.Error("expected cisco-sa-1 to be inserted")
	}
}

func TestApplyUnchangedReplayIsNoOp(t *testing.T) {
	path := buildPackage(t, sampleJSONL)
	pkg, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pkg.Close()

	s := newFakeStore()
	if _, err := Apply(context.Background(), s, pkg, nil); err != nil {
		t.Fatalf("first apply: %v", err)
	}

	pkg2, err := Open(path, false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer pkg2.Close()

	// Same external_ids, same labels: nothing should change on replay.
	report, err := Apply(context.Background(), s, pkg2, nil)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if report.Inserted != 0 || report.Updated != 0 {
		t.Errorf("got inserted=%d updated=%d, want 0/0 on an unchanged replay", report.Inserted, report.Updated)
	}
}

// buildMismatchedPackage writes a package whose manifest sha256 was
// computed for manifestContent but whose labeled_update.jsonl entry
// actually holds actualContent, simulating a tampered or corrupted
// archive.
func buildMismatchedPackage(t *testing.T, manifestContent, actualContent string) string {
	t.Helper()
	sum := sha256.Sum256([]byte(manifestContent))
	manifest := Manifest{
		SchemaVersion: "1.0",
		File:          "labeled_update.jsonl",
		SHA256:        hex.EncodeToString(sum[:]),
	}
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	mw, err := zw.Create("manifest.json")
	if err != nil {
		t.Fatalf("create manifest entry: %v", err)
	}
	if _, err := mw.Write(manifestJSON); err != nil {
		t.Fatalf("write manifest entry: %v", err)
	}
	rw, err := zw.Create("labeled_update.jsonl")
	if err != nil {
		t.Fatalf("create record entry: %v", err)
	}
	if _, err := rw.Write([]byte(actualContent)); err != nil {
		t.Fatalf("write record entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}

	path := filepath.Join(t.TempDir(), "update.zip")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write package: %v", err)
	}
	return path
}

func TestOpenRejectsHashMismatch(t *testing.T) {
	path := buildMismatchedPackage(t, sampleJSONL, "tampered\n")
	if _, err := Open(path, false); err == nil {
		t.Fatal("expected a hash-mismatch error")
	}
}
