// Package updatepkg implements the offline vulnerability update package
// format and its apply operation (§6.1): a zip archive carrying a
// manifest and a JSON-lines record stream, verified by sha256 before any
// record is applied to VulnStore.
package updatepkg

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/quay/vulnassess"
)

func init() {
	// klauspost/compress's flate decoder is a drop-in, faster replacement
	// for the stdlib one archive/zip otherwise falls back to.
	zip.RegisterDecompressor(zip.Deflate, flate.NewReader)
}

// Manifest is the package's manifest.json (§6.1).
type Manifest struct {
	SchemaVersion string    `json:"schema_version"`
	Created       time.Time `json:"created"`
	File          string    `json:"file"`
	SHA256        string    `json:"sha256"`
	Description   string    `json:"description,omitempty"`
	RecordCount   int       `json:"record_count"`
}

// Package wraps an opened update package archive.
type Package struct {
	zr       *zip.ReadCloser
	Manifest Manifest
}

// Open reads the manifest from an update package at path and verifies
// its record file's sha256 against the manifest unless skipHashCheck is
// set. A mismatch aborts with vulnassess.ErrHashMismatch-compatible
// wrapping, never partially applying the package.
func Open(path string, skipHashCheck bool) (*Package, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("updatepkg: open %s: %w", path, err)
	}

	manifestFile, err := findFile(zr, "manifest.json")
	if err != nil {
		zr.Close()
		return nil, err
	}
	var m Manifest
	if err := readJSON(manifestFile, &m); err != nil {
		zr.Close()
		return nil, fmt.Errorf("updatepkg: parse manifest: %w", err)
	}

	if !skipHashCheck {
		recordFile, err := findFile(zr, m.File)
		if err != nil {
			zr.Close()
			return nil, err
		}
		sum, err := sha256Of(recordFile)
		if err != nil {
			zr.Close()
			return nil, fmt.Errorf("updatepkg: hash %s: %w", m.File, err)
		}
		if sum != m.SHA256 {
			zr.Close()
			return nil, fmt.Errorf("updatepkg: %s sha256 %s does not match manifest %s: %w", m.File, sum, m.SHA256, vulnassess.ErrHashMismatch)
		}
	}

	return &Package{zr: zr, Manifest: m}, nil
}

// Close releases the underlying archive.
func (p *Package) Close() error {
	return p.zr.Close()
}

// Records opens a streaming reader over the package's record file.
func (p *Package) Records() (io.ReadCloser, error) {
	f, err := p.zr.Open(p.Manifest.File)
	if err != nil {
		return nil, fmt.Errorf("updatepkg: open %s: %w", p.Manifest.File, err)
	}
	return f, nil
}

func findFile(zr *zip.ReadCloser, name string) (io.ReadCloser, error) {
	for _, f := range zr.File {
		if f.Name == name {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("updatepkg: archive missing %s", name)
}

func readJSON(r io.ReadCloser, v any) error {
	defer r.Close()
	return json.NewDecoder(r).Decode(v)
}

func sha256Of(r io.ReadCloser) (string, error) {
	defer r.Close()
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
