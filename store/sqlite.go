package store

import (
	"context"
	"database/sql"
	"encoding/json"
	_ "embed"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"sync"
	"time"

	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/sqlite3"
	_ "modernc.org/sqlite" // register the sqlite driver

	"github.com/quay/vulnassess"
	"github.com/quay/vulnassess/telemetry"
)

//go:embed sql/schema.sql
var schemaSQL string

const timeLayout = time.RFC3339Nano

// SQLiteStore is the embedded, single-writer/many-reader implementation
// of Store, backed by modernc.org/sqlite with WAL journaling (§4.2).
type SQLiteStore struct {
	db *sql.DB

	// writeMu serializes application-level write transactions. SQLite's
	// own file locking already does this, but holding this first lets the
	// bounded-retry loop apply backoff without hammering the file lock.
	writeMu sync.Mutex

	metrics *telemetry.Metrics
}

// SetMetrics attaches m so withWriteTx can report bounded write retries.
// A nil m (the default) disables the metric, same as every other
// component in this module.
func (s *SQLiteStore) SetMetrics(m *telemetry.Metrics) {
	s.metrics = m
}

// Open opens (creating if necessary) the named SQLite database file and
// applies the schema.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	u := url.URL{
		Scheme: "file",
		Opaque: path,
		RawQuery: url.Values{
			"_pragma": {
				"journal_mode(WAL)",
				"busy_timeout(5000)",
				"foreign_keys(1)",
			},
		}.Encode(),
	}
	db, err := sql.Open("sqlite", u.String())
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)

// withWriteTx runs fn in a transaction, making up to 3 attempts with
// doubling backoff between them on a busy database before giving up with
// vulnassess.ErrStoreBusy (§4.2, §5).
func (s *SQLiteStore) withWriteTx(ctx context.Context, fn func(*sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	backoff := 50 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			s.metrics.StoreRetried()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			lastErr = err
			if isBusy(err) {
				continue
			}
			return err
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			if isBusy(err) {
				lastErr = err
				continue
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			if isBusy(err) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("%w: %v", vulnassess.ErrStoreBusy, lastErr)
}

func isBusy(err error) bool {
	return err != nil && (errContains(err, "SQLITE_BUSY") || errContains(err, "database is locked"))
}

func errContains(err error, sub string) bool {
	msg := err.Error()
	for i := 0; i+len(sub) <= len(msg); i++ {
		if msg[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func versionString(v *vulnassess.Version) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.String(), Valid: true}
}

func parseVersionPtr(ns sql.NullString) (*vulnassess.Version, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	v, err := vulnassess.Normalize(ns.String)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// InsertVulnerability implements Store.
func (s *SQLiteStore) InsertVulnerability(ctx context.Context, v *vulnassess.Vulnerability) error {
	if err := v.Validate(); err != nil {
		return err
	}
	labelsJSON, err := json.Marshal(v.Labels)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.LastModified = now

	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO vulnerabilities (
				external_id, kind, platform, hardware_model, severity,
				headline, summary, status, advisory_url,
				affected_versions_raw, pattern_kind, version_min, version_max, fixed_version,
				labels_json, labels_source, created_at, last_modified
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			v.ExternalID, string(v.Kind), string(v.Platform), v.HardwareModel, int(v.Severity),
			v.Headline, v.Summary, v.Status, v.AdvisoryURL,
			v.AffectedVersionsRaw, string(v.PatternKind), versionString(v.VersionMin), versionString(v.VersionMax), versionString(v.FixedVersion),
			string(labelsJSON), string(v.LabelsSource), v.CreatedAt.Format(timeLayout), v.LastModified.Format(timeLayout),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", vulnassess.ErrDuplicateExternalID, v.ExternalID)
			}
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		v.VulnID = id

		if v.PatternKind == vulnassess.PatternExplicit {
			for _, e := range v.ExplicitList {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO version_index (vuln_id, normalized_version) VALUES (?,?)`,
					id, e.String()); err != nil {
					return err
				}
			}
		}
		for _, l := range v.Labels {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO label_index (vuln_id, label) VALUES (?,?)`, id, l); err != nil {
				return err
			}
		}
		return nil
	})
}

func isUniqueViolation(err error) bool {
	return errContains(err, "UNIQUE constraint failed")
}

// UpdateVulnerabilityLabels implements Store.
func (s *SQLiteStore) UpdateVulnerabilityLabels(ctx context.Context, vulnID int64, labels []string, source vulnassess.LabelsSource) error {
	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		return err
	}
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE vulnerabilities SET labels_json = ?, labels_source = ?, last_modified = ? WHERE vuln_id = ?`,
			string(labelsJSON), string(source), time.Now().UTC().Format(timeLayout), vulnID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &vulnassess.Error{Kind: vulnassess.ErrInvalid, Op: "UpdateVulnerabilityLabels", Message: "no such vuln_id"}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM label_index WHERE vuln_id = ?`, vulnID); err != nil {
			return err
		}
		for _, l := range labels {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO label_index (vuln_id, label) VALUES (?,?)`, vulnID, l); err != nil {
				return err
			}
		}
		return nil
	})
}

const vulnColumns = `vuln_id, external_id, kind, platform, hardware_model, severity,
	headline, summary, status, advisory_url,
	affected_versions_raw, pattern_kind, version_min, version_max, fixed_version,
	labels_json, labels_source, created_at, last_modified`

func scanVulnerability(row interface {
	Scan(dest ...any) error
}) (*vulnassess.Vulnerability, error) {
	var v vulnassess.Vulnerability
	var severity int
	var versionMin, versionMax, fixedVersion sql.NullString
	var labelsJSON string
	var createdAt, lastModified string

	if err := row.Scan(
		&v.VulnID, &v.ExternalID, &v.Kind, &v.Platform, &v.HardwareModel, &severity,
		&v.Headline, &v.Summary, &v.Status, &v.AdvisoryURL,
		&v.AffectedVersionsRaw, &v.PatternKind, &versionMin, &versionMax, &fixedVersion,
		&labelsJSON, &v.LabelsSource, &createdAt, &lastModified,
	); err != nil {
		return nil, err
	}
	v.Severity = vulnassess.Severity(severity)
	var err error
	if v.VersionMin, err = parseVersionPtr(versionMin); err != nil {
		return nil, err
	}
	if v.VersionMax, err = parseVersionPtr(versionMax); err != nil {
		return nil, err
	}
	if v.FixedVersion, err = parseVersionPtr(fixedVersion); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(labelsJSON), &v.Labels); err != nil {
		return nil, err
	}
	v.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	v.LastModified, _ = time.Parse(timeLayout, lastModified)

	if v.PatternKind == vulnassess.PatternExplicit {
		// explicit_list is reconstructed from version_index by the caller,
		// which has the transaction/connection at hand; scanVulnerability
		// only reconstructs the fields stored directly on the row.
		_ = err
	}
	return &v, nil
}

// QueryByPlatform implements Store.
func (s *SQLiteStore) QueryByPlatform(ctx context.Context, platform vulnassess.Platform) (iter.Seq[*vulnassess.Vulnerability], func() error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+vulnColumns+` FROM vulnerabilities WHERE platform = ? ORDER BY severity ASC, external_id ASC`,
		string(platform))
	if err != nil {
		return func(func(*vulnassess.Vulnerability) bool) {}, func() error { return err }
	}

	var final error
	seq := func(yield func(*vulnassess.Vulnerability) bool) {
		defer rows.Close()
		for rows.Next() {
			v, err := scanVulnerability(rows)
			if err != nil {
				final = err
				return
			}
			if v.PatternKind == vulnassess.PatternExplicit {
				list, err := s.explicitList(ctx, v.VulnID)
				if err != nil {
					final = err
					return
				}
				v.ExplicitList = list
			}
			if !yield(v) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			final = err
		}
	}
	return seq, func() error { return final }
}

func (s *SQLiteStore) explicitList(ctx context.Context, vulnID int64) ([]vulnassess.Version, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT normalized_version FROM version_index WHERE vuln_id = ? ORDER BY normalized_version`, vulnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []vulnassess.Version
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		v, err := vulnassess.Normalize(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// QueryByAdvisory implements Store.
func (s *SQLiteStore) QueryByAdvisory(ctx context.Context, externalID string, platform vulnassess.Platform) (*vulnassess.Vulnerability, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+vulnColumns+` FROM vulnerabilities WHERE external_id = ? AND platform = ?`,
		externalID, string(platform))
	v, err := scanVulnerability(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if v.PatternKind == vulnassess.PatternExplicit {
		list, err := s.explicitList(ctx, v.VulnID)
		if err != nil {
			return nil, err
		}
		v.ExplicitList = list
	}
	return v, nil
}

// InsertDevice implements Store.
func (s *SQLiteStore) InsertDevice(ctx context.Context, stub vulnassess.DeviceStub) (*vulnassess.Device, error) {
	d := &vulnassess.Device{DeviceStub: stub, DiscoveryStatus: vulnassess.DiscoveryPending}
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO devices (external_id, hostname, ip, location, device_type, source, discovery_status)
			VALUES (?,?,?,?,?,?,?)`,
			stub.ExternalID, stub.Hostname, stub.IP, stub.Location, stub.DeviceType, string(stub.Source), string(vulnassess.DiscoveryPending))
		if err != nil {
			if isUniqueViolation(err) {
				return &vulnassess.Error{Kind: vulnassess.ErrConflict, Op: "InsertDevice", Message: "device already exists"}
			}
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		d.DeviceID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

const deviceColumns = `device_id, external_id, hostname, ip, location, device_type, source,
	platform, version, hardware_model, features_json,
	discovery_status, discovery_error, discovered_at, last_scan_id, previous_scan_id`

func (s *SQLiteStore) scanDevice(ctx context.Context, row interface{ Scan(dest ...any) error }) (*vulnassess.Device, error) {
	var d vulnassess.Device
	var platform, version, featuresJSON string
	var discoveredAt sql.NullString
	var lastScanID, prevScanID sql.NullString

	if err := row.Scan(
		&d.DeviceID, &d.ExternalID, &d.Hostname, &d.IP, &d.Location, &d.DeviceType, &d.Source,
		&platform, &version, &d.HardwareModel, &featuresJSON,
		&d.DiscoveryStatus, &d.DiscoveryError, &discoveredAt, &lastScanID, &prevScanID,
	); err != nil {
		return nil, err
	}
	d.Platform = vulnassess.Platform(platform)
	if version != "" {
		v, err := vulnassess.Normalize(version)
		if err != nil {
			return nil, err
		}
		d.Version = v
	}
	if err := json.Unmarshal([]byte(featuresJSON), &d.Features); err != nil {
		return nil, err
	}
	if discoveredAt.Valid {
		d.DiscoveredAt, _ = time.Parse(timeLayout, discoveredAt.String)
	}
	if lastScanID.Valid {
		sr, err := s.GetScanResult(ctx, lastScanID.String)
		if err == nil {
			d.LastScan = &sr.ScanSummary
		}
	}
	if prevScanID.Valid {
		sr, err := s.GetScanResult(ctx, prevScanID.String)
		if err == nil {
			d.PreviousScan = &sr.ScanSummary
		}
	}
	return &d, nil
}

// GetDevice implements Store.
func (s *SQLiteStore) GetDevice(ctx context.Context, hostname, ip string) (*vulnassess.Device, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE hostname = ? AND ip = ?`, hostname, ip)
	d, err := s.scanDevice(ctx, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

// GetDeviceByID implements Store.
func (s *SQLiteStore) GetDeviceByID(ctx context.Context, deviceID int64) (*vulnassess.Device, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE device_id = ?`, deviceID)
	d, err := s.scanDevice(ctx, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

// ListDevices implements Store, building the WHERE clause dynamically
// with goqu since the platform/id filters are each optional (§4.5 a).
func (s *SQLiteStore) ListDevices(ctx context.Context, platforms []vulnassess.Platform, ids []int64) ([]*vulnassess.Device, error) {
	dialect := goqu.Dialect("sqlite3")
	sel := dialect.From("devices").Select(splitColumns(deviceColumns)...)

	if len(platforms) > 0 {
		vals := make([]any, len(platforms))
		for i, p := range platforms {
			vals[i] = string(p)
		}
		sel = sel.Where(goqu.C("platform").In(vals...))
	}
	if len(ids) > 0 {
		vals := make([]any, len(ids))
		for i, id := range ids {
			vals[i] = id
		}
		sel = sel.Where(goqu.C("device_id").In(vals...))
	}
	sel = sel.Where(goqu.C("discovery_status").Eq(string(vulnassess.DiscoverySuccess)))

	query, args, err := sel.ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*vulnassess.Device
	for rows.Next() {
		d, err := s.scanDevice(ctx, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func splitColumns(cols string) []any {
	var out []any
	start := 0
	for i := 0; i <= len(cols); i++ {
		if i == len(cols) || cols[i] == ',' {
			col := cols[start:i]
			for len(col) > 0 && (col[0] == ' ' || col[0] == '\t' || col[0] == '\n') {
				col = col[1:]
			}
			for len(col) > 0 && (col[len(col)-1] == ' ' || col[len(col)-1] == '\t' || col[len(col)-1] == '\n') {
				col = col[:len(col)-1]
			}
			if col != "" {
				out = append(out, col)
			}
			start = i + 1
		}
	}
	return out
}

// ApplyDiscovery implements Store.
func (s *SQLiteStore) ApplyDiscovery(ctx context.Context, deviceID int64, snap vulnassess.DeviceSnapshot) error {
	featuresJSON, err := json.Marshal(snap.FeaturesPresent)
	if err != nil {
		return err
	}
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE devices SET
				platform = ?, version = ?, hardware_model = ?, features_json = ?,
				discovery_status = ?, discovery_error = '', discovered_at = ?
			WHERE device_id = ?`,
			string(snap.Platform), snap.Version, snap.HardwareModel, string(featuresJSON),
			string(vulnassess.DiscoverySuccess), time.Now().UTC().Format(timeLayout), deviceID)
		return err
	})
}

// FailDiscovery implements Store.
func (s *SQLiteStore) FailDiscovery(ctx context.Context, deviceID int64, reason string) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE devices SET discovery_status = ?, discovery_error = ? WHERE device_id = ?`,
			string(vulnassess.DiscoveryFailed), reason, deviceID)
		return err
	})
}

// InsertScanResult implements Store, rotating last_scan_id to
// previous_scan_id in the same transaction as the write (§4.2, §5).
func (s *SQLiteStore) InsertScanResult(ctx context.Context, deviceID int64, result *vulnassess.ScanResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scan_results (scan_id, device_id, body_json, timestamp) VALUES (?,?,?,?)`,
			result.ScanID, deviceID, string(body), result.Timestamp.UTC().Format(timeLayout)); err != nil {
			return err
		}
		var curLast sql.NullString
		if err := tx.QueryRowContext(ctx, `SELECT last_scan_id FROM devices WHERE device_id = ?`, deviceID).Scan(&curLast); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE devices SET previous_scan_id = ?, last_scan_id = ? WHERE device_id = ?`,
			curLast, result.ScanID, deviceID)
		return err
	})
}

// GetScanResult implements Store.
func (s *SQLiteStore) GetScanResult(ctx context.Context, scanID string) (*vulnassess.ScanResult, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body_json FROM scan_results WHERE scan_id = ?`, scanID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var result vulnassess.ScanResult
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		return nil, err
	}
	return &result, nil
}
