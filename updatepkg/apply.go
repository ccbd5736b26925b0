package updatepkg

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/quay/vulnassess"
	"github.com/quay/vulnassess/store"
)

// RecordError pairs a malformed or rejected record with its line number
// and the reason it was skipped (§6.1 step 3).
type RecordError struct {
	Line   int
	Record string
	Reason string
}

func (e RecordError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// Report is the outcome of applying an update package (§6.1).
type Report struct {
	Inserted int
	Updated  int
	Skipped  int
	Errors   []RecordError
}

// loader streams labeled_update.jsonl one line at a time with a
// Next/Entry iterator, one JSON object per line; Entry returns the
// current record together with its decode error, if any.
type loader struct {
	sc   *bufio.Scanner
	line int
	cur  rawRecord
	err  error
}

func newLoader(r io.Reader) *loader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &loader{sc: sc}
}

// Next reports whether there's a record to process, decoding it
// eagerly so a parse failure is reported by the following Entry call.
func (l *loader) Next() bool {
	for l.sc.Scan() {
		l.line++
		line := l.sc.Bytes()
		if len(bufTrim(line)) == 0 {
			continue
		}
		var rec rawRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			l.err = RecordError{Line: l.line, Record: string(line), Reason: err.Error()}
			l.cur = rawRecord{}
			return true
		}
		l.cur = rec
		l.err = nil
		return true
	}
	return false
}

func (l *loader) Entry() (rawRecord, error) {
	return l.cur, l.err
}

func (l *loader) Line() int {
	return l.line
}

func bufTrim(b []byte) []byte {
	i, j := 0, len(b)
	for i < j && (b[i] == ' ' || b[i] == '\t') {
		i++
	}
	for j > i && (b[j-1] == ' ' || b[j-1] == '\t' || b[j-1] == '\r') {
		j--
	}
	return b[i:j]
}

// Apply streams pkg's records against s: new external_ids are inserted,
// existing ones get their labels updated when the incoming labels
// differ, and malformed records are skipped with a recorded error
// without aborting the batch (§6.1).
func Apply(ctx context.Context, s store.Store, pkg *Package, taxonomy map[vulnassess.Platform]map[string]string) (*Report, error) {
	rc, err := pkg.Records()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	report := &Report{}
	ld := newLoader(rc)
	for ld.Next() {
		rec, err := ld.Entry()
		if err != nil {
			var re RecordError
			if errors.As(err, &re) {
				report.Skipped++
				report.Errors = append(report.Errors, re)
				continue
			}
			return report, err
		}

		v, rejectedLabels, err := rec.resolve(taxonomy)
		if err != nil {
			report.Skipped++
			report.Errors = append(report.Errors, RecordError{Line: ld.Line(), Reason: err.Error()})
			continue
		}
		for _, l := range rejectedLabels {
			slog.WarnContext(ctx, "dropping label outside platform taxonomy", "external_id", v.ExternalID, "label", l, "platform", v.Platform)
		}

		if err := applyOne(ctx, s, v, report); err != nil {
			report.Skipped++
			report.Errors = append(report.Errors, RecordError{Line: ld.Line(), Record: v.ExternalID, Reason: err.Error()})
		}
	}
	return report, nil
}

func applyOne(ctx context.Context, s store.Store, v *vulnassess.Vulnerability, report *Report) error {
	existing, err := s.QueryByAdvisory(ctx, v.ExternalID, v.Platform)
	if err != nil {
		return err
	}
	if existing == nil {
		if err := s.InsertVulnerability(ctx, v); err != nil {
			if errors.Is(err, vulnassess.ErrDuplicateExternalID) {
				// Lost a race with a concurrent apply; re-fetch and treat
				// as an update instead.
				winner, rerr := s.QueryByAdvisory(ctx, v.ExternalID, v.Platform)
				if rerr != nil {
					return rerr
				}
				return updateIfChanged(ctx, s, winner, v, report)
			}
			return err
		}
		report.Inserted++
		return nil
	}
	return updateIfChanged(ctx, s, existing, v, report)
}

func updateIfChanged(ctx context.Context, s store.Store, existing *vulnassess.Vulnerability, incoming *vulnassess.Vulnerability, report *Report) error {
	if existing != nil && labelsEqual(existing.Labels, incoming.Labels) {
		return nil
	}
	vulnID := incoming.VulnID
	if existing != nil {
		vulnID = existing.VulnID
	}
	if err := s.UpdateVulnerabilityLabels(ctx, vulnID, incoming.Labels, vulnassess.LabelsSourceImported); err != nil {
		return err
	}
	report.Updated++
	return nil
}

func labelsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, l := range a {
		seen[l]++
	}
	for _, l := range b {
		seen[l]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}
