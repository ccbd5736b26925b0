package vulnassess

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
)

// Severity is the 1-6 integer scale used by §3: 1 is Critical, and the
// value climbs as impact falls off. Two levels below "Low" are kept for
// platforms that report additional granularity (Informational, None)
// without forcing every caller to special-case them.
type Severity int

const (
	SeverityCritical      Severity = 1
	SeverityHigh          Severity = 2
	SeverityMedium        Severity = 3
	SeverityLow           Severity = 4
	SeverityInformational Severity = 5
	SeverityNone          Severity = 6
)

// CriticalHigh reports whether the severity belongs to the
// critical_high bucket ScanEngine groups results into (§4.4 step 6).
func (s Severity) CriticalHigh() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// Valid reports whether s is in the defined 1-6 range.
func (s Severity) Valid() bool {
	return s >= SeverityCritical && s <= SeverityNone
}

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "Critical"
	case SeverityHigh:
		return "High"
	case SeverityMedium:
		return "Medium"
	case SeverityLow:
		return "Low"
	case SeverityInformational:
		return "Informational"
	case SeverityNone:
		return "None"
	default:
		return "Unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// ParseSeverity accepts either an integer string ("1".."6") or one of the
// named levels used by the offline update package format (§6.1): the
// record's severity may arrive as an integer or as one of {Critical,
// High, Medium, Low}, mapped to 1/2/3/4 respectively.
func ParseSeverity(raw string) (Severity, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		s := Severity(n)
		if !s.Valid() {
			return 0, &Error{Kind: ErrInvalid, Op: "ParseSeverity", Message: fmt.Sprintf("out of range: %d", n)}
		}
		return s, nil
	}
	switch strings.ToLower(raw) {
	case "critical":
		return SeverityCritical, nil
	case "high":
		return SeverityHigh, nil
	case "medium", "moderate":
		return SeverityMedium, nil
	case "low":
		return SeverityLow, nil
	case "informational", "info":
		return SeverityInformational, nil
	case "none":
		return SeverityNone, nil
	default:
		return 0, &Error{Kind: ErrInvalid, Op: "ParseSeverity", Message: fmt.Sprintf("unrecognized severity %q", raw)}
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Value implements driver.Valuer so Severity can be stored as a SQLite
// INTEGER column directly.
func (s Severity) Value() (driver.Value, error) {
	return int64(s), nil
}

// Scan implements sql.Scanner.
func (s *Severity) Scan(i any) error {
	switch v := i.(type) {
	case int64:
		*s = Severity(v)
	case []byte:
		p, err := ParseSeverity(string(v))
		if err != nil {
			return err
		}
		*s = p
	case string:
		p, err := ParseSeverity(v)
		if err != nil {
			return err
		}
		*s = p
	default:
		return fmt.Errorf("vulnassess: unable to scan Severity from %T", i)
	}
	return nil
}
