// Package model holds the event types shared by the ingestion packages.
package model

import (
	"strings"
	"time"
)

// AuthMethod is how an employee authenticated at a terminal.
type AuthMethod string

const (
	AuthCard        AuthMethod = "card"
	AuthFingerprint AuthMethod = "fingerprint"
	AuthFace        AuthMethod = "face"
	AuthUnknown     AuthMethod = "unknown"
)

// vendor minor codes for successful authentications
const (
	minorCardPass        = 1
	minorFingerprintPass = 38
	minorFacePass        = 75
)

// AuthMethodFromMinor maps a vendor minor event code to an [AuthMethod].
func AuthMethodFromMinor(minor int) AuthMethod {
	switch minor {
	case minorCardPass:
		return AuthCard
	case minorFingerprintPass:
		return AuthFingerprint
	case minorFacePass:
		return AuthFace
	default:
		return AuthUnknown
	}
}

// Identity uniquely names one authentication event across all terminals.
type Identity string

// NewIdentity builds the terminal-qualified identity "terminal:employee:time".
// The raw device time string is used verbatim so the identity is stable
// across repeated deliveries regardless of how the time parses.
func NewIdentity(terminalID, employeeID, rawTime string) Identity {
	var b strings.Builder
	b.Grow(len(terminalID) + len(employeeID) + len(rawTime) + 2)
	b.WriteString(terminalID)
	b.WriteByte(':')
	b.WriteString(employeeID)
	b.WriteByte(':')
	b.WriteString(rawTime)
	return Identity(b.String())
}

// RawRecord is one event record as returned by a terminal's search API.
type RawRecord struct {
	Time             string
	EmployeeNo       string
	Name             string
	PictureURL       string
	Major            int
	Minor            int
	AttendanceStatus string
	Label            string
}

// AuthenticationEvent is a logically unique punch reported by a terminal.
type AuthenticationEvent struct {
	Identity         Identity   `json:"identity"`
	TerminalID       string     `json:"terminal_id"`
	EmployeeID       string     `json:"employee_id"`
	EmployeeName     string     `json:"employee_name"`
	Timestamp        time.Time  `json:"timestamp"`
	RawTime          string     `json:"raw_time"`
	PictureRef       string     `json:"picture_ref,omitempty"`
	AuthMethod       AuthMethod `json:"auth_method"`
	AttendanceStatus string     `json:"attendance_status,omitempty"`
	AttendanceLabel  string     `json:"attendance_label,omitempty"`
	Major            int        `json:"major"`
	Minor            int        `json:"minor"`
}

// deviceTimeLayouts are tried in order when parsing a terminal timestamp.
var deviceTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseDeviceTime parses a terminal timestamp. Times without an offset are
// interpreted in loc. ok is false when no known layout matches.
func ParseDeviceTime(raw string, loc *time.Location) (t time.Time, ok bool) {
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range deviceTimeLayouts {
		parsed, err := time.ParseInLocation(layout, raw, loc)
		if err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// NewEvent converts a raw record into an event attributed to terminalID.
// Timestamp is left zero when the device time cannot be parsed.
func NewEvent(terminalID string, rec RawRecord) AuthenticationEvent {
	ts, _ := ParseDeviceTime(rec.Time, nil)
	return AuthenticationEvent{
		Identity:         NewIdentity(terminalID, rec.EmployeeNo, rec.Time),
		TerminalID:       terminalID,
		EmployeeID:       rec.EmployeeNo,
		EmployeeName:     rec.Name,
		Timestamp:        ts,
		RawTime:          rec.Time,
		PictureRef:       rec.PictureURL,
		AuthMethod:       AuthMethodFromMinor(rec.Minor),
		AttendanceStatus: rec.AttendanceStatus,
		AttendanceLabel:  rec.Label,
		Major:            rec.Major,
		Minor:            rec.Minor,
	}
}
