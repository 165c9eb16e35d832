package attendance

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrSubjectNotFound = errors.New("subject not found")
	ErrInvalidSubject  = errors.New("invalid subject")
	ErrInvalidMethod   = errors.New("invalid method")
	ErrInvalidStatus   = errors.New("invalid status")
)

// SubjectType is the closed set of subject kinds tracked for attendance.
type SubjectType string

const (
	Student  SubjectType = "student"
	Employee SubjectType = "employee"
)

func (t SubjectType) Valid() bool { return t == Student || t == Employee }

// Subject identifies a student or employee. The (ID, Type) pair is the identity.
type Subject struct {
	ID   string      `db:"subject_id" json:"subject_id"`
	Type SubjectType `db:"subject_type" json:"subject_type"`
}

// Key renders the subject as "type:id".
func (s Subject) Key() string { return string(s.Type) + ":" + s.ID }

// Validate checks that the subject has an id and a known type.
func (s Subject) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: subject_id required", ErrInvalidSubject)
	}
	if !s.Type.Valid() {
		return fmt.Errorf("%w: subject_type %q", ErrInvalidSubject, s.Type)
	}
	return nil
}

// Status is the attendance state of a subject for one day.
type Status string

const (
	Absent  Status = "absent"
	Late    Status = "late"
	Present Status = "present"
	Excused Status = "excused"
)

func (s Status) Valid() bool {
	switch s {
	case Absent, Late, Present, Excused:
		return true
	}
	return false
}

// Rank orders statuses for merging: absent < late < present.
// Excused has no rank; ok is false for it.
func (s Status) Rank() (rank int, ok bool) {
	switch s {
	case Absent:
		return 0, true
	case Late:
		return 1, true
	case Present:
		return 2, true
	}
	return -1, false
}

// Method is the provenance of a record update.
type Method string

const (
	Manual          Method = "manual"
	FaceRecognition Method = "face_recognition"
	System          Method = "system"
)

func (m Method) Valid() bool {
	return m == Manual || m == FaceRecognition || m == System
}

// Record is the single current attendance row for a subject and calendar day.
type Record struct {
	ID         int64  `db:"id" json:"id"`
	ClientUUID string `db:"client_uuid" json:"client_uuid"`
	Subject
	Timestamp       time.Time  `db:"timestamp" json:"timestamp"`
	Status          Status     `db:"status" json:"status"`
	Method          Method     `db:"method" json:"method"`
	MatchConfidence *float64   `db:"match_confidence" json:"match_confidence,omitempty"`
	Synced          bool       `db:"synced" json:"synced"`
	Syncing         bool       `db:"syncing" json:"syncing"`
	UpdatedAt       *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// Validate checks a client-supplied record before it is stored.
func (r Record) Validate() error {
	if r.ClientUUID == "" {
		return errors.New("client_uuid required")
	}
	if err := r.Subject.Validate(); err != nil {
		return err
	}
	if r.Timestamp.IsZero() {
		return errors.New("timestamp required")
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, r.Status)
	}
	if !r.Method.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMethod, r.Method)
	}
	return nil
}

// ScanEvent is one piece of presence evidence.
type ScanEvent struct {
	Subject         Subject
	Method          Method
	MatchConfidence *float64
	// Timestamp defaults to the service clock when zero.
	Timestamp time.Time
	// Offline marks events produced while disconnected from the server; they skip
	// subject verification and are queued for sync.
	Offline bool
}

// Day is a calendar day in the configured location, as a half-open [Start, End) range.
type Day struct {
	Key   string
	Start time.Time
	End   time.Time
}

// DayOf returns the calendar day containing t in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.Local
	}
	lt := t.In(loc)
	start := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	return Day{
		Key:   start.Format(time.DateOnly),
		Start: start,
		End:   start.AddDate(0, 0, 1),
	}
}

// ParseDay parses a YYYY-MM-DD key in loc.
func ParseDay(key string, loc *time.Location) (Day, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(time.DateOnly, key, loc)
	if err != nil {
		return Day{}, fmt.Errorf("parse day %q: %w", key, err)
	}
	return DayOf(t, loc), nil
}
