package attendance

import (
	"fmt"
	"time"
)

// Settings are the school/office hours used to classify scans.
type Settings struct {
	StartTime            string `db:"start_time" json:"start_time"`
	EndTime              string `db:"end_time" json:"end_time"`
	LateThresholdMinutes int    `db:"late_threshold_minutes" json:"late_threshold_minutes"`
}

// DefaultSettings apply when no settings row exists or a field is malformed.
func DefaultSettings() Settings {
	return Settings{StartTime: "08:00", EndTime: "16:00", LateThresholdMinutes: 15}
}

// Normalize replaces malformed fields with their defaults.
func (s Settings) Normalize() Settings {
	def := DefaultSettings()
	if _, err := clockMinutes(s.StartTime); err != nil {
		s.StartTime = def.StartTime
	}
	if _, err := clockMinutes(s.EndTime); err != nil {
		s.EndTime = def.EndTime
	}
	if s.LateThresholdMinutes < 0 {
		s.LateThresholdMinutes = def.LateThresholdMinutes
	}
	return s
}

// Classify maps a scan instant to present, late or absent. Scans before start or after
// end are absent; up to start+threshold (inclusive) present; otherwise late.
func Classify(ts time.Time, s Settings, loc *time.Location) Status {
	if loc == nil {
		loc = time.Local
	}
	s = s.Normalize()
	lt := ts.In(loc)
	t := lt.Hour()*60 + lt.Minute()

	start, _ := clockMinutes(s.StartTime)
	end, _ := clockMinutes(s.EndTime)
	lateBound := start + s.LateThresholdMinutes

	switch {
	case t < start || t > end:
		return Absent
	case t <= lateBound:
		return Present
	default:
		return Late
	}
}

// clockMinutes parses HH:MM (or HH:MM:SS) into minutes since midnight.
func clockMinutes(v string) (int, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Hour()*60 + t.Minute(), nil
		}
	}
	return 0, fmt.Errorf("invalid clock time %q", v)
}
