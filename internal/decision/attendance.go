package decision

import "time"

// AttendanceWindow is how long a present roll-call entry keeps a voter eligible.
const AttendanceWindow = 3 * time.Hour

type AttendanceRecord struct {
	VoterID    string
	Present    bool
	RecordedAt time.Time
}

// Latest returns the most recently recorded entry.
func Latest(records []AttendanceRecord) (AttendanceRecord, bool) {
	var latest AttendanceRecord
	found := false
	for _, record := range records {
		if !found || record.RecordedAt.After(latest.RecordedAt) {
			latest = record
			found = true
		}
	}
	return latest, found
}
