package decision

import "time"

// Reason explains why a voter may not cast a ballot.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonNotYetAvailable   Reason = "not_yet_available"
	ReasonVotingClosed      Reason = "voting_closed"
	ReasonNoAttendance      Reason = "no_attendance"
	ReasonAttendanceExpired Reason = "attendance_expired"
	ReasonAbsent            Reason = "absent"
	ReasonAlreadyVoted      Reason = "already_voted"
	ReasonNotMember         Reason = "not_a_member"
)

type Verdict struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`
}

// Err returns nil for an allowed verdict and an *IneligibleError otherwise.
func (v Verdict) Err() error {
	if v.Allowed {
		return nil
	}
	return &IneligibleError{Reason: v.Reason}
}

func deny(reason Reason) Verdict {
	return Verdict{Allowed: false, Reason: reason}
}

// Gate decides whether a voter may cast a ballot right now.
type Gate struct {
	Window time.Duration
}

func NewGate(window time.Duration) Gate {
	if window <= 0 {
		window = AttendanceWindow
	}
	return Gate{Window: window}
}

// Check applies the rules in order: the proposal is available, voting is
// open, the voter's latest attendance entry is present and recorded in
// (now-Window, now], and the voter has no ballot yet.
func (g Gate) Check(p Proposal, attendance []AttendanceRecord, hasVoted bool, now time.Time) Verdict {
	if p.AvailableAt.After(now) {
		return deny(ReasonNotYetAvailable)
	}
	if p.VotingClosed {
		return deny(ReasonVotingClosed)
	}

	latest, ok := Latest(attendance)
	if !ok {
		return deny(ReasonNoAttendance)
	}
	if !g.withinWindow(latest.RecordedAt, now) {
		return deny(ReasonAttendanceExpired)
	}
	if !latest.Present {
		return deny(ReasonAbsent)
	}

	if hasVoted {
		return deny(ReasonAlreadyVoted)
	}
	return Verdict{Allowed: true}
}

func (g Gate) withinWindow(recordedAt, now time.Time) bool {
	window := g.Window
	if window <= 0 {
		window = AttendanceWindow
	}
	return recordedAt.After(now.Add(-window)) && !recordedAt.After(now)
}
