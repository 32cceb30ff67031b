package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gavel/api/internal/decision"
	"gavel/api/internal/events"
	"gavel/api/internal/rbac"
	"gavel/api/internal/store"
	"gavel/api/internal/util"
)

type RecordAttendanceInput struct {
	VoterID     string `json:"voterId"`
	Present     bool   `json:"present"`
	CommitteeID string `json:"committeeId"`
}

// RecordAttendance writes a roll-call entry for a voter. Officers and admins
// may record anyone; a committee chair may record members of their committee.
// A second entry on the same day replaces the first.
func (s *Service) RecordAttendance(ctx context.Context, session Session, input RecordAttendanceInput) (store.AttendanceEntry, error) {
	voterID := strings.TrimSpace(input.VoterID)
	if voterID == "" {
		return store.AttendanceEntry{}, badRequest("voterId is required")
	}
	if err := s.canRecordAttendance(ctx, session, strings.TrimSpace(input.CommitteeID), voterID); err != nil {
		return store.AttendanceEntry{}, err
	}
	if _, err := s.store.GetUser(ctx, voterID); err != nil {
		return store.AttendanceEntry{}, err
	}

	entry, err := s.store.UpsertAttendance(ctx, store.AttendanceEntry{
		ID:         util.NewID("att"),
		VoterID:    voterID,
		Present:    input.Present,
		RecordedBy: session.UserID,
		RecordedAt: s.now(),
	})
	if err != nil {
		return store.AttendanceEntry{}, err
	}

	s.emit(ctx, events.AttendanceRecorded, "", session.UserID, map[string]any{
		"voterId": voterID,
		"present": input.Present,
	})
	return entry, nil
}

func (s *Service) canRecordAttendance(ctx context.Context, session Session, committeeID, voterID string) error {
	if s.Can(session.Role, rbac.ActionAttendance) {
		return nil
	}
	if committeeID == "" {
		return fmt.Errorf("%w: only officers or committee chairs may record attendance", decision.ErrUnauthorized)
	}
	chair, err := s.store.GetMembership(ctx, committeeID, session.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err != nil || chair.Role != store.CommitteeChair {
		return fmt.Errorf("%w: only a chair of the committee may record its attendance", decision.ErrUnauthorized)
	}
	if _, err := s.store.GetMembership(ctx, committeeID, voterID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: voter is not a member of the committee", decision.ErrUnauthorized)
		}
		return err
	}
	return nil
}

// PurgeAttendance deletes roll-call entries too old to grant eligibility.
func (s *Service) PurgeAttendance(ctx context.Context) (int64, error) {
	return s.store.PurgeAttendance(ctx, s.now().Add(-s.gate.Window))
}
