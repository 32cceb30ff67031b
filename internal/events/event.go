// Package events publishes proposal lifecycle events after their
// transaction has committed.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type Type string

const (
	ProposalOpened     Type = "proposal.opened"
	BallotCast         Type = "ballot.cast"
	ProposalClosed     Type = "proposal.closed"
	ProposalReopened   Type = "proposal.reopened"
	ProposalEdited     Type = "proposal.edited"
	ProposalVersioned  Type = "proposal.versioned"
	ProposalPropagated Type = "proposal.propagated"
	AttendanceRecorded Type = "attendance.recorded"
)

// Event is one fact about a proposal. Data carries type-specific fields and
// never includes a ballot's choice for anonymous proposals.
type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	ProposalID string         `json:"proposal_id,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	At         time.Time      `json:"at"`
	Data       map[string]any `json:"data,omitempty"`
}

func (e Event) Marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return b, nil
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// LogPublisher writes events to a structured logger.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, e Event) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "event",
		"type", string(e.Type),
		"id", e.ID,
		"proposal_id", e.ProposalID,
		"actor_id", e.ActorID,
	)
	return nil
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
