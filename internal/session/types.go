// Package session provides the externally injected conversation store.
// Orchestration state lives here, keyed by conversation ID, never in
// per-process memory: any backend a Store implementation wraps (in-memory
// for a single instance, Redis for many) sees the same session.
package session

import (
	"errors"
	"time"

	"inquest/internal/models"
)

var (
	// ErrNotFound is returned when a session doesn't exist.
	ErrNotFound = errors.New("session not found")

	// ErrExpired is returned when a session has expired.
	ErrExpired = errors.New("session expired")
)

// Session carries the cross-turn state of one conversation.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`

	History []models.Exchange `json:"history,omitempty"`
	Draft   models.TaskDraft  `json:"draft"`

	// State is the orchestrator state the conversation parked in at the
	// end of the previous turn.
	State string `json:"state,omitempty"`

	// Pending is the clarification or confirmation the caller still owes
	// an answer to; nil when none is outstanding.
	Pending *models.Clarification `json:"pending,omitempty"`

	// Satisfied records dimensions the caller already answered in this
	// conversation, so the gate never re-asks them.
	Satisfied []models.Dimension `json:"satisfied,omitempty"`
}

// IsExpired checks if the session has expired.
func (s *Session) IsExpired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}

// AddExchange appends a message to the conversation history, keeping the
// most recent maxHistory entries.
func (s *Session) AddExchange(role models.Role, content string) {
	const maxHistory = 100
	s.History = append(s.History, models.Exchange{Role: role, Content: content})
	if len(s.History) > maxHistory {
		s.History = s.History[len(s.History)-maxHistory:]
	}
	s.UpdatedAt = time.Now()
}

// MarkSatisfied records that the caller answered the given dimension.
func (s *Session) MarkSatisfied(d models.Dimension) {
	for _, have := range s.Satisfied {
		if have == d {
			return
		}
	}
	s.Satisfied = append(s.Satisfied, d)
	s.UpdatedAt = time.Now()
}
