// Package provision follows a newly created server from installing to
// running and reports the outcome back to whoever asked for it.
package provision

import (
	"time"
)

type Phase string

const (
	PhaseInstalling      Phase = "installing"
	PhaseAwaitingRunning Phase = "awaiting-running"
	PhaseSucceeded       Phase = "succeeded"
	PhaseTimedOut        Phase = "timed-out"
	PhaseFailed          Phase = "failed"
)

func (p Phase) Terminal() bool {
	switch p {
	case PhaseSucceeded, PhaseTimedOut, PhaseFailed:
		return true
	}
	return false
}

// Target identifies the server being followed.
type Target struct {
	ServerID   int    `json:"server_id"`
	Identifier string `json:"identifier"`
	UUID       string `json:"uuid,omitempty"`
	Name       string `json:"name"`
}

// Session is the state of one monitor. It is owned by that monitor and
// discarded once the outcome has been reported.
type Session struct {
	ID             string
	Target         Target
	StartedAt      time.Time
	Phase          Phase
	NextWake       time.Time
	Polls          int
	RecoveryStarts int
	EndedAt        time.Time
	// Cause is the error that moved the session to PhaseFailed.
	Cause error
	// LastError is the most recent failed panel call, kept for the record.
	LastError error
}

func (s Session) Deadline(budget time.Duration) time.Time {
	return s.StartedAt.Add(budget)
}

func (s Session) Elapsed() time.Duration {
	if s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}
