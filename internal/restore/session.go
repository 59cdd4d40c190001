// Package restore implements the administrator restore workflow: a
// per-admin session that walks through the users document, then the
// downloads document, each of which may be supplied or skipped.
package restore

import (
	"errors"
	"time"

	"ymbot/internal/models"
)

var (
	// ErrSessionExists is returned when the admin already has an open session
	ErrSessionExists = errors.New("restore session already in progress")
	// ErrNoSession is returned when the admin has no open session
	ErrNoSession = errors.New("no restore session in progress")
	// ErrWrongStep is returned for actions that do not match the current step
	ErrWrongStep = errors.New("action does not match the current restore step")
	// ErrBusy is returned while another action on the same session is running
	ErrBusy = errors.New("restore session is busy")
)

// Outcome is the terminal result of one table step
type Outcome struct {
	Restored int
	Skipped  bool
}

// Step is one of AwaitingUsers, AwaitingDownloads or Done
type Step interface {
	// Table returns the table the step accepts, or "" when nothing is accepted
	Table() string
	isStep()
}

// AwaitingUsers is the initial step
type AwaitingUsers struct{}

// AwaitingDownloads follows the users step
type AwaitingDownloads struct {
	Users Outcome
}

// Done is terminal
type Done struct {
	Users     Outcome
	Downloads Outcome
}

func (AwaitingUsers) Table() string     { return models.TableUsers }
func (AwaitingDownloads) Table() string { return models.TableDownloads }
func (Done) Table() string              { return "" }

func (AwaitingUsers) isStep()     {}
func (AwaitingDownloads) isStep() {}
func (Done) isStep()              {}

// Session is an immutable snapshot of one admin's restore workflow
type Session struct {
	ID              string
	AdminID         int64
	ChatID          int64
	Dir             string
	PromptMessageID int
	StartedAt       time.Time
	Step            Step
}

// Advance returns the session moved to the next step with the given outcome
// recorded for the current table
func (s Session) Advance(o Outcome) (Session, error) {
	switch step := s.Step.(type) {
	case AwaitingUsers:
		s.Step = AwaitingDownloads{Users: o}
	case AwaitingDownloads:
		s.Step = Done{Users: step.Users, Downloads: o}
	default:
		return s, ErrWrongStep
	}
	return s, nil
}

// WithPrompt returns the session pointing at a new prompt message
func (s Session) WithPrompt(messageID int) Session {
	s.PromptMessageID = messageID
	return s
}

// Done reports whether the session reached its terminal step
func (s Session) Done() bool {
	_, ok := s.Step.(Done)
	return ok
}
