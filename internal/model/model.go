// Package model holds the venue domain types shared by the ledger, the
// registrar and the store.
package model

import "time"

// Participant is a person who can be scanned in and out of the venue.
type Participant struct {
	ID             string        `json:"id"`
	RegistrationNo string        `json:"registration_no"`
	Name           string        `json:"name"`
	Presence       Presence      `json:"presence"`
	ScanCount      int64         `json:"scan_count"`
	LastEntryAt    *time.Time    `json:"last_entry_at,omitempty"`
	LastExitAt     *time.Time    `json:"last_exit_at,omitempty"`
	TotalDuration  time.Duration `json:"total_duration"`
	Active         bool          `json:"active"`
	BadgeRevoked   bool          `json:"badge_revoked"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Summary is the participant view returned to scanning staff.
type Summary struct {
	ID             string   `json:"id"`
	RegistrationNo string   `json:"registration_no"`
	Name           string   `json:"name"`
	Presence       Presence `json:"presence"`
	ScanCount      int64    `json:"scan_count"`
	TotalMinutes   int64    `json:"total_minutes"`
}

// Summarize projects a participant into its staff-facing summary.
func (p *Participant) Summarize() Summary {
	return Summary{
		ID:             p.ID,
		RegistrationNo: p.RegistrationNo,
		Name:           p.Name,
		Presence:       p.Presence,
		ScanCount:      p.ScanCount,
		TotalMinutes:   int64(p.TotalDuration / time.Minute),
	}
}

// Direction is the kind of a scan record.
type Direction string

const (
	DirectionEntry Direction = "ENTRY"
	DirectionExit  Direction = "EXIT"
)

// ScanRecord is one append-only attendance entry.
type ScanRecord struct {
	ID            string         `json:"id"`
	ParticipantID string         `json:"participant_id"`
	StaffID       string         `json:"staff_id"`
	EventID       string         `json:"event_id,omitempty"`
	Direction     Direction      `json:"direction"`
	Sequence      int64          `json:"sequence"`
	Duration      *time.Duration `json:"duration,omitempty"`
	Anomalous     bool           `json:"anomalous"`
	ScannedAt     time.Time      `json:"scanned_at"`
}

// EventAssignment binds a staff member to an event they may scan for.
type EventAssignment struct {
	ID         string    `json:"id"`
	StaffID    string    `json:"staff_id"`
	EventID    string    `json:"event_id"`
	Active     bool      `json:"active"`
	AssignedAt time.Time `json:"assigned_at"`
	// EventStartsAt is joined from the event row; the guard uses it to pick
	// the most recently started event.
	EventStartsAt time.Time `json:"event_starts_at"`
}

// LeaderboardEntry ranks a participant by accrued presence.
type LeaderboardEntry struct {
	ParticipantID  string        `json:"participant_id"`
	RegistrationNo string        `json:"registration_no"`
	Name           string        `json:"name"`
	TotalDuration  time.Duration `json:"total_duration"`
}
