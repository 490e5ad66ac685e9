package teleconsult

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	StatusScheduled = "scheduled"
	StatusLive      = "live"
	StatusEnded     = "ended"
	StatusExpired   = "expired"
)

const (
	RolePractitioner = "practitioner"
	RolePatient      = "patient"
)

// ExpireAfter is how long a session may stay scheduled past its start before
// the maintenance job expires it.
const ExpireAfter = 4 * time.Hour

var (
	ErrInvalidTransition = errors.New("invalid session status transition")
	ErrSessionClosed     = errors.New("teleconsult session is closed")
	ErrInvalidToken      = errors.New("invalid join token")
)

var transitions = map[string][]string{
	StatusScheduled: {StatusLive, StatusEnded, StatusExpired},
	StatusLive:      {StatusEnded},
}

// CanTransition reports whether a session may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Session is a video consultation room between a practitioner and a patient.
type Session struct {
	ID             uuid.UUID  `json:"id"`
	AppointmentID  *uuid.UUID `json:"appointment_id,omitempty"`
	PatientID      uuid.UUID  `json:"patient_id"`
	PractitionerID uuid.UUID  `json:"practitioner_id"`
	RoomID         string     `json:"room_id"`
	Status         string     `json:"status"`
	ScheduledStart time.Time  `json:"scheduled_start"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Open reports whether participants may still join.
func (s *Session) Open() bool {
	return s.Status == StatusScheduled || s.Status == StatusLive
}

// JoinToken is handed to a participant to open the signalling socket.
type JoinToken struct {
	Token     string    `json:"token"`
	Room      string    `json:"room"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}
