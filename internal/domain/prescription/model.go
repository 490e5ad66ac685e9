package prescription

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusActive    = "active"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

// Item is one prescribed drug.
type Item struct {
	Drug         string `json:"drug"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency,omitempty"`
	DurationDays int    `json:"duration_days,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// Prescription maps to the prescriptions table. Items are stored as JSONB.
type Prescription struct {
	ID             uuid.UUID  `json:"id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	PractitionerID uuid.UUID  `json:"practitioner_id"`
	AppointmentID  *uuid.UUID `json:"appointment_id,omitempty"`
	Items          []Item     `json:"items"`
	Notes          string     `json:"notes,omitempty"`
	Status         string     `json:"status"`
	IssuedAt       time.Time  `json:"issued_at"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ExpiresAt is the end of the longest treatment, or nil when no item has a
// duration.
func (p *Prescription) ExpiresAt() *time.Time {
	longest := 0
	for _, it := range p.Items {
		if it.DurationDays > longest {
			longest = it.DurationDays
		}
	}
	if longest == 0 {
		return nil
	}
	t := p.IssuedAt.AddDate(0, 0, longest)
	return &t
}
