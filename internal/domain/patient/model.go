package patient

import (
	"time"

	"github.com/google/uuid"
)

type Patient struct {
	ID        uuid.UUID `json:"id"`
	MRN       string    `json:"mrn"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	BirthDate string    `json:"birth_date,omitempty"` // YYYY-MM-DD
	Gender    string    `json:"gender,omitempty"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListFilter narrows patient searches. Query matches names and MRN.
type ListFilter struct {
	Query           string
	IncludeInactive bool
}

var validGenders = map[string]bool{
	"": true, "male": true, "female": true, "other": true, "unknown": true,
}

const birthDateLayout = "2006-01-02"
