package invoice

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	StatusDraft   = "draft"
	StatusIssued  = "issued"
	StatusPaid    = "paid"
	StatusVoid    = "void"
	StatusOverdue = "overdue"
)

var ErrInvalidTransition = errors.New("invalid invoice status transition")

var transitions = map[string][]string{
	StatusDraft:   {StatusIssued, StatusVoid},
	StatusIssued:  {StatusPaid, StatusVoid, StatusOverdue},
	StatusOverdue: {StatusPaid},
}

// CanTransition reports whether an invoice may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Line is one billed item. Amounts are in the smallest currency unit.
type Line struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitCents   int64  `json:"unit_cents"`
}

func (l Line) AmountCents() int64 { return l.Quantity * l.UnitCents }

// Invoice maps to the invoices table. Lines are stored as JSONB. The number
// is assigned when the invoice is issued.
type Invoice struct {
	ID            uuid.UUID  `json:"id"`
	Number        string     `json:"number,omitempty"`
	PatientID     uuid.UUID  `json:"patient_id"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	Lines         []Line     `json:"lines"`
	TotalCents    int64      `json:"total_cents"`
	Currency      string     `json:"currency"`
	Status        string     `json:"status"`
	Notes         string     `json:"notes,omitempty"`
	PaymentMethod string     `json:"payment_method,omitempty"`
	IssuedAt      *time.Time `json:"issued_at,omitempty"`
	DueAt         *time.Time `json:"due_at,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Total sums the invoice lines.
func (inv *Invoice) Total() int64 {
	var sum int64
	for _, l := range inv.Lines {
		sum += l.AmountCents()
	}
	return sum
}

// FormatNumber renders an invoice number as INV-YYYY-NNNNNN.
func FormatNumber(year, seq int) string {
	return fmt.Sprintf("INV-%04d-%06d", year, seq)
}

type ListFilter struct {
	PatientID *uuid.UUID
	Status    string
}

// IssueInput sets the payment term of an issued invoice.
type IssueInput struct {
	DueInDays int `json:"due_in_days"`
}

type PaymentInput struct {
	Method string `json:"method"`
}
