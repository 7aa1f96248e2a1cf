// Package pricing isolates fee amounts behind an injected policy so
// handlers never carry money literals.
package pricing

import "github.com/lexhaven/legal-services-backend/pkg/models"

// Policy answers how much a given service costs, in cents.
type Policy interface {
	CaseCompletionFeeCents() int64
	DocumentFeeCents() int64
	ConsultationFeeCents(t models.ConsultationType, durationMin int) int64
}

// Flat is the current pricing: fixed amounts regardless of case or
// professional. The numbers mirror what the business charges today.
type Flat struct {
	CompletionCents   int64
	DocumentCents     int64
	ConsultationCents int64
}

// DefaultFlat returns the standing flat-fee schedule:
// $150 on case completion, $10 per generated document, $50 per consultation.
func DefaultFlat() Flat {
	return Flat{
		CompletionCents:   15000,
		DocumentCents:     1000,
		ConsultationCents: 5000,
	}
}

func (f Flat) CaseCompletionFeeCents() int64 { return f.CompletionCents }

func (f Flat) DocumentFeeCents() int64 { return f.DocumentCents }

// ConsultationFeeCents charges the flat rate per started half hour.
func (f Flat) ConsultationFeeCents(_ models.ConsultationType, durationMin int) int64 {
	if durationMin <= 0 {
		durationMin = 30
	}
	blocks := int64((durationMin + 29) / 30)
	return f.ConsultationCents * blocks
}
