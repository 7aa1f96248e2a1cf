package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

/* =============================== Enums ================================== */

// Role defines the type of user in the system.
type Role string

const (
	RoleClient     Role = "client"
	RoleFreelancer Role = "freelancer"
	RoleBarrister  Role = "barrister"
	RoleAdmin      Role = "admin"
)

// VerificationStatus defines review states for a freelancer profile.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationApproved VerificationStatus = "approved"
	VerificationRejected VerificationStatus = "rejected"
)

// ConsultationType defines the supported session channels.
type ConsultationType string

const (
	ConsultationChat  ConsultationType = "chat"
	ConsultationVideo ConsultationType = "video"
	ConsultationVoice ConsultationType = "voice"
	ConsultationAudio ConsultationType = "audio"
)

// PayStatus defines lifecycle states for a payment.
type PayStatus string

const (
	PayPending   PayStatus = "pending"
	PayCompleted PayStatus = "completed"
	PayFailed    PayStatus = "failed"
	PayRefunded  PayStatus = "refunded"
)

// ServiceType tags what a payment was for.
type ServiceType string

const (
	ServiceConsultation   ServiceType = "consultation"
	ServiceDocument       ServiceType = "document"
	ServiceCaseCompletion ServiceType = "case_completion"
)

// OutboxStatus defines lifecycle states for a queued email intent.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"
)

/* =============================== Entities =============================== */

// User represents any account: client, freelancer, barrister, or admin.
type User struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         Role      `gorm:"type:varchar(20);not null" json:"role"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
}

// Freelancer is the 1:1 lawyer profile extension of a User.
// Availability is only meaningful once the profile is approved.
type Freelancer struct {
	UserID             uuid.UUID          `gorm:"type:uuid;primaryKey" json:"user_id"`
	ExpertiseAreas     datatypes.JSON     `gorm:"type:jsonb" json:"expertise_areas"`
	IsAvailable        bool               `gorm:"default:false" json:"is_available"`
	Verification       VerificationStatus `gorm:"type:varchar(20);default:'pending'" json:"verification"`
	PerformanceScore   float64            `gorm:"default:0" json:"performance_score"`
	RatingsCount       int                `gorm:"default:0" json:"ratings_count"`
	TotalEarningsCents int64              `gorm:"default:0" json:"total_earnings_cents"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`

	User User `gorm:"foreignKey:UserID;references:ID" json:"-"`
}

// Barrister is the 1:1 profile extension for the barrister track, with its
// own staged onboarding (see status.go for the stage order).
type Barrister struct {
	UserID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"user_id"`
	Status             BarristerStatus `gorm:"type:varchar(30);default:'PENDING_VERIFICATION'" json:"status"`
	Stage              OnboardingStage `gorm:"type:varchar(40);default:'eligibility_check'" json:"stage"`
	PracticeAreas      datatypes.JSON  `gorm:"type:jsonb" json:"practice_areas"`
	Chambers           string          `json:"chambers"`
	BarNumber          string          `json:"bar_number"`
	IsAvailable        bool            `gorm:"default:false" json:"is_available"`
	PerformanceScore   float64         `gorm:"default:0" json:"performance_score"`
	RatingsCount       int             `gorm:"default:0" json:"ratings_count"`
	TotalEarningsCents int64           `gorm:"default:0" json:"total_earnings_cents"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`

	User User `gorm:"foreignKey:UserID;references:ID" json:"-"`
}

// Case is the central work item a client submits.
//
// Assignment is a tagged union: AssigneeKind says which professional type
// (if any) holds the case, and AssigneeID points at that professional's
// user id. The invalid "both freelancer and barrister" state cannot be
// represented.
type Case struct {
	ID            uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ClientID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"client_id"`
	Title         string         `gorm:"not null" json:"title"`
	Description   string         `json:"description"`
	ExpertiseArea string         `gorm:"index" json:"expertise_area"`
	Priority      string         `gorm:"type:varchar(10);default:'normal'" json:"priority"`
	Status        CaseStatus     `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	AssigneeKind  AssigneeKind   `gorm:"type:varchar(20);default:'none';index" json:"assignee_kind"`
	AssigneeID    *uuid.UUID     `gorm:"type:uuid;index" json:"assignee_id,omitempty"`
	DocumentURLs  datatypes.JSON `gorm:"type:jsonb" json:"document_urls"`
	CreatedAt     time.Time      `json:"created_at"`

	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	DeclinedAt  *time.Time `json:"declined_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// CaseHistory is an audit log entry for important case changes.
type CaseHistory struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CaseID    uuid.UUID  `gorm:"type:uuid;not null;index"`
	ActorID   uuid.UUID  `gorm:"type:uuid;not null;index"`  // who performed the action
	Action    string     `gorm:"type:varchar(50);not null"` // e.g. created, assigned, accepted, declined, completed
	OldStatus CaseStatus `gorm:"type:varchar(20)"`
	NewStatus CaseStatus `gorm:"type:varchar(20)"`
	Reason    string     `gorm:"type:text"`
	CreatedAt time.Time  `gorm:"autoCreateTime"`
}

// Consultation is a scheduled, time-boxed client/professional session.
// It may reference a case but has its own lifecycle.
type Consultation struct {
	ID             uuid.UUID          `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	CaseID         *uuid.UUID         `gorm:"type:uuid;index" json:"case_id,omitempty"`
	ClientID       uuid.UUID          `gorm:"type:uuid;not null;index" json:"client_id"`
	ProfessionalID uuid.UUID          `gorm:"type:uuid;not null;index" json:"professional_id"`
	Kind           AssigneeKind       `gorm:"type:varchar(20);not null" json:"kind"`
	Type           ConsultationType   `gorm:"type:varchar(10);not null" json:"type"`
	ScheduledAt    time.Time          `gorm:"not null" json:"scheduled_at"`
	DurationMin    int                `gorm:"default:30" json:"duration_min"`
	Status         ConsultationStatus `gorm:"type:varchar(20);default:'scheduled'" json:"status"`
	FeeCents       int64              `gorm:"not null" json:"fee_cents"`
	PaymentID      *uuid.UUID         `gorm:"type:uuid" json:"payment_id,omitempty"`
	MeetingLink    string             `json:"meeting_link,omitempty"`
	Notes          string             `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Feedback is a single client rating for a finished consultation.
// The unique index on ConsultationID enforces at-most-once.
type Feedback struct {
	ID             uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ConsultationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"consultation_id"`
	ClientID       uuid.UUID `gorm:"type:uuid;not null" json:"client_id"`
	Rating         int       `gorm:"not null" json:"rating"` // 1..5
	Comment        string    `gorm:"type:text" json:"comment"`
	CreatedAt      time.Time `json:"created_at"`
}

// Notification is a persisted fan-out record for a single user.
type Notification struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	Type      string         `gorm:"type:varchar(40);not null" json:"type"`
	Title     string         `gorm:"not null" json:"title"`
	Message   string         `json:"message"`
	Payload   datatypes.JSON `gorm:"type:jsonb" json:"payload,omitempty"`
	IsRead    bool           `gorm:"default:false;index" json:"is_read"`
	ReadAt    *time.Time     `json:"read_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// EmailOutbox is a queued email intent. The request path only inserts
// rows; a background worker publishes them to the mail topic and records
// the result, so third-party availability never blocks a request.
type EmailOutbox struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Recipient string         `gorm:"not null"`
	Template  string         `gorm:"type:varchar(40);not null"` // e.g. case_assigned, case_accepted, case_declined
	Payload   datatypes.JSON `gorm:"type:jsonb"`
	Status    OutboxStatus   `gorm:"type:varchar(10);default:'pending';index"`
	Attempts  int            `gorm:"default:0"`
	LastError string         `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Payment represents a monetary transaction tied to a consultation,
// a document fee, or an internal case-completion credit.
type Payment struct {
	ID                  uuid.UUID   `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	CaseID              *uuid.UUID  `gorm:"type:uuid;index" json:"case_id,omitempty"`
	ConsultationID      *uuid.UUID  `gorm:"type:uuid;uniqueIndex:ux_pay_consult_filled" json:"consultation_id,omitempty"`
	ClientID            uuid.UUID   `gorm:"type:uuid;not null" json:"client_id"`
	AmountCents         int64       `gorm:"not null" json:"amount_cents"` // stored in cents to avoid float issues
	Currency            string      `gorm:"type:varchar(3);default:'usd'" json:"currency"`
	Service             ServiceType `gorm:"type:varchar(20);not null" json:"service"`
	Status              PayStatus   `gorm:"type:varchar(20);default:'pending'" json:"status"`
	StripeSessionID     *string     `gorm:"uniqueIndex:ux_pay_session_filled" json:"stripe_session_id,omitempty"`
	StripePaymentIntent *string     `gorm:"uniqueIndex:ux_pay_intent_filled" json:"stripe_payment_intent,omitempty"`
	CreatedAt           time.Time   `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt           time.Time   `gorm:"not null;default:now()" json:"updated_at"`
}
