package models

/* ========================= Case state machine =========================== */

// CaseStatus defines lifecycle states for a case.
type CaseStatus string

const (
	CasePending   CaseStatus = "pending"
	CaseActive    CaseStatus = "active"
	CaseCompleted CaseStatus = "completed"
	CaseDeclined  CaseStatus = "declined"
)

// caseTransitions is the total transition table. Anything not listed is
// rejected, so terminal states have no outgoing edges.
var caseTransitions = map[CaseStatus][]CaseStatus{
	CasePending: {CaseActive, CaseDeclined},
	CaseActive:  {CaseCompleted},
}

// Valid reports whether s is a known case status.
func (s CaseStatus) Valid() bool {
	switch s {
	case CasePending, CaseActive, CaseCompleted, CaseDeclined:
		return true
	}
	return false
}

// Terminal reports whether the case can no longer change status.
func (s CaseStatus) Terminal() bool {
	return s == CaseCompleted || s == CaseDeclined
}

// CanTransitionTo reports whether the edge s -> to exists.
func (s CaseStatus) CanTransitionTo(to CaseStatus) bool {
	for _, next := range caseTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

/* ========================== Assignee tagged union ======================= */

// AssigneeKind says which professional type a case (or consultation) is
// bound to. A case holds at most one professional at a time.
type AssigneeKind string

const (
	AssigneeNone       AssigneeKind = "none"
	AssigneeFreelancer AssigneeKind = "freelancer"
	AssigneeBarrister  AssigneeKind = "barrister"
)

func (k AssigneeKind) Valid() bool {
	switch k {
	case AssigneeNone, AssigneeFreelancer, AssigneeBarrister:
		return true
	}
	return false
}

// Professional reports whether the kind names an actual professional type.
func (k AssigneeKind) Professional() bool {
	return k == AssigneeFreelancer || k == AssigneeBarrister
}

/* ===================== Consultation state machine ======================= */

// ConsultationStatus defines lifecycle states for a consultation.
// "rescheduled" is produced by the reschedule path and is a first-class
// member of the enum here, so the value stays visible and testable.
type ConsultationStatus string

const (
	ConsultationScheduled   ConsultationStatus = "scheduled"
	ConsultationRescheduled ConsultationStatus = "rescheduled"
	ConsultationInProgress  ConsultationStatus = "in_progress"
	ConsultationCompleted   ConsultationStatus = "completed"
	ConsultationCancelled   ConsultationStatus = "cancelled"
	ConsultationNoShow      ConsultationStatus = "no_show"
)

var consultationTransitions = map[ConsultationStatus][]ConsultationStatus{
	ConsultationScheduled:   {ConsultationRescheduled, ConsultationInProgress, ConsultationCancelled, ConsultationNoShow},
	ConsultationRescheduled: {ConsultationRescheduled, ConsultationInProgress, ConsultationCancelled, ConsultationNoShow},
	ConsultationInProgress:  {ConsultationCompleted, ConsultationCancelled},
}

func (s ConsultationStatus) Valid() bool {
	switch s {
	case ConsultationScheduled, ConsultationRescheduled, ConsultationInProgress,
		ConsultationCompleted, ConsultationCancelled, ConsultationNoShow:
		return true
	}
	return false
}

func (s ConsultationStatus) Terminal() bool {
	return s == ConsultationCompleted || s == ConsultationCancelled || s == ConsultationNoShow
}

func (s ConsultationStatus) CanTransitionTo(to ConsultationStatus) bool {
	for _, next := range consultationTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

/* ===================== Barrister onboarding machine ===================== */

// BarristerStatus is the review outcome of barrister onboarding.
type BarristerStatus string

const (
	BarristerPendingVerification BarristerStatus = "PENDING_VERIFICATION"
	BarristerApproved            BarristerStatus = "APPROVED"
	BarristerRejected            BarristerStatus = "REJECTED"
	BarristerIncomplete          BarristerStatus = "INCOMPLETE"
)

func (s BarristerStatus) Valid() bool {
	switch s {
	case BarristerPendingVerification, BarristerApproved, BarristerRejected, BarristerIncomplete:
		return true
	}
	return false
}

// OnboardingStage is the ordered barrister onboarding progression.
type OnboardingStage string

const (
	StageEligibilityCheck OnboardingStage = "eligibility_check"
	StageDocumentUpload   OnboardingStage = "document_upload_completed"
	StageProfessionalInfo OnboardingStage = "professional_information"
	StageReview           OnboardingStage = "review"
	StageCompleted        OnboardingStage = "completed"
)

var stageOrder = []OnboardingStage{
	StageEligibilityCheck,
	StageDocumentUpload,
	StageProfessionalInfo,
	StageReview,
	StageCompleted,
}

func (s OnboardingStage) Valid() bool {
	return s.index() >= 0
}

func (s OnboardingStage) index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the following stage, or s itself when already at the end.
func (s OnboardingStage) Next() OnboardingStage {
	i := s.index()
	if i < 0 || i == len(stageOrder)-1 {
		return s
	}
	return stageOrder[i+1]
}

// Before reports whether s precedes other in the onboarding order.
// Stages only move forward; rejection is expressed on BarristerStatus,
// not by moving the stage backwards.
func (s OnboardingStage) Before(other OnboardingStage) bool {
	return s.index() < other.index()
}
