package cases

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lexhaven/legal-services-backend/pkg/models"
)

const (
	actionCreated   = "created"
	actionAssigned  = "assigned"
	actionAccepted  = "accepted"
	actionDeclined  = "declined"
	actionCompleted = "completed"
)

func actionFor(s models.CaseStatus) string {
	switch s {
	case models.CaseActive:
		return actionAccepted
	case models.CaseDeclined:
		return actionDeclined
	case models.CaseCompleted:
		return actionCompleted
	}
	return "status_change"
}

// logHistory inserts an audit record into case_histories.
// Errors are ignored on purpose (best-effort logging).
func logHistory(db *gorm.DB, caseID, actorID uuid.UUID, action string, oldS, newS models.CaseStatus, reason string) {
	_ = db.Create(&models.CaseHistory{
		CaseID:    caseID,
		ActorID:   actorID,
		Action:    action,
		OldStatus: oldS,
		NewStatus: newS,
		Reason:    reason,
	}).Error
}
