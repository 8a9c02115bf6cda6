package ipo

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/simonkvalheim/hm9-backoffice/internal/model"
)

// SubmittedEvent describes a new application
func SubmittedEvent(app *model.IPOApplication, actorID uuid.UUID) model.Event {
	return model.NewEvent(model.EventIPOSubmitted, app.ID, actorID, map[string]string{
		"account_id":   app.AccountID.String(),
		"company_name": app.CompanyName,
		"total_amount": app.TotalAmount.String(),
	})
}

// AllottedEvent describes a completed allotment
func AllottedEvent(res *model.AllotmentResult, actorID uuid.UUID) model.Event {
	return model.NewEvent(model.EventIPOAllotted, res.Application.ID, actorID, map[string]string{
		"account_id":        res.Application.AccountID.String(),
		"allotted_quantity": strconv.FormatInt(res.Application.AllottedQuantity, 10),
		"settled_amount":    res.SettledAmount.String(),
		"refund_amount":     res.RefundAmount.String(),
	})
}

// RejectedEvent describes a rejection or withdrawal
func RejectedEvent(res *model.RejectionResult, actorID uuid.UUID) model.Event {
	return model.NewEvent(model.EventIPORejected, res.Application.ID, actorID, map[string]string{
		"account_id":    res.Application.AccountID.String(),
		"refund_amount": res.RefundAmount.String(),
	})
}
