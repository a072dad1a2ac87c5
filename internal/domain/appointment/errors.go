package appointment

import (
	"errors"

	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/domain/workforce"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrInvalidTransition   = errors.New("invalid appointment transition")
	ErrNoActiveAssignment  = errors.New("no active assignment for worker")
	ErrUnknownStatus       = errors.New("unknown status")
	ErrUnknownDecision     = errors.New("unknown decision")
	ErrCandidateRequired   = errors.New("candidate worker is required")
	ErrInvalidCandidate    = errors.New("candidate worker cannot take this appointment")
	ErrInvalidDutyTime     = errors.New("duty stop precedes duty start")
	ErrInvalidAppointment  = errors.New("invalid appointment")

	// ErrWorkerNotFound covers unknown and inactive workers.
	ErrWorkerNotFound = workforce.ErrWorkerNotFound
)
