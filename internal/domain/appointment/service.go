package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/domain/catalog"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/domain/sequence"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/domain/workforce"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/platform/db"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/platform/validation"
)

// Allocator issues entity codes.
type Allocator interface {
	Allocate(ctx context.Context, entity string) (string, error)
}

// Decision is the resolver input.
type Decision string

const (
	DecisionAccept   Decision = "accept"
	DecisionDecline  Decision = "decline"
	DecisionReassign Decision = "reassign"
)

func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(s))); d {
	case DecisionAccept, DecisionDecline, DecisionReassign:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDecision, s)
}

// OutcomeResult names how a decision ended.
type OutcomeResult string

const (
	OutcomeAccepted     OutcomeResult = "accepted"
	OutcomeDeclined     OutcomeResult = "declined"
	OutcomeReassigned   OutcomeResult = "reassigned"
	OutcomeAutoDeclined OutcomeResult = "auto_declined"
)

// Outcome is returned by every resolver branch.
type Outcome struct {
	AppointmentID string        `json:"appointment_id"`
	Decision      Decision      `json:"decision"`
	Result        OutcomeResult `json:"result"`
	Status        Status        `json:"status"`
	Message       string        `json:"message"`
	WorkerID      string        `json:"worker_id,omitempty"`
	AssignmentID  string        `json:"assignment_id,omitempty"`
}

// ResolveRequest carries one decision on an appointment. CandidateWorker is
// required to accept and optional to reassign.
type ResolveRequest struct {
	AppointmentID   string
	Decision        Decision
	ActingWorker    string
	CandidateWorker string
	Reason          string
}

// DutyResult is returned by StartDuty and StopDuty.
type DutyResult struct {
	AppointmentID     string           `json:"appointment_id"`
	AssignmentID      string           `json:"assignment_id"`
	AssignmentStatus  AssignmentStatus `json:"assignment_status"`
	AppointmentStatus Status           `json:"appointment_status"`
	At                time.Time        `json:"at"`
}

type Service struct {
	repo    Repository
	tx      db.TxRunner
	alloc   Allocator
	dir     workforce.Directory
	matcher *Matcher
	catalog catalog.Reader
	now     func() time.Time
}

func NewService(repo Repository, tx db.TxRunner, alloc Allocator, dir workforce.Directory, cat catalog.Reader) *Service {
	return &Service{
		repo:    repo,
		tx:      tx,
		alloc:   alloc,
		dir:     dir,
		matcher: NewMatcher(dir),
		catalog: cat,
		now:     time.Now,
	}
}

// -- Booking intake --

// CreateAppointment stores a new Listed appointment under a fresh code. The
// service subtype defaults to the package's subtype.
func (s *Service) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.SubscriberID == "" || a.PackageID == "" {
		return fmt.Errorf("%w: subscriber_id and package_id are required", ErrInvalidAppointment)
	}
	if a.ScheduledUntil.Before(a.ScheduledFrom) {
		return fmt.Errorf("%w: scheduled_until precedes scheduled_from", ErrInvalidAppointment)
	}
	if !validation.IsClock(a.SessionTime) {
		return fmt.Errorf("%w: session_time %q is not HH:MM", ErrInvalidAppointment, a.SessionTime)
	}
	if s.catalog != nil {
		pkg, err := s.catalog.GetPackage(ctx, a.PackageID)
		if err != nil {
			if errors.Is(err, catalog.ErrPackageNotFound) {
				return fmt.Errorf("%w: package %s not found", ErrInvalidAppointment, a.PackageID)
			}
			return err
		}
		if a.ServiceSubtype == "" {
			a.ServiceSubtype = pkg.ServiceSubtype
		}
	}
	if a.ServiceSubtype == "" {
		return fmt.Errorf("%w: service_subtype is required", ErrInvalidAppointment)
	}

	return s.tx.InTx(ctx, func(ctx context.Context) error {
		id, err := s.alloc.Allocate(ctx, sequence.EntityAppointment)
		if err != nil {
			return err
		}
		a.ID = id
		a.Status = StatusListed
		a.Active = true
		return s.repo.Create(ctx, a)
	})
}

// -- Reads --

// Get returns the appointment with its active assignment and package.
func (s *Service) Get(ctx context.Context, id string) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	asg, err := s.repo.ActiveAssignment(ctx, id)
	switch {
	case err == nil:
		a.ActiveAssignment = asg
	case !errors.Is(err, ErrNoActiveAssignment):
		return nil, err
	}
	if s.catalog != nil {
		if pkg, err := s.catalog.GetPackage(ctx, a.PackageID); err == nil {
			a.Package = pkg
		}
	}
	return a, nil
}

// List returns a page of appointments with package display data attached.
func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	items, total, err := s.repo.List(ctx, f, limit, offset)
	if err != nil || s.catalog == nil || len(items) == 0 {
		return items, total, err
	}
	ids := make([]string, 0, len(items))
	for _, a := range items {
		ids = append(ids, a.PackageID)
	}
	pkgs, err := s.catalog.GetPackages(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for _, a := range items {
		a.Package = pkgs[a.PackageID]
	}
	return items, total, nil
}

func (s *Service) Assignments(ctx context.Context, appointmentID string) ([]*Assignment, error) {
	if _, err := s.repo.GetByID(ctx, appointmentID); err != nil {
		return nil, err
	}
	return s.repo.ListAssignments(ctx, appointmentID)
}

// -- Resolver --

func (s *Service) Resolve(ctx context.Context, req ResolveRequest) (*Outcome, error) {
	switch req.Decision {
	case DecisionAccept:
		if req.CandidateWorker == "" {
			return nil, ErrCandidateRequired
		}
		return s.Accept(ctx, req.AppointmentID, req.CandidateWorker)
	case DecisionDecline:
		return s.Decline(ctx, req.AppointmentID, req.Reason)
	case DecisionReassign:
		return s.Reassign(ctx, req.AppointmentID, req.ActingWorker, req.CandidateWorker, req.Reason)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDecision, req.Decision)
}

// Accept assigns workerID to a Listed appointment.
func (s *Service) Accept(ctx context.Context, appointmentID, workerID string) (*Outcome, error) {
	var out *Outcome
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		if a.Status != StatusListed {
			return fmt.Errorf("%w: %s is %s, only Listed appointments can be accepted", ErrInvalidTransition, a.ID, a.Status)
		}
		w, err := s.activeWorker(ctx, workerID)
		if err != nil {
			return err
		}
		if a.ProviderID != nil && *a.ProviderID != w.OrganizationID {
			return fmt.Errorf("%w: %s does not belong to %s", ErrInvalidCandidate, w.ID, *a.ProviderID)
		}

		asg, err := s.assign(ctx, a.ID, w.ID)
		if err != nil {
			return err
		}
		if err := accept(a, w.OrganizationID); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		out = &Outcome{
			AppointmentID: a.ID,
			Decision:      DecisionAccept,
			Result:        OutcomeAccepted,
			Status:        a.Status,
			Message:       fmt.Sprintf("appointment accepted by %s", w.ID),
			WorkerID:      w.ID,
			AssignmentID:  asg.ID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Decline closes a Listed appointment.
func (s *Service) Decline(ctx context.Context, appointmentID, reason string) (*Outcome, error) {
	var out *Outcome
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		if a.Status != StatusListed {
			return fmt.Errorf("%w: %s is %s, only Listed appointments can be declined", ErrInvalidTransition, a.ID, a.Status)
		}
		if err := decline(a, reason); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		out = &Outcome{
			AppointmentID: a.ID,
			Decision:      DecisionDecline,
			Result:        OutcomeDeclined,
			Status:        a.Status,
			Message:       "appointment declined",
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Reassign moves an Accepted appointment away from oldWorker. The old
// assignment is retired before a replacement is looked for; candidate wins
// over the matcher when given. With nobody available the appointment is
// declined and the outcome reports OutcomeAutoDeclined.
func (s *Service) Reassign(ctx context.Context, appointmentID, oldWorker, candidate, reason string) (*Outcome, error) {
	if oldWorker == "" {
		return nil, fmt.Errorf("%w: declining worker is required", ErrNoActiveAssignment)
	}
	if candidate != "" && candidate == oldWorker {
		return nil, fmt.Errorf("%w: %s is the declining worker", ErrInvalidCandidate, candidate)
	}

	var out *Outcome
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		if a.Status != StatusAccepted {
			return fmt.Errorf("%w: %s is %s, only Accepted appointments can be reassigned", ErrInvalidTransition, a.ID, a.Status)
		}
		current, err := s.heldBy(ctx, a.ID, oldWorker)
		if err != nil {
			return err
		}

		if reason == "" {
			reason = "declined by worker"
		}
		retire(current, reason)
		if err := s.repo.UpdateAssignment(ctx, current); err != nil {
			return err
		}

		orgID, err := s.organizationOf(ctx, a, oldWorker)
		if err != nil {
			return err
		}
		var next *workforce.Worker
		if candidate != "" {
			next, err = s.activeWorker(ctx, candidate)
			if err != nil {
				return err
			}
			if next.OrganizationID != orgID {
				return fmt.Errorf("%w: %s does not belong to %s", ErrInvalidCandidate, next.ID, orgID)
			}
		} else {
			next, err = s.matcher.FindAvailable(ctx, orgID, a.ServiceSubtype, oldWorker)
			if err != nil {
				return err
			}
		}

		if next == nil {
			if err := decline(a, NoAvailableWorkerRemark); err != nil {
				return err
			}
			if err := s.repo.Update(ctx, a); err != nil {
				return err
			}
			out = &Outcome{
				AppointmentID: a.ID,
				Decision:      DecisionReassign,
				Result:        OutcomeAutoDeclined,
				Status:        a.Status,
				Message:       NoAvailableWorkerRemark,
			}
			return nil
		}

		asg, err := s.assign(ctx, a.ID, next.ID)
		if err != nil {
			return err
		}
		out = &Outcome{
			AppointmentID: a.ID,
			Decision:      DecisionReassign,
			Result:        OutcomeReassigned,
			Status:        a.Status,
			Message:       fmt.Sprintf("appointment reassigned from %s to %s", oldWorker, next.ID),
			WorkerID:      next.ID,
			AssignmentID:  asg.ID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// -- Duty --

// StartDuty moves an Accepted appointment held by workerID to Ongoing. A
// zero at means now.
func (s *Service) StartDuty(ctx context.Context, workerID, appointmentID string, at time.Time) (*DutyResult, error) {
	return s.duty(ctx, workerID, appointmentID, at, startDuty)
}

// StopDuty completes an Ongoing appointment held by workerID.
func (s *Service) StopDuty(ctx context.Context, workerID, appointmentID string, at time.Time) (*DutyResult, error) {
	return s.duty(ctx, workerID, appointmentID, at, stopDuty)
}

func (s *Service) duty(ctx context.Context, workerID, appointmentID string, at time.Time,
	apply func(*Appointment, *Assignment, time.Time) error) (*DutyResult, error) {
	if at.IsZero() {
		at = s.now()
	}
	var out *DutyResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		if a.Status.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, a.ID, a.Status)
		}
		asg, err := s.heldBy(ctx, a.ID, workerID)
		if err != nil {
			return err
		}
		if err := apply(a, asg, at); err != nil {
			return err
		}
		if err := s.repo.UpdateAssignment(ctx, asg); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		out = &DutyResult{
			AppointmentID:     a.ID,
			AssignmentID:      asg.ID,
			AssignmentStatus:  asg.Status,
			AppointmentStatus: a.Status,
			At:                at,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// -- helpers --

func (s *Service) activeWorker(ctx context.Context, workerID string) (*workforce.Worker, error) {
	if workerID == "" {
		return nil, fmt.Errorf("%w: empty worker id", ErrWorkerNotFound)
	}
	w, err := s.dir.GetWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if !w.Active {
		return nil, fmt.Errorf("%w: %s is inactive", ErrWorkerNotFound, workerID)
	}
	return w, nil
}

// heldBy returns the active assignment of appointmentID when workerID holds it.
func (s *Service) heldBy(ctx context.Context, appointmentID, workerID string) (*Assignment, error) {
	asg, err := s.repo.ActiveAssignment(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrNoActiveAssignment) {
			return nil, fmt.Errorf("%w: %s on %s", ErrNoActiveAssignment, workerID, appointmentID)
		}
		return nil, err
	}
	if asg.WorkerID != workerID {
		return nil, fmt.Errorf("%w: %s on %s", ErrNoActiveAssignment, workerID, appointmentID)
	}
	return asg, nil
}

func (s *Service) organizationOf(ctx context.Context, a *Appointment, workerID string) (string, error) {
	if a.ProviderID != nil && *a.ProviderID != "" {
		return *a.ProviderID, nil
	}
	w, err := s.dir.GetWorker(ctx, workerID)
	if err != nil {
		return "", err
	}
	return w.OrganizationID, nil
}

func (s *Service) assign(ctx context.Context, appointmentID, workerID string) (*Assignment, error) {
	id, err := s.alloc.Allocate(ctx, sequence.EntityAssignment)
	if err != nil {
		return nil, err
	}
	asg := &Assignment{
		ID:            id,
		AppointmentID: appointmentID,
		WorkerID:      workerID,
		Status:        AssignmentAssigned,
		Active:        true,
	}
	if err := s.repo.CreateAssignment(ctx, asg); err != nil {
		return nil, err
	}
	return asg, nil
}
