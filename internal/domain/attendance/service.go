package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/domain/sequence"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/platform/db"
)

// Allocator issues entity codes.
type Allocator interface {
	Allocate(ctx context.Context, entity string) (string, error)
}

// Service records field attendance. Punches guard against repeats rather
// than absorb them: a retried punch after success fails.
type Service struct {
	repo  Repository
	tx    db.TxRunner
	alloc Allocator
	now   func() time.Time
}

func NewService(repo Repository, tx db.TxRunner, alloc Allocator) *Service {
	return &Service{repo: repo, tx: tx, alloc: alloc, now: time.Now}
}

// PunchIn opens a record for (workerID, appointmentID). A zero at means now.
func (s *Service) PunchIn(ctx context.Context, workerID, appointmentID string, at time.Time) (*Record, error) {
	if workerID == "" || appointmentID == "" {
		return nil, fmt.Errorf("%w: worker and appointment are required", ErrUnknownReference)
	}
	if at.IsZero() {
		at = s.now()
	}
	var rec *Record
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		latest, err := s.repo.Latest(ctx, appointmentID, workerID)
		switch {
		case err == nil && latest.Open():
			return fmt.Errorf("%w: %s on %s since %s", ErrAlreadyPunchedIn, workerID, appointmentID,
				latest.PunchIn.Format(time.RFC3339))
		case err != nil && !errors.Is(err, ErrNoPunchInFound):
			return err
		}

		id, err := s.alloc.Allocate(ctx, sequence.EntityAttendance)
		if err != nil {
			return err
		}
		rec = &Record{ID: id, AppointmentID: appointmentID, WorkerID: workerID, PunchIn: at, Active: true}
		return s.repo.Create(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// PunchOut closes the latest record for (workerID, appointmentID).
func (s *Service) PunchOut(ctx context.Context, workerID, appointmentID string, at time.Time) (*Record, error) {
	if at.IsZero() {
		at = s.now()
	}
	var rec *Record
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		latest, err := s.repo.Latest(ctx, appointmentID, workerID)
		if err != nil {
			return err
		}
		if !latest.Open() {
			return fmt.Errorf("%w: %s on %s at %s", ErrAlreadyPunchedOut, workerID, appointmentID,
				latest.PunchOut.Format(time.RFC3339))
		}
		if at.Before(latest.PunchIn) {
			return ErrInvalidPunchTime
		}
		latest.PunchOut = &at
		if err := s.repo.SetPunchOut(ctx, latest); err != nil {
			return err
		}
		rec = latest
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns the records of an appointment, optionally for one worker.
func (s *Service) List(ctx context.Context, appointmentID, workerID string) ([]*Record, error) {
	return s.repo.List(ctx, appointmentID, workerID)
}
