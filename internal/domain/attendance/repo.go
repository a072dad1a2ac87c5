package attendance

import "context"

type Repository interface {
	// Create returns ErrAlreadyPunchedIn when an open record for the pair exists.
	Create(ctx context.Context, r *Record) error
	// Latest returns the newest active record for the pair, locked for the
	// surrounding transaction, or ErrNoPunchInFound.
	Latest(ctx context.Context, appointmentID, workerID string) (*Record, error)
	SetPunchOut(ctx context.Context, r *Record) error
	List(ctx context.Context, appointmentID, workerID string) ([]*Record, error)
}
