package appointment

import "context"

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id string) (*Appointment, error)
	// GetForUpdate loads the appointment and locks it until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id string) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error)

	CreateAssignment(ctx context.Context, asg *Assignment) error
	UpdateAssignment(ctx context.Context, asg *Assignment) error
	// ActiveAssignment returns ErrNoActiveAssignment when none is active.
	ActiveAssignment(ctx context.Context, appointmentID string) (*Assignment, error)
	ListAssignments(ctx context.Context, appointmentID string) ([]*Assignment, error)
}
