package attendance

import (
	"errors"
	"time"
)

var (
	ErrAlreadyPunchedIn  = errors.New("already punched in")
	ErrAlreadyPunchedOut = errors.New("already punched out")
	ErrNoPunchInFound    = errors.New("no punch-in found")
	ErrInvalidPunchTime  = errors.New("punch-out precedes punch-in")
	ErrUnknownReference  = errors.New("unknown appointment or worker")
)

// Record maps to the attendance table.
type Record struct {
	ID            string     `db:"id" json:"id"`
	AppointmentID string     `db:"appointment_id" json:"appointment_id"`
	WorkerID      string     `db:"worker_id" json:"worker_id"`
	PunchIn       time.Time  `db:"punch_in" json:"punch_in"`
	PunchOut      *time.Time `db:"punch_out" json:"punch_out,omitempty"`
	Active        bool       `db:"active_flag" json:"active"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// Open reports whether the record still waits for a punch-out.
func (r *Record) Open() bool { return r.PunchOut == nil }

// Worked is the punched duration, zero while the record is open.
func (r *Record) Worked() time.Duration {
	if r.PunchOut == nil {
		return 0
	}
	return r.PunchOut.Sub(r.PunchIn)
}
