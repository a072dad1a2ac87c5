package appointment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/platform/db"
)

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &appointmentRepoPG{pool: pool} }

func (r *appointmentRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const apptCols = `a.id, a.subscriber_id, a.beneficiary_id, a.package_id, a.provider_id, a.service_subtype,
	a.visit_mode, a.session_frequency, a.scheduled_from, a.scheduled_until,
	to_char(a.session_time, 'HH24:MI'), a.status, a.active_flag = 1, a.remarks,
	a.start_date + COALESCE(a.start_time, TIME '00:00'),
	a.end_date + COALESCE(a.end_time, TIME '00:00'),
	a.created_at, a.updated_at`

const asgCols = `id, appointment_id, worker_id, assignment_status, active_flag = 1,
	start_period, end_period, remarks, created_at, updated_at`

func flag(b bool) int16 {
	if b {
		return 1
	}
	return 0
}

// splitStamp turns t into the UTC date and wall clock columns. The columns are
// read back as a UTC timestamp, so they must be written in UTC too.
func splitStamp(t *time.Time) (*time.Time, *string) {
	if t == nil {
		return nil, nil
	}
	u := t.UTC()
	d := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	clock := u.Format("15:04:05.999999")
	return &d, &clock
}

func (r *appointmentRepoPG) scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a      Appointment
		status string
	)
	err := row.Scan(&a.ID, &a.SubscriberID, &a.BeneficiaryID, &a.PackageID, &a.ProviderID, &a.ServiceSubtype,
		&a.VisitMode, &a.SessionFrequency, &a.ScheduledFrom, &a.ScheduledUntil,
		&a.SessionTime, &status, &a.Active, &a.Remarks,
		&a.StartedAt, &a.EndedAt,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	if a.Status, err = ParseStatus(status); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanAssignment(row pgx.Row) (*Assignment, error) {
	var (
		asg    Assignment
		status string
	)
	err := row.Scan(&asg.ID, &asg.AppointmentID, &asg.WorkerID, &status, &asg.Active,
		&asg.StartPeriod, &asg.EndPeriod, &asg.Remarks, &asg.CreatedAt, &asg.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNoActiveAssignment
		}
		return nil, err
	}
	if asg.Status, err = ParseAssignmentStatus(status); err != nil {
		return nil, err
	}
	return &asg, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, subscriber_id, beneficiary_id, package_id, provider_id, service_subtype,
			visit_mode, session_frequency, scheduled_from, scheduled_until, session_time, status, active_flag, remarks)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::text::time, $12, $13, $14)
		RETURNING created_at, updated_at`,
		a.ID, a.SubscriberID, a.BeneficiaryID, a.PackageID, a.ProviderID, a.ServiceSubtype,
		a.VisitMode, a.SessionFrequency, a.ScheduledFrom, a.ScheduledUntil, a.SessionTime,
		string(a.Status), flag(a.Active), a.Remarks,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id string) (*Appointment, error) {
	return r.scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment a WHERE a.id = $1`, id))
}

func (r *appointmentRepoPG) GetForUpdate(ctx context.Context, id string) (*Appointment, error) {
	return r.scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment a WHERE a.id = $1 FOR UPDATE`, id))
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	startDate, startClock := splitStamp(a.StartedAt)
	endDate, endClock := splitStamp(a.EndedAt)
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment SET status = $2, active_flag = $3, provider_id = $4, remarks = $5,
			start_date = $6::date, start_time = $7::text::time,
			end_date = $8::date, end_time = $9::text::time,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, string(a.Status), flag(a.Active), a.ProviderID, a.Remarks,
		startDate, startClock, endDate, endClock,
	).Scan(&a.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrAppointmentNotFound
	}
	return err
}

func (r *appointmentRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.WorkerID != "" {
		add(`EXISTS (SELECT 1 FROM appointment_assignment s
			WHERE s.appointment_id = a.id AND s.worker_id = $%d AND s.active_flag = 1)`, f.WorkerID)
	}
	if f.ProviderID != "" {
		add("a.provider_id = $%d", f.ProviderID)
	}
	if f.SubscriberID != "" {
		add("a.subscriber_id = $%d", f.SubscriberID)
	}
	if f.Status != "" {
		add("a.status = $%d", string(f.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment a`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM appointment a%s ORDER BY a.scheduled_from DESC, a.id DESC LIMIT $%d OFFSET $%d`,
		apptCols, clause, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *appointmentRepoPG) CreateAssignment(ctx context.Context, asg *Assignment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment_assignment (id, appointment_id, worker_id, assignment_status, active_flag,
			start_period, end_period, remarks)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		asg.ID, asg.AppointmentID, asg.WorkerID, string(asg.Status), flag(asg.Active),
		asg.StartPeriod, asg.EndPeriod, asg.Remarks,
	).Scan(&asg.CreatedAt, &asg.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s already has an active assignment", ErrInvalidTransition, asg.AppointmentID)
	}
	return err
}

func (r *appointmentRepoPG) UpdateAssignment(ctx context.Context, asg *Assignment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment_assignment SET assignment_status = $2, active_flag = $3,
			start_period = $4, end_period = $5, remarks = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		asg.ID, string(asg.Status), flag(asg.Active), asg.StartPeriod, asg.EndPeriod, asg.Remarks,
	).Scan(&asg.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrNoActiveAssignment
	}
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s already has an active assignment", ErrInvalidTransition, asg.AppointmentID)
	}
	return err
}

func (r *appointmentRepoPG) ActiveAssignment(ctx context.Context, appointmentID string) (*Assignment, error) {
	return scanAssignment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+asgCols+` FROM appointment_assignment WHERE appointment_id = $1 AND active_flag = 1`, appointmentID))
}

func (r *appointmentRepoPG) ListAssignments(ctx context.Context, appointmentID string) ([]*Assignment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+asgCols+` FROM appointment_assignment WHERE appointment_id = $1 ORDER BY created_at, id`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Assignment
	for rows.Next() {
		asg, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, asg)
	}
	return items, rows.Err()
}
