package attendance

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/platform/db"
)

type attendanceRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &attendanceRepoPG{pool: pool} }

func (r *attendanceRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const recordCols = `id, appointment_id, worker_id, punch_in, punch_out, active_flag = 1, created_at, updated_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.AppointmentID, &rec.WorkerID, &rec.PunchIn, &rec.PunchOut,
		&rec.Active, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNoPunchInFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *attendanceRepoPG) Create(ctx context.Context, rec *Record) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO attendance (id, appointment_id, worker_id, punch_in)
		VALUES ($1, $2, $3, $4)
		RETURNING active_flag = 1, created_at, updated_at`,
		rec.ID, rec.AppointmentID, rec.WorkerID, rec.PunchIn,
	).Scan(&rec.Active, &rec.CreatedAt, &rec.UpdatedAt)
	switch {
	case db.IsUniqueViolation(err):
		return ErrAlreadyPunchedIn
	case db.IsForeignKeyViolation(err):
		return ErrUnknownReference
	}
	return err
}

func (r *attendanceRepoPG) Latest(ctx context.Context, appointmentID, workerID string) (*Record, error) {
	return scanRecord(r.conn(ctx).QueryRow(ctx, `
		SELECT `+recordCols+` FROM attendance
		WHERE appointment_id = $1 AND worker_id = $2 AND active_flag = 1
		ORDER BY punch_in DESC, id DESC
		LIMIT 1
		FOR UPDATE`, appointmentID, workerID))
}

func (r *attendanceRepoPG) SetPunchOut(ctx context.Context, rec *Record) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE attendance SET punch_out = $2, updated_at = NOW()
		WHERE id = $1 AND punch_out IS NULL`, rec.ID, rec.PunchOut)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyPunchedOut
	}
	return nil
}

func (r *attendanceRepoPG) List(ctx context.Context, appointmentID, workerID string) ([]*Record, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+recordCols+` FROM attendance
		WHERE appointment_id = $1 AND ($2 = '' OR worker_id = $2) AND active_flag = 1
		ORDER BY punch_in, id`, appointmentID, workerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	return items, rows.Err()
}
