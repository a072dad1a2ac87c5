package dispatch

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ImminentSource lists active appointments whose schedule window contains
// day and whose session starts at clock (HH:MM).
type ImminentSource interface {
	Imminent(ctx context.Context, day time.Time, clock string) ([]Match, error)
}

type pgSource struct{ pool *pgxpool.Pool }

func NewPGSource(pool *pgxpool.Pool) ImminentSource { return &pgSource{pool: pool} }

func (s *pgSource) Imminent(ctx context.Context, day time.Time, clock string) ([]Match, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.service_subtype, w.id, w.name, o.id, o.mobile
		FROM appointment a
		JOIN appointment_assignment s ON s.appointment_id = a.id AND s.active_flag = 1
		JOIN worker w ON w.id = s.worker_id
		JOIN provider_organization o ON o.id = w.organization_id
		WHERE a.active_flag = 1
		  AND a.status IN ('Accepted', 'Ongoing')
		  AND a.scheduled_from <= $1::date AND a.scheduled_until >= $1::date
		  AND to_char(a.session_time, 'HH24:MI') = $2
		ORDER BY a.id`, day, clock)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.AppointmentID, &m.ServiceSubtype, &m.WorkerID, &m.WorkerName, &m.ProviderID, &m.ProviderMobile); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
