package workforce

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/platform/db"
)

// -- Directory --

type directoryPG struct{ pool *pgxpool.Pool }

func NewDirectoryPG(pool *pgxpool.Pool) Directory { return &directoryPG{pool: pool} }

func (r *directoryPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const workerCols = `id, organization_id, name, mobile, service_subtype, active_flag = 1, created_at`

func (r *directoryPG) scanWorker(row pgx.Row) (*Worker, error) {
	var w Worker
	err := row.Scan(&w.ID, &w.OrganizationID, &w.Name, &w.Mobile, &w.ServiceSubtype, &w.Active, &w.CreatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrWorkerNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (r *directoryPG) GetWorker(ctx context.Context, id string) (*Worker, error) {
	return r.scanWorker(r.conn(ctx).QueryRow(ctx, `SELECT `+workerCols+` FROM worker WHERE id = $1`, id))
}

func (r *directoryPG) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	var o Organization
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, name, mobile, active_flag = 1 FROM provider_organization WHERE id = $1`, id).
		Scan(&o.ID, &o.Name, &o.Mobile, &o.Active)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrOrganizationNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (r *directoryPG) ListAvailableWorkers(ctx context.Context, orgID, subtype, exclude string) ([]*Worker, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+workerCols+` FROM worker
		WHERE organization_id = $1 AND service_subtype = $2 AND active_flag = 1 AND id <> $3
		ORDER BY id`, orgID, subtype, exclude)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Worker
	for rows.Next() {
		w, err := r.scanWorker(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

// -- DeviceRegistry --

type deviceRegistryPG struct{ pool *pgxpool.Pool }

func NewDeviceRegistryPG(pool *pgxpool.Pool) DeviceRegistry { return &deviceRegistryPG{pool: pool} }

func (r *deviceRegistryPG) GetActiveDeviceToken(ctx context.Context, mobile string) (string, error) {
	var token string
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT token FROM device_token
		WHERE mobile = $1 AND active_flag = 1
		ORDER BY updated_at DESC, id DESC
		LIMIT 1`, mobile).Scan(&token)
	if err != nil {
		if db.IsNoRows(err) {
			return "", ErrNoDevice
		}
		return "", err
	}
	return token, nil
}

// RegisterDevice stores d as the newest token for its mobile. The same token
// registered earlier under another mobile is retired.
func (r *deviceRegistryPG) RegisterDevice(ctx context.Context, d *DeviceToken) error {
	q := db.Conn(ctx, r.pool)
	if _, err := q.Exec(ctx, `
		UPDATE device_token SET active_flag = 0, updated_at = NOW()
		WHERE token = $1 AND mobile <> $2 AND active_flag = 1`, d.Token, d.Mobile); err != nil {
		return err
	}
	d.Active = true
	return q.QueryRow(ctx, `
		INSERT INTO device_token (mobile, token, platform)
		VALUES ($1, $2, $3)
		RETURNING id, updated_at`, d.Mobile, d.Token, d.Platform).Scan(&d.ID, &d.UpdatedAt)
}
