// Package catalog reads service package display data. Packages are managed
// elsewhere; this service only looks them up.
package catalog

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/platform/db"
)

var ErrPackageNotFound = errors.New("service package not found")

// Package maps to the service_package table.
type Package struct {
	ID             string `db:"id" json:"id"`
	Name           string `db:"name" json:"name"`
	ServiceType    string `db:"service_type" json:"service_type"`
	ServiceSubtype string `db:"service_subtype" json:"service_subtype"`
	SessionCount   *int   `db:"session_count" json:"session_count,omitempty"`
	Active         bool   `db:"active_flag" json:"active"`
}

type Reader interface {
	GetPackage(ctx context.Context, id string) (*Package, error)
	// GetPackages returns the packages found among ids keyed by id. Missing
	// ids are absent from the map.
	GetPackages(ctx context.Context, ids []string) (map[string]*Package, error)
}

type readerPG struct{ pool *pgxpool.Pool }

func NewReaderPG(pool *pgxpool.Pool) Reader { return &readerPG{pool: pool} }

const packageCols = `id, name, service_type, service_subtype, session_count, active_flag = 1`

func (r *readerPG) GetPackage(ctx context.Context, id string) (*Package, error) {
	var p Package
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+packageCols+` FROM service_package WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.ServiceType, &p.ServiceSubtype, &p.SessionCount, &p.Active)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrPackageNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *readerPG) GetPackages(ctx context.Context, ids []string) (map[string]*Package, error) {
	out := make(map[string]*Package, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+packageCols+` FROM service_package WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p Package
		if err := rows.Scan(&p.ID, &p.Name, &p.ServiceType, &p.ServiceSubtype, &p.SessionCount, &p.Active); err != nil {
			return nil, err
		}
		out[p.ID] = &p
	}
	return out, rows.Err()
}

// MemoryReader is an in-process Reader.
type MemoryReader struct {
	mu       sync.RWMutex
	packages map[string]*Package
}

func NewMemoryReader(pkgs ...*Package) *MemoryReader {
	m := &MemoryReader{packages: make(map[string]*Package)}
	for _, p := range pkgs {
		m.Put(p)
	}
	return m
}

func (m *MemoryReader) Put(p *Package) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.packages[p.ID] = &cp
}

func (m *MemoryReader) GetPackage(_ context.Context, id string) (*Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.packages[id]
	if !ok {
		return nil, ErrPackageNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryReader) GetPackages(_ context.Context, ids []string) (map[string]*Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*Package, len(ids))
	for _, id := range ids {
		if p, ok := m.packages[id]; ok {
			cp := *p
			out[id] = &cp
		}
	}
	return out, nil
}
