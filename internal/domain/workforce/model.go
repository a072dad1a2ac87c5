package workforce

import (
	"errors"
	"time"
)

var (
	ErrWorkerNotFound       = errors.New("worker not found")
	ErrOrganizationNotFound = errors.New("provider organization not found")
	ErrNoDevice             = errors.New("no active device token")
)

// Organization maps to the provider_organization table.
type Organization struct {
	ID     string `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	Mobile string `db:"mobile" json:"mobile"`
	Active bool   `db:"active_flag" json:"active"`
}

// Worker maps to the worker table.
type Worker struct {
	ID             string    `db:"id" json:"id"`
	OrganizationID string    `db:"organization_id" json:"organization_id"`
	Name           string    `db:"name" json:"name"`
	Mobile         *string   `db:"mobile" json:"mobile,omitempty"`
	ServiceSubtype string    `db:"service_subtype" json:"service_subtype"`
	Active         bool      `db:"active_flag" json:"active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// DeviceToken maps to the device_token table.
type DeviceToken struct {
	ID        int64     `db:"id" json:"id"`
	Mobile    string    `db:"mobile" json:"mobile"`
	Token     string    `db:"token" json:"token"`
	Platform  *string   `db:"platform" json:"platform,omitempty"`
	Active    bool      `db:"active_flag" json:"active"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
