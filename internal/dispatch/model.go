// Package dispatch runs the imminent-start watcher: a polling loop that finds
// appointments about to begin and pushes a reminder to the provider's device,
// exactly once per visit, recording every attempt in the dispatch log.
package dispatch

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// EntryStatus is the state of a dispatch log row.
type EntryStatus string

const (
	StatusPending EntryStatus = "pending"
	StatusSent    EntryStatus = "sent"
	StatusFailed  EntryStatus = "failed"
	StatusSkipped EntryStatus = "skipped"
)

// Match is one appointment due at the target minute, resolved to its active
// worker and provider organization.
type Match struct {
	AppointmentID  string
	ServiceSubtype string
	WorkerID       string
	WorkerName     string
	ProviderID     string
	ProviderMobile string
}

// Entry is a dispatch log row. The (appointment, visit date, visit time)
// triple is unique; claiming it is what makes a send happen at most once.
type Entry struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	AppointmentID  string         `gorm:"size:32;not null;uniqueIndex:uq_dispatch_visit,priority:1" json:"appointment_id"`
	VisitDate      time.Time      `gorm:"type:date;not null;uniqueIndex:uq_dispatch_visit,priority:2" json:"visit_date"`
	VisitTime      string         `gorm:"size:5;not null;uniqueIndex:uq_dispatch_visit,priority:3" json:"visit_time"`
	WorkerID       string         `gorm:"size:32;not null" json:"worker_id"`
	ProviderMobile string         `gorm:"size:20;not null" json:"provider_mobile"`
	Status         EntryStatus    `gorm:"size:16;not null" json:"status"`
	Error          *string        `gorm:"column:error" json:"error,omitempty"`
	Payload        datatypes.JSON `gorm:"type:jsonb" json:"payload,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (Entry) TableName() string { return "dispatch_log" }

// ListFilter narrows LogStore.List. Zero fields match everything.
type ListFilter struct {
	AppointmentID string
	Status        EntryStatus
	VisitDate     *time.Time
}

// visitKey identifies one visit of an appointment.
func visitKey(appointmentID string, visitDate time.Time, visitTime string) string {
	return appointmentID + "|" + visitDate.Format("2006-01-02") + "|" + visitTime
}
