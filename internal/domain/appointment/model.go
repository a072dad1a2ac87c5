package appointment

import (
	"fmt"
	"time"

	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/domain/catalog"
)

// Status is the appointment lifecycle state.
type Status string

const (
	StatusListed    Status = "Listed"
	StatusAccepted  Status = "Accepted"
	StatusDeclined  Status = "Declined"
	StatusOngoing   Status = "Ongoing"
	StatusCompleted Status = "Completed"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusListed, StatusAccepted, StatusDeclined, StatusOngoing, StatusCompleted:
		return st, nil
	}
	return "", fmt.Errorf("%w: appointment status %q", ErrUnknownStatus, s)
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusDeclined || s == StatusCompleted
}

// AssignmentStatus is the state of one worker's claim on an appointment.
type AssignmentStatus string

const (
	AssignmentAssigned      AssignmentStatus = "assigned"
	AssignmentDeclined      AssignmentStatus = "declined"
	AssignmentDutyStarted   AssignmentStatus = "duty started"
	AssignmentDutyCompleted AssignmentStatus = "duty completed"
)

func ParseAssignmentStatus(s string) (AssignmentStatus, error) {
	switch st := AssignmentStatus(s); st {
	case AssignmentAssigned, AssignmentDeclined, AssignmentDutyStarted, AssignmentDutyCompleted:
		return st, nil
	}
	return "", fmt.Errorf("%w: assignment status %q", ErrUnknownStatus, s)
}

// Appointment maps to the appointment table.
type Appointment struct {
	ID               string     `db:"id" json:"id"`
	SubscriberID     string     `db:"subscriber_id" json:"subscriber_id"`
	BeneficiaryID    *string    `db:"beneficiary_id" json:"beneficiary_id,omitempty"`
	PackageID        string     `db:"package_id" json:"package_id"`
	ProviderID       *string    `db:"provider_id" json:"provider_id,omitempty"`
	ServiceSubtype   string     `db:"service_subtype" json:"service_subtype"`
	VisitMode        string     `db:"visit_mode" json:"visit_mode"`
	SessionFrequency *string    `db:"session_frequency" json:"session_frequency,omitempty"`
	ScheduledFrom    time.Time  `db:"scheduled_from" json:"scheduled_from"`
	ScheduledUntil   time.Time  `db:"scheduled_until" json:"scheduled_until"`
	SessionTime      string     `db:"session_time" json:"session_time"`
	Status           Status     `db:"status" json:"status"`
	Active           bool       `db:"active_flag" json:"active"`
	Remarks          *string    `db:"remarks" json:"remarks,omitempty"`
	StartedAt        *time.Time `db:"start_date" json:"started_at,omitempty"`
	EndedAt          *time.Time `db:"end_date" json:"ended_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`

	Package          *catalog.Package `db:"-" json:"package,omitempty"`
	ActiveAssignment *Assignment      `db:"-" json:"active_assignment,omitempty"`
}

// Assignment maps to the appointment_assignment table.
type Assignment struct {
	ID            string           `db:"id" json:"id"`
	AppointmentID string           `db:"appointment_id" json:"appointment_id"`
	WorkerID      string           `db:"worker_id" json:"worker_id"`
	Status        AssignmentStatus `db:"assignment_status" json:"assignment_status"`
	Active        bool             `db:"active_flag" json:"active"`
	StartPeriod   *time.Time       `db:"start_period" json:"start_period,omitempty"`
	EndPeriod     *time.Time       `db:"end_period" json:"end_period,omitempty"`
	Remarks       *string          `db:"remarks" json:"remarks,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

// ListFilter narrows List. Empty fields match everything.
type ListFilter struct {
	WorkerID     string
	ProviderID   string
	SubscriberID string
	Status       Status
}

func strPtr(s string) *string { return &s }
