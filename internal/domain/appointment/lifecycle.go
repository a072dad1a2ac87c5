package appointment

import (
	"fmt"
	"time"
)

// NoAvailableWorkerRemark is stored on appointments declined because a
// reassignment found nobody to take over.
const NoAvailableWorkerRemark = "no available worker"

var transitions = map[Status][]Status{
	StatusListed:   {StatusAccepted, StatusDeclined},
	StatusAccepted: {StatusOngoing, StatusDeclined},
	StatusOngoing:  {StatusCompleted},
}

// CanTransition reports whether the lifecycle allows moving from one status
// to another. Terminal statuses allow nothing.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func moveTo(a *Appointment, to Status) error {
	if !CanTransition(a.Status, to) {
		return fmt.Errorf("%w: %s is %s, cannot become %s", ErrInvalidTransition, a.ID, a.Status, to)
	}
	a.Status = to
	return nil
}

func accept(a *Appointment, providerID string) error {
	if err := moveTo(a, StatusAccepted); err != nil {
		return err
	}
	a.ProviderID = &providerID
	return nil
}

func decline(a *Appointment, reason string) error {
	if err := moveTo(a, StatusDeclined); err != nil {
		return err
	}
	a.Active = false
	if reason != "" {
		a.Remarks = strPtr(reason)
	}
	return nil
}

func startDuty(a *Appointment, asg *Assignment, at time.Time) error {
	if asg.Status != AssignmentAssigned {
		return fmt.Errorf("%w: assignment %s is %s", ErrInvalidTransition, asg.ID, asg.Status)
	}
	if err := moveTo(a, StatusOngoing); err != nil {
		return err
	}
	asg.Status = AssignmentDutyStarted
	asg.StartPeriod = &at
	a.StartedAt = &at
	return nil
}

func stopDuty(a *Appointment, asg *Assignment, at time.Time) error {
	if asg.Status != AssignmentDutyStarted {
		return fmt.Errorf("%w: assignment %s is %s", ErrInvalidTransition, asg.ID, asg.Status)
	}
	if asg.StartPeriod != nil && at.Before(*asg.StartPeriod) {
		return ErrInvalidDutyTime
	}
	if err := moveTo(a, StatusCompleted); err != nil {
		return err
	}
	asg.Status = AssignmentDutyCompleted
	asg.EndPeriod = &at
	a.EndedAt = &at
	a.Active = false
	return nil
}

// retire marks asg declined and inactive.
func retire(asg *Assignment, reason string) {
	asg.Status = AssignmentDeclined
	asg.Active = false
	if reason != "" {
		asg.Remarks = strPtr(reason)
	}
}
