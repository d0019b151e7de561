package queue

import (
	"time"

	"github.com/chokoronadal/wbhsms/internal/domain/status"
)

// Priority is the service priority of a queue entry.
type Priority string

const (
	PriorityRegular  Priority = "regular"
	PriorityPriority Priority = "priority"
)

// Station types double as queue types.
const (
	TypeTriage       = "triage"
	TypeConsultation = "consultation"
	TypeLab          = "lab"
	TypePharmacy     = "pharmacy"
	TypeBilling      = "billing"
	TypeDocument     = "document"
)

// Types lists every queue type.
var Types = []string{TypeTriage, TypeConsultation, TypeLab, TypePharmacy, TypeBilling, TypeDocument}

// ValidType reports whether t is a known queue type.
func ValidType(t string) bool {
	for _, v := range Types {
		if v == t {
			return true
		}
	}
	return false
}

// Entry is one patient's place in a station's queue for a day.
type Entry struct {
	ID            int64        `json:"queue_entry_id"`
	StationID     int64        `json:"station_id"`
	StationName   string       `json:"station_name,omitempty"`
	PatientID     int64        `json:"patient_id"`
	PatientName   string       `json:"patient_name,omitempty"`
	VisitID       *int64       `json:"visit_id,omitempty"`
	AppointmentID *int64       `json:"appointment_id,omitempty"`
	ServiceID     *int64       `json:"service_id,omitempty"`
	QueueType     string       `json:"queue_type"`
	PriorityLevel Priority     `json:"priority_level"`
	Status        status.Queue `json:"status"`
	QueueDate     time.Time    `json:"-"`
	TimeIn        time.Time    `json:"time_in"`
	TimeStarted   *time.Time   `json:"time_started,omitempty"`
	TimeCompleted *time.Time   `json:"time_completed,omitempty"`
	Remarks       string       `json:"remarks,omitempty"`
	CreatedBy     int64        `json:"created_by,omitempty"`
	UpdatedAt     time.Time    `json:"updated_at"`

	FormattedCode string    `json:"formatted_code"`
	WaitInfo      *WaitInfo `json:"wait_info,omitempty"`
}

// WaitInfo estimates how long an entry still has to wait.
type WaitInfo struct {
	WaitingAhead     int `json:"waiting_ahead"`
	EstimatedMinutes int `json:"estimated_minutes"`
}

// Station is a service point patients queue at.
type Station struct {
	ID        int64  `json:"station_id"`
	Name      string `json:"station_name"`
	Type      string `json:"station_type"`
	ServiceID *int64 `json:"service_id,omitempty"`
	IsActive  bool   `json:"is_active"`
}

// StationStats summarizes one station's queue for a day.
type StationStats struct {
	StationID      int64   `json:"station_id"`
	StationName    string  `json:"station_name"`
	StationType    string  `json:"station_type"`
	Total          int     `json:"total"`
	Waiting        int     `json:"waiting"`
	Called         int     `json:"called"`
	InProgress     int     `json:"in_progress"`
	Done           int     `json:"done"`
	Skipped        int     `json:"skipped"`
	Cancelled      int     `json:"cancelled"`
	NoShow         int     `json:"no_show"`
	Started        int     `json:"started"`
	AvgWaitMinutes float64 `json:"avg_wait_minutes"`
}

// Statistics is the per-station report for one day.
type Statistics struct {
	Date     string          `json:"date"`
	Stations []*StationStats `json:"stations"`
	Totals   StationStats    `json:"totals"`
}

// PatientStatus is what a patient sees about their own place in line.
type PatientStatus struct {
	Queue     *Entry    `json:"queue"`
	WaitInfo  *WaitInfo `json:"wait_info"`
	Timestamp time.Time `json:"timestamp"`
}

// CreateRequest adds a patient to the queue of a station type.
type CreateRequest struct {
	AppointmentID *int64 `json:"appointment_id" validate:"omitempty,gt=0"`
	PatientID     int64  `json:"patient_id" validate:"required,gt=0"`
	ServiceID     *int64 `json:"service_id" validate:"omitempty,gt=0"`
	VisitID       *int64 `json:"visit_id" validate:"omitempty,gt=0"`
	QueueType     string `json:"queue_type" validate:"required,oneof=triage consultation lab pharmacy billing document"`
	PriorityLevel string `json:"priority_level" validate:"omitempty,oneof=regular priority"`
}

// UpdateStatusRequest moves an entry along its lifecycle. OldStatus is the
// status the caller last saw; the change is refused if it no longer holds.
type UpdateStatusRequest struct {
	QueueEntryID int64  `json:"queue_entry_id" validate:"required,gt=0"`
	NewStatus    string `json:"new_status" validate:"required"`
	OldStatus    string `json:"old_status" validate:"required"`
	Remarks      string `json:"remarks" validate:"max=500"`
}

// ReinstateRequest re-opens a terminal entry.
type ReinstateRequest struct {
	QueueEntryID int64  `json:"queue_entry_id" validate:"required,gt=0"`
	Remarks      string `json:"remarks" validate:"max=500"`
}

const defaultReinstateRemarks = "Patient reinstated by staff"
