package queue

import (
	"context"
	"time"

	"github.com/chokoronadal/wbhsms/internal/domain/status"
)

// Repository persists queue entries. Lookups of a single entry return an
// apperr NotFound error when the row does not exist; the optional lookups
// (LatestByAppointment, ActiveForPatient) return nil, nil instead.
type Repository interface {
	FindStation(ctx context.Context, queueType string, serviceID *int64) (*Station, error)
	PatientExists(ctx context.Context, patientID int64) (bool, error)
	LockPatientStationDay(ctx context.Context, patientID, stationID int64, day time.Time) error
	HasActiveEntry(ctx context.Context, patientID, stationID int64, day time.Time) (bool, error)
	Create(ctx context.Context, e *Entry) error
	GetForUpdate(ctx context.Context, id int64) (*Entry, error)
	// UpdateStatus writes e's status, remarks and timestamps only if the
	// stored status still equals expected. It reports whether a row changed.
	UpdateStatus(ctx context.Context, e *Entry, expected status.Queue) (bool, error)
	ListByTypeAndDate(ctx context.Context, queueType string, day time.Time) ([]*Entry, error)
	CountAhead(ctx context.Context, stationID int64, day, timeIn time.Time, priorityOnly bool) (int, error)
	Statistics(ctx context.Context, day time.Time) ([]*StationStats, error)
	LatestByAppointment(ctx context.Context, appointmentID int64) (*Entry, error)
	ActiveForPatient(ctx context.Context, patientID int64, day time.Time) (*Entry, error)
}

// Transactor runs fn inside one database transaction.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
