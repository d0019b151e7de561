package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chokoronadal/wbhsms/internal/domain/status"
	"github.com/chokoronadal/wbhsms/internal/platform/apperr"
	"github.com/chokoronadal/wbhsms/internal/platform/db"
)

const uniqueViolation = "23505"

const entryCols = `q.queue_entry_id, q.station_id, s.station_name, q.patient_id,
	COALESCE(p.first_name || ' ' || p.last_name, ''), q.visit_id, q.appointment_id, q.service_id,
	q.queue_type, q.priority_level, q.status, q.queue_date, q.time_in, q.time_started,
	q.time_completed, COALESCE(q.remarks, ''), COALESCE(q.created_by, 0), q.updated_at`

const entryFrom = `
	FROM queue_entries q
	JOIN stations s ON s.station_id = q.station_id
	LEFT JOIN patients p ON p.patient_id = q.patient_id`

type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

func (r *RepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *RepoPG) scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.StationID, &e.StationName, &e.PatientID, &e.PatientName,
		&e.VisitID, &e.AppointmentID, &e.ServiceID, &e.QueueType, &e.PriorityLevel, &e.Status,
		&e.QueueDate, &e.TimeIn, &e.TimeStarted, &e.TimeCompleted, &e.Remarks, &e.CreatedBy, &e.UpdatedAt)
	return &e, err
}

func (r *RepoPG) FindStation(ctx context.Context, queueType string, serviceID *int64) (*Station, error) {
	var st Station
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT station_id, station_name, station_type, service_id, is_active
		FROM stations
		WHERE station_type = $1 AND is_active
		ORDER BY COALESCE(service_id = $2::integer, FALSE) DESC, station_id
		LIMIT 1`, queueType, serviceID,
	).Scan(&st.ID, &st.Name, &st.Type, &st.ServiceID, &st.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("active station for queue type", queueType)
	}
	if err != nil {
		return nil, fmt.Errorf("find station: %w", err)
	}
	return &st, nil
}

func (r *RepoPG) PatientExists(ctx context.Context, patientID int64) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM patients WHERE patient_id = $1)`, patientID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check patient: %w", err)
	}
	return ok, nil
}

// LockPatientStationDay takes a transaction-scoped advisory lock so two
// concurrent creates for the same patient, station and day run one after
// the other.
func (r *RepoPG) LockPatientStationDay(ctx context.Context, patientID, stationID int64, day time.Time) error {
	key := fmt.Sprintf("queue:%d:%d:%s", patientID, stationID, day.Format("2006-01-02"))
	if _, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("lock patient station day: %w", err)
	}
	return nil
}

func (r *RepoPG) HasActiveEntry(ctx context.Context, patientID, stationID int64, day time.Time) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM queue_entries
			WHERE patient_id = $1 AND station_id = $2 AND queue_date = $3
			  AND status IN ('waiting', 'called', 'in_progress'))`,
		patientID, stationID, day,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check active entry: %w", err)
	}
	return ok, nil
}

func (r *RepoPG) Create(ctx context.Context, e *Entry) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO queue_entries (station_id, patient_id, visit_id, appointment_id, service_id,
			queue_type, priority_level, status, queue_date, time_in, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING queue_entry_id, updated_at`,
		e.StationID, e.PatientID, e.VisitID, e.AppointmentID, e.ServiceID,
		e.QueueType, string(e.PriorityLevel), string(e.Status), e.QueueDate, e.TimeIn, e.CreatedBy,
	).Scan(&e.ID, &e.UpdatedAt)
	if isUniqueViolation(err) {
		return apperr.ErrDuplicateActiveEntry
	}
	if err != nil {
		return fmt.Errorf("insert queue entry: %w", err)
	}
	return nil
}

func (r *RepoPG) GetForUpdate(ctx context.Context, id int64) (*Entry, error) {
	e, err := r.scanEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+entryCols+entryFrom+` WHERE q.queue_entry_id = $1 FOR UPDATE OF q`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("queue entry", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get queue entry: %w", err)
	}
	return e, nil
}

func (r *RepoPG) UpdateStatus(ctx context.Context, e *Entry, expected status.Queue) (bool, error) {
	var remarks *string
	if e.Remarks != "" {
		remarks = &e.Remarks
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE queue_entries
		SET status = $2, remarks = $3, time_started = $4, time_completed = $5, updated_at = NOW()
		WHERE queue_entry_id = $1 AND status = $6`,
		e.ID, string(e.Status), remarks, e.TimeStarted, e.TimeCompleted, string(expected),
	)
	if isUniqueViolation(err) {
		return false, apperr.ErrDuplicateActiveEntry
	}
	if err != nil {
		return false, fmt.Errorf("update queue status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *RepoPG) ListByTypeAndDate(ctx context.Context, queueType string, day time.Time) ([]*Entry, error) {
	return r.list(ctx, `SELECT `+entryCols+entryFrom+`
		WHERE s.station_type = $1 AND q.queue_date = $2
		ORDER BY q.time_in, q.queue_entry_id`, queueType, day)
}

func (r *RepoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue entries: %w", err)
	}
	defer rows.Close()

	var items []*Entry
	for rows.Next() {
		e, err := r.scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *RepoPG) CountAhead(ctx context.Context, stationID int64, day, timeIn time.Time, priorityOnly bool) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM queue_entries
		WHERE station_id = $1 AND queue_date = $2
		  AND status IN ('waiting', 'called')
		  AND time_in < $3
		  AND (NOT $4 OR priority_level = 'priority')`,
		stationID, day, timeIn, priorityOnly,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count entries ahead: %w", err)
	}
	return n, nil
}

func (r *RepoPG) Statistics(ctx context.Context, day time.Time) ([]*StationStats, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT s.station_id, s.station_name, s.station_type,
			COUNT(q.queue_entry_id),
			COUNT(*) FILTER (WHERE q.status = 'waiting'),
			COUNT(*) FILTER (WHERE q.status = 'called'),
			COUNT(*) FILTER (WHERE q.status = 'in_progress'),
			COUNT(*) FILTER (WHERE q.status = 'done'),
			COUNT(*) FILTER (WHERE q.status = 'skipped'),
			COUNT(*) FILTER (WHERE q.status = 'cancelled'),
			COUNT(*) FILTER (WHERE q.status = 'no_show'),
			COUNT(*) FILTER (WHERE q.time_started IS NOT NULL),
			COALESCE(AVG(EXTRACT(EPOCH FROM (q.time_started - q.time_in)) / 60)
				FILTER (WHERE q.time_started IS NOT NULL), 0)::float8
		FROM stations s
		LEFT JOIN queue_entries q ON q.station_id = s.station_id AND q.queue_date = $1
		WHERE s.is_active
		GROUP BY s.station_id, s.station_name, s.station_type
		ORDER BY s.station_id`, day)
	if err != nil {
		return nil, fmt.Errorf("queue statistics: %w", err)
	}
	defer rows.Close()

	var out []*StationStats
	for rows.Next() {
		var st StationStats
		if err := rows.Scan(&st.StationID, &st.StationName, &st.StationType, &st.Total,
			&st.Waiting, &st.Called, &st.InProgress, &st.Done, &st.Skipped, &st.Cancelled,
			&st.NoShow, &st.Started, &st.AvgWaitMinutes); err != nil {
			return nil, fmt.Errorf("scan station statistics: %w", err)
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

func (r *RepoPG) LatestByAppointment(ctx context.Context, appointmentID int64) (*Entry, error) {
	return r.optional(ctx, `SELECT `+entryCols+entryFrom+`
		WHERE q.appointment_id = $1
		ORDER BY q.time_in DESC, q.queue_entry_id DESC LIMIT 1`, appointmentID)
}

func (r *RepoPG) ActiveForPatient(ctx context.Context, patientID int64, day time.Time) (*Entry, error) {
	return r.optional(ctx, `SELECT `+entryCols+entryFrom+`
		WHERE q.patient_id = $1 AND q.queue_date = $2
		  AND q.status IN ('waiting', 'called', 'in_progress')
		ORDER BY q.time_in LIMIT 1`, patientID, day)
}

func (r *RepoPG) optional(ctx context.Context, query string, args ...interface{}) (*Entry, error) {
	e, err := r.scanEntry(r.conn(ctx).QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get queue entry: %w", err)
	}
	return e, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
