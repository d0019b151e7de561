package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/chokoronadal/wbhsms/internal/domain/actor"
	"github.com/chokoronadal/wbhsms/internal/domain/auditlog"
	"github.com/chokoronadal/wbhsms/internal/domain/status"
	"github.com/chokoronadal/wbhsms/internal/platform/apperr"
	"github.com/chokoronadal/wbhsms/internal/platform/events"
	"github.com/chokoronadal/wbhsms/internal/platform/validate"
)

// Service is the queue engine.
type Service struct {
	repo     Repository
	tx       Transactor
	audit    auditlog.Recorder
	events   *events.BestEffort
	validate *validate.Validator
	loc      *time.Location
	logger   zerolog.Logger

	// Now is the clock; tests replace it.
	Now func() time.Time
}

func NewService(repo Repository, tx Transactor, audit auditlog.Recorder, pub events.Publisher, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if audit == nil {
		audit = auditlog.Nop{}
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		repo:     repo,
		tx:       tx,
		audit:    audit,
		events:   events.NewBestEffort(pub, logger),
		validate: validate.New(),
		loc:      loc,
		logger:   logger,
		Now:      time.Now,
	}
}

func (s *Service) now() time.Time { return s.Now().In(s.loc) }

// day is the local calendar day of t, as midnight in the service timezone.
func (s *Service) day(t time.Time) time.Time {
	y, m, d := t.In(s.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.loc)
}

func (s *Service) parseDay(v string) (time.Time, error) {
	if v == "" {
		return s.day(s.now()), nil
	}
	t, err := time.ParseInLocation(validate.DateLayout, v, s.loc)
	if err != nil {
		return time.Time{}, apperr.Validation("date must be a date in YYYY-MM-DD format")
	}
	return t, nil
}

func (s *Service) decorate(e *Entry) *Entry {
	if e != nil {
		e.FormattedCode = FormatCode(e.TimeIn.In(s.loc), e.PriorityLevel, e.ID)
	}
	return e
}

// CreateQueueEntry places a patient in the queue of the first active station
// of the requested type.
func (s *Service) CreateQueueEntry(ctx context.Context, a actor.Actor, req CreateRequest) (*Entry, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	if !status.MayAlter(status.EntityQueue, a.Role) {
		return nil, fmt.Errorf("%w: role %q may not add patients to the queue", apperr.ErrForbidden, a.Role)
	}
	priority := Priority(req.PriorityLevel)
	if priority == "" {
		priority = PriorityRegular
	}

	now := s.now()
	var e *Entry
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		st, err := s.repo.FindStation(ctx, req.QueueType, req.ServiceID)
		if err != nil {
			return err
		}
		ok, err := s.repo.PatientExists(ctx, req.PatientID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NotFound("patient", req.PatientID)
		}

		day := s.day(now)
		if err := s.repo.LockPatientStationDay(ctx, req.PatientID, st.ID, day); err != nil {
			return err
		}
		active, err := s.repo.HasActiveEntry(ctx, req.PatientID, st.ID, day)
		if err != nil {
			return err
		}
		if active {
			return fmt.Errorf("%w: patient %d at %s", apperr.ErrDuplicateActiveEntry, req.PatientID, st.Name)
		}

		e = &Entry{
			StationID:     st.ID,
			StationName:   st.Name,
			PatientID:     req.PatientID,
			VisitID:       req.VisitID,
			AppointmentID: req.AppointmentID,
			ServiceID:     req.ServiceID,
			QueueType:     req.QueueType,
			PriorityLevel: priority,
			Status:        status.QueueWaiting,
			QueueDate:     day,
			TimeIn:        now,
			CreatedBy:     a.ID,
		}
		return s.repo.Create(ctx, e)
	})
	if err != nil {
		return nil, apperr.Persistence(err, "create queue entry")
	}

	s.decorate(e)
	if wi, err := s.waitInfo(ctx, e); err != nil {
		s.logger.Warn().Err(err).Int64("queue_entry_id", e.ID).Msg("wait info unavailable")
	} else {
		e.WaitInfo = &wi
	}

	s.audit.Record(ctx, a.ID, auditlog.ActionQueueCreated,
		fmt.Sprintf("Queue entry %s created for patient #%d at %s", e.FormattedCode, e.PatientID, e.StationName))
	s.publish(ctx, events.TypeQueueCreated, e, "")
	return e, nil
}

// UpdateQueueStatus applies a lifecycle transition. The change only lands if
// the stored status still equals req.OldStatus.
func (s *Service) UpdateQueueStatus(ctx context.Context, a actor.Actor, req UpdateStatusRequest) (*Entry, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	newStatus, err := status.ParseQueue(req.NewStatus)
	if err != nil {
		return nil, err
	}
	oldStatus, err := status.ParseQueue(req.OldStatus)
	if err != nil {
		return nil, err
	}
	if !status.MayAlter(status.EntityQueue, a.Role) {
		return nil, fmt.Errorf("%w: role %q may not change queue status", apperr.ErrForbidden, a.Role)
	}

	now := s.now()
	var e *Entry
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		e, err = s.repo.GetForUpdate(ctx, req.QueueEntryID)
		if err != nil {
			return err
		}
		if e.Status != oldStatus {
			return fmt.Errorf("%w: entry %d is %s, not %s", apperr.ErrStaleStatus, e.ID, e.Status, oldStatus)
		}
		if err := status.Check(status.EntityQueue, string(e.Status), string(newStatus), a.Role); err != nil {
			return err
		}

		e.Status = newStatus
		if req.Remarks != "" {
			e.Remarks = req.Remarks
		}
		if (newStatus == status.QueueCalled || newStatus == status.QueueInProgress) && e.TimeStarted == nil {
			e.TimeStarted = &now
		}
		if newStatus.IsTerminal() {
			e.TimeCompleted = &now
		}

		changed, err := s.repo.UpdateStatus(ctx, e, oldStatus)
		if err != nil {
			return err
		}
		if !changed {
			return fmt.Errorf("%w: entry %d changed concurrently", apperr.ErrStaleStatus, e.ID)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Persistence(err, "update queue status")
	}

	s.decorate(e)
	desc := fmt.Sprintf("Queue entry %s status changed from %s to %s", e.FormattedCode, oldStatus, newStatus)
	if req.Remarks != "" {
		desc += ". Remarks: " + req.Remarks
	}
	s.audit.Record(ctx, a.ID, auditlog.QueueStatusAction(string(newStatus)), desc)
	s.publish(ctx, events.TypeQueueStatusChanged, e, oldStatus)
	return e, nil
}

// ReinstateQueueEntry returns a terminal entry to waiting, keeping its
// original time_in.
func (s *Service) ReinstateQueueEntry(ctx context.Context, a actor.Actor, req ReinstateRequest) (*Entry, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	if !status.MayReinstate(a.Role) {
		return nil, fmt.Errorf("%w: role %q may not reinstate queue entries", apperr.ErrForbidden, a.Role)
	}
	remarks := req.Remarks
	if remarks == "" {
		remarks = defaultReinstateRemarks
	}

	var e *Entry
	var previous status.Queue
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		e, err = s.repo.GetForUpdate(ctx, req.QueueEntryID)
		if err != nil {
			return err
		}
		if !e.Status.IsTerminal() {
			return fmt.Errorf("%w: only a finished entry can be reinstated, entry %d is %s",
				apperr.ErrInvalidTransition, e.ID, e.Status)
		}
		if err := s.repo.LockPatientStationDay(ctx, e.PatientID, e.StationID, e.QueueDate); err != nil {
			return err
		}
		active, err := s.repo.HasActiveEntry(ctx, e.PatientID, e.StationID, e.QueueDate)
		if err != nil {
			return err
		}
		if active {
			return fmt.Errorf("%w: patient %d at %s", apperr.ErrDuplicateActiveEntry, e.PatientID, e.StationName)
		}

		previous = e.Status
		e.Status = status.QueueWaiting
		e.TimeCompleted = nil
		e.Remarks = remarks
		changed, err := s.repo.UpdateStatus(ctx, e, previous)
		if err != nil {
			return err
		}
		if !changed {
			return fmt.Errorf("%w: entry %d changed concurrently", apperr.ErrStaleStatus, e.ID)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Persistence(err, "reinstate queue entry")
	}

	s.decorate(e)
	s.audit.Record(ctx, a.ID, auditlog.ActionReinstated,
		fmt.Sprintf("Queue entry %s reinstated from %s. Remarks: %s", e.FormattedCode, previous, remarks))
	s.publish(ctx, events.TypeQueueReinstated, e, previous)
	return e, nil
}

// GetQueueByTypeAndDate lists the entries of every station of queueType on
// date (today when empty) in arrival order.
func (s *Service) GetQueueByTypeAndDate(ctx context.Context, queueType, date string) ([]*Entry, error) {
	if !ValidType(queueType) {
		return nil, apperr.Validation("queue_type must be one of %v", Types)
	}
	day, err := s.parseDay(date)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListByTypeAndDate(ctx, queueType, day)
	if err != nil {
		return nil, apperr.Persistence(err, "list queue")
	}
	if items == nil {
		items = []*Entry{}
	}
	for _, e := range items {
		s.decorate(e)
	}
	return items, nil
}

// GetWaitInfo counts the waiting or called entries that arrived at stationID
// before timeIn on the same day. A priority entry only counts priority
// entries ahead of it.
func (s *Service) GetWaitInfo(ctx context.Context, stationID int64, timeIn time.Time, priority Priority) (WaitInfo, error) {
	n, err := s.repo.CountAhead(ctx, stationID, s.day(timeIn), timeIn, priority == PriorityPriority)
	if err != nil {
		return WaitInfo{}, apperr.Persistence(err, "count entries ahead")
	}
	return EstimateWait(n), nil
}

func (s *Service) waitInfo(ctx context.Context, e *Entry) (WaitInfo, error) {
	return s.GetWaitInfo(ctx, e.StationID, e.TimeIn, e.PriorityLevel)
}

// GetStatistics reports per-station counts for date (today when empty).
func (s *Service) GetStatistics(ctx context.Context, date string) (*Statistics, error) {
	day, err := s.parseDay(date)
	if err != nil {
		return nil, err
	}
	stations, err := s.repo.Statistics(ctx, day)
	if err != nil {
		return nil, apperr.Persistence(err, "queue statistics")
	}
	out := &Statistics{Date: day.Format(validate.DateLayout), Stations: stations}
	if out.Stations == nil {
		out.Stations = []*StationStats{}
	}

	var weighted float64
	var started int
	for _, st := range out.Stations {
		out.Totals.Total += st.Total
		out.Totals.Waiting += st.Waiting
		out.Totals.Called += st.Called
		out.Totals.InProgress += st.InProgress
		out.Totals.Done += st.Done
		out.Totals.Skipped += st.Skipped
		out.Totals.Cancelled += st.Cancelled
		out.Totals.NoShow += st.NoShow
		out.Totals.Started += st.Started
		weighted += st.AvgWaitMinutes * float64(st.Started)
		started += st.Started
	}
	if started > 0 {
		out.Totals.AvgWaitMinutes = weighted / float64(started)
	}
	return out, nil
}

// GetAppointmentQueue returns the latest entry created for an appointment,
// or nil if there is none.
func (s *Service) GetAppointmentQueue(ctx context.Context, appointmentID int64) (*Entry, error) {
	if appointmentID <= 0 {
		return nil, apperr.Validation("appointment_id must be a positive integer")
	}
	e, err := s.repo.LatestByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, apperr.Persistence(err, "get appointment queue")
	}
	if e == nil {
		return nil, nil
	}
	s.decorate(e)
	if e.Status == status.QueueWaiting || e.Status == status.QueueCalled {
		if wi, err := s.waitInfo(ctx, e); err == nil {
			e.WaitInfo = &wi
		}
	}
	return e, nil
}

// GetPatientQueueStatus returns the calling patient's active entry for today.
func (s *Service) GetPatientQueueStatus(ctx context.Context, a actor.Actor) (*PatientStatus, error) {
	if a.Role != actor.RolePatient || a.PatientID == nil {
		return nil, fmt.Errorf("%w: only patients have a queue status", apperr.ErrForbidden)
	}
	now := s.now()
	out := &PatientStatus{Timestamp: now}
	e, err := s.repo.ActiveForPatient(ctx, *a.PatientID, s.day(now))
	if err != nil {
		return nil, apperr.Persistence(err, "get patient queue status")
	}
	if e == nil {
		return out, nil
	}
	out.Queue = s.decorate(e)
	wi, err := s.waitInfo(ctx, e)
	if err != nil {
		return nil, err
	}
	out.WaitInfo = &wi
	return out, nil
}

func (s *Service) publish(ctx context.Context, typ string, e *Entry, previous status.Queue) {
	s.events.Emit(ctx, events.Event{
		Type:           typ,
		Topics:         events.QueueTopics(e.StationID, e.QueueType),
		QueueEntryID:   e.ID,
		StationID:      e.StationID,
		QueueType:      e.QueueType,
		FormattedCode:  e.FormattedCode,
		PriorityLevel:  string(e.PriorityLevel),
		Status:         string(e.Status),
		PreviousStatus: string(previous),
		OccurredAt:     s.now(),
	})
}
