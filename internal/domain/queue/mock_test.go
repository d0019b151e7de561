package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chokoronadal/wbhsms/internal/domain/status"
	"github.com/chokoronadal/wbhsms/internal/platform/apperr"
	"github.com/chokoronadal/wbhsms/internal/platform/events"
)

var manila = time.FixedZone("PHT", 8*60*60)

type memRepo struct {
	mu       sync.Mutex
	stations []*Station
	patients map[int64]string
	entries  map[int64]*Entry
	nextID   int64
	locks    []string

	createErr error
	// lostRace makes the conditional update match no row, as if another
	// request changed the status between the read and the write.
	lostRace bool
}

func newMemRepo() *memRepo {
	one, three := int64(1), int64(3)
	return &memRepo{
		stations: []*Station{
			{ID: 1, Name: "Triage 1", Type: TypeTriage, ServiceID: &one, IsActive: true},
			{ID: 2, Name: "Consultation 1", Type: TypeConsultation, ServiceID: &one, IsActive: true},
			{ID: 3, Name: "Consultation 2", Type: TypeConsultation, IsActive: true},
			{ID: 4, Name: "Pharmacy", Type: TypePharmacy, ServiceID: &three, IsActive: true},
			{ID: 5, Name: "Old Lab", Type: TypeLab, IsActive: false},
		},
		patients: map[int64]string{10: "Ana Cruz", 11: "Ben Reyes", 12: "Cora Santos", 13: "Dino Lim"},
		entries:  map[int64]*Entry{},
	}
}

func (m *memRepo) snapshot() (map[int64]*Entry, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[int64]*Entry, len(m.entries))
	for id, e := range m.entries {
		c := *e
		cp[id] = &c
	}
	return cp, m.nextID
}

func (m *memRepo) restore(entries map[int64]*Entry, nextID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = entries
	m.nextID = nextID
}

// seed inserts an entry directly, bypassing the service.
func (m *memRepo) seed(e Entry) *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	e.ID = m.nextID
	if e.QueueDate.IsZero() {
		y, mo, d := e.TimeIn.In(manila).Date()
		e.QueueDate = time.Date(y, mo, d, 0, 0, 0, 0, manila)
	}
	for _, st := range m.stations {
		if st.ID == e.StationID {
			e.StationName = st.Name
			if e.QueueType == "" {
				e.QueueType = st.Type
			}
		}
	}
	if e.PriorityLevel == "" {
		e.PriorityLevel = PriorityRegular
	}
	m.entries[e.ID] = &e
	c := e
	return &c
}

func (m *memRepo) get(id int64) *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *m.entries[id]
	return &c
}

func (m *memRepo) FindStation(_ context.Context, queueType string, serviceID *int64) (*Station, error) {
	var first *Station
	for _, st := range m.stations {
		if st.Type != queueType || !st.IsActive {
			continue
		}
		if serviceID != nil && st.ServiceID != nil && *st.ServiceID == *serviceID {
			c := *st
			return &c, nil
		}
		if first == nil {
			first = st
		}
	}
	if first == nil {
		return nil, apperr.NotFound("active station for queue type", queueType)
	}
	c := *first
	return &c, nil
}

func (m *memRepo) PatientExists(_ context.Context, patientID int64) (bool, error) {
	_, ok := m.patients[patientID]
	return ok, nil
}

func (m *memRepo) LockPatientStationDay(_ context.Context, patientID, stationID int64, day time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks = append(m.locks, fmt.Sprintf("%d:%d:%s", patientID, stationID, day.Format("2006-01-02")))
	return nil
}

func (m *memRepo) HasActiveEntry(_ context.Context, patientID, stationID int64, day time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.PatientID == patientID && e.StationID == stationID && e.QueueDate.Equal(day) && e.Status.IsActive() {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) Create(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	e.ID = m.nextID
	e.UpdatedAt = e.TimeIn
	c := *e
	m.entries[e.ID] = &c
	return nil
}

func (m *memRepo) GetForUpdate(_ context.Context, id int64) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, apperr.NotFound("queue entry", id)
	}
	c := *e
	return &c, nil
}

func (m *memRepo) UpdateStatus(_ context.Context, e *Entry, expected status.Queue) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.entries[e.ID]
	if !ok || cur.Status != expected || m.lostRace {
		return false, nil
	}
	c := *e
	m.entries[e.ID] = &c
	return true, nil
}

func (m *memRepo) sorted(keep func(*Entry) bool) []*Entry {
	var out []*Entry
	for _, e := range m.entries {
		if keep(e) {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TimeIn.Equal(out[j].TimeIn) {
			return out[i].ID < out[j].ID
		}
		return out[i].TimeIn.Before(out[j].TimeIn)
	})
	return out
}

func (m *memRepo) ListByTypeAndDate(_ context.Context, queueType string, day time.Time) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(e *Entry) bool {
		return e.QueueType == queueType && e.QueueDate.Equal(day)
	}), nil
}

func (m *memRepo) CountAhead(_ context.Context, stationID int64, day, timeIn time.Time, priorityOnly bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.StationID != stationID || !e.QueueDate.Equal(day) || !e.TimeIn.Before(timeIn) {
			continue
		}
		if e.Status != status.QueueWaiting && e.Status != status.QueueCalled {
			continue
		}
		if priorityOnly && e.PriorityLevel != PriorityPriority {
			continue
		}
		n++
	}
	return n, nil
}

func (m *memRepo) Statistics(_ context.Context, day time.Time) ([]*StationStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*StationStats
	for _, st := range m.stations {
		if !st.IsActive {
			continue
		}
		ss := &StationStats{StationID: st.ID, StationName: st.Name, StationType: st.Type}
		var waitSum float64
		for _, e := range m.entries {
			if e.StationID != st.ID || !e.QueueDate.Equal(day) {
				continue
			}
			ss.Total++
			switch e.Status {
			case status.QueueWaiting:
				ss.Waiting++
			case status.QueueCalled:
				ss.Called++
			case status.QueueInProgress:
				ss.InProgress++
			case status.QueueDone:
				ss.Done++
			case status.QueueSkipped:
				ss.Skipped++
			case status.QueueCancelled:
				ss.Cancelled++
			case status.QueueNoShow:
				ss.NoShow++
			}
			if e.TimeStarted != nil {
				ss.Started++
				waitSum += e.TimeStarted.Sub(e.TimeIn).Minutes()
			}
		}
		if ss.Started > 0 {
			ss.AvgWaitMinutes = waitSum / float64(ss.Started)
		}
		out = append(out, ss)
	}
	return out, nil
}

func (m *memRepo) LatestByAppointment(_ context.Context, appointmentID int64) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.sorted(func(e *Entry) bool {
		return e.AppointmentID != nil && *e.AppointmentID == appointmentID
	})
	if len(items) == 0 {
		return nil, nil
	}
	return items[len(items)-1], nil
}

func (m *memRepo) ActiveForPatient(_ context.Context, patientID int64, day time.Time) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.sorted(func(e *Entry) bool {
		return e.PatientID == patientID && e.QueueDate.Equal(day) && e.Status.IsActive()
	})
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

// memTx restores the repo to its pre-transaction state when fn fails.
type memTx struct {
	repo *memRepo
	runs int
}

func (t *memTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.runs++
	entries, nextID := t.repo.snapshot()
	if err := fn(ctx); err != nil {
		t.repo.restore(entries, nextID)
		return err
	}
	return nil
}

type auditCall struct {
	ActorID     int64
	ActionType  string
	Description string
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []auditCall
}

func (f *fakeRecorder) Record(_ context.Context, actorID int64, actionType, description string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, auditCall{actorID, actionType, description})
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, ev events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

var errConnReset = errors.New("read tcp 10.0.0.4:5432: connection reset by peer")
