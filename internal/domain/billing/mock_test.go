package billing

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chokoronadal/wbhsms/internal/platform/apperr"
)

type memState struct {
	invoices map[int64]*Invoice
	lines    []*LineItem
	catalog  []*CatalogItem
	nextInv  int64
	nextLine int64
	nextItem int64
}

func (s memState) clone() memState {
	c := s
	c.invoices = make(map[int64]*Invoice, len(s.invoices))
	for id, inv := range s.invoices {
		cp := *inv
		c.invoices[id] = &cp
	}
	c.lines = append([]*LineItem(nil), s.lines...)
	c.catalog = append([]*CatalogItem(nil), s.catalog...)
	return c
}

type memRepo struct {
	mu       sync.Mutex
	patients map[int64]bool
	state    memState

	// failLineAt makes the n-th AddLineItem call (1-based) fail.
	failLineAt int
	lineCalls  int
	listErr    error
}

func newMemRepo() *memRepo {
	return &memRepo{
		patients: map[int64]bool{5: true, 6: true},
		state: memState{
			invoices: map[int64]*Invoice{},
			catalog: []*CatalogItem{
				{ID: 1, CategoryID: 1, CategoryName: "Consultation", Name: "Checkup", PricePerUnit: decimal.NewFromInt(250), Unit: "service", IsActive: true},
				{ID: 2, CategoryID: 3, CategoryName: "Medication", Name: "Retired syrup", PricePerUnit: decimal.NewFromInt(80), Unit: "bottle", IsActive: false},
			},
			nextItem: 2,
		},
	}
}

func (m *memRepo) snapshot() memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (m *memRepo) restore(s memState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

func (m *memRepo) seed(inv Invoice) *Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.nextInv++
	inv.ID = m.state.nextInv
	m.state.invoices[inv.ID] = &inv
	c := inv
	return &c
}

func (m *memRepo) get(id int64) *Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *m.state.invoices[id]
	return &c
}

func (m *memRepo) PatientExists(_ context.Context, patientID int64) (bool, error) {
	return m.patients[patientID], nil
}

func (m *memRepo) CreateInvoice(_ context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.nextInv++
	inv.ID = m.state.nextInv
	inv.CreatedAt = time.Date(2025, 1, 10, 1, 0, 0, 0, time.UTC)
	inv.UpdatedAt = inv.CreatedAt
	c := *inv
	m.state.invoices[inv.ID] = &c
	return nil
}

func (m *memRepo) FindOrCreateItem(_ context.Context, name string, categoryID int64, price decimal.Decimal) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.state.catalog {
		if it.Name == name {
			return it.ID, it.CategoryID, nil
		}
	}
	m.state.nextItem++
	m.state.catalog = append(m.state.catalog, &CatalogItem{
		ID: m.state.nextItem, CategoryID: categoryID, Name: name, PricePerUnit: price, Unit: "service", IsActive: true,
	})
	return m.state.nextItem, categoryID, nil
}

func (m *memRepo) AddLineItem(_ context.Context, li *LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lineCalls++
	if m.failLineAt == m.lineCalls {
		return errors.New("insert billing item: connection reset by peer")
	}
	m.state.nextLine++
	li.ID = m.state.nextLine
	c := *li
	m.state.lines = append(m.state.lines, &c)
	return nil
}

func (m *memRepo) GetForUpdate(_ context.Context, id int64) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.state.invoices[id]
	if !ok {
		return nil, apperr.NotFound("invoice", id)
	}
	c := *inv
	return &c, nil
}

func (m *memRepo) UpdatePayment(_ context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.invoices[inv.ID]; !ok {
		return apperr.NotFound("invoice", inv.ID)
	}
	c := *inv
	c.Items = nil
	m.state.invoices[inv.ID] = &c
	return nil
}

func (m *memRepo) ListByPatient(_ context.Context, patientID int64) ([]*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*Invoice
	for _, inv := range m.state.invoices {
		if inv.PatientID == patientID {
			c := *inv
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BillingDate.Equal(out[j].BillingDate) {
			return out[i].ID > out[j].ID
		}
		return out[i].BillingDate.After(out[j].BillingDate)
	})
	return out, nil
}

func (m *memRepo) LineItems(_ context.Context, billingIDs []int64) (map[int64][]*LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[int64]bool, len(billingIDs))
	for _, id := range billingIDs {
		want[id] = true
	}
	out := make(map[int64][]*LineItem)
	for _, li := range m.state.lines {
		if want[li.BillingID] {
			c := *li
			for _, it := range m.state.catalog {
				if it.ID == li.ServiceItemID {
					c.ItemName = it.Name
					c.CategoryID = it.CategoryID
				}
			}
			out[li.BillingID] = append(out[li.BillingID], &c)
		}
	}
	return out, nil
}

func (m *memRepo) Catalog(_ context.Context) ([]*CatalogItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*CatalogItem
	for _, it := range m.state.catalog {
		if it.IsActive {
			c := *it
			out = append(out, &c)
		}
	}
	return out, nil
}

type memTx struct {
	repo *memRepo
}

func (t *memTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := t.repo.snapshot()
	if err := fn(ctx); err != nil {
		t.repo.restore(snap)
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
