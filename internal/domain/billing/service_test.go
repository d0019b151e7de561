package billing

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/chokoronadal/wbhsms/internal/domain/actor"
	"github.com/chokoronadal/wbhsms/internal/domain/auditlog"
	"github.com/chokoronadal/wbhsms/internal/domain/status"
	"github.com/chokoronadal/wbhsms/internal/platform/apperr"
)

var (
	manila  = time.FixedZone("PHT", 8*60*60)
	cashier = actor.Actor{ID: 31, Role: actor.RoleCashier}
	nurse   = actor.Actor{ID: 21, Role: actor.RoleNurse}
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func date(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

type fixture struct {
	repo  *memRepo
	audit *fakeRecorder
	svc   *Service
	clock time.Time
}

func newFixture() *fixture {
	f := &fixture{
		repo:  newMemRepo(),
		audit: &fakeRecorder{},
		clock: time.Date(2025, 1, 25, 10, 30, 0, 0, manila),
	}
	f.svc = NewService(f.repo, &memTx{repo: f.repo}, f.audit, manila, 30, zerolog.Nop())
	f.svc.Now = func() time.Time { return f.clock }
	return f
}

func scenarioRequest() CreateInvoiceRequest {
	return CreateInvoiceRequest{
		PatientID:   5,
		InvoiceDate: "2025-01-10",
		DueDate:     "2025-01-20",
		Services: []ServiceLine{
			{ServiceType: "consultation", Description: "Checkup", Quantity: 1, UnitAmount: d("300")},
			{ServiceType: "laboratory", Description: "CBC", Quantity: 2, UnitAmount: d("150")},
		},
	}
}

// assertInvariant checks the paid/total relationship that must hold for
// every stored invoice.
func assertInvariant(t *testing.T, inv *Invoice) {
	t.Helper()
	if inv.PaidAmount.IsNegative() || inv.PaidAmount.GreaterThan(inv.TotalAmount) {
		t.Errorf("paid %s outside [0, %s]", inv.PaidAmount, inv.TotalAmount)
	}
	isPaid := inv.PaymentStatus == status.InvoicePaid
	covered := inv.PaidAmount.GreaterThanOrEqual(inv.TotalAmount)
	if isPaid != covered && inv.PaymentStatus != status.InvoiceExempted && inv.PaymentStatus != status.InvoiceCancelled {
		t.Errorf("status %s inconsistent with paid %s of %s", inv.PaymentStatus, inv.PaidAmount, inv.TotalAmount)
	}
}

func TestCreateInvoice(t *testing.T) {
	f := newFixture()

	inv, err := f.svc.CreateInvoice(context.Background(), cashier, scenarioRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !inv.TotalAmount.Equal(d("600.00")) {
		t.Errorf("expected total 600.00, got %s", inv.TotalAmount)
	}
	if inv.InvoiceNumber != "INV-202501-0001" {
		t.Errorf("expected INV-202501-0001, got %s", inv.InvoiceNumber)
	}
	if inv.PaymentStatus != status.InvoiceUnpaid || !inv.PaidAmount.IsZero() || !inv.BalanceAmount.Equal(d("600")) {
		t.Errorf("unexpected payment state %s paid=%s balance=%s", inv.PaymentStatus, inv.PaidAmount, inv.BalanceAmount)
	}
	if len(inv.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(inv.Items))
	}

	checkup, cbc := inv.Items[0], inv.Items[1]
	if checkup.ServiceItemID != 1 || !checkup.ItemPrice.Equal(d("300")) {
		t.Errorf("existing catalog item must be reused with the invoiced price, got %+v", checkup)
	}
	if cbc.ServiceItemID != 3 || cbc.CategoryID != 2 || cbc.Quantity != 2 || !cbc.Subtotal.Equal(d("300")) {
		t.Errorf("unexpected new line %+v", cbc)
	}
	if len(f.repo.state.catalog) != 3 {
		t.Errorf("expected CBC to be added to the catalog, got %d items", len(f.repo.state.catalog))
	}

	if len(f.audit.calls) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(f.audit.calls))
	}
	call := f.audit.calls[0]
	if call.ActionType != auditlog.ActionInvoiceCreated || !strings.Contains(call.Description, "INV-202501-0001") ||
		!strings.Contains(call.Description, "600.00") {
		t.Errorf("unexpected audit call %+v", call)
	}
	assertInvariant(t, f.repo.get(inv.ID))
}

func TestCreateInvoice_DefaultDueDateAndTrimming(t *testing.T) {
	f := newFixture()
	req := CreateInvoiceRequest{
		PatientID:   6,
		InvoiceDate: "2025-02-03",
		Services: []ServiceLine{
			{ServiceType: "other", Description: "  Checkup  ", Quantity: 3, UnitAmount: d("99.999")},
		},
		Notes: "  walk-in  ",
	}

	inv, err := f.svc.CreateInvoice(context.Background(), cashier, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !inv.DueDate.Equal(date("2025-03-05")) {
		t.Errorf("expected due date 30 days after billing, got %s", inv.DueDate.Format("2006-01-02"))
	}
	if inv.Items[0].ServiceItemID != 1 || inv.Items[0].ItemName != "Checkup" {
		t.Errorf("trimmed description should match the catalog, got %+v", inv.Items[0])
	}
	if !inv.Items[0].ItemPrice.Equal(d("100")) || !inv.TotalAmount.Equal(d("300")) {
		t.Errorf("prices are kept to cents, got %s / %s", inv.Items[0].ItemPrice, inv.TotalAmount)
	}
	if inv.Notes != "walk-in" || inv.InvoiceNumber != "INV-202502-0001" {
		t.Errorf("unexpected notes/number %q %s", inv.Notes, inv.InvoiceNumber)
	}
}

func TestCreateInvoice_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateInvoiceRequest)
		want   string
	}{
		{"due before invoice", func(r *CreateInvoiceRequest) { r.DueDate = "2025-01-09" }, "due_date must not be before invoice_date"},
		{"no services", func(r *CreateInvoiceRequest) { r.Services = []ServiceLine{} }, "services"},
		{"nil services", func(r *CreateInvoiceRequest) { r.Services = nil }, "services is required"},
		{"bad service type", func(r *CreateInvoiceRequest) { r.Services[0].ServiceType = "massage" }, "services[0].service_type must be one of"},
		{"zero quantity", func(r *CreateInvoiceRequest) { r.Services[1].Quantity = 0 }, "services[1].quantity must be greater than 0"},
		{"negative amount", func(r *CreateInvoiceRequest) { r.Services[1].UnitAmount = d("-1") }, "services[1].unit_amount must not be negative"},
		{"blank description", func(r *CreateInvoiceRequest) { r.Services[0].Description = "   " }, "services[0].description must not be blank"},
		{"bad date", func(r *CreateInvoiceRequest) { r.InvoiceDate = "01/10/2025" }, "invoice_date must be a date in YYYY-MM-DD format"},
		{"missing patient", func(r *CreateInvoiceRequest) { r.PatientID = 0 }, "patient_id is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			req := scenarioRequest()
			tt.mutate(&req)
			_, err := f.svc.CreateInvoice(context.Background(), cashier, req)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected message containing %q, got %q", tt.want, err.Error())
			}
			if len(f.repo.state.invoices) != 0 {
				t.Error("validation failures must not touch storage")
			}
		})
	}
}

func TestCreateInvoice_ZeroTotal(t *testing.T) {
	f := newFixture()
	req := scenarioRequest()
	req.Services = []ServiceLine{{ServiceType: "immunization", Description: "Measles vaccine", Quantity: 1, UnitAmount: d("0")}}
	_, err := f.svc.CreateInvoice(context.Background(), cashier, req)
	if !errors.Is(err, apperr.ErrValidation) || !strings.Contains(err.Error(), "invoice total must be greater than 0") {
		t.Fatalf("expected zero-total rejection, got %v", err)
	}
	if len(f.repo.state.invoices) != 0 {
		t.Error("a rejected invoice must not be stored")
	}

	req.Services = append(req.Services, ServiceLine{ServiceType: "consultation", Description: "Checkup", Quantity: 1, UnitAmount: d("150")})
	inv, err := f.svc.CreateInvoice(context.Background(), cashier, req)
	if err != nil {
		t.Fatalf("a free line next to a billed one is fine: %v", err)
	}
	if !inv.TotalAmount.Equal(d("150")) || inv.DisplayStatus == string(status.InvoicePaid) {
		t.Errorf("unexpected invoice total=%s display=%s", inv.TotalAmount, inv.DisplayStatus)
	}
	assertInvariant(t, f.repo.get(inv.ID))
}

func TestCreateInvoice_Errors(t *testing.T) {
	t.Run("role", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.CreateInvoice(context.Background(), nurse, scenarioRequest())
		if !errors.Is(err, apperr.ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})
	t.Run("unknown patient", func(t *testing.T) {
		f := newFixture()
		req := scenarioRequest()
		req.PatientID = 404
		_, err := f.svc.CreateInvoice(context.Background(), cashier, req)
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestCreateInvoice_LineFailureRollsBackEverything(t *testing.T) {
	f := newFixture()
	f.repo.failLineAt = 2

	_, err := f.svc.CreateInvoice(context.Background(), cashier, scenarioRequest())
	if !errors.Is(err, apperr.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if len(f.repo.state.invoices) != 0 || len(f.repo.state.lines) != 0 {
		t.Errorf("expected no invoice and no lines, got %d/%d", len(f.repo.state.invoices), len(f.repo.state.lines))
	}
	if len(f.repo.state.catalog) != 2 {
		t.Errorf("catalog auto-creation must roll back too, got %d items", len(f.repo.state.catalog))
	}
	if len(f.audit.calls) != 0 {
		t.Error("nothing is audited for a rolled back invoice")
	}
}

func seedInvoice(f *fixture, paid string, st status.Invoice) *Invoice {
	return f.repo.seed(Invoice{
		PatientID:     5,
		BillingDate:   date("2025-01-10"),
		DueDate:       date("2025-01-20"),
		TotalAmount:   d("600"),
		PaidAmount:    d(paid),
		PaymentStatus: st,
	})
}

func TestUpdateInvoiceStatus_PartialPayments(t *testing.T) {
	f := newFixture()
	seeded := seedInvoice(f, "0", status.InvoiceUnpaid)
	ctx := context.Background()

	inv, err := f.svc.UpdateInvoiceStatus(ctx, cashier, UpdateInvoiceStatusRequest{
		InvoiceID: seeded.ID, Status: "partial", PaymentAmount: dp("200"), PaymentMethod: "cash",
	})
	if err != nil {
		t.Fatalf("first partial: %v", err)
	}
	if inv.PaymentStatus != status.InvoicePartial || !inv.PaidAmount.Equal(d("200")) || !inv.BalanceAmount.Equal(d("400")) {
		t.Errorf("unexpected state %s paid=%s balance=%s", inv.PaymentStatus, inv.PaidAmount, inv.BalanceAmount)
	}
	if inv.PaymentMethod != "cash" || inv.PaymentDate == nil {
		t.Errorf("payment method and date should be recorded, got %q %v", inv.PaymentMethod, inv.PaymentDate)
	}
	assertInvariant(t, f.repo.get(seeded.ID))

	inv, err = f.svc.UpdateInvoiceStatus(ctx, cashier, UpdateInvoiceStatusRequest{
		InvoiceID: seeded.ID, Status: "partial", PaymentAmount: dp("150"),
	})
	if err != nil {
		t.Fatalf("second partial: %v", err)
	}
	if inv.PaymentStatus != status.InvoicePartial || !inv.PaidAmount.Equal(d("350")) {
		t.Errorf("partial -> partial should accumulate, got %s paid=%s", inv.PaymentStatus, inv.PaidAmount)
	}

	inv, err = f.svc.UpdateInvoiceStatus(ctx, cashier, UpdateInvoiceStatusRequest{
		InvoiceID: seeded.ID, Status: "partial", PaymentAmount: dp("250"),
	})
	if err != nil {
		t.Fatalf("completing partial: %v", err)
	}
	stored := f.repo.get(seeded.ID)
	if stored.PaymentStatus != status.InvoicePaid || !stored.PaidAmount.Equal(d("600")) {
		t.Errorf("a partial payment reaching the total must store paid, got %s paid=%s", stored.PaymentStatus, stored.PaidAmount)
	}
	if !inv.BalanceAmount.IsZero() {
		t.Errorf("expected zero balance, got %s", inv.BalanceAmount)
	}
	assertInvariant(t, stored)

	last := f.audit.calls[len(f.audit.calls)-1]
	if last.ActionType != auditlog.ActionInvoiceStatusUpdated ||
		!strings.Contains(last.Description, "from partial to paid") || !strings.Contains(last.Description, "250.00") {
		t.Errorf("unexpected audit call %+v", last)
	}
}

func TestUpdateInvoiceStatus_Paid(t *testing.T) {
	t.Run("without amount settles the total", func(t *testing.T) {
		f := newFixture()
		seeded := seedInvoice(f, "0", status.InvoiceUnpaid)
		inv, err := f.svc.UpdateInvoiceStatus(context.Background(), cashier, UpdateInvoiceStatusRequest{InvoiceID: seeded.ID, Status: "paid"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !inv.PaidAmount.Equal(d("600")) || inv.PaymentStatus != status.InvoicePaid {
			t.Errorf("unexpected state %s paid=%s", inv.PaymentStatus, inv.PaidAmount)
		}
		assertInvariant(t, f.repo.get(seeded.ID))
	})

	t.Run("exact amount", func(t *testing.T) {
		f := newFixture()
		seeded := seedInvoice(f, "200", status.InvoicePartial)
		inv, err := f.svc.UpdateInvoiceStatus(context.Background(), cashier, UpdateInvoiceStatusRequest{
			InvoiceID: seeded.ID, Status: "paid", PaymentAmount: dp("600.00"),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !inv.PaidAmount.Equal(d("600")) {
			t.Errorf("unexpected paid %s", inv.PaidAmount)
		}
	})

	t.Run("one cent over", func(t *testing.T) {
		f := newFixture()
		seeded := seedInvoice(f, "0", status.InvoiceUnpaid)
		_, err := f.svc.UpdateInvoiceStatus(context.Background(), cashier, UpdateInvoiceStatusRequest{
			InvoiceID: seeded.ID, Status: "paid", PaymentAmount: dp("600.01"),
		})
		if !errors.Is(err, apperr.ErrExcessPayment) {
			t.Fatalf("expected ErrExcessPayment, got %v", err)
		}
		stored := f.repo.get(seeded.ID)
		if stored.PaymentStatus != status.InvoiceUnpaid || !stored.PaidAmount.IsZero() {
			t.Errorf("invoice must be unmodified, got %s paid=%s", stored.PaymentStatus, stored.PaidAmount)
		}
		if len(f.audit.calls) != 0 {
			t.Error("a refused payment must not be audited")
		}
	})

	t.Run("below total", func(t *testing.T) {
		f := newFixture()
		seeded := seedInvoice(f, "0", status.InvoiceUnpaid)
		_, err := f.svc.UpdateInvoiceStatus(context.Background(), cashier, UpdateInvoiceStatusRequest{
			InvoiceID: seeded.ID, Status: "paid", PaymentAmount: dp("100"),
		})
		if !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
		assertInvariant(t, f.repo.get(seeded.ID))
	})
}

func TestUpdateInvoiceStatus_Errors(t *testing.T) {
	tests := []struct {
		name    string
		actor   actor.Actor
		current status.Invoice
		paid    string
		req     UpdateInvoiceStatusRequest
		kind    error
	}{
		{"partial over total", cashier, status.InvoicePartial, "500", UpdateInvoiceStatusRequest{Status: "partial", PaymentAmount: dp("100.01")}, apperr.ErrExcessPayment},
		{"partial without amount", cashier, status.InvoiceUnpaid, "0", UpdateInvoiceStatusRequest{Status: "partial"}, apperr.ErrValidation},
		{"zero amount", cashier, status.InvoiceUnpaid, "0", UpdateInvoiceStatusRequest{Status: "partial", PaymentAmount: dp("0")}, apperr.ErrValidation},
		{"negative amount", cashier, status.InvoiceUnpaid, "0", UpdateInvoiceStatusRequest{Status: "partial", PaymentAmount: dp("-5")}, apperr.ErrValidation},
		{"overdue is not storable", cashier, status.InvoiceUnpaid, "0", UpdateInvoiceStatusRequest{Status: "overdue"}, apperr.ErrValidation},
		{"paid is terminal", cashier, status.InvoicePaid, "600", UpdateInvoiceStatusRequest{Status: "cancelled"}, apperr.ErrInvalidTransition},
		{"no way back to unpaid", cashier, status.InvoicePartial, "100", UpdateInvoiceStatusRequest{Status: "unpaid"}, apperr.ErrInvalidTransition},
		{"partial cannot be exempted", cashier, status.InvoicePartial, "100", UpdateInvoiceStatusRequest{Status: "exempted"}, apperr.ErrInvalidTransition},
		{"nurse", nurse, status.InvoiceUnpaid, "0", UpdateInvoiceStatusRequest{Status: "paid"}, apperr.ErrForbidden},
		{"nurse on terminal invoice", nurse, status.InvoicePaid, "600", UpdateInvoiceStatusRequest{Status: "unpaid"}, apperr.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			seeded := seedInvoice(f, tt.paid, tt.current)
			tt.req.InvoiceID = seeded.ID
			_, err := f.svc.UpdateInvoiceStatus(context.Background(), tt.actor, tt.req)
			if !errors.Is(err, tt.kind) {
				t.Fatalf("expected %v, got %v", tt.kind, err)
			}
			stored := f.repo.get(seeded.ID)
			if stored.PaymentStatus != tt.current || !stored.PaidAmount.Equal(d(tt.paid)) {
				t.Errorf("invoice must be unmodified, got %s paid=%s", stored.PaymentStatus, stored.PaidAmount)
			}
		})
	}

	t.Run("missing invoice", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.UpdateInvoiceStatus(context.Background(), cashier, UpdateInvoiceStatusRequest{InvoiceID: 99, Status: "paid"})
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestUpdateInvoiceStatus_SubCentAmounts(t *testing.T) {
	tests := []struct {
		name   string
		status string
		amount string
	}{
		{"partial just under total", "partial", "599.996"},
		{"fraction of a cent", "partial", "0.001"},
		{"paid with extra precision", "paid", "600.001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			seeded := seedInvoice(f, "0", status.InvoiceUnpaid)
			_, err := f.svc.UpdateInvoiceStatus(context.Background(), cashier, UpdateInvoiceStatusRequest{
				InvoiceID: seeded.ID, Status: tt.status, PaymentAmount: dp(tt.amount),
			})
			if !errors.Is(err, apperr.ErrValidation) || !strings.Contains(err.Error(), "more than 2 decimal places") {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			stored := f.repo.get(seeded.ID)
			if stored.PaymentStatus != status.InvoiceUnpaid || !stored.PaidAmount.IsZero() {
				t.Errorf("invoice must be unmodified, got %s paid=%s", stored.PaymentStatus, stored.PaidAmount)
			}
			assertInvariant(t, stored)
		})
	}

	t.Run("whole cents settle cleanly", func(t *testing.T) {
		f := newFixture()
		seeded := seedInvoice(f, "0", status.InvoiceUnpaid)
		ctx := context.Background()
		for _, amt := range []string{"599.99", "0.010"} {
			if _, err := f.svc.UpdateInvoiceStatus(ctx, cashier, UpdateInvoiceStatusRequest{
				InvoiceID: seeded.ID, Status: "partial", PaymentAmount: dp(amt),
			}); err != nil {
				t.Fatalf("partial %s: %v", amt, err)
			}
			stored := f.repo.get(seeded.ID)
			if !stored.PaidAmount.Equal(stored.PaidAmount.Round(2)) {
				t.Errorf("stored paid amount %s is not whole cents", stored.PaidAmount)
			}
			assertInvariant(t, stored)
		}
		if got := f.repo.get(seeded.ID).PaymentStatus; got != status.InvoicePaid {
			t.Errorf("expected paid after the final cent, got %s", got)
		}
	})
}

func TestUpdateInvoiceStatus_ExemptAndCancel(t *testing.T) {
	f := newFixture()
	exempt := seedInvoice(f, "0", status.InvoiceUnpaid)
	cancel := seedInvoice(f, "100", status.InvoicePartial)

	inv, err := f.svc.UpdateInvoiceStatus(context.Background(), cashier, UpdateInvoiceStatusRequest{
		InvoiceID: exempt.ID, Status: "exempted", PaymentAmount: dp("50"), Notes: "indigent patient",
	})
	if err != nil {
		t.Fatalf("exempt: %v", err)
	}
	if inv.PaymentStatus != status.InvoiceExempted || !inv.PaidAmount.IsZero() || inv.PaymentDate != nil {
		t.Errorf("exemption records no payment, got %s paid=%s", inv.PaymentStatus, inv.PaidAmount)
	}

	inv, err = f.svc.UpdateInvoiceStatus(context.Background(), cashier, UpdateInvoiceStatusRequest{InvoiceID: cancel.ID, Status: "cancelled"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if inv.PaymentStatus != status.InvoiceCancelled || !inv.PaidAmount.Equal(d("100")) {
		t.Errorf("cancel keeps what was paid, got %s paid=%s", inv.PaymentStatus, inv.PaidAmount)
	}
}

func TestUpdateInvoiceStatus_NotesAreAppended(t *testing.T) {
	f := newFixture()
	seeded := f.repo.seed(Invoice{
		PatientID: 5, BillingDate: date("2025-01-10"), DueDate: date("2025-01-20"),
		TotalAmount: d("600"), PaidAmount: d("0"), PaymentStatus: status.InvoiceUnpaid,
		Notes: "created at front desk",
	})
	ctx := context.Background()

	if _, err := f.svc.UpdateInvoiceStatus(ctx, cashier, UpdateInvoiceStatusRequest{
		InvoiceID: seeded.ID, Status: "partial", PaymentAmount: dp("100"), Notes: "first installment",
	}); err != nil {
		t.Fatal(err)
	}
	f.clock = f.clock.Add(90 * time.Minute)
	if _, err := f.svc.UpdateInvoiceStatus(ctx, cashier, UpdateInvoiceStatusRequest{
		InvoiceID: seeded.ID, Status: "partial", PaymentAmount: dp("100"), Notes: "second installment",
	}); err != nil {
		t.Fatal(err)
	}

	want := "created at front desk\n" +
		"[2025-01-25 10:30:00] first installment\n" +
		"[2025-01-25 12:00:00] second installment"
	if got := f.repo.get(seeded.ID).Notes; got != want {
		t.Errorf("unexpected notes:\n%s\nwant:\n%s", got, want)
	}
}

func TestUpdateInvoiceStatus_LogsSettlement(t *testing.T) {
	f := newFixture()
	var logs bytes.Buffer
	f.svc = NewService(f.repo, &memTx{repo: f.repo}, f.audit, manila, 30, zerolog.New(&logs))
	f.svc.Now = func() time.Time { return f.clock }
	seeded := seedInvoice(f, "500", status.InvoicePartial)

	if _, err := f.svc.UpdateInvoiceStatus(context.Background(), cashier, UpdateInvoiceStatusRequest{
		InvoiceID: seeded.ID, Status: "partial", PaymentAmount: dp("100"),
	}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(logs.String(), "partial payment settled invoice") {
		t.Errorf("expected settlement log, got %q", logs.String())
	}
}

func TestDisplayStatus(t *testing.T) {
	today := date("2025-01-25")
	tests := []struct {
		name   string
		inv    Invoice
		status string
		days   int
	}{
		{"overdue", Invoice{DueDate: date("2025-01-20"), TotalAmount: d("600"), PaidAmount: d("0"), PaymentStatus: status.InvoiceUnpaid}, "overdue", 5},
		{"due today", Invoice{DueDate: date("2025-01-25"), TotalAmount: d("600"), PaidAmount: d("0"), PaymentStatus: status.InvoiceUnpaid}, "unpaid", 0},
		{"partial past due", Invoice{DueDate: date("2025-01-01"), TotalAmount: d("600"), PaidAmount: d("100"), PaymentStatus: status.InvoicePartial}, "partial", 0},
		{"covered", Invoice{DueDate: date("2025-01-01"), TotalAmount: d("600"), PaidAmount: d("600"), PaymentStatus: status.InvoicePaid}, "paid", 0},
		{"cancelled", Invoice{DueDate: date("2025-01-01"), TotalAmount: d("600"), PaidAmount: d("0"), PaymentStatus: status.InvoiceCancelled}, "cancelled", 0},
	}
	for _, tt := range tests {
		got, days := DisplayStatus(&tt.inv, today)
		if got != tt.status || days != tt.days {
			t.Errorf("%s: got %s/%d, want %s/%d", tt.name, got, days, tt.status, tt.days)
		}
	}
}

func TestGetPatientInvoices(t *testing.T) {
	f := newFixture()
	overdue := seedInvoice(f, "0", status.InvoiceUnpaid)
	f.repo.seed(Invoice{
		PatientID: 5, BillingDate: date("2025-01-22"), DueDate: date("2025-02-21"),
		TotalAmount: d("250.50"), PaidAmount: d("50"), PaymentStatus: status.InvoicePartial,
	})
	f.repo.seed(Invoice{
		PatientID: 5, BillingDate: date("2024-12-01"), DueDate: date("2024-12-31"),
		TotalAmount: d("100"), PaidAmount: d("0"), PaymentStatus: status.InvoiceCancelled,
	})
	f.repo.seed(Invoice{PatientID: 6, BillingDate: date("2025-01-22"), DueDate: date("2025-02-21"), TotalAmount: d("1"), PaidAmount: d("0"), PaymentStatus: status.InvoiceUnpaid})
	f.repo.state.lines = append(f.repo.state.lines, &LineItem{ID: 1, BillingID: overdue.ID, ServiceItemID: 1, ItemPrice: d("600"), Quantity: 1, Subtotal: d("600")})

	res, err := f.svc.GetPatientInvoices(context.Background(), cashier, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Invoices) != 3 {
		t.Fatalf("expected 3 invoices, got %d", len(res.Invoices))
	}
	if res.Invoices[0].InvoiceNumber != "INV-202501-0002" {
		t.Errorf("expected newest first, got %s", res.Invoices[0].InvoiceNumber)
	}

	got := res.Invoices[1]
	if got.DisplayStatus != "overdue" || got.DaysOverdue != 5 || got.PaymentStatus != status.InvoiceUnpaid {
		t.Errorf("expected derived overdue over stored unpaid, got %s/%d/%s", got.DisplayStatus, got.DaysOverdue, got.PaymentStatus)
	}
	if len(got.Items) != 1 || got.Items[0].ItemName != "Checkup" {
		t.Errorf("expected line items, got %+v", got.Items)
	}
	if f.repo.get(overdue.ID).PaymentStatus != status.InvoiceUnpaid {
		t.Error("derived status must never be written back")
	}

	sum := res.Summary
	if sum.TotalInvoices != 3 || sum.OverdueCount != 1 {
		t.Errorf("unexpected counts %+v", sum)
	}
	if !sum.TotalAmount.Equal(d("950.50")) || !sum.TotalPaid.Equal(d("50")) || !sum.TotalBalance.Equal(d("800.50")) {
		t.Errorf("unexpected totals amount=%s paid=%s balance=%s", sum.TotalAmount, sum.TotalPaid, sum.TotalBalance)
	}

	again, err := f.svc.GetPatientInvoices(context.Background(), cashier, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(res, again) {
		t.Error("repeated reads without a write must be identical")
	}
}

func TestGetPatientInvoices_Access(t *testing.T) {
	f := newFixture()
	seedInvoice(f, "0", status.InvoiceUnpaid)
	own := int64(5)
	patient := actor.Actor{ID: 90, Role: actor.RolePatient, PatientID: &own}

	res, err := f.svc.GetPatientInvoices(context.Background(), patient, 5)
	if err != nil || len(res.Invoices) != 1 {
		t.Fatalf("patient should read own invoices: %v", err)
	}
	if _, err := f.svc.GetPatientInvoices(context.Background(), patient, 6); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected ErrForbidden for another patient, got %v", err)
	}
	if _, err := f.svc.GetPatientInvoices(context.Background(), cashier, 0); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}

	res, err = f.svc.GetPatientInvoices(context.Background(), cashier, 6)
	if err != nil || res.Invoices == nil || len(res.Invoices) != 0 {
		t.Errorf("expected empty list, got %+v / %v", res, err)
	}

	f.repo.listErr = errors.New("conn closed")
	if _, err := f.svc.GetPatientInvoices(context.Background(), cashier, 5); !errors.Is(err, apperr.ErrPersistence) {
		t.Errorf("expected ErrPersistence, got %v", err)
	}
}

func TestGetServiceCatalog(t *testing.T) {
	f := newFixture()
	items, err := f.svc.GetServiceCatalog(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Name != "Checkup" {
		t.Errorf("expected only active items, got %+v", items)
	}
}

func TestNumber(t *testing.T) {
	if got := Number(date("2025-01-10"), 7); got != "INV-202501-0007" {
		t.Errorf("got %s", got)
	}
	if got := Number(date("2025-12-31"), 12345); got != "INV-202512-12345" {
		t.Errorf("got %s", got)
	}
}

func TestCategoryID(t *testing.T) {
	for typ, want := range map[string]int64{"consultation": 1, "laboratory": 2, "certificate": 8, "other": 9} {
		if got, ok := CategoryID(typ); !ok || got != want {
			t.Errorf("%s: got %d", typ, got)
		}
	}
	if _, ok := CategoryID("massage"); ok {
		t.Error("massage is not a service type")
	}
}
