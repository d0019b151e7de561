package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/chokoronadal/wbhsms/internal/domain/actor"
	"github.com/chokoronadal/wbhsms/internal/domain/auditlog"
	"github.com/chokoronadal/wbhsms/internal/domain/status"
	"github.com/chokoronadal/wbhsms/internal/platform/apperr"
	"github.com/chokoronadal/wbhsms/internal/platform/validate"
)

// DefaultGraceDays is the due-date offset used when none is configured.
const DefaultGraceDays = 30

const noteTimeLayout = "2006-01-02 15:04:05"

// Service is the billing engine.
type Service struct {
	repo      Repository
	tx        Transactor
	audit     auditlog.Recorder
	validate  *validate.Validator
	loc       *time.Location
	graceDays int
	logger    zerolog.Logger

	// Now is the clock; tests replace it.
	Now func() time.Time
}

func NewService(repo Repository, tx Transactor, audit auditlog.Recorder, loc *time.Location, graceDays int, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if audit == nil {
		audit = auditlog.Nop{}
	}
	if graceDays <= 0 {
		graceDays = DefaultGraceDays
	}
	return &Service{
		repo:      repo,
		tx:        tx,
		audit:     audit,
		validate:  validate.New(),
		loc:       loc,
		graceDays: graceDays,
		logger:    logger,
		Now:       time.Now,
	}
}

func (s *Service) now() time.Time { return s.Now().In(s.loc) }

// civil truncates t to its calendar date, expressed as UTC midnight, so
// dates read from DATE columns and dates derived from the clock compare
// by day.
func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *Service) today() time.Time { return civil(s.now()) }

func forbidBilling(role actor.Role) error {
	if status.MayAlter(status.EntityInvoice, role) {
		return nil
	}
	return fmt.Errorf("%w: role %q may not change invoices", apperr.ErrForbidden, role)
}

// CreateInvoice validates the request, then inserts the header, any new
// catalog items and every line in one transaction.
func (s *Service) CreateInvoice(ctx context.Context, a actor.Actor, req CreateInvoiceRequest) (*Invoice, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	names := make([]string, len(req.Services))
	for i, line := range req.Services {
		names[i] = strings.TrimSpace(line.Description)
		if names[i] == "" {
			return nil, apperr.Validation("services[%d].description must not be blank", i)
		}
	}
	billingDate, _ := time.Parse(validate.DateLayout, req.InvoiceDate)
	dueDate := billingDate.AddDate(0, 0, s.graceDays)
	if req.DueDate != "" {
		dueDate, _ = time.Parse(validate.DateLayout, req.DueDate)
	}
	if dueDate.Before(billingDate) {
		return nil, apperr.Validation("due_date must not be before invoice_date")
	}
	if err := forbidBilling(a.Role); err != nil {
		return nil, err
	}

	inv := &Invoice{
		PatientID:     req.PatientID,
		BillingDate:   billingDate,
		DueDate:       dueDate,
		PaidAmount:    decimal.Zero,
		PaymentStatus: status.InvoiceUnpaid,
		Notes:         strings.TrimSpace(req.Notes),
		CreatedBy:     a.ID,
	}
	lines := make([]*LineItem, len(req.Services))
	total := decimal.Zero
	for i, line := range req.Services {
		price := line.UnitAmount.Round(2)
		sub := price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		lines[i] = &LineItem{ItemName: names[i], ItemPrice: price, Quantity: line.Quantity, Subtotal: sub}
		total = total.Add(sub)
	}
	inv.TotalAmount = total
	// paid_amount 0 would already cover a zero total while the status says unpaid.
	if !total.IsPositive() {
		return nil, apperr.Validation("invoice total must be greater than 0")
	}

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		ok, err := s.repo.PatientExists(ctx, req.PatientID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NotFound("patient", req.PatientID)
		}
		if err := s.repo.CreateInvoice(ctx, inv); err != nil {
			return err
		}
		for i, li := range lines {
			category, _ := CategoryID(req.Services[i].ServiceType)
			li.ServiceItemID, li.CategoryID, err = s.repo.FindOrCreateItem(ctx, li.ItemName, category, li.ItemPrice)
			if err != nil {
				return err
			}
			li.BillingID = inv.ID
			if err := s.repo.AddLineItem(ctx, li); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Persistence(err, "create invoice")
	}

	inv.Items = lines
	s.decorate(inv, s.today())
	s.audit.Record(ctx, a.ID, auditlog.ActionInvoiceCreated,
		fmt.Sprintf("Invoice %s created for patient #%d with total %s", inv.InvoiceNumber, inv.PatientID, inv.TotalAmount.StringFixed(2)))
	return inv, nil
}

// UpdateInvoiceStatus applies a payment or status change under a row lock.
// A partial payment that reaches the total settles the invoice as paid.
func (s *Service) UpdateInvoiceStatus(ctx context.Context, a actor.Actor, req UpdateInvoiceStatusRequest) (*Invoice, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	requested, err := status.ParseInvoice(req.Status)
	if err != nil {
		return nil, err
	}
	if requested == status.InvoicePartial && req.PaymentAmount == nil {
		return nil, apperr.Validation("payment_amount is required for a partial payment")
	}
	if amt := req.PaymentAmount; amt != nil && !amt.Equal(amt.Round(2)) {
		return nil, apperr.Validation("payment_amount %s has more than 2 decimal places", amt.String())
	}
	if err := forbidBilling(a.Role); err != nil {
		return nil, err
	}

	now := s.now()
	var inv *Invoice
	var previous status.Invoice
	var applied decimal.Decimal
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		inv, err = s.repo.GetForUpdate(ctx, req.InvoiceID)
		if err != nil {
			return err
		}
		if err := status.Check(status.EntityInvoice, string(inv.PaymentStatus), string(requested), a.Role); err != nil {
			return err
		}
		previous = inv.PaymentStatus
		before := inv.PaidAmount

		next, err := applyPayment(inv, requested, req.PaymentAmount)
		if err != nil {
			return err
		}
		inv.PaymentStatus = next
		applied = inv.PaidAmount.Sub(before)
		if next == status.InvoicePaid || next == status.InvoicePartial {
			inv.PaymentDate = &now
			if m := strings.TrimSpace(req.PaymentMethod); m != "" {
				inv.PaymentMethod = m
			}
		}
		inv.Notes = appendNote(inv.Notes, now, req.Notes)
		return s.repo.UpdatePayment(ctx, inv)
	})
	if err != nil {
		return nil, apperr.Persistence(err, "update invoice status")
	}

	s.decorate(inv, s.today())
	if requested == status.InvoicePartial && inv.PaymentStatus == status.InvoicePaid {
		s.logger.Info().Int64("billing_id", inv.ID).Str("invoice_number", inv.InvoiceNumber).
			Msg("partial payment settled invoice")
	}
	desc := fmt.Sprintf("Invoice %s status changed from %s to %s", inv.InvoiceNumber, previous, inv.PaymentStatus)
	if applied.IsPositive() {
		desc += fmt.Sprintf(". Payment: %s, paid %s of %s", applied.StringFixed(2), inv.PaidAmount.StringFixed(2), inv.TotalAmount.StringFixed(2))
	}
	s.audit.Record(ctx, a.ID, auditlog.ActionInvoiceStatusUpdated, desc)
	return inv, nil
}

// applyPayment sets inv.PaidAmount for the requested status and returns the
// status to store. paid_amount never leaves [0, total] and the stored status
// is paid exactly when paid_amount reaches the total.
func applyPayment(inv *Invoice, requested status.Invoice, amount *decimal.Decimal) (status.Invoice, error) {
	total := inv.TotalAmount
	switch requested {
	case status.InvoicePaid:
		if amount == nil {
			inv.PaidAmount = total
			return status.InvoicePaid, nil
		}
		if amount.GreaterThan(total) {
			return "", fmt.Errorf("%w: %s against total %s", apperr.ErrExcessPayment, amount.StringFixed(2), total.StringFixed(2))
		}
		if amount.LessThan(total) {
			return "", apperr.Validation("payment_amount %s is below the invoice total %s; record a partial payment instead",
				amount.StringFixed(2), total.StringFixed(2))
		}
		inv.PaidAmount = *amount
		return status.InvoicePaid, nil

	case status.InvoicePartial:
		paid := inv.PaidAmount.Add(*amount)
		if paid.GreaterThan(total) {
			return "", fmt.Errorf("%w: %s already paid plus %s exceeds total %s", apperr.ErrExcessPayment,
				inv.PaidAmount.StringFixed(2), amount.StringFixed(2), total.StringFixed(2))
		}
		inv.PaidAmount = paid
		if paid.GreaterThanOrEqual(total) {
			return status.InvoicePaid, nil
		}
		return status.InvoicePartial, nil
	}
	return requested, nil
}

// appendNote adds text as a timestamped line below existing notes.
func appendNote(notes string, at time.Time, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return notes
	}
	line := fmt.Sprintf("[%s] %s", at.Format(noteTimeLayout), text)
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}

// DisplayStatus derives the status shown to users. It is paid once the
// total is covered, overdue when still unpaid after the due date, and the
// stored status otherwise. days is the number of days past due when
// overdue.
func DisplayStatus(inv *Invoice, today time.Time) (display string, days int) {
	if inv.PaidAmount.GreaterThanOrEqual(inv.TotalAmount) {
		return string(status.InvoicePaid), 0
	}
	due := civil(inv.DueDate)
	today = civil(today)
	if inv.PaymentStatus == status.InvoiceUnpaid && today.After(due) {
		return DisplayOverdue, int(today.Sub(due).Hours() / 24)
	}
	return string(inv.PaymentStatus), 0
}

func (s *Service) decorate(inv *Invoice, today time.Time) {
	inv.InvoiceNumber = Number(inv.BillingDate, inv.ID)
	inv.BalanceAmount = inv.TotalAmount.Sub(inv.PaidAmount)
	inv.DisplayStatus, inv.DaysOverdue = DisplayStatus(inv, today)
}

// GetPatientInvoices lists a patient's invoices with their lines, derived
// display status and a summary. Patients may only read their own.
func (s *Service) GetPatientInvoices(ctx context.Context, a actor.Actor, patientID int64) (*PatientInvoices, error) {
	if patientID <= 0 {
		return nil, apperr.Validation("patient_id must be a positive integer")
	}
	if a.Role == actor.RolePatient && !a.OwnsPatient(patientID) {
		return nil, fmt.Errorf("%w: patients may only view their own invoices", apperr.ErrForbidden)
	}

	invoices, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, apperr.Persistence(err, "list invoices")
	}
	ids := make([]int64, len(invoices))
	for i, inv := range invoices {
		ids[i] = inv.ID
	}
	lines, err := s.repo.LineItems(ctx, ids)
	if err != nil {
		return nil, apperr.Persistence(err, "list billing items")
	}

	out := &PatientInvoices{
		PatientID: patientID,
		Invoices:  make([]*Invoice, 0, len(invoices)),
		Summary: Summary{
			TotalAmount:  decimal.Zero,
			TotalPaid:    decimal.Zero,
			TotalBalance: decimal.Zero,
		},
	}
	today := s.today()
	for _, inv := range invoices {
		inv.Items = lines[inv.ID]
		s.decorate(inv, today)
		out.Invoices = append(out.Invoices, inv)

		sum := &out.Summary
		sum.TotalInvoices++
		sum.TotalAmount = sum.TotalAmount.Add(inv.TotalAmount)
		sum.TotalPaid = sum.TotalPaid.Add(inv.PaidAmount)
		if inv.PaymentStatus == status.InvoiceUnpaid || inv.PaymentStatus == status.InvoicePartial {
			sum.TotalBalance = sum.TotalBalance.Add(inv.BalanceAmount)
		}
		if inv.DisplayStatus == DisplayOverdue {
			sum.OverdueCount++
		}
	}
	return out, nil
}

// GetServiceCatalog lists the active catalog items.
func (s *Service) GetServiceCatalog(ctx context.Context) ([]*CatalogItem, error) {
	items, err := s.repo.Catalog(ctx)
	if err != nil {
		return nil, apperr.Persistence(err, "list service catalog")
	}
	if items == nil {
		items = []*CatalogItem{}
	}
	return items, nil
}
