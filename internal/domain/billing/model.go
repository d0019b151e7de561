package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chokoronadal/wbhsms/internal/domain/status"
	"github.com/chokoronadal/wbhsms/internal/platform/validate"
)

// DisplayOverdue is the read-time status of an unpaid invoice past its due
// date. It is never stored.
const DisplayOverdue = "overdue"

// Service types accepted on invoice lines, with the fixed service category
// each one is filed under.
const (
	TypeConsultation = "consultation"
	TypeLaboratory   = "laboratory"
	TypeMedication   = "medication"
	TypeProcedure    = "procedure"
	TypeImaging      = "imaging"
	TypeImmunization = "immunization"
	TypeDental       = "dental"
	TypeCertificate  = "certificate"
	TypeOther        = "other"
)

var categoryIDs = map[string]int64{
	TypeConsultation: 1,
	TypeLaboratory:   2,
	TypeMedication:   3,
	TypeProcedure:    4,
	TypeImaging:      5,
	TypeImmunization: 6,
	TypeDental:       7,
	TypeCertificate:  8,
	TypeOther:        9,
}

// CategoryID returns the service category of a service type.
func CategoryID(serviceType string) (int64, bool) {
	id, ok := categoryIDs[serviceType]
	return id, ok
}

// Invoice is one billing header with its running payment state.
type Invoice struct {
	ID            int64           `json:"billing_id"`
	InvoiceNumber string          `json:"invoice_number"`
	PatientID     int64           `json:"patient_id"`
	PatientName   string          `json:"patient_name,omitempty"`
	BillingDate   time.Time       `json:"billing_date"`
	DueDate       time.Time       `json:"due_date"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	BalanceAmount decimal.Decimal `json:"balance_amount"`
	PaymentStatus status.Invoice  `json:"payment_status"`
	DisplayStatus string          `json:"status,omitempty"`
	DaysOverdue   int             `json:"days_overdue"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	PaymentDate   *time.Time      `json:"payment_date,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	CreatedBy     int64           `json:"created_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Items         []*LineItem     `json:"items,omitempty"`
}

// MarshalJSON renders billing_date and due_date as calendar dates.
func (inv Invoice) MarshalJSON() ([]byte, error) {
	type plain Invoice
	return json.Marshal(struct {
		plain
		BillingDate string `json:"billing_date"`
		DueDate     string `json:"due_date"`
	}{
		plain:       plain(inv),
		BillingDate: inv.BillingDate.Format(validate.DateLayout),
		DueDate:     inv.DueDate.Format(validate.DateLayout),
	})
}

// Number formats the user-visible invoice number, e.g. INV-202501-0007.
func Number(billingDate time.Time, id int64) string {
	return fmt.Sprintf("INV-%s-%04d", billingDate.Format("200601"), id)
}

// LineItem is one billed service with its price snapshotted at sale time.
type LineItem struct {
	ID            int64           `json:"billing_item_id"`
	BillingID     int64           `json:"billing_id"`
	ServiceItemID int64           `json:"service_item_id"`
	ItemName      string          `json:"item_name"`
	CategoryID    int64           `json:"category_id"`
	ItemPrice     decimal.Decimal `json:"item_price"`
	Quantity      int             `json:"quantity"`
	Subtotal      decimal.Decimal `json:"subtotal"`
}

// CatalogItem is a billable service known to the clinic.
type CatalogItem struct {
	ID           int64           `json:"item_id"`
	CategoryID   int64           `json:"service_id"`
	CategoryName string          `json:"category_name"`
	Name         string          `json:"item_name"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	Unit         string          `json:"unit"`
	IsActive     bool            `json:"is_active"`
}

// Summary totals a patient's invoices. Balance counts only invoices still
// owed (unpaid or partial).
type Summary struct {
	TotalInvoices int             `json:"total_invoices"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	TotalPaid     decimal.Decimal `json:"total_paid"`
	TotalBalance  decimal.Decimal `json:"total_balance"`
	OverdueCount  int             `json:"overdue_count"`
}

// PatientInvoices is the read model behind get_patient_invoices.
type PatientInvoices struct {
	PatientID int64      `json:"patient_id"`
	Invoices  []*Invoice `json:"invoices"`
	Summary   Summary    `json:"summary"`
}

// ServiceLine is one requested line on a new invoice.
type ServiceLine struct {
	ServiceType string          `json:"service_type" validate:"required,oneof=consultation laboratory medication procedure imaging immunization dental certificate other"`
	Description string          `json:"description" validate:"required,max=255"`
	Quantity    int             `json:"quantity" validate:"gt=0"`
	UnitAmount  decimal.Decimal `json:"unit_amount" validate:"gte=0"`
}

// CreateInvoiceRequest creates an invoice with all of its lines.
type CreateInvoiceRequest struct {
	PatientID   int64         `json:"patient_id" validate:"required,gt=0"`
	InvoiceDate string        `json:"invoice_date" validate:"required,date"`
	DueDate     string        `json:"due_date" validate:"omitempty,date"`
	Services    []ServiceLine `json:"services" validate:"required,min=1,dive"`
	Notes       string        `json:"notes" validate:"max=2000"`
}

// UpdateInvoiceStatusRequest applies a payment or a status change.
type UpdateInvoiceStatusRequest struct {
	InvoiceID     int64            `json:"invoice_id" validate:"required,gt=0"`
	Status        string           `json:"status" validate:"required"`
	PaymentMethod string           `json:"payment_method" validate:"max=30"`
	PaymentAmount *decimal.Decimal `json:"payment_amount" validate:"omitempty,gt=0"`
	Notes         string           `json:"notes" validate:"max=2000"`
}
