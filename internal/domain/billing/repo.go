package billing

import (
	"context"

	"github.com/shopspring/decimal"
)

// Repository persists invoices, their lines and the service catalog.
type Repository interface {
	PatientExists(ctx context.Context, patientID int64) (bool, error)
	CreateInvoice(ctx context.Context, inv *Invoice) error
	// FindOrCreateItem returns the catalog item named name, creating it under
	// categoryID with price as its list price when it does not exist yet.
	FindOrCreateItem(ctx context.Context, name string, categoryID int64, price decimal.Decimal) (itemID, itemCategory int64, err error)
	AddLineItem(ctx context.Context, li *LineItem) error
	GetForUpdate(ctx context.Context, id int64) (*Invoice, error)
	UpdatePayment(ctx context.Context, inv *Invoice) error
	ListByPatient(ctx context.Context, patientID int64) ([]*Invoice, error)
	LineItems(ctx context.Context, billingIDs []int64) (map[int64][]*LineItem, error)
	Catalog(ctx context.Context) ([]*CatalogItem, error)
}

// Transactor runs fn inside one database transaction.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
