package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/chokoronadal/wbhsms/internal/platform/apperr"
	"github.com/chokoronadal/wbhsms/internal/platform/db"
)

const invCols = `b.billing_id, b.patient_id, COALESCE(p.first_name || ' ' || p.last_name, ''),
	b.billing_date, b.due_date, b.total_amount, b.paid_amount, b.payment_status,
	COALESCE(b.payment_method, ''), b.payment_date, COALESCE(b.notes, ''),
	COALESCE(b.created_by, 0), b.created_at, b.updated_at`

const invFrom = `
	FROM billing b
	LEFT JOIN patients p ON p.patient_id = b.patient_id`

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

func (r *RepoPG) scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.PatientID, &inv.PatientName,
		&inv.BillingDate, &inv.DueDate, &inv.TotalAmount, &inv.PaidAmount, &inv.PaymentStatus,
		&inv.PaymentMethod, &inv.PaymentDate, &inv.Notes,
		&inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	return &inv, err
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

func (r *RepoPG) CreateInvoice(ctx context.Context, inv *Invoice) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO billing (patient_id, billing_date, due_date, total_amount, paid_amount,
			payment_status, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
		RETURNING billing_id, created_at, updated_at`,
		inv.PatientID, inv.BillingDate, inv.DueDate, inv.TotalAmount, inv.PaidAmount,
		string(inv.PaymentStatus), inv.Notes, inv.CreatedBy,
	).Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

// FindOrCreateItem upserts on the unique item name so two invoices naming
// the same new service at once resolve to one catalog row.
func (r *RepoPG) FindOrCreateItem(ctx context.Context, name string, categoryID int64, price decimal.Decimal) (int64, int64, error) {
	var id, category int64
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO service_items (service_id, item_name, price_per_unit)
		VALUES ($1, $2, $3)
		ON CONFLICT (item_name) DO UPDATE SET item_name = EXCLUDED.item_name
		RETURNING item_id, service_id`,
		categoryID, name, price,
	).Scan(&id, &category)
	if err != nil {
		return 0, 0, fmt.Errorf("find or create catalog item %q: %w", name, err)
	}
	return id, category, nil
}

func (r *RepoPG) AddLineItem(ctx context.Context, li *LineItem) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO billing_items (billing_id, service_item_id, item_price, quantity, subtotal)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING billing_item_id`,
		li.BillingID, li.ServiceItemID, li.ItemPrice, li.Quantity, li.Subtotal,
	).Scan(&li.ID)
	if err != nil {
		return fmt.Errorf("insert billing item: %w", err)
	}
	return nil
}

func (r *RepoPG) GetForUpdate(ctx context.Context, id int64) (*Invoice, error) {
	inv, err := r.scanInvoice(r.conn(ctx).QueryRow(ctx,
		`SELECT `+invCols+invFrom+` WHERE b.billing_id = $1 FOR UPDATE OF b`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("invoice", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return inv, nil
}

func (r *RepoPG) UpdatePayment(ctx context.Context, inv *Invoice) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE billing
		SET paid_amount = $2, payment_status = $3, payment_method = NULLIF($4, ''),
			payment_date = $5, notes = NULLIF($6, ''), updated_at = NOW()
		WHERE billing_id = $1
		RETURNING updated_at`,
		inv.ID, inv.PaidAmount, string(inv.PaymentStatus), inv.PaymentMethod,
		inv.PaymentDate, inv.Notes,
	).Scan(&inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("invoice", inv.ID)
	}
	if err != nil {
		return fmt.Errorf("update invoice payment: %w", err)
	}
	return nil
}

func (r *RepoPG) ListByPatient(ctx context.Context, patientID int64) ([]*Invoice, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+invCols+invFrom+`
		WHERE b.patient_id = $1
		ORDER BY b.billing_date DESC, b.billing_id DESC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var items []*Invoice
	for rows.Next() {
		inv, err := r.scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		items = append(items, inv)
	}
	return items, rows.Err()
}

func (r *RepoPG) LineItems(ctx context.Context, billingIDs []int64) (map[int64][]*LineItem, error) {
	out := make(map[int64][]*LineItem, len(billingIDs))
	if len(billingIDs) == 0 {
		return out, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT bi.billing_item_id, bi.billing_id, bi.service_item_id, si.item_name, si.service_id,
			bi.item_price, bi.quantity, bi.subtotal
		FROM billing_items bi
		JOIN service_items si ON si.item_id = bi.service_item_id
		WHERE bi.billing_id = ANY($1)
		ORDER BY bi.billing_id, bi.billing_item_id`, billingIDs)
	if err != nil {
		return nil, fmt.Errorf("list billing items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var li LineItem
		if err := rows.Scan(&li.ID, &li.BillingID, &li.ServiceItemID, &li.ItemName, &li.CategoryID,
			&li.ItemPrice, &li.Quantity, &li.Subtotal); err != nil {
			return nil, fmt.Errorf("scan billing item: %w", err)
		}
		out[li.BillingID] = append(out[li.BillingID], &li)
	}
	return out, rows.Err()
}

func (r *RepoPG) Catalog(ctx context.Context) ([]*CatalogItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT si.item_id, si.service_id, s.name, si.item_name, si.price_per_unit, si.unit, si.is_active
		FROM service_items si
		JOIN services s ON s.service_id = si.service_id
		WHERE si.is_active
		ORDER BY si.service_id, si.item_name`)
	if err != nil {
		return nil, fmt.Errorf("list service catalog: %w", err)
	}
	defer rows.Close()

	var items []*CatalogItem
	for rows.Next() {
		var it CatalogItem
		if err := rows.Scan(&it.ID, &it.CategoryID, &it.CategoryName, &it.Name,
			&it.PricePerUnit, &it.Unit, &it.IsActive); err != nil {
			return nil, fmt.Errorf("scan catalog item: %w", err)
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}
