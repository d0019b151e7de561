// Package status holds the closed status enums for queue entries and invoices
// and the transition tables that govern them. The tables here are the only
// place legal status changes are defined.
package status

import (
	"fmt"

	"github.com/chokoronadal/wbhsms/internal/domain/actor"
	"github.com/chokoronadal/wbhsms/internal/platform/apperr"
)

// Entity selects which transition table applies.
type Entity string

const (
	EntityQueue   Entity = "queue"
	EntityInvoice Entity = "invoice"
)

// Queue is the lifecycle status of a queue entry.
type Queue string

const (
	QueueWaiting    Queue = "waiting"
	QueueCalled     Queue = "called"
	QueueInProgress Queue = "in_progress"
	QueueDone       Queue = "done"
	QueueSkipped    Queue = "skipped"
	QueueCancelled  Queue = "cancelled"
	QueueNoShow     Queue = "no_show"
)

// QueueStatuses lists every queue status in lifecycle order.
var QueueStatuses = []Queue{
	QueueWaiting, QueueCalled, QueueInProgress, QueueDone, QueueSkipped, QueueCancelled, QueueNoShow,
}

// Invoice is the stored payment status of an invoice.
type Invoice string

const (
	InvoiceUnpaid    Invoice = "unpaid"
	InvoicePartial   Invoice = "partial"
	InvoicePaid      Invoice = "paid"
	InvoiceExempted  Invoice = "exempted"
	InvoiceCancelled Invoice = "cancelled"
)

// InvoiceStatuses lists every stored invoice status.
var InvoiceStatuses = []Invoice{
	InvoiceUnpaid, InvoicePartial, InvoicePaid, InvoiceExempted, InvoiceCancelled,
}

type edges map[string]map[string]struct{}

var queueTransitions = edges{
	string(QueueWaiting): {
		string(QueueCalled): {}, string(QueueInProgress): {}, string(QueueSkipped): {},
		string(QueueCancelled): {}, string(QueueNoShow): {},
	},
	string(QueueCalled): {
		string(QueueInProgress): {}, string(QueueSkipped): {}, string(QueueCancelled): {}, string(QueueNoShow): {},
	},
	string(QueueInProgress): {
		string(QueueDone): {}, string(QueueSkipped): {}, string(QueueCancelled): {},
	},
	string(QueueDone):      {},
	string(QueueSkipped):   {},
	string(QueueCancelled): {},
	string(QueueNoShow):    {},
}

// partial -> partial records an additional payment that does not settle the invoice.
var invoiceTransitions = edges{
	string(InvoiceUnpaid): {
		string(InvoicePaid): {}, string(InvoicePartial): {}, string(InvoiceExempted): {}, string(InvoiceCancelled): {},
	},
	string(InvoicePartial): {
		string(InvoicePaid): {}, string(InvoicePartial): {}, string(InvoiceCancelled): {},
	},
	string(InvoicePaid):      {},
	string(InvoiceExempted):  {},
	string(InvoiceCancelled): {},
}

var queueStaff = []actor.Role{
	actor.RoleAdmin, actor.RoleDoctor, actor.RoleNurse, actor.RoleRecordsOfficer,
	actor.RolePharmacist, actor.RoleLaboratoryTech, actor.RoleCashier,
}

var billingStaff = []actor.Role{actor.RoleAdmin, actor.RoleCashier}

var reinstaters = []actor.Role{actor.RoleAdmin, actor.RoleRecordsOfficer, actor.RoleNurse, actor.RoleDoctor}

// QueueStaff returns the roles allowed to change queue status.
func QueueStaff() []actor.Role { return append([]actor.Role(nil), queueStaff...) }

// BillingStaff returns the roles allowed to change invoice status.
func BillingStaff() []actor.Role { return append([]actor.Role(nil), billingStaff...) }

// ParseQueue converts s into a Queue status.
func ParseQueue(s string) (Queue, error) {
	if _, ok := queueTransitions[s]; !ok {
		return "", apperr.Validation("unknown queue status %q", s)
	}
	return Queue(s), nil
}

// ParseInvoice converts s into an Invoice status.
func ParseInvoice(s string) (Invoice, error) {
	if _, ok := invoiceTransitions[s]; !ok {
		return "", apperr.Validation("unknown invoice status %q", s)
	}
	return Invoice(s), nil
}

// Valid reports whether q is a known queue status.
func (q Queue) Valid() bool {
	_, ok := queueTransitions[string(q)]
	return ok
}

// Valid reports whether i is a known invoice status.
func (i Invoice) Valid() bool {
	_, ok := invoiceTransitions[string(i)]
	return ok
}

// IsActive reports whether a queue entry in this status still occupies the
// patient's slot at the station.
func (q Queue) IsActive() bool {
	return q == QueueWaiting || q == QueueCalled || q == QueueInProgress
}

// IsTerminal reports whether no normal transition leaves q.
func (q Queue) IsTerminal() bool { return IsTerminal(EntityQueue, string(q)) }

// IsTerminal reports whether no normal transition leaves i.
func (i Invoice) IsTerminal() bool { return IsTerminal(EntityInvoice, string(i)) }

func table(e Entity) edges {
	switch e {
	case EntityQueue:
		return queueTransitions
	case EntityInvoice:
		return invoiceTransitions
	}
	return nil
}

// IsTerminal reports whether current has no outgoing edge in e's table.
func IsTerminal(e Entity, current string) bool {
	next, ok := table(e)[current]
	return ok && len(next) == 0
}

// MayAlter reports whether role is allowed to change the status of e.
func MayAlter(e Entity, role actor.Role) bool {
	var allowed []actor.Role
	switch e {
	case EntityQueue:
		allowed = queueStaff
	case EntityInvoice:
		allowed = billingStaff
	}
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

// MayReinstate reports whether role can re-open a terminal queue entry.
func MayReinstate(role actor.Role) bool {
	for _, r := range reinstaters {
		if r == role {
			return true
		}
	}
	return false
}

// Check validates a requested transition. The role is evaluated before the
// edge: an unauthorized actor gets ErrForbidden even for an illegal edge.
func Check(e Entity, current, requested string, role actor.Role) error {
	if !MayAlter(e, role) {
		return fmt.Errorf("%w: role %q may not change %s status", apperr.ErrForbidden, role, e)
	}
	next, ok := table(e)[current]
	if !ok {
		return fmt.Errorf("%w: unknown %s status %q", apperr.ErrInvalidTransition, e, current)
	}
	if _, ok := next[requested]; !ok {
		return fmt.Errorf("%w: %s %s -> %s", apperr.ErrInvalidTransition, e, current, requested)
	}
	return nil
}

// CanTransition is the boolean form of Check.
func CanTransition(e Entity, current, requested string, role actor.Role) bool {
	return Check(e, current, requested, role) == nil
}
