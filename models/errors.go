package models

import (
	"errors"
	"fmt"

	"github.com/mmdatafocus/sales_backend/utils"
)

// Validation errors: bad input shape or range, nothing was mutated.
var (
	ErrInvalidDiscount    = utils.ErrInvalidDiscount
	ErrCurrencyMismatch   = utils.ErrCurrencyMismatch
	ErrInvalidInput       = utils.ErrInvalidInput
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrAllocationMismatch = errors.New("allocations do not sum to payment amount")
	ErrCustomerMismatch   = errors.New("customer mismatch")
)

// Business-rule violations.
var (
	ErrIllegalTransition     = errors.New("illegal transition")
	ErrInvalidSourceStatus   = errors.New("invalid source status")
	ErrOverInvoice           = errors.New("quantity exceeds remaining invoiceable quantity")
	ErrOverShipment          = errors.New("quantity exceeds remaining shippable quantity")
	ErrOverPayment           = errors.New("payment exceeds invoice grand total")
	ErrCannotVoidPaidInvoice = errors.New("cannot void invoice with payments applied")
	ErrRefundExceedsPayment  = errors.New("refund exceeds applied payment")
	ErrNoRepAssigned         = errors.New("no sales rep assigned")
	ErrCreditLimitExceeded   = errors.New("customer credit limit exceeded")
)

// Concurrency conflicts; callers reload and retry.
var (
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrDuplicatePayment       = errors.New("duplicate payment")
)

var (
	ErrNotFound          = utils.ErrorRecordNotFound
	ErrInsufficientStock = errors.New("insufficient stock")
)

// CollaboratorError wraps a failure reported by inventory, HR or the event transport.
type CollaboratorError struct {
	Collaborator string
	Op           string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Collaborator, e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

func collaboratorErr(collaborator, op string, err error) error {
	if err == nil {
		return nil
	}
	return &CollaboratorError{Collaborator: collaborator, Op: op, Err: err}
}

func InventoryError(op string, err error) error { return collaboratorErr("inventory", op, err) }
func HRError(op string, err error) error        { return collaboratorErr("hr", op, err) }

type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindBusinessRule ErrorKind = "business_rule"
	KindConcurrency  ErrorKind = "concurrency"
	KindNotFound     ErrorKind = "not_found"
	KindCollaborator ErrorKind = "collaborator"
	KindInternal     ErrorKind = "internal"
)

var errorKinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrInvalidDiscount, KindValidation},
	{ErrCurrencyMismatch, KindValidation},
	{ErrInvalidInput, KindValidation},
	{utils.ErrInvalidCurrency, KindValidation},
	{ErrInvalidQuantity, KindValidation},
	{ErrInvalidAmount, KindValidation},
	{ErrAllocationMismatch, KindValidation},
	{ErrCustomerMismatch, KindValidation},
	{ErrIllegalTransition, KindBusinessRule},
	{ErrInvalidSourceStatus, KindBusinessRule},
	{ErrOverInvoice, KindBusinessRule},
	{ErrOverShipment, KindBusinessRule},
	{ErrOverPayment, KindBusinessRule},
	{ErrCannotVoidPaidInvoice, KindBusinessRule},
	{ErrRefundExceedsPayment, KindBusinessRule},
	{ErrNoRepAssigned, KindBusinessRule},
	{ErrCreditLimitExceeded, KindBusinessRule},
	{ErrConcurrentModification, KindConcurrency},
	{ErrDuplicatePayment, KindConcurrency},
	{ErrNotFound, KindNotFound},
}

// KindOf classifies err; collaborator failures win over the sentinel they wrap.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var collab *CollaboratorError
	if errors.As(err, &collab) {
		return KindCollaborator
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
