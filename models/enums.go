package models

type QuoteStatus string

const (
	QuoteStatusDraft     QuoteStatus = "Draft"
	QuoteStatusSent      QuoteStatus = "Sent"
	QuoteStatusAccepted  QuoteStatus = "Accepted"
	QuoteStatusRejected  QuoteStatus = "Rejected"
	QuoteStatusExpired   QuoteStatus = "Expired"
	QuoteStatusConverted QuoteStatus = "Converted"
)

type QuoteAction string

const (
	QuoteActionRevise  QuoteAction = "revise"
	QuoteActionSend    QuoteAction = "send"
	QuoteActionAccept  QuoteAction = "accept"
	QuoteActionReject  QuoteAction = "reject"
	QuoteActionExpire  QuoteAction = "expire"
	QuoteActionConvert QuoteAction = "convert"
)

type SalesOrderStatus string

const (
	SalesOrderStatusDraft              SalesOrderStatus = "Draft"
	SalesOrderStatusConfirmed          SalesOrderStatus = "Confirmed"
	SalesOrderStatusPartiallyFulfilled SalesOrderStatus = "PartiallyFulfilled"
	SalesOrderStatusFulfilled          SalesOrderStatus = "Fulfilled"
	SalesOrderStatusCancelled          SalesOrderStatus = "Cancelled"
)

type SalesOrderAction string

const (
	SalesOrderActionRevise       SalesOrderAction = "revise"
	SalesOrderActionConfirm      SalesOrderAction = "confirm"
	SalesOrderActionShipPartial  SalesOrderAction = "ship_partial"
	SalesOrderActionShipComplete SalesOrderAction = "ship_complete"
	SalesOrderActionCancel       SalesOrderAction = "cancel"
	SalesOrderActionInvoice      SalesOrderAction = "invoice"
)

type SalesInvoiceStatus string

const (
	SalesInvoiceStatusDraft         SalesInvoiceStatus = "Draft"
	SalesInvoiceStatusSent          SalesInvoiceStatus = "Sent"
	SalesInvoiceStatusPartiallyPaid SalesInvoiceStatus = "PartiallyPaid"
	SalesInvoiceStatusPaid          SalesInvoiceStatus = "Paid"
	SalesInvoiceStatusOverdue       SalesInvoiceStatus = "Overdue"
	SalesInvoiceStatusVoided        SalesInvoiceStatus = "Voided"
)

type SalesInvoiceAction string

const (
	SalesInvoiceActionSend          SalesInvoiceAction = "send"
	SalesInvoiceActionPayPartial    SalesInvoiceAction = "pay_partial"
	SalesInvoiceActionPayFull       SalesInvoiceAction = "pay_full"
	SalesInvoiceActionRefundPartial SalesInvoiceAction = "refund_partial"
	SalesInvoiceActionRefundFull    SalesInvoiceAction = "refund_full"
	SalesInvoiceActionVoid          SalesInvoiceAction = "void"
)

type PaymentStatus string

const (
	PaymentStatusRecorded PaymentStatus = "Recorded"
	PaymentStatusApplied  PaymentStatus = "Applied"
	PaymentStatusRefunded PaymentStatus = "Refunded"
)

type PaymentAction string

const (
	PaymentActionApply         PaymentAction = "apply"
	PaymentActionRefundPartial PaymentAction = "refund_partial"
	PaymentActionRefundFull    PaymentAction = "refund_full"
)

type PaymentMethod string

const (
	PaymentMethodCash          PaymentMethod = "Cash"
	PaymentMethodCreditCard    PaymentMethod = "CreditCard"
	PaymentMethodDebitCard     PaymentMethod = "DebitCard"
	PaymentMethodBankTransfer  PaymentMethod = "BankTransfer"
	PaymentMethodCheck         PaymentMethod = "Check"
	PaymentMethodDigitalWallet PaymentMethod = "DigitalWallet"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCreditCard, PaymentMethodDebitCard,
		PaymentMethodBankTransfer, PaymentMethodCheck, PaymentMethodDigitalWallet:
		return true
	}
	return false
}

type CommissionStatus string

const (
	CommissionStatusPending CommissionStatus = "Pending"
	CommissionStatusAccrued CommissionStatus = "Accrued"
	CommissionStatusPaid    CommissionStatus = "Paid"
)

type CommissionAction string

const (
	CommissionActionAccrue CommissionAction = "accrue"
	CommissionActionDefer  CommissionAction = "defer"
	CommissionActionPay    CommissionAction = "pay"
)

type DocumentType string

const (
	DocumentTypeQuote      DocumentType = "quote"
	DocumentTypeSalesOrder DocumentType = "order"
	DocumentTypeInvoice    DocumentType = "invoice"
	DocumentTypePayment    DocumentType = "payment"
	DocumentTypeCommission DocumentType = "commission"
)

// LockRank is the global lock order; multi-document transitions lock lower ranks first.
func (t DocumentType) LockRank() int {
	switch t {
	case DocumentTypeQuote:
		return 1
	case DocumentTypeSalesOrder:
		return 2
	case DocumentTypeInvoice:
		return 3
	case DocumentTypePayment:
		return 4
	case DocumentTypeCommission:
		return 5
	}
	return 99
}
