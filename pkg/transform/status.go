package transform

// CustomerStatus is the closed set of outward customer states.
type CustomerStatus string

const (
	CustomerActive    CustomerStatus = "active"
	CustomerInactive  CustomerStatus = "inactive"
	CustomerSuspended CustomerStatus = "suspended"
	CustomerUnknown   CustomerStatus = "unknown"
)

// PaymentStatus is the closed set of outward payment states.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentSettled  PaymentStatus = "settled"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentUnknown  PaymentStatus = "unknown"
)

var customerStatuses = map[string]CustomerStatus{
	"A": CustomerActive, "ACT": CustomerActive, "ACTIVE": CustomerActive, "1": CustomerActive, "Y": CustomerActive,

	"I": CustomerInactive, "INACT": CustomerInactive, "INACTIVE": CustomerInactive,
	"0": CustomerInactive, "N": CustomerInactive, "C": CustomerInactive, "CLOSED": CustomerInactive,

	"S": CustomerSuspended, "SUSP": CustomerSuspended, "HOLD": CustomerSuspended,
	"H": CustomerSuspended, "B": CustomerSuspended, "BLOCKED": CustomerSuspended,
}

var paymentStatuses = map[string]PaymentStatus{
	"P": PaymentPending, "PEND": PaymentPending, "PENDING": PaymentPending, "Q": PaymentPending, "QUEUED": PaymentPending,

	"S": PaymentSettled, "OK": PaymentSettled, "SETTLED": PaymentSettled,
	"PAID": PaymentSettled, "C": PaymentSettled, "CMPL": PaymentSettled,

	"F": PaymentFailed, "FAIL": PaymentFailed, "FAILED": PaymentFailed,
	"R": PaymentFailed, "REJ": PaymentFailed, "DECLINED": PaymentFailed,

	"V": PaymentRefunded, "VOID": PaymentRefunded, "RFND": PaymentRefunded, "REFUNDED": PaymentRefunded,
}

// NormalizeCustomerStatus maps a legacy status code. Unknown codes map to
// CustomerUnknown rather than failing.
func NormalizeCustomerStatus(raw string) CustomerStatus {
	if s, ok := customerStatuses[code(raw)]; ok {
		return s
	}
	return CustomerUnknown
}

// NormalizePaymentStatus maps a legacy payment status code.
func NormalizePaymentStatus(raw string) PaymentStatus {
	if s, ok := paymentStatuses[code(raw)]; ok {
		return s
	}
	return PaymentUnknown
}
